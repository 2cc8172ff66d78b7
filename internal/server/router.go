// Package server exposes the CRM and the connection wizard as a JSON API.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/insureflow/insureflow/internal/auth"
	"github.com/insureflow/insureflow/internal/crm"
	"github.com/insureflow/insureflow/internal/notice"
	"github.com/insureflow/insureflow/internal/server/handlers"
	"github.com/insureflow/insureflow/internal/wizard"
)

// Config holds the router dependencies.
type Config struct {
	CRM    *crm.Coordinator
	Wizard *wizard.Wizard
	// Notices is drained by GET /api/notices.
	Notices *notice.Recorder
	// Callback completes OAuth grants at auth.CallbackPath.
	Callback     auth.Receiver
	JWTSecret    []byte
	MaxBodyBytes int64
	GrantTimeout time.Duration
	// Version is reported by /api/health.
	Version string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *Config) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(MaxBodyMiddleware(cfg.MaxBodyBytes))

	policies := handlers.NewPolicyHandler(cfg.CRM)
	clients := handlers.NewClientHandler(cfg.CRM)
	health := handlers.NewHealthHandler(cfg.Version, cfg.Wizard)
	conn := handlers.NewConnectionHandler(cfg.Wizard, cfg.CRM, cfg.Notices, cfg.GrantTimeout)

	r.Method(http.MethodGet, auth.CallbackPath, auth.CallbackHandler(cfg.Callback))

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/health", Wrap(health.Health))

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.JWTSecret))

			r.Method(http.MethodGet, "/policies", Wrap(policies.ListPolicies))
			r.Method(http.MethodPost, "/policies", Wrap(policies.CreatePolicy))
			r.Method(http.MethodGet, "/policies/{id}", Wrap(policies.GetPolicy))
			r.Method(http.MethodPut, "/policies/{id}", Wrap(policies.UpdatePolicy))
			r.Method(http.MethodDelete, "/policies/{id}", Wrap(policies.DeletePolicy))

			r.Method(http.MethodGet, "/clients", Wrap(clients.ListClients))
			r.Method(http.MethodPost, "/clients", Wrap(clients.CreateClient))
			r.Method(http.MethodPut, "/clients/{id}", Wrap(clients.UpdateClient))
			r.Method(http.MethodGet, "/clients/{id}/policies", Wrap(clients.ClientPolicies))

			r.Method(http.MethodGet, "/products", Wrap(clients.ListProducts))
			r.Method(http.MethodPost, "/products", Wrap(clients.CreateProduct))
			r.Method(http.MethodPut, "/products/{name}", Wrap(clients.UpdateProduct))

			r.Method(http.MethodGet, "/connection", Wrap(conn.Status))
			r.Method(http.MethodPost, "/connection/open", Wrap(conn.Open))
			r.Method(http.MethodPost, "/connection/keys", Wrap(conn.SubmitKeys))
			r.Method(http.MethodPost, "/connection/authorize", Wrap(conn.Authorize))
			r.Method(http.MethodGet, "/connection/tables", Wrap(conn.ListTables))
			r.Method(http.MethodPost, "/connection/tables", Wrap(conn.CreateTable))
			r.Method(http.MethodPost, "/connection/tables/{id}/select", Wrap(conn.SelectTable))
			r.Method(http.MethodPost, "/connection/back", Wrap(conn.Back))
			r.Method(http.MethodPost, "/connection/disconnect", Wrap(conn.Disconnect))
			r.Method(http.MethodPost, "/connection/sync", Wrap(conn.Sync))
			r.Method(http.MethodPost, "/connection/push", Wrap(conn.Push))

			r.Method(http.MethodGet, "/notices", Wrap(conn.Notices))
		})
	})
	return r
}
