package handlers

import (
	"context"

	"github.com/insureflow/insureflow/internal/wizard"
)

// HealthHandler reports liveness and whether a spreadsheet is connected.
type HealthHandler struct {
	version string
	wizard  *wizard.Wizard
}

// NewHealthHandler returns a HealthHandler.
func NewHealthHandler(version string, w *wizard.Wizard) *HealthHandler {
	return &HealthHandler{version: version, wizard: w}
}

// HealthRequest is the request type for health check (empty).
type HealthRequest struct{}

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Connected bool   `json:"connected"`
}

// Health returns the health status of the server.
func (h *HealthHandler) Health(ctx context.Context, req HealthRequest) (*HealthResponse, error) {
	return &HealthResponse{Status: "ok", Version: h.version, Connected: h.wizard.Connected()}, nil
}
