// Serves the OAuth redirect target and the loopback listener used by the CLI.

package auth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// CallbackPath is the path of the OAuth redirect target.
const CallbackPath = "/oauth2/callback"

// Receiver completes a pending grant.
type Receiver interface {
	Callback(ctx context.Context, state, code, errCode, errDesc string) error
}

// CallbackHandler returns the handler for CallbackPath.
func CallbackHandler(rcv Receiver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		err := rcv.Callback(r.Context(), q.Get("state"), q.Get("code"), q.Get("error"), q.Get("error_description"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch {
		case err == nil:
			_, _ = fmt.Fprint(w, "<p>Authorization complete. You can close this window.</p>")
		case errors.Is(err, ErrUnknownState):
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprint(w, "<p>This authorization request expired. Start again from InsureFlow.</p>")
		default:
			slog.WarnContext(r.Context(), "OAuth callback failed", "err", err)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = fmt.Fprintf(w, "<p>Authorization failed: %s</p>", html.EscapeString(err.Error()))
		}
	})
}

// Loopback is a local HTTP listener receiving the OAuth redirect.
type Loopback struct {
	ln  net.Listener
	srv *http.Server
}

// ListenLoopback listens on a random port of 127.0.0.1.
func ListenLoopback() (*Loopback, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen on loopback: %w", err)
	}
	return &Loopback{ln: ln}, nil
}

// RedirectURL is the URL to register as the OAuth redirect URI.
func (l *Loopback) RedirectURL() string {
	return "http://" + l.ln.Addr().String() + CallbackPath
}

// Serve answers callbacks with rcv in the background.
func (l *Loopback) Serve(rcv Receiver) {
	mux := http.NewServeMux()
	mux.Handle(CallbackPath, CallbackHandler(rcv))
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Loopback listener failed", "err", err)
		}
	}()
}

// Close stops the listener.
func (l *Loopback) Close() error {
	if l.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return l.srv.Shutdown(ctx)
	}
	return l.ln.Close()
}
