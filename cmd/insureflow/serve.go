package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/insureflow/insureflow/internal/auth"
	"github.com/insureflow/insureflow/internal/server"
	"github.com/insureflow/insureflow/internal/storage"
	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context())
		},
	}
	cmd.Flags().String("http", "", "Address to listen on (default localhost:8080)")
	cmd.Flags().String("base-url", "", "URL the browser uses to reach the server; the OAuth redirect URI is derived from it")
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	cfg := c.cfg

	serverCfg, err := storage.LoadServerConfig(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to load server config: %w", err)
	}
	a, err := c.newApp(ctx, &appOptions{RedirectURL: cfg.RedirectURL(auth.CallbackPath), LogNotices: true})
	if err != nil {
		return err
	}

	// Watch own executable for modifications (for development restarts)
	if err := watchExecutable(ctx, stop); err != nil {
		return fmt.Errorf("failed to watch executable: %w", err)
	}
	if err := watchConnectionFile(ctx, a); err != nil {
		return fmt.Errorf("failed to watch %s: %w", storage.ConnectionFile, err)
	}

	httpServer := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: server.NewRouter(&server.Config{
			CRM:          a.crm,
			Wizard:       a.wizard,
			Notices:      a.notices,
			Callback:     a.remote,
			JWTSecret:    serverCfg.JWTSecret,
			MaxBodyBytes: serverCfg.MaxRequestBodyBytes,
			GrantTimeout: time.Duration(cfg.Google.GrantTimeout),
			Version:      buildVersion(),
		}),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", cfg.HTTP.Addr, "baseURL", cfg.HTTP.BaseURL, "version", buildVersion(), "connected", a.wizard.Connected())
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownTimeout))
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

func watchExecutable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(exe); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
					slog.InfoContext(ctx, "Executable modified, initiating shutdown")
					stop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching executable", "err", err)
			}
		}
	}()
	return nil
}

// watchConnectionFile disconnects the wizard when the connection file is
// deleted behind the server's back. The data directory is watched since the
// file is replaced atomically on every save.
func watchConnectionFile(ctx context.Context, a *app) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	path := a.conns.Path()
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path || !(event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
					continue
				}
				if _, ok, err := a.conns.Load(); err != nil || ok {
					continue
				}
				if s := a.wizard.Status(); !s.HasKeys && !s.Connected {
					continue
				}
				slog.InfoContext(ctx, "Connection file removed, disconnecting", "path", path)
				if err := a.wizard.Disconnect(ctx); err != nil {
					slog.WarnContext(ctx, "Failed to disconnect", "err", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching connection file", "err", err)
			}
		}
	}()
	return nil
}
