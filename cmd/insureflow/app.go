package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/insureflow/insureflow/internal/crm"
	"github.com/insureflow/insureflow/internal/notice"
	"github.com/insureflow/insureflow/internal/remote"
	"github.com/insureflow/insureflow/internal/sheets"
	"github.com/insureflow/insureflow/internal/storage"
	"github.com/insureflow/insureflow/internal/wizard"
)

// appOptions selects how an app talks to the user.
type appOptions struct {
	// RedirectURL is where the OAuth server sends the browser back to.
	RedirectURL string
	// Open presents the consent URL. Nil logs it and queues it as a notice.
	Open func(ctx context.Context, authURL string) error
	// LogNotices also writes notices to the process log.
	LogNotices bool
}

// app is the wired set of services behind every command.
type app struct {
	notices  *notice.Recorder
	notifier notice.Notifier
	conns    *storage.ConnectionStore
	remote   *remote.Client
	wizard   *wizard.Wizard
	crm      *crm.Coordinator
}

// newApp opens the local state and restores the saved connection.
func (c *cli) newApp(ctx context.Context, opts *appOptions) (*app, error) {
	cfg := c.cfg
	snaps, err := storage.OpenSnapshotStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	clients, policies, products := snaps.Load()

	a := &app{
		notices: notice.NewRecorder(0),
		conns:   storage.NewConnectionStore(cfg.DataDir),
	}
	a.notifier = a.notices
	if opts.LogNotices {
		a.notifier = notice.Multi{notice.Log{}, a.notices}
	}
	open := opts.Open
	if open == nil {
		open = a.announceConsent
	}
	a.remote = remote.New(&remote.Options{
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  opts.RedirectURL,
		Open:         open,
		Tokens:       storage.NewTokenStore(cfg.DataDir),
		Limiter:      sheets.PerMinute(cfg.Google.RequestsPerMinute),
		SheetTitle:   cfg.Google.SheetTitle,
	})
	a.wizard = wizard.New(&wizard.Options{
		Remote:              a.remote,
		Store:               a.conns,
		OnConnected:         func(ctx context.Context) { a.crm.SyncAfterConnect(ctx) },
		Notifier:            a.notifier,
		Origin:              origin(opts.RedirectURL),
		NewSpreadsheetTitle: cfg.Google.NewSpreadsheetTitle,
	})
	a.crm = crm.New(&crm.Options{
		Remote:   a.wizard,
		Notifier: a.notifier,
		Store:    snaps,
		Initial:  &crm.Snapshot{Clients: clients, Policies: policies, Products: products},
	})
	if err := a.wizard.Resume(ctx); err != nil {
		// The keys stay on disk; connect keys replaces them.
		slog.WarnContext(ctx, "Failed to restore the spreadsheet connection", "err", err)
	}
	return a, nil
}

// announceConsent logs the consent URL and queues it as a notice for the API
// client to open.
func (a *app) announceConsent(ctx context.Context, authURL string) error {
	slog.InfoContext(ctx, "Open this URL to authorize spreadsheet access", "url", authURL)
	n := notice.New(notice.Info, "Authorize spreadsheet access at "+authURL)
	n.Code = "AUTHORIZE_URL"
	a.notifier.Notify(ctx, n)
	return nil
}

// printNotices writes and clears the pending notices.
func (a *app) printNotices(w io.Writer) {
	for _, n := range a.notices.Drain() {
		fmt.Fprintf(w, "[%s] %s\n", n.Level, n.Message)
	}
}

// origin returns the scheme and host of u.
func origin(u string) string {
	p, err := url.Parse(u)
	if err != nil || p.Host == "" {
		return u
	}
	return p.Scheme + "://" + p.Host
}
