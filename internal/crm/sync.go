package crm

import (
	"context"
	"log/slog"
	"time"

	"github.com/insureflow/insureflow/internal/models"
	"github.com/insureflow/insureflow/internal/notice"
	"github.com/insureflow/insureflow/internal/reconcile"
	"github.com/insureflow/insureflow/internal/sheets"
	"github.com/oklog/ulid/v2"
)

// Notice messages for sync runs.
const (
	msgSynced     = "Synced successfully from Google Sheets!"
	msgEmptySheet = "Connected Sheet is empty."
	msgSyncFailed = "Sync failed. Please check your connection and permissions."
	msgPushed     = "Pushed all policies to Google Sheets."
	msgPushFailed = "Push failed. The sheet may be partially written."
)

// SyncResult describes one sync or push run.
type SyncResult struct {
	RunID    string `json:"runId"`
	Policies int    `json:"policies"`
	Clients  int    `json:"clients"`
	// Replaced is false when the sheet was empty and local state was kept.
	Replaced bool `json:"replaced"`
}

// prepare refreshes the grant and returns the connection with its policy
// sheet in place.
func (c *Coordinator) prepare(ctx context.Context) (*sheets.Connection, error) {
	if !c.remote.Connected() {
		return nil, models.NotConnected()
	}
	if err := c.remote.Reauthorize(ctx); err != nil {
		return nil, err
	}
	conn, err := c.remote.Connection()
	if err != nil {
		return nil, err
	}
	if err := conn.EnsureStructure(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// SyncNow replaces the local policies with the spreadsheet's and rebuilds the
// client roster from them. An empty spreadsheet leaves local state alone.
//
// Locally edited client fields do not survive a sync that replaces state.
func (c *Coordinator) SyncNow(ctx context.Context) (*SyncResult, error) {
	res := &SyncResult{RunID: ulid.Make().String()}
	start := time.Now()
	policies, err := c.fetch(ctx)
	if err != nil {
		if models.IsCode(err, models.ErrorCodeNotConnected) {
			return nil, err
		}
		err = asSyncError("Sync", err)
		slog.ErrorContext(ctx, "Sync failed", "run", res.RunID, "err", err)
		c.notify(ctx, notice.Error, msgSyncFailed, err)
		return nil, err
	}
	if len(policies) == 0 {
		slog.InfoContext(ctx, "Sync found an empty sheet", "run", res.RunID)
		c.notify(ctx, notice.Info, msgEmptySheet, nil)
		s := c.Snapshot()
		res.Policies, res.Clients = len(s.Policies), len(s.Clients)
		return res, nil
	}
	clients := reconcile.Rebuild(policies, c.today())
	if err := c.update(ctx, func(s *Snapshot) error {
		s.Policies = policies
		s.Clients = clients
		return nil
	}); err != nil {
		return nil, err
	}
	res.Policies, res.Clients, res.Replaced = len(policies), len(clients), true
	slog.InfoContext(ctx, "Synced from sheet", "run", res.RunID, "policies", res.Policies, "clients", res.Clients, "dur", time.Since(start).Round(time.Millisecond))
	c.notify(ctx, notice.Success, msgSynced, nil)
	return res, nil
}

func (c *Coordinator) fetch(ctx context.Context) ([]models.Policy, error) {
	conn, err := c.prepare(ctx)
	if err != nil {
		return nil, err
	}
	return conn.FetchAll(ctx)
}

// SyncAfterConnect runs SyncNow and only logs its error; failures already
// reach the user as notices.
func (c *Coordinator) SyncAfterConnect(ctx context.Context) {
	if _, err := c.SyncNow(ctx); err != nil {
		slog.WarnContext(ctx, "Initial sync failed", "err", err)
	}
}

// PushAll overwrites the spreadsheet with the local policies. It is only run
// on request.
func (c *Coordinator) PushAll(ctx context.Context) (*SyncResult, error) {
	res := &SyncResult{RunID: ulid.Make().String()}
	s := c.Snapshot()
	conn, err := c.prepare(ctx)
	if err == nil {
		err = conn.OverwriteAll(ctx, s.Policies)
	}
	if err != nil {
		if models.IsCode(err, models.ErrorCodeNotConnected) {
			return nil, err
		}
		err = asSyncError("Push", err)
		slog.ErrorContext(ctx, "Push failed", "run", res.RunID, "err", err)
		c.notify(ctx, notice.Error, msgPushFailed, err)
		return nil, err
	}
	res.Policies, res.Clients, res.Replaced = len(s.Policies), len(s.Clients), true
	slog.InfoContext(ctx, "Pushed to sheet", "run", res.RunID, "policies", res.Policies)
	c.notify(ctx, notice.Success, msgPushed, nil)
	return res, nil
}

// asSyncError keeps typed errors and turns anything else into SYNC_FAILED.
func asSyncError(op string, err error) error {
	if models.CodeOf(err) != models.ErrorCodeInternal {
		return err
	}
	return models.SyncFailed(op).Wrap(err)
}
