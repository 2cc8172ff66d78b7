package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/insureflow/insureflow/internal/models"
	"github.com/insureflow/insureflow/internal/sheets"
	"github.com/insureflow/insureflow/internal/sheets/sheetstest"
	"github.com/insureflow/insureflow/internal/storage"
	"github.com/insureflow/insureflow/internal/wizard"
)

// grantedRemote holds keys and a grant and serves an in-memory spreadsheet.
type grantedRemote struct {
	svc *sheetstest.Memory
}

func (r *grantedRemote) Init(context.Context, string, string) error { return nil }
func (r *grantedRemote) RequestAccessToken(context.Context, string) error { return nil }
func (r *grantedRemote) HasToken() bool { return true }
func (r *grantedRemote) Forget() error { return nil }
func (r *grantedRemote) Connection(id string) (*sheets.Connection, error) {
	return &sheets.Connection{Service: r.svc, SpreadsheetID: id, SheetTitle: sheets.DefaultSheetTitle}, nil
}

func TestOpenSelectionIgnoresListingFailure(t *testing.T) {
	ctx := context.Background()
	svc := sheetstest.NewMemory()
	svc.Seed("book", sheets.DefaultSheetTitle, nil)
	svc.FailOn("list", errors.New("drive API disabled"))
	store := storage.NewConnectionStore(t.TempDir())
	if err := store.Save(storage.ConnectionConfig{ClientID: "id", APIKey: "key"}); err != nil {
		t.Fatal(err)
	}
	w := wizard.New(&wizard.Options{Remote: &grantedRemote{svc: svc}, Store: store})
	if err := w.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	// Resume stops at authorization; a held grant lets Open skip it.
	if err := openSelection(ctx, w); err != nil {
		t.Fatalf("listing failure was not ignored: %v", err)
	}
	if s := w.Status(); s.Step != wizard.StepSelectTable || s.Error == nil || s.Error.Code != models.ErrorCodeAccessDenied {
		t.Fatalf("status = %+v", s)
	}
	if err := w.SelectExisting(ctx, "book"); err != nil {
		t.Fatalf("SelectExisting failed: %v", err)
	}
	if s := w.Status(); !s.Connected || s.SpreadsheetID != "book" || s.Error != nil {
		t.Errorf("status = %+v", s)
	}
}

func TestSyncWithoutGrant(t *testing.T) {
	dir := t.TempDir()
	cfg := storage.ConnectionConfig{ClientID: "client.apps.googleusercontent.com", APIKey: "key", SpreadsheetID: "sheet"}
	if err := storage.NewConnectionStore(dir).Save(cfg); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"sync", "push"} {
		t.Run(name, func(t *testing.T) {
			type result struct {
				out string
				err error
			}
			done := make(chan result, 1)
			go func() {
				out, _, err := run(t, "", name, "--data-dir", dir)
				done <- result{out, err}
			}()
			select {
			case r := <-done:
				if !models.IsCode(r.err, models.ErrorCodeAuthorization) {
					t.Errorf("err = %v", r.err)
				}
				if !strings.Contains(r.out, "[error]") {
					t.Errorf("expected an error notice, got %q", r.out)
				}
			case <-time.After(10 * time.Second):
				t.Fatal("command still blocked waiting for a grant")
			}
		})
	}
}
