package crm

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/insureflow/insureflow/internal/models"
	"github.com/insureflow/insureflow/internal/notice"
	"github.com/insureflow/insureflow/internal/rowcodec"
	"github.com/insureflow/insureflow/internal/sheets"
	"github.com/insureflow/insureflow/internal/sheets/sheetstest"
)

const sheetID = "sheet-1"

type fakeRemote struct {
	svc *sheetstest.Memory

	mu        sync.Mutex
	connected bool
	reauthErr error
	reauths   int
}

func (f *fakeRemote) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRemote) Connection() (*sheets.Connection, error) {
	if !f.Connected() {
		return nil, models.NotConnected()
	}
	return &sheets.Connection{Service: f.svc, SpreadsheetID: sheetID}, nil
}

func (f *fakeRemote) Reauthorize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reauths++
	return f.reauthErr
}

type memStore struct {
	mu    sync.Mutex
	saves int
	last  Snapshot
}

func (m *memStore) Save(clients []models.Client, policies []models.Policy, products []models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.last = Snapshot{Clients: clients, Policies: policies, Products: products}
	return nil
}

type harness struct {
	c       *Coordinator
	remote  *fakeRemote
	notices *notice.Recorder
	store   *memStore
}

var fixedNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, connected bool, initial *Snapshot) *harness {
	t.Helper()
	h := &harness{
		remote:  &fakeRemote{svc: sheetstest.NewMemory(), connected: connected},
		notices: notice.NewRecorder(0),
		store:   &memStore{},
	}
	h.remote.svc.Seed(sheetID, sheets.DefaultSheetTitle, [][]any{rowcodec.HeaderRow()})
	h.c = New(&Options{
		Remote:   h.remote,
		Notifier: h.notices,
		Store:    h.store,
		Initial:  initial,
		Now:      func() time.Time { return fixedNow },
	})
	return h
}

func policy(id, holder string, tags ...string) models.Policy {
	return models.Policy{
		ID:            id,
		PolicyNumber:  "PN-" + id,
		HolderName:    holder,
		PlanName:      "Term Life",
		Type:          models.PolicyTypeLife,
		Status:        models.PolicyStatusActive,
		PremiumAmount: 120,
		PaymentMode:   models.PaymentModeMonthly,
		ExtractedTags: tags,
	}
}

func messages(ns []notice.Notice) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Message
	}
	return out
}

func TestSavePolicyNewHolder(t *testing.T) {
	h := newHarness(t, false, nil)
	p := policy("", "Jane Doe", "Life")
	res, err := h.c.SavePolicy(context.Background(), p, true)
	if err != nil {
		t.Fatalf("SavePolicy failed: %v", err)
	}
	if res.Policy.ID == "" || res.Synced || res.Warning != "" {
		t.Errorf("unexpected result %+v", res)
	}
	s := h.c.Snapshot()
	if len(s.Clients) != 1 {
		t.Fatalf("expected one client, got %d", len(s.Clients))
	}
	cl := s.Clients[0]
	if cl.Name != "Jane Doe" || cl.TotalPolicies != 1 || cl.Status != models.ClientStatusLead {
		t.Errorf("unexpected client %+v", cl)
	}
	if !slices.Equal(cl.Tags, []string{"Life"}) {
		t.Errorf("expected tags [Life], got %v", cl.Tags)
	}
	if cl.Email != PendingEmail || cl.Phone != PendingPhone || cl.Birthday != "1990-01-01" || cl.LastContact != "2024-03-15" {
		t.Errorf("unexpected placeholders %+v", cl)
	}
	if len(s.Products) != 1 || s.Products[0].Name != "Term Life" || s.Products[0].Provider != UnknownProvider {
		t.Errorf("unexpected products %+v", s.Products)
	}
	if !slices.Equal(s.Products[0].DefaultTags, []string{"Life"}) {
		t.Errorf("unexpected default tags %v", s.Products[0].DefaultTags)
	}
	if h.store.saves != 1 {
		t.Errorf("expected the snapshot to be persisted once, got %d", h.store.saves)
	}
	if calls := h.remote.svc.Calls(); len(calls) != 0 {
		t.Errorf("disconnected save reached the sheet: %v", calls)
	}
}

func TestSavePolicyExistingHolder(t *testing.T) {
	h := newHarness(t, false, &Snapshot{
		Clients: []models.Client{{
			ID: "c-1", Name: "Jane Doe", Email: "jane@example.com", Birthday: "1980-05-05",
			TotalPolicies: 1, LastContact: "2020-01-01", Status: models.ClientStatusActive, Tags: []string{"Life"},
		}},
		Products: []models.Product{{Name: "Term Life", Provider: "Acme", Type: models.PolicyTypeLife}},
	})
	ctx := context.Background()
	p := policy("p-2", "Jane Doe", "Life", "Family")
	if _, err := h.c.SavePolicy(ctx, p, true); err != nil {
		t.Fatal(err)
	}
	p3 := policy("p-3", "Jane Doe")
	p3.ClientBirthday = "1981-06-06"
	if _, err := h.c.SavePolicy(ctx, p3, false); err != nil {
		t.Fatal(err)
	}
	s := h.c.Snapshot()
	cl := s.Clients[0]
	if cl.TotalPolicies != 3 || cl.Email != "jane@example.com" || cl.Status != models.ClientStatusActive {
		t.Errorf("unexpected client %+v", cl)
	}
	if cl.Birthday != "1981-06-06" || cl.LastContact != "2024-03-15" {
		t.Errorf("unexpected birthday or last contact %+v", cl)
	}
	if !slices.Equal(cl.Tags, []string{"Life", "Family"}) {
		t.Errorf("expected merged tags, got %v", cl.Tags)
	}
	if len(s.Products) != 1 || s.Products[0].Provider != "Acme" {
		t.Errorf("existing product should be kept, got %+v", s.Products)
	}
	if s.Policies[0].ID != "p-3" || s.Policies[1].ID != "p-2" {
		t.Errorf("expected newest first, got %s, %s", s.Policies[0].ID, s.Policies[1].ID)
	}
	if _, err := h.c.SavePolicy(ctx, p, false); !models.IsCode(err, models.ErrorCodeConflict) {
		t.Errorf("expected CONFLICT for a duplicate id, got %v", err)
	}
}

func TestSavePolicyInvalid(t *testing.T) {
	h := newHarness(t, false, nil)
	p := policy("p-1", "Jane")
	p.Type = "Pet"
	if _, err := h.c.SavePolicy(context.Background(), p, false); !models.IsCode(err, models.ErrorCodeValidationFailed) {
		t.Errorf("expected VALIDATION_FAILED, got %v", err)
	}
	if len(h.c.Snapshot().Policies) != 0 {
		t.Error("invalid policy was stored")
	}
}

func TestSavePolicyAppendsWhenConnected(t *testing.T) {
	h := newHarness(t, true, nil)
	res, err := h.c.SavePolicy(context.Background(), policy("p-1", "Jane Doe", "Life"), false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Synced {
		t.Error("expected the policy to reach the sheet")
	}
	rows := h.remote.svc.Rows(sheetID, sheets.DefaultSheetTitle)
	if len(rows) != 2 || rows[1][rowcodec.ColID] != "p-1" {
		t.Errorf("unexpected sheet rows %v", rows)
	}
}

func TestSavePolicyAppendFailureKeepsLocal(t *testing.T) {
	h := newHarness(t, true, nil)
	h.remote.svc.FailOn("append", models.SyncFailed("append"))
	res, err := h.c.SavePolicy(context.Background(), policy("p-1", "Jane Doe"), false)
	if err != nil {
		t.Fatalf("a remote failure must not fail the save: %v", err)
	}
	if res.Synced || res.Warning != msgAppendFailed {
		t.Errorf("unexpected result %+v", res)
	}
	if len(h.c.Snapshot().Policies) != 1 {
		t.Error("local policy was rolled back")
	}
	ns := h.notices.Drain()
	if len(ns) != 1 || ns[0].Level != notice.Warning || ns[0].Code != string(models.ErrorCodeSyncFailed) {
		t.Errorf("unexpected notices %+v", ns)
	}
}

func TestUpdatePolicy(t *testing.T) {
	h := newHarness(t, true, &Snapshot{Policies: []models.Policy{policy("p-1", "Jane")}})
	ctx := context.Background()
	p := policy("p-1", "Jane")
	p.PremiumAmount = 999
	if _, err := h.c.UpdatePolicy(ctx, p); err != nil {
		t.Fatal(err)
	}
	if got, _ := h.c.Policy("p-1"); got.PremiumAmount != 999 {
		t.Errorf("expected updated premium, got %v", got.PremiumAmount)
	}
	if got := messages(h.notices.Drain()); !slices.Equal(got, []string{msgUpdateCaveat}) {
		t.Errorf("expected the caveat notice, got %q", got)
	}
	if calls := h.remote.svc.Calls(); len(calls) != 0 {
		t.Errorf("update reached the sheet: %v", calls)
	}
	if _, err := h.c.UpdatePolicy(ctx, policy("p-9", "Jane")); !models.IsCode(err, models.ErrorCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestDeletePolicyFloorsAtZero(t *testing.T) {
	h := newHarness(t, true, &Snapshot{
		Clients: []models.Client{{ID: "c-1", Name: "Jane", TotalPolicies: 1, Status: models.ClientStatusActive}},
		Policies: []models.Policy{
			policy("p-1", "Jane"),
			policy("p-2", "Jane"),
		},
	})
	ctx := context.Background()
	for _, id := range []string{"p-1", "p-2"} {
		if err := h.c.DeletePolicy(ctx, id); err != nil {
			t.Fatalf("DeletePolicy(%s) failed: %v", id, err)
		}
	}
	s := h.c.Snapshot()
	if len(s.Policies) != 0 {
		t.Errorf("expected no policies, got %d", len(s.Policies))
	}
	if s.Clients[0].TotalPolicies != 0 {
		t.Errorf("expected 0 policies, got %d", s.Clients[0].TotalPolicies)
	}
	if err := h.c.DeletePolicy(ctx, "p-1"); !models.IsCode(err, models.ErrorCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
	if calls := h.remote.svc.Calls(); len(calls) != 0 {
		t.Errorf("delete reached the sheet: %v", calls)
	}
}

func TestSnapshotsAreImmutable(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()
	if _, err := h.c.SavePolicy(ctx, policy("p-1", "Jane"), false); err != nil {
		t.Fatal(err)
	}
	before := h.c.Snapshot()
	if err := h.c.DeletePolicy(ctx, "p-1"); err != nil {
		t.Fatal(err)
	}
	if len(before.Policies) != 1 || before.Clients[0].TotalPolicies != 1 {
		t.Errorf("an earlier snapshot changed: %+v", before)
	}
}

func TestClients(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()
	cl, err := h.c.AddClient(ctx, models.Client{Name: " Bob "})
	if err != nil {
		t.Fatal(err)
	}
	if cl.ID == "" || cl.Name != "Bob" || cl.Status != models.ClientStatusLead {
		t.Errorf("unexpected client %+v", cl)
	}
	if _, err := h.c.AddClient(ctx, cl); !models.IsCode(err, models.ErrorCodeConflict) {
		t.Errorf("expected CONFLICT, got %v", err)
	}
	if _, err := h.c.AddClient(ctx, models.Client{}); !models.IsCode(err, models.ErrorCodeMissingField) {
		t.Errorf("expected MISSING_FIELD, got %v", err)
	}
	cl.Email = "bob@example.com"
	if _, err := h.c.UpdateClient(ctx, cl.ID, cl); err != nil {
		t.Fatal(err)
	}
	if got, _ := h.c.Client(cl.ID); got.Email != "bob@example.com" {
		t.Errorf("update not applied: %+v", got)
	}
	if _, err := h.c.UpdateClient(ctx, "nope", cl); !models.IsCode(err, models.ErrorCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}

	if _, err := h.c.SavePolicy(ctx, policy("p-1", "Bob"), false); err != nil {
		t.Fatal(err)
	}
	if _, err := h.c.SavePolicy(ctx, policy("p-2", "Alice"), false); err != nil {
		t.Fatal(err)
	}
	got, err := h.c.ClientPolicies(cl.ID)
	if err != nil || len(got) != 1 || got[0].ID != "p-1" {
		t.Errorf("unexpected client policies %+v, %v", got, err)
	}
	if _, err := h.c.ClientPolicies("nope"); !models.IsCode(err, models.ErrorCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestProducts(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()
	for _, name := range []string{"Term Life", "Med Plus"} {
		if _, err := h.c.AddProduct(ctx, models.Product{Name: name, Type: models.PolicyTypeLife}); err != nil {
			t.Fatal(err)
		}
	}
	if s := h.c.Snapshot(); s.Products[0].Name != "Med Plus" {
		t.Errorf("expected newest first, got %+v", s.Products)
	}
	if _, err := h.c.AddProduct(ctx, models.Product{Name: "Term Life"}); !models.IsCode(err, models.ErrorCodeConflict) {
		t.Errorf("expected CONFLICT, got %v", err)
	}
	if _, err := h.c.UpdateProduct(ctx, "Term Life", models.Product{Name: "Med Plus"}); !models.IsCode(err, models.ErrorCodeConflict) {
		t.Errorf("expected CONFLICT on rename collision, got %v", err)
	}
	if _, err := h.c.UpdateProduct(ctx, "Term Life", models.Product{Name: "Term Life II", Provider: "Acme"}); err != nil {
		t.Fatal(err)
	}
	if s := h.c.Snapshot(); s.Products[1].Name != "Term Life II" {
		t.Errorf("rename not applied in place: %+v", s.Products)
	}
	if _, err := h.c.UpdateProduct(ctx, "Gone", models.Product{Name: "X"}); !models.IsCode(err, models.ErrorCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestSyncNow(t *testing.T) {
	h := newHarness(t, true, &Snapshot{
		Clients:  []models.Client{{ID: "c-local", Name: "Local", Email: "local@example.com", TotalPolicies: 1, Status: models.ClientStatusActive}},
		Policies: []models.Policy{policy("p-local", "Local")},
		Products: []models.Product{{Name: "Kept"}},
	})
	var rows [][]any
	for _, p := range []models.Policy{policy("p-1", "Jane Doe", "Life"), policy("p-2", "Jane Doe", "Family"), policy("p-3", "Bob")} {
		row, err := rowcodec.Encode(&p)
		if err != nil {
			t.Fatal(err)
		}
		rows = append(rows, row)
	}
	h.remote.svc.Seed(sheetID, sheets.DefaultSheetTitle, append([][]any{rowcodec.HeaderRow()}, rows...))

	res, err := h.c.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if !res.Replaced || res.Policies != 3 || res.Clients != 2 || res.RunID == "" {
		t.Errorf("unexpected result %+v", res)
	}
	s := h.c.Snapshot()
	if s.Policies[0].ID != "p-1" || len(s.Policies) != 3 {
		t.Errorf("expected sheet order, got %+v", s.Policies)
	}
	if s.Clients[0].Name != "Jane Doe" || s.Clients[0].TotalPolicies != 2 || s.Clients[0].Status != models.ClientStatusActive {
		t.Errorf("unexpected rebuilt client %+v", s.Clients[0])
	}
	if len(s.Products) != 1 || s.Products[0].Name != "Kept" {
		t.Errorf("products should survive a sync, got %+v", s.Products)
	}
	if h.remote.reauths != 1 {
		t.Errorf("expected one reauthorization, got %d", h.remote.reauths)
	}
	if got := messages(h.notices.Drain()); !slices.Equal(got, []string{msgSynced}) {
		t.Errorf("unexpected notices %q", got)
	}
}

func TestSyncNowEmptySheetKeepsLocal(t *testing.T) {
	initial := &Snapshot{
		Clients:  []models.Client{{ID: "c-1", Name: "Jane", TotalPolicies: 1, Status: models.ClientStatusLead}},
		Policies: []models.Policy{policy("p-1", "Jane")},
	}
	h := newHarness(t, true, initial)
	res, err := h.c.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if res.Replaced {
		t.Error("an empty sheet must not replace local state")
	}
	s := h.c.Snapshot()
	if len(s.Policies) != 1 || len(s.Clients) != 1 || s.Clients[0].Status != models.ClientStatusLead {
		t.Errorf("local state changed: %+v", s)
	}
	if got := messages(h.notices.Drain()); !slices.Equal(got, []string{msgEmptySheet}) {
		t.Errorf("unexpected notices %q", got)
	}
	if h.store.saves != 0 {
		t.Errorf("nothing should be persisted, got %d saves", h.store.saves)
	}
}

func TestSyncNowMissingSheetIsEmpty(t *testing.T) {
	h := newHarness(t, true, nil)
	h.remote.svc = sheetstest.NewMemory()
	h.remote.svc.Seed(sheetID, "Sheet1", [][]any{})
	res, err := h.c.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if res.Replaced {
		t.Error("expected nothing to replace")
	}
	if rows := h.remote.svc.Rows(sheetID, sheets.DefaultSheetTitle); len(rows) != 1 {
		t.Errorf("expected the sheet to be created with its header, got %v", rows)
	}
}

func TestSyncNowFailures(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		h := newHarness(t, false, nil)
		if _, err := h.c.SyncNow(context.Background()); !models.IsCode(err, models.ErrorCodeNotConnected) {
			t.Errorf("expected NOT_CONNECTED, got %v", err)
		}
		if len(h.notices.Drain()) != 0 {
			t.Error("a precondition failure should not raise a notice")
		}
	})
	t.Run("reauthorize", func(t *testing.T) {
		h := newHarness(t, true, nil)
		h.remote.reauthErr = models.AuthorizationError("expired")
		if _, err := h.c.SyncNow(context.Background()); !models.IsCode(err, models.ErrorCodeAuthorization) {
			t.Errorf("expected AUTHORIZATION_FAILED, got %v", err)
		}
		if h.remote.svc.Calls() != nil {
			t.Error("no sheet call expected after a failed reauthorization")
		}
	})
	t.Run("fetch", func(t *testing.T) {
		h := newHarness(t, true, &Snapshot{Policies: []models.Policy{policy("p-1", "Jane")}})
		h.remote.svc.FailOn("get", errors.New("socket closed"))
		if _, err := h.c.SyncNow(context.Background()); !models.IsCode(err, models.ErrorCodeSyncFailed) {
			t.Errorf("expected SYNC_FAILED, got %v", err)
		}
		if len(h.c.Snapshot().Policies) != 1 {
			t.Error("local state changed after a failed sync")
		}
		if ns := h.notices.Drain(); len(ns) != 1 || ns[0].Level != notice.Error {
			t.Errorf("unexpected notices %+v", ns)
		}
	})
	t.Run("parse", func(t *testing.T) {
		h := newHarness(t, true, nil)
		h.remote.svc.Seed(sheetID, sheets.DefaultSheetTitle, [][]any{
			rowcodec.HeaderRow(),
			{"p-1", "PN", "Jane", "Plan", "Life", "Active", "10", "Monthly", "2024-01-01", "", "not json", "{}"},
		})
		if _, err := h.c.SyncNow(context.Background()); !models.IsCode(err, models.ErrorCodeParse) {
			t.Errorf("expected PARSE_ERROR, got %v", err)
		}
	})
}

func TestPushAll(t *testing.T) {
	h := newHarness(t, true, &Snapshot{Policies: []models.Policy{policy("p-2", "Jane"), policy("p-1", "Jane")}})
	h.remote.svc.Seed(sheetID, sheets.DefaultSheetTitle, [][]any{rowcodec.HeaderRow(), {"stale"}, {"stale"}, {"stale"}})
	res, err := h.c.PushAll(context.Background())
	if err != nil {
		t.Fatalf("PushAll failed: %v", err)
	}
	if res.Policies != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	rows := h.remote.svc.Rows(sheetID, sheets.DefaultSheetTitle)
	if len(rows) != 3 || rows[1][rowcodec.ColID] != "p-2" || rows[2][rowcodec.ColID] != "p-1" {
		t.Errorf("unexpected sheet %v", rows)
	}
	if got := messages(h.notices.Drain()); !slices.Equal(got, []string{msgPushed}) {
		t.Errorf("unexpected notices %q", got)
	}

	h2 := newHarness(t, false, nil)
	if _, err := h2.c.PushAll(context.Background()); !models.IsCode(err, models.ErrorCodeNotConnected) {
		t.Errorf("expected NOT_CONNECTED, got %v", err)
	}
}
