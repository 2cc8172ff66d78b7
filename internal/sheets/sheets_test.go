package sheets

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/insureflow/insureflow/internal/models"
	"github.com/insureflow/insureflow/internal/rowcodec"
)

// memService is an in-memory TableService. Each sheet is a list of rows,
// row 0 being sheet row 1.
type memService struct {
	mu      sync.Mutex
	books   map[string]map[string][][]any
	calls   []string
	nextID  int
	failOn  string
	listing []Table
}

func newMemService() *memService {
	return &memService{books: map[string]map[string][][]any{}}
}

func (m *memService) record(op string) error {
	m.calls = append(m.calls, op)
	if m.failOn == op {
		return models.SyncFailed(op)
	}
	return nil
}

func splitRange(rng string) (string, string) {
	title, cells, _ := strings.Cut(rng, "!")
	return strings.Trim(title, "'"), cells
}

func (m *memService) SheetTitles(ctx context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("titles"); err != nil {
		return nil, err
	}
	book, ok := m.books[id]
	if !ok {
		return nil, models.AccessDenied("no such spreadsheet")
	}
	var titles []string
	for t := range book {
		titles = append(titles, t)
	}
	return titles, nil
}

func (m *memService) AddSheet(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("addSheet"); err != nil {
		return err
	}
	m.books[id][title] = nil
	return nil
}

func (m *memService) GetValues(ctx context.Context, id, rng string) ([][]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("get"); err != nil {
		return nil, err
	}
	title, cells := splitRange(rng)
	rows, ok := m.books[id][title]
	if !ok {
		return nil, fmt.Errorf("%w: Unable to parse range: %s", ErrRangeNotFound, rng)
	}
	if cells != "A2:L" {
		return nil, fmt.Errorf("unexpected range %q", rng)
	}
	if len(rows) < 2 {
		return nil, nil
	}
	return slices.Clone(rows[1:]), nil
}

func (m *memService) UpdateValues(ctx context.Context, id, rng string, rows [][]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("update:" + rng); err != nil {
		return err
	}
	title, cells := splitRange(rng)
	sheet := m.books[id][title]
	start := 0
	if cells == "A2" {
		start = 1
	}
	for len(sheet) < start+len(rows) {
		sheet = append(sheet, nil)
	}
	copy(sheet[start:], rows)
	m.books[id][title] = sheet
	return nil
}

func (m *memService) AppendValues(ctx context.Context, id, rng string, rows [][]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("append"); err != nil {
		return err
	}
	title, _ := splitRange(rng)
	m.books[id][title] = append(m.books[id][title], rows...)
	return nil
}

func (m *memService) ClearValues(ctx context.Context, id, rng string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("clear"); err != nil {
		return err
	}
	title, _ := splitRange(rng)
	if sheet := m.books[id][title]; len(sheet) > 1 {
		m.books[id][title] = sheet[:1]
	}
	return nil
}

func (m *memService) CreateSpreadsheet(ctx context.Context, title string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("create"); err != nil {
		return "", err
	}
	m.nextID++
	id := fmt.Sprintf("ss-%d", m.nextID)
	m.books[id] = map[string][][]any{"Sheet1": nil}
	return id, nil
}

func (m *memService) ListSpreadsheets(ctx context.Context) ([]Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("list"); err != nil {
		return nil, err
	}
	return m.listing, nil
}

func samplePolicy(id, holder string) models.Policy {
	return models.Policy{
		ID:            id,
		PolicyNumber:  "PN-" + id,
		HolderName:    holder,
		PlanName:      "Term Life",
		Type:          models.PolicyTypeLife,
		Status:        models.PolicyStatusActive,
		PremiumAmount: 100,
		PaymentMode:   models.PaymentModeMonthly,
		ExtractedTags: []string{"Life"},
	}
}

func TestNoSpreadsheet(t *testing.T) {
	svc := newMemService()
	c := &Connection{Service: svc}
	ctx := context.Background()
	p := samplePolicy("1", "Jane")
	checks := map[string]error{
		"EnsureStructure": c.EnsureStructure(ctx),
		"AppendOne":       c.AppendOne(ctx, &p),
		"OverwriteAll":    c.OverwriteAll(ctx, nil),
	}
	_, err := c.FetchAll(ctx)
	checks["FetchAll"] = err
	for name, err := range checks {
		if !errors.Is(err, ErrNoSpreadsheet) {
			t.Errorf("%s: expected ErrNoSpreadsheet, got %v", name, err)
		}
		if !models.IsCode(err, models.ErrorCodeNoSpreadsheet) {
			t.Errorf("%s: expected NO_SPREADSHEET code, got %v", name, err)
		}
	}
	if len(svc.calls) != 0 {
		t.Errorf("expected no remote calls, got %v", svc.calls)
	}
	var nilConn *Connection
	if _, err := nilConn.FetchAll(ctx); !errors.Is(err, ErrNoSpreadsheet) {
		t.Errorf("nil connection: expected ErrNoSpreadsheet, got %v", err)
	}
}

func TestEnsureStructure(t *testing.T) {
	svc := newMemService()
	svc.books["s"] = map[string][][]any{"Sheet1": nil}
	c := &Connection{Service: svc, SpreadsheetID: "s"}
	ctx := context.Background()
	for range 3 {
		if err := c.EnsureStructure(ctx); err != nil {
			t.Fatalf("EnsureStructure failed: %v", err)
		}
	}
	sheet := svc.books["s"][DefaultSheetTitle]
	if len(sheet) != 1 {
		t.Fatalf("expected exactly one header row, got %d rows", len(sheet))
	}
	if sheet[0][0] != "ID" || len(sheet[0]) != rowcodec.Columns {
		t.Errorf("unexpected header %v", sheet[0])
	}
	adds := 0
	for _, op := range svc.calls {
		if op == "addSheet" {
			adds++
		}
	}
	if adds != 1 {
		t.Errorf("expected 1 addSheet call, got %d", adds)
	}
}

func TestFetchAll(t *testing.T) {
	ctx := context.Background()

	t.Run("missing range is empty", func(t *testing.T) {
		svc := newMemService()
		svc.books["s"] = map[string][][]any{}
		c := &Connection{Service: svc, SpreadsheetID: "s"}
		got, err := c.FetchAll(ctx)
		if err != nil {
			t.Fatalf("FetchAll failed: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty result, got %v", got)
		}
	})

	t.Run("header only is empty", func(t *testing.T) {
		svc := newMemService()
		svc.books["s"] = map[string][][]any{DefaultSheetTitle: {rowcodec.HeaderRow()}}
		c := &Connection{Service: svc, SpreadsheetID: "s"}
		got, err := c.FetchAll(ctx)
		if err != nil {
			t.Fatalf("FetchAll failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected empty result, got %v", got)
		}
	})

	t.Run("decodes rows in order and skips blanks", func(t *testing.T) {
		svc := newMemService()
		svc.books["s"] = map[string][][]any{DefaultSheetTitle: {rowcodec.HeaderRow()}}
		c := &Connection{Service: svc, SpreadsheetID: "s"}
		for _, p := range []models.Policy{samplePolicy("1", "Jane"), samplePolicy("2", "John")} {
			if err := c.AppendOne(ctx, &p); err != nil {
				t.Fatalf("AppendOne failed: %v", err)
			}
		}
		svc.books["s"][DefaultSheetTitle] = slices.Insert(svc.books["s"][DefaultSheetTitle], 2, []any{"", " "})
		got, err := c.FetchAll(ctx)
		if err != nil {
			t.Fatalf("FetchAll failed: %v", err)
		}
		if len(got) != 2 || got[0].ID != "1" || got[1].ID != "2" {
			t.Errorf("unexpected policies %+v", got)
		}
	})

	t.Run("one bad row aborts", func(t *testing.T) {
		svc := newMemService()
		good, _ := rowcodec.Encode(&models.Policy{ID: "1", HolderName: "J", Type: "Life", Status: "Active", PaymentMode: "Monthly"})
		bad := slices.Clone(good)
		bad[rowcodec.ColTags] = "[not json"
		svc.books["s"] = map[string][][]any{DefaultSheetTitle: {rowcodec.HeaderRow(), good, bad}}
		c := &Connection{Service: svc, SpreadsheetID: "s"}
		got, err := c.FetchAll(ctx)
		if !models.IsCode(err, models.ErrorCodeParse) {
			t.Fatalf("expected PARSE_ERROR, got %v", err)
		}
		if !strings.Contains(err.Error(), "row 3") {
			t.Errorf("expected row number in %q", err.Error())
		}
		if got != nil {
			t.Errorf("expected no partial result, got %v", got)
		}
	})

	t.Run("other failures propagate", func(t *testing.T) {
		svc := newMemService()
		svc.books["s"] = map[string][][]any{DefaultSheetTitle: nil}
		svc.failOn = "get"
		c := &Connection{Service: svc, SpreadsheetID: "s"}
		if _, err := c.FetchAll(ctx); !models.IsCode(err, models.ErrorCodeSyncFailed) {
			t.Errorf("expected SYNC_FAILED, got %v", err)
		}
	})
}

func TestAppendOneAllowsDuplicates(t *testing.T) {
	ctx := context.Background()
	svc := newMemService()
	svc.books["s"] = map[string][][]any{DefaultSheetTitle: {rowcodec.HeaderRow()}}
	c := &Connection{Service: svc, SpreadsheetID: "s"}
	p := samplePolicy("1", "Jane")
	for range 2 {
		if err := c.AppendOne(ctx, &p); err != nil {
			t.Fatalf("AppendOne failed: %v", err)
		}
	}
	if slices.Contains(svc.calls, "get") {
		t.Error("AppendOne must not read existing rows")
	}
	got, err := c.FetchAll(ctx)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 rows, got %d", len(got))
	}
}

func TestOverwriteAll(t *testing.T) {
	ctx := context.Background()
	svc := newMemService()
	svc.books["s"] = map[string][][]any{DefaultSheetTitle: {rowcodec.HeaderRow()}}
	c := &Connection{Service: svc, SpreadsheetID: "s"}
	for _, id := range []string{"1", "2", "3"} {
		p := samplePolicy(id, "Jane")
		if err := c.AppendOne(ctx, &p); err != nil {
			t.Fatalf("AppendOne failed: %v", err)
		}
	}
	if err := c.OverwriteAll(ctx, []models.Policy{samplePolicy("9", "Max")}); err != nil {
		t.Fatalf("OverwriteAll failed: %v", err)
	}
	got, err := c.FetchAll(ctx)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "9" {
		t.Errorf("unexpected policies after overwrite %+v", got)
	}
	if svc.books["s"][DefaultSheetTitle][0][0] != "ID" {
		t.Error("header row was overwritten")
	}

	svc.calls = nil
	if err := c.OverwriteAll(ctx, nil); err != nil {
		t.Fatalf("OverwriteAll with no rows failed: %v", err)
	}
	if !slices.Equal(svc.calls, []string{"clear"}) {
		t.Errorf("expected only a clear, got %v", svc.calls)
	}
}

func TestCreateTable(t *testing.T) {
	ctx := context.Background()
	svc := newMemService()
	c := &Connection{Service: svc}
	id, err := c.CreateTable(ctx, "InsureFlow CRM Data")
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if id != "ss-1" {
		t.Errorf("expected ss-1, got %q", id)
	}
	if c.SpreadsheetID != "" {
		t.Errorf("CreateTable modified the connection: %q", c.SpreadsheetID)
	}
	sheet, ok := svc.books[id][DefaultSheetTitle]
	if !ok || len(sheet) != 1 {
		t.Errorf("expected prepared sheet, got %v", svc.books[id])
	}
}

func TestListTables(t *testing.T) {
	svc := newMemService()
	svc.listing = []Table{{ID: "a", Name: "A"}}
	c := &Connection{Service: svc}
	got, err := c.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("unexpected tables %v", got)
	}
}

func TestA1(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"", "Policies!A2:L"},
		{"Policies", "Policies!A2:L"},
		{"My Policies", "'My Policies'!A2:L"},
		{"Jane's", "'Jane''s'!A2:L"},
	}
	for _, tt := range tests {
		c := &Connection{SheetTitle: tt.title}
		if got := c.a1("A2:L"); got != tt.want {
			t.Errorf("a1(%q): expected %q, got %q", tt.title, tt.want, got)
		}
	}
}
