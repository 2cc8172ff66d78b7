// Package sheetstest provides an in-memory sheets.TableService for tests.
package sheetstest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/insureflow/insureflow/internal/models"
	"github.com/insureflow/insureflow/internal/sheets"
)

// Memory is an in-memory sheets.TableService. Each sheet is a list of rows,
// row 0 being sheet row 1.
type Memory struct {
	mu      sync.Mutex
	books   map[string]map[string][][]any
	calls   []string
	fail    map[string]error
	nextID  int
	listing []sheets.Table
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{books: map[string]map[string][][]any{}, fail: map[string]error{}}
}

// Seed creates sheet title in spreadsheet id holding rows, header included.
// A nil rows creates the spreadsheet without that sheet.
func (m *Memory) Seed(id, title string, rows [][]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.books[id] == nil {
		m.books[id] = map[string][][]any{}
	}
	if rows != nil {
		m.books[id][title] = slices.Clone(rows)
	}
}

// Rows returns the rows of a sheet, header included.
func (m *Memory) Rows(id, title string) [][]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.books[id][title])
}

// SetListing sets the result of ListSpreadsheets.
func (m *Memory) SetListing(tables []sheets.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listing = tables
}

// FailOn makes op return err. op is one of titles, addSheet, get, update,
// append, clear, create and list. A nil err clears the failure.
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

// Calls returns the operations performed so far.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

func (m *Memory) record(op string) error {
	m.calls = append(m.calls, op)
	return m.fail[op]
}

func (m *Memory) book(id string) (map[string][][]any, error) {
	b, ok := m.books[id]
	if !ok {
		return nil, models.AccessDenied(fmt.Sprintf("spreadsheet %q not found", id))
	}
	return b, nil
}

func splitRange(rng string) (string, string) {
	title, cells, _ := strings.Cut(rng, "!")
	return strings.ReplaceAll(strings.Trim(title, "'"), "''", "'"), cells
}

func (m *Memory) SheetTitles(ctx context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("titles"); err != nil {
		return nil, err
	}
	b, err := m.book(id)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(b))
	for t := range b {
		titles = append(titles, t)
	}
	slices.Sort(titles)
	return titles, nil
}

func (m *Memory) AddSheet(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("addSheet"); err != nil {
		return err
	}
	b, err := m.book(id)
	if err != nil {
		return err
	}
	b[title] = [][]any{}
	return nil
}

func (m *Memory) GetValues(ctx context.Context, id, rng string) ([][]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("get"); err != nil {
		return nil, err
	}
	b, err := m.book(id)
	if err != nil {
		return nil, err
	}
	title, _ := splitRange(rng)
	rows, ok := b[title]
	if !ok {
		return nil, fmt.Errorf("%w: Unable to parse range: %s", sheets.ErrRangeNotFound, rng)
	}
	if len(rows) < 2 {
		return nil, nil
	}
	return slices.Clone(rows[1:]), nil
}

func (m *Memory) UpdateValues(ctx context.Context, id, rng string, rows [][]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("update"); err != nil {
		return err
	}
	b, err := m.book(id)
	if err != nil {
		return err
	}
	title, cells := splitRange(rng)
	sheet := b[title]
	start := 0
	if strings.HasPrefix(cells, "A2") {
		start = 1
	}
	for len(sheet) < start+len(rows) {
		sheet = append(sheet, nil)
	}
	copy(sheet[start:], rows)
	b[title] = sheet
	return nil
}

func (m *Memory) AppendValues(ctx context.Context, id, rng string, rows [][]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("append"); err != nil {
		return err
	}
	b, err := m.book(id)
	if err != nil {
		return err
	}
	title, _ := splitRange(rng)
	b[title] = append(b[title], rows...)
	return nil
}

func (m *Memory) ClearValues(ctx context.Context, id, rng string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("clear"); err != nil {
		return err
	}
	b, err := m.book(id)
	if err != nil {
		return err
	}
	title, _ := splitRange(rng)
	if sheet := b[title]; len(sheet) > 1 {
		b[title] = sheet[:1]
	}
	return nil
}

func (m *Memory) CreateSpreadsheet(ctx context.Context, title string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("create"); err != nil {
		return "", err
	}
	m.nextID++
	id := fmt.Sprintf("ss-%d", m.nextID)
	m.books[id] = map[string][][]any{"Sheet1": {}}
	m.listing = append([]sheets.Table{{ID: id, Name: title}}, m.listing...)
	return id, nil
}

func (m *Memory) ListSpreadsheets(ctx context.Context) ([]sheets.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("list"); err != nil {
		return nil, err
	}
	return slices.Clone(m.listing), nil
}

var _ sheets.TableService = (*Memory)(nil)
