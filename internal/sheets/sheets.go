// Package sheets reads and writes policy rows in a remote spreadsheet.
//
// The gateway holds no state: every operation takes a [Connection] naming the
// service, spreadsheet and sheet to act on.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/insureflow/insureflow/internal/models"
	"github.com/insureflow/insureflow/internal/rowcodec"
)

// DefaultSheetTitle is the sheet that stores policies.
const DefaultSheetTitle = "Policies"

// ErrNoSpreadsheet is returned by every table operation on a Connection with
// no spreadsheet id, before any network call.
var ErrNoSpreadsheet = models.NoSpreadsheet()

// ErrRangeNotFound is wrapped by TableService.GetValues when the requested
// range does not exist yet.
var ErrRangeNotFound = errors.New("range not found")

// Table describes a spreadsheet visible to the user.
type Table struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ModifiedTime  string `json:"modifiedTime,omitempty"`
	ThumbnailLink string `json:"thumbnailLink,omitempty"`
}

// TableService is the remote tabular store.
type TableService interface {
	// SheetTitles returns the titles of the sheets in a spreadsheet.
	SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error)
	AddSheet(ctx context.Context, spreadsheetID, title string) error
	// GetValues returns the rows of rng. It wraps ErrRangeNotFound when rng
	// cannot be resolved.
	GetValues(ctx context.Context, spreadsheetID, rng string) ([][]any, error)
	UpdateValues(ctx context.Context, spreadsheetID, rng string, rows [][]any) error
	AppendValues(ctx context.Context, spreadsheetID, rng string, rows [][]any) error
	ClearValues(ctx context.Context, spreadsheetID, rng string) error
	// CreateSpreadsheet creates a spreadsheet and returns its id.
	CreateSpreadsheet(ctx context.Context, title string) (string, error)
	// ListSpreadsheets returns the most recently modified spreadsheets.
	ListSpreadsheets(ctx context.Context) ([]Table, error)
}

// Connection binds a TableService to one spreadsheet.
type Connection struct {
	Service       TableService
	SpreadsheetID string
	// SheetTitle defaults to DefaultSheetTitle.
	SheetTitle string
}

func (c *Connection) sheetTitle() string {
	if c.SheetTitle == "" {
		return DefaultSheetTitle
	}
	return c.SheetTitle
}

// a1 returns an A1 range on the connection's sheet.
func (c *Connection) a1(cells string) string {
	title := c.sheetTitle()
	if strings.ContainsFunc(title, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_')
	}) {
		title = "'" + strings.ReplaceAll(title, "'", "''") + "'"
	}
	return title + "!" + cells
}

func (c *Connection) check() error {
	if c == nil || c.SpreadsheetID == "" {
		return ErrNoSpreadsheet
	}
	return nil
}

// EnsureStructure creates the policy sheet with its header row when it is
// missing. It does nothing when the sheet exists.
func (c *Connection) EnsureStructure(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	titles, err := c.Service.SheetTitles(ctx, c.SpreadsheetID)
	if err != nil {
		return fmt.Errorf("failed to read spreadsheet: %w", err)
	}
	if slices.Contains(titles, c.sheetTitle()) {
		return nil
	}
	if err := c.Service.AddSheet(ctx, c.SpreadsheetID, c.sheetTitle()); err != nil {
		return fmt.Errorf("failed to add sheet %q: %w", c.sheetTitle(), err)
	}
	if err := c.Service.UpdateValues(ctx, c.SpreadsheetID, c.a1("A1"), [][]any{rowcodec.HeaderRow()}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// FetchAll returns every policy below the header, in sheet order.
//
// A range that does not exist yet yields no policies. Blank rows are skipped.
// A row that fails to decode aborts the whole fetch.
func (c *Connection) FetchAll(ctx context.Context) ([]models.Policy, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	rows, err := c.Service.GetValues(ctx, c.SpreadsheetID, c.a1("A2:L"))
	if err != nil {
		if errors.Is(err, ErrRangeNotFound) {
			return []models.Policy{}, nil
		}
		return nil, fmt.Errorf("failed to fetch policies: %w", err)
	}
	policies := make([]models.Policy, 0, len(rows))
	for i, row := range rows {
		if blank(row) {
			continue
		}
		p, err := rowcodec.Decode(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// AppendOne appends p after the last row. It does not check for an existing
// row with the same id.
func (c *Connection) AppendOne(ctx context.Context, p *models.Policy) error {
	if err := c.check(); err != nil {
		return err
	}
	row, err := rowcodec.Encode(p)
	if err != nil {
		return err
	}
	if err := c.Service.AppendValues(ctx, c.SpreadsheetID, c.a1("A:L"), [][]any{row}); err != nil {
		return fmt.Errorf("failed to append policy %q: %w", p.ID, err)
	}
	return nil
}

// OverwriteAll clears every data row and writes policies from row 2.
func (c *Connection) OverwriteAll(ctx context.Context, policies []models.Policy) error {
	if err := c.check(); err != nil {
		return err
	}
	rows, err := rowcodec.EncodeAll(policies)
	if err != nil {
		return err
	}
	if err := c.Service.ClearValues(ctx, c.SpreadsheetID, c.a1("A2:L")); err != nil {
		return fmt.Errorf("failed to clear policies: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := c.Service.UpdateValues(ctx, c.SpreadsheetID, c.a1("A2"), rows); err != nil {
		return fmt.Errorf("failed to write policies: %w", err)
	}
	return nil
}

// CreateTable creates a spreadsheet titled title, prepares its policy sheet and
// returns the new spreadsheet id. c's own spreadsheet id is ignored.
func (c *Connection) CreateTable(ctx context.Context, title string) (string, error) {
	id, err := c.Service.CreateSpreadsheet(ctx, title)
	if err != nil {
		return "", fmt.Errorf("failed to create spreadsheet: %w", err)
	}
	created := *c
	created.SpreadsheetID = id
	if err := created.EnsureStructure(ctx); err != nil {
		return "", err
	}
	return id, nil
}

// ListTables returns the spreadsheets the user can pick from.
func (c *Connection) ListTables(ctx context.Context) ([]Table, error) {
	tables, err := c.Service.ListSpreadsheets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list spreadsheets: %w", err)
	}
	return tables, nil
}

func blank(row []any) bool {
	for _, v := range row {
		switch t := v.(type) {
		case nil:
		case string:
			if strings.TrimSpace(t) != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}
