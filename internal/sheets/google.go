// Implements TableService on the Google Sheets and Drive APIs with client-side
// rate limiting.

package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/insureflow/insureflow/internal/models"
	"golang.org/x/time/rate"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// Scopes are the OAuth scopes GoogleService needs.
var Scopes = []string{
	sheetsapi.SpreadsheetsScope,
	drive.DriveReadonlyScope,
}

const (
	spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"
	listPageSize        = 10
)

// GoogleService is a TableService backed by Google Sheets and Google Drive.
type GoogleService struct {
	sheets  *sheetsapi.Service
	drive   *drive.Service
	limiter *rate.Limiter
}

// NewGoogleService creates a GoogleService. opts apply to both APIs and
// usually carry an authenticated HTTP client. A nil limiter does not limit.
func NewGoogleService(ctx context.Context, limiter *rate.Limiter, opts ...option.ClientOption) (*GoogleService, error) {
	s, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	d, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive client: %w", err)
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &GoogleService{sheets: s, drive: d, limiter: limiter}, nil
}

// PerMinute returns a limiter allowing n requests per minute with a burst of
// one. n <= 0 disables limiting.
func PerMinute(n int) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(n)/60), 1)
}

func (g *GoogleService) wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// SheetTitles implements TableService.
func (g *GoogleService) SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := g.sheets.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, classify("get spreadsheet", err)
	}
	titles := make([]string, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}
	return titles, nil
}

// AddSheet implements TableService.
func (g *GoogleService) AddSheet(ctx context.Context, spreadsheetID, title string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			AddSheet: &sheetsapi.AddSheetRequest{Properties: &sheetsapi.SheetProperties{Title: title}},
		}},
	}
	if _, err := g.sheets.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return classify("add sheet", err)
	}
	return nil
}

// GetValues implements TableService. Values are returned formatted, as the
// sheet displays them.
func (g *GoogleService) GetValues(ctx context.Context, spreadsheetID, rng string) ([][]any, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := g.sheets.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		if isRangeNotFound(err) {
			return nil, fmt.Errorf("%w: %w", ErrRangeNotFound, err)
		}
		return nil, classify("read range", err)
	}
	return resp.Values, nil
}

// UpdateValues implements TableService.
func (g *GoogleService) UpdateValues(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	vr := &sheetsapi.ValueRange{Values: rows}
	if _, err := g.sheets.Spreadsheets.Values.Update(spreadsheetID, rng, vr).ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return classify("write range", err)
	}
	return nil
}

// AppendValues implements TableService.
func (g *GoogleService) AppendValues(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	vr := &sheetsapi.ValueRange{Values: rows}
	call := g.sheets.Spreadsheets.Values.Append(spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS")
	if _, err := call.Context(ctx).Do(); err != nil {
		return classify("append", err)
	}
	return nil
}

// ClearValues implements TableService.
func (g *GoogleService) ClearValues(ctx context.Context, spreadsheetID, rng string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	if _, err := g.sheets.Spreadsheets.Values.Clear(spreadsheetID, rng, &sheetsapi.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return classify("clear range", err)
	}
	return nil
}

// CreateSpreadsheet implements TableService.
func (g *GoogleService) CreateSpreadsheet(ctx context.Context, title string) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	ss := &sheetsapi.Spreadsheet{Properties: &sheetsapi.SpreadsheetProperties{Title: title}}
	resp, err := g.sheets.Spreadsheets.Create(ss).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return "", classify("create spreadsheet", err)
	}
	return resp.SpreadsheetId, nil
}

// ListSpreadsheets implements TableService. It returns at most ten
// spreadsheets that are not trashed, most recently modified first.
func (g *GoogleService) ListSpreadsheets(ctx context.Context) ([]Table, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := g.drive.Files.List().
		Q(fmt.Sprintf("mimeType='%s' and trashed=false", spreadsheetMimeType)).
		Fields("files(id, name, modifiedTime, thumbnailLink)").
		PageSize(listPageSize).
		OrderBy("modifiedTime desc").
		Context(ctx).Do()
	if err != nil {
		return nil, classify("list spreadsheets", err)
	}
	tables := make([]Table, 0, len(resp.Files))
	for _, f := range resp.Files {
		tables = append(tables, Table{ID: f.Id, Name: f.Name, ModifiedTime: f.ModifiedTime, ThumbnailLink: f.ThumbnailLink})
	}
	return tables, nil
}

func isRangeNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest && strings.Contains(gerr.Message, "Unable to parse range")
}

// classify maps a Google API failure onto the error taxonomy. Denied and
// missing resources are access errors, everything else is a sync failure.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return models.AccessDenied(fmt.Sprintf("%s: %s", op, gerr.Message)).
				WithDetail("status", gerr.Code).
				Wrap(err)
		}
	}
	return models.SyncFailed(op).Wrap(err)
}
