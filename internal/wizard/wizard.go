// Package wizard walks the user through connecting a spreadsheet: API keys,
// then an OAuth grant, then picking or creating the spreadsheet.
package wizard

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/insureflow/insureflow/internal/auth"
	"github.com/insureflow/insureflow/internal/models"
	"github.com/insureflow/insureflow/internal/notice"
	"github.com/insureflow/insureflow/internal/sheets"
	"github.com/insureflow/insureflow/internal/storage"
)

// Step is the wizard page the user is on. Being connected is tracked
// separately, not as a fourth step.
type Step int

// Wizard steps.
const (
	StepKeys Step = 1 + iota
	StepAuthorize
	StepSelectTable
)

func (s Step) String() string {
	switch s {
	case StepKeys:
		return "keys"
	case StepAuthorize:
		return "authorize"
	case StepSelectTable:
		return "select_table"
	}
	return "unknown"
}

// msgNoGrant is reported when the spreadsheet is connected but no OAuth grant
// is held, e.g. after the token file was removed.
const msgNoGrant = "Google access is not authorized. Disconnect and connect again to grant access."

// DefaultSpreadsheetTitle names spreadsheets created by CreateNew.
const DefaultSpreadsheetTitle = "InsureFlow CRM Data"

// Remote is the client library configured by the wizard.
type Remote interface {
	Init(ctx context.Context, clientID, apiKey string) error
	RequestAccessToken(ctx context.Context, prompt string) error
	HasToken() bool
	// Connection returns a connection to spreadsheetID, which may be empty
	// for listing and creating spreadsheets.
	Connection(spreadsheetID string) (*sheets.Connection, error)
	Forget() error
}

// ConfigStore persists the connection configuration.
type ConfigStore interface {
	Load() (storage.ConnectionConfig, bool, error)
	Save(cfg storage.ConnectionConfig) error
	Clear() error
}

// Options configures a Wizard.
type Options struct {
	Remote Remote
	Store  ConfigStore
	// OnConnected runs after a spreadsheet is chosen, outside the wizard lock.
	OnConnected func(ctx context.Context)
	Notifier    notice.Notifier
	// Origin is the redirect origin named in origin mismatch errors.
	Origin string
	// NewSpreadsheetTitle defaults to DefaultSpreadsheetTitle.
	NewSpreadsheetTitle string
}

// StatusError is the last error shown to the user.
type StatusError struct {
	Code    models.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// Status is a snapshot of the wizard.
type Status struct {
	Step          Step           `json:"step"`
	StepName      string         `json:"stepName"`
	Connected     bool           `json:"connected"`
	Authorized    bool           `json:"authorized"`
	HasKeys       bool           `json:"hasKeys"`
	SpreadsheetID string         `json:"spreadsheetId,omitempty"`
	Tables        []sheets.Table `json:"tables"`
	Error         *StatusError   `json:"error,omitempty"`
}

// Wizard is the connection state machine. It is safe for concurrent use.
type Wizard struct {
	remote      Remote
	store       ConfigStore
	onConnected func(ctx context.Context)
	notifier    notice.Notifier
	origin      string
	newTitle    string

	mu         sync.Mutex
	step       Step
	connected  bool
	authorized bool
	cfg        storage.ConnectionConfig
	tables     []sheets.Table
	lastErr    error
	// gen changes whenever a transition invalidates in-flight network results.
	gen uint64
}

// New returns a Wizard on the key entry step. Call Resume to restore a saved
// configuration.
func New(opts *Options) *Wizard {
	w := &Wizard{
		remote:      opts.Remote,
		store:       opts.Store,
		onConnected: opts.OnConnected,
		notifier:    opts.Notifier,
		origin:      opts.Origin,
		newTitle:    opts.NewSpreadsheetTitle,
		step:        StepKeys,
	}
	if w.notifier == nil {
		w.notifier = notice.Log{}
	}
	if w.newTitle == "" {
		w.newTitle = DefaultSpreadsheetTitle
	}
	return w
}

// Resume restores the saved configuration. With keys and a spreadsheet the
// wizard is connected; with keys only it waits for authorization.
func (w *Wizard) Resume(ctx context.Context) error {
	cfg, ok, err := w.store.Load()
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !ok || !cfg.HasKeys() {
		w.resetLocked()
		return nil
	}
	if err := w.remote.Init(ctx, cfg.ClientID, cfg.APIKey); err != nil {
		w.resetLocked()
		w.lastErr = err
		return err
	}
	w.gen++
	w.cfg = cfg
	w.lastErr = nil
	w.authorized = w.remote.HasToken()
	if cfg.SpreadsheetID != "" {
		w.connected = true
		w.step = StepSelectTable
		slog.InfoContext(ctx, "Resumed spreadsheet connection", "spreadsheet", cfg.SpreadsheetID)
		return nil
	}
	w.connected = false
	w.step = StepAuthorize
	slog.InfoContext(ctx, "Resumed connection setup at authorization")
	return nil
}

// Open is the entry point of the connect action. It picks the furthest step
// the saved state allows and refreshes the table listing on step 3.
func (w *Wizard) Open(ctx context.Context) (Status, error) {
	w.mu.Lock()
	w.lastErr = nil
	switch {
	case w.connected:
		defer w.mu.Unlock()
		return w.statusLocked(), nil
	case w.cfg.HasKeys() && w.authorized && w.remote.HasToken():
		w.step = StepSelectTable
	case w.cfg.HasKeys():
		w.step = StepAuthorize
	default:
		w.step = StepKeys
	}
	list := w.step == StepSelectTable
	w.mu.Unlock()
	if list {
		if err := w.RefreshTables(ctx); err != nil {
			return w.Status(), err
		}
	}
	return w.Status(), nil
}

// SubmitKeys initializes the remote client with the user's keys and saves
// them without a spreadsheet.
func (w *Wizard) SubmitKeys(ctx context.Context, clientID, apiKey string) error {
	clientID = strings.TrimSpace(clientID)
	apiKey = strings.TrimSpace(apiKey)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != StepKeys || w.connected {
		return models.WrongStep(int(StepKeys), int(w.step))
	}
	if clientID == "" || apiKey == "" {
		return w.failLocked(ctx, models.ConfigurationError("Please enter both Client ID and API Key."))
	}
	if err := w.remote.Init(ctx, clientID, apiKey); err != nil {
		if !models.IsCode(err, models.ErrorCodeConfiguration) {
			err = models.ConfigurationError("Invalid Keys or Google API client failed to load.").Wrap(err)
		}
		return w.failLocked(ctx, err)
	}
	cfg := storage.ConnectionConfig{ClientID: clientID, APIKey: apiKey}
	if err := w.store.Save(cfg); err != nil {
		return w.failLocked(ctx, models.Internal("Failed to save configuration").Wrap(err))
	}
	w.gen++
	w.cfg = cfg
	w.authorized = false
	w.tables = nil
	w.lastErr = nil
	w.step = StepAuthorize
	return nil
}

// Authorize requests a grant from the identity provider and, on success,
// moves to spreadsheet selection and lists the user's spreadsheets.
//
// A held grant is refreshed silently first; consent is requested when that
// fails. A listing failure is reported in Status and does not fail Authorize.
func (w *Wizard) Authorize(ctx context.Context) error {
	w.mu.Lock()
	if w.step != StepAuthorize || w.connected {
		defer w.mu.Unlock()
		return models.WrongStep(int(StepAuthorize), int(w.step))
	}
	gen := w.gen
	w.lastErr = nil
	w.mu.Unlock()

	var err error
	if w.remote.HasToken() {
		if err = w.remote.RequestAccessToken(ctx, auth.PromptNone); err != nil && ctx.Err() == nil {
			slog.InfoContext(ctx, "Silent authorization failed, asking for consent", "err", err)
			err = w.remote.RequestAccessToken(ctx, auth.PromptConsent)
		}
	} else {
		err = w.remote.RequestAccessToken(ctx, auth.PromptConsent)
	}

	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return nil
	}
	if err != nil {
		if errors.Is(err, auth.ErrSuperseded) {
			w.mu.Unlock()
			return err
		}
		err = w.failLocked(ctx, w.classifyGrant(err))
		w.mu.Unlock()
		return err
	}
	w.authorized = true
	w.step = StepSelectTable
	w.mu.Unlock()

	_ = w.RefreshTables(ctx)
	return nil
}

func (w *Wizard) classifyGrant(err error) error {
	var ge *auth.GrantError
	if errors.As(err, &ge) && ge.OriginMismatch() {
		return models.OriginMismatch(w.origin).Wrap(err)
	}
	if models.IsCode(err, models.ErrorCodeConfiguration) {
		return err
	}
	return models.AuthorizationError("Login Failed: " + err.Error()).Wrap(err)
}

// RefreshTables lists the spreadsheets the user can select.
func (w *Wizard) RefreshTables(ctx context.Context) error {
	w.mu.Lock()
	if w.step != StepSelectTable || w.connected {
		defer w.mu.Unlock()
		return models.WrongStep(int(StepSelectTable), int(w.step))
	}
	gen := w.gen
	w.mu.Unlock()

	var tables []sheets.Table
	conn, err := w.remote.Connection("")
	if err == nil {
		tables, err = conn.ListTables(ctx)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen {
		return nil
	}
	if err != nil {
		return w.failLocked(ctx, models.AccessDenied("Failed to list files. Ensure 'Drive API' is enabled in Console.").Wrap(err))
	}
	if tables == nil {
		tables = []sheets.Table{}
	}
	w.tables = tables
	return nil
}

// CreateNew creates a spreadsheet and connects to it. An empty title uses the
// configured default.
func (w *Wizard) CreateNew(ctx context.Context, title string) (string, error) {
	if title = strings.TrimSpace(title); title == "" {
		title = w.newTitle
	}
	gen, err := w.beginSelection()
	if err != nil {
		return "", err
	}
	var id string
	conn, err := w.remote.Connection("")
	if err == nil {
		id, err = conn.CreateTable(ctx, title)
	}
	if err != nil {
		if !models.IsCode(err, models.ErrorCodeAccessDenied) {
			err = models.SyncFailed("Creating the spreadsheet").Wrap(err)
		}
		return "", w.fail(ctx, gen, err)
	}
	slog.InfoContext(ctx, "Created spreadsheet", "spreadsheet", id, "title", title)
	return id, w.finalize(ctx, gen, id)
}

// SelectExisting connects to the spreadsheet id after making sure it holds
// the policy sheet.
func (w *Wizard) SelectExisting(ctx context.Context, id string) error {
	if id = strings.TrimSpace(id); id == "" {
		return models.MissingField("id")
	}
	gen, err := w.beginSelection()
	if err != nil {
		return err
	}
	conn, err := w.remote.Connection(id)
	if err == nil {
		err = conn.EnsureStructure(ctx)
	}
	if err != nil {
		return w.fail(ctx, gen, models.AccessDenied("Could not access sheet. It might be restricted.").Wrap(err))
	}
	return w.finalize(ctx, gen, id)
}

func (w *Wizard) beginSelection() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != StepSelectTable || w.connected {
		return 0, models.WrongStep(int(StepSelectTable), int(w.step))
	}
	w.lastErr = nil
	return w.gen, nil
}

func (w *Wizard) finalize(ctx context.Context, gen uint64, id string) error {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return nil
	}
	cfg := w.cfg
	cfg.SpreadsheetID = id
	if err := w.store.Save(cfg); err != nil {
		err = w.failLocked(ctx, models.Internal("Failed to save configuration").Wrap(err))
		w.mu.Unlock()
		return err
	}
	w.gen++
	w.cfg = cfg
	w.connected = true
	w.lastErr = nil
	hook := w.onConnected
	w.mu.Unlock()

	slog.InfoContext(ctx, "Connected spreadsheet", "spreadsheet", id)
	if hook != nil {
		hook(ctx)
	}
	return nil
}

// Back returns to the previous step. It does nothing on the first step or
// once connected.
func (w *Wizard) Back() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected && w.step > StepKeys {
		w.step--
		w.gen++
		w.lastErr = nil
	}
	return w.statusLocked()
}

// Disconnect forgets the saved configuration and grant and returns to the
// key entry step.
func (w *Wizard) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.store.Clear(); err != nil {
		return models.Internal("Failed to clear configuration").Wrap(err)
	}
	if err := w.remote.Forget(); err != nil {
		slog.WarnContext(ctx, "Failed to forget OAuth grant", "err", err)
	}
	w.resetLocked()
	w.notifier.Notify(ctx, notice.New(notice.Info, "Disconnected. Configuration cleared."))
	return nil
}

// Connected reports whether a spreadsheet is connected.
func (w *Wizard) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// Connection returns the connection to the chosen spreadsheet.
func (w *Wizard) Connection() (*sheets.Connection, error) {
	w.mu.Lock()
	connected, id := w.connected, w.cfg.SpreadsheetID
	w.mu.Unlock()
	if !connected {
		return nil, models.NotConnected()
	}
	return w.remote.Connection(id)
}

// Reauthorize refreshes the grant without user interaction. It fails without
// contacting the provider when no grant is held.
func (w *Wizard) Reauthorize(ctx context.Context) error {
	if !w.remote.HasToken() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.authorized = false
		return models.AuthorizationError(msgNoGrant).Wrap(auth.ErrNotAuthorized)
	}
	err := w.remote.RequestAccessToken(ctx, auth.PromptNone)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.authorized = false
		return w.classifyGrant(err)
	}
	w.authorized = true
	return nil
}

// Status returns a snapshot of the wizard.
func (w *Wizard) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statusLocked()
}

func (w *Wizard) statusLocked() Status {
	s := Status{
		Step:       w.step,
		StepName:   w.step.String(),
		Connected:  w.connected,
		Authorized: w.authorized,
		HasKeys:    w.cfg.HasKeys(),
		Tables:     append([]sheets.Table{}, w.tables...),
	}
	if w.connected {
		s.SpreadsheetID = w.cfg.SpreadsheetID
	}
	if w.lastErr != nil {
		s.Error = &StatusError{Code: models.CodeOf(w.lastErr), Message: message(w.lastErr)}
	}
	return s
}

func (w *Wizard) resetLocked() {
	w.gen++
	w.step = StepKeys
	w.connected = false
	w.authorized = false
	w.cfg = storage.ConnectionConfig{}
	w.tables = nil
	w.lastErr = nil
}

func (w *Wizard) fail(ctx context.Context, gen uint64, err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen {
		return err
	}
	return w.failLocked(ctx, err)
}

func (w *Wizard) failLocked(ctx context.Context, err error) error {
	w.lastErr = err
	slog.WarnContext(ctx, "Connection step failed", "step", w.step.String(), "code", models.CodeOf(err), "err", err)
	return err
}

func message(err error) string {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message()
	}
	return err.Error()
}
