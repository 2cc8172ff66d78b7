package handlers

import (
	"context"
	"time"

	"github.com/insureflow/insureflow/internal/crm"
	"github.com/insureflow/insureflow/internal/notice"
	"github.com/insureflow/insureflow/internal/wizard"
)

// ConnectionHandler drives the connection wizard and the sync actions.
type ConnectionHandler struct {
	wizard       *wizard.Wizard
	crm          *crm.Coordinator
	notices      *notice.Recorder
	grantTimeout time.Duration
}

// NewConnectionHandler returns a ConnectionHandler. Authorize waits at most
// grantTimeout for the user to complete consent.
func NewConnectionHandler(w *wizard.Wizard, c *crm.Coordinator, notices *notice.Recorder, grantTimeout time.Duration) *ConnectionHandler {
	return &ConnectionHandler{wizard: w, crm: c, notices: notices, grantTimeout: grantTimeout}
}

// EmptyRequest is used by actions without input.
type EmptyRequest struct{}

// Status returns the wizard status.
func (h *ConnectionHandler) Status(ctx context.Context, req EmptyRequest) (*wizard.Status, error) {
	s := h.wizard.Status()
	return &s, nil
}

// Open enters the wizard at the furthest step the saved state allows.
func (h *ConnectionHandler) Open(ctx context.Context, req EmptyRequest) (*wizard.Status, error) {
	s, err := h.wizard.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SubmitKeysRequest is the request type for SubmitKeys.
type SubmitKeysRequest struct {
	ClientID string `json:"clientId"`
	APIKey   string `json:"apiKey"`
}

// SubmitKeys validates and saves the user's Google keys.
func (h *ConnectionHandler) SubmitKeys(ctx context.Context, req SubmitKeysRequest) (*wizard.Status, error) {
	if err := h.wizard.SubmitKeys(ctx, req.ClientID, req.APIKey); err != nil {
		return nil, err
	}
	s := h.wizard.Status()
	return &s, nil
}

// Authorize blocks until the user grants access, the grant fails or the
// grant timeout expires.
func (h *ConnectionHandler) Authorize(ctx context.Context, req EmptyRequest) (*wizard.Status, error) {
	if h.grantTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.grantTimeout)
		defer cancel()
	}
	if err := h.wizard.Authorize(ctx); err != nil {
		return nil, err
	}
	s := h.wizard.Status()
	return &s, nil
}

// ListTables refreshes the spreadsheet listing.
func (h *ConnectionHandler) ListTables(ctx context.Context, req EmptyRequest) (*wizard.Status, error) {
	if err := h.wizard.RefreshTables(ctx); err != nil {
		return nil, err
	}
	s := h.wizard.Status()
	return &s, nil
}

// CreateTableRequest is the request type for CreateTable.
type CreateTableRequest struct {
	Title string `json:"title"`
}

// CreateTableResponse is the response for CreateTable.
type CreateTableResponse struct {
	ID     string        `json:"id"`
	Status wizard.Status `json:"status"`
}

// CreateTable creates a spreadsheet and connects to it.
func (h *ConnectionHandler) CreateTable(ctx context.Context, req CreateTableRequest) (*CreateTableResponse, error) {
	id, err := h.wizard.CreateNew(ctx, req.Title)
	if err != nil {
		return nil, err
	}
	return &CreateTableResponse{ID: id, Status: h.wizard.Status()}, nil
}

// SelectTableRequest is the request type for SelectTable.
type SelectTableRequest struct {
	ID string `path:"id" json:"-"`
}

// SelectTable connects to an existing spreadsheet.
func (h *ConnectionHandler) SelectTable(ctx context.Context, req SelectTableRequest) (*wizard.Status, error) {
	if err := h.wizard.SelectExisting(ctx, req.ID); err != nil {
		return nil, err
	}
	s := h.wizard.Status()
	return &s, nil
}

// Back returns to the previous wizard step.
func (h *ConnectionHandler) Back(ctx context.Context, req EmptyRequest) (*wizard.Status, error) {
	s := h.wizard.Back()
	return &s, nil
}

// Disconnect forgets the connection.
func (h *ConnectionHandler) Disconnect(ctx context.Context, req EmptyRequest) (*wizard.Status, error) {
	if err := h.wizard.Disconnect(ctx); err != nil {
		return nil, err
	}
	s := h.wizard.Status()
	return &s, nil
}

// Sync pulls the spreadsheet into local state.
func (h *ConnectionHandler) Sync(ctx context.Context, req EmptyRequest) (*crm.SyncResult, error) {
	return h.crm.SyncNow(ctx)
}

// Push overwrites the spreadsheet with local policies.
func (h *ConnectionHandler) Push(ctx context.Context, req EmptyRequest) (*crm.SyncResult, error) {
	return h.crm.PushAll(ctx)
}

// NoticesResponse is the response for Notices.
type NoticesResponse struct {
	Notices []notice.Notice `json:"notices"`
}

// Notices returns and clears the pending user notices.
func (h *ConnectionHandler) Notices(ctx context.Context, req EmptyRequest) (*NoticesResponse, error) {
	return &NoticesResponse{Notices: h.notices.Drain()}, nil
}
