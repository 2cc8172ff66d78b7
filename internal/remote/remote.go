// Package remote binds the user's Google keys, their OAuth grant and the
// spreadsheet APIs into sheets.Connections.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/insureflow/insureflow/internal/auth"
	"github.com/insureflow/insureflow/internal/models"
	"github.com/insureflow/insureflow/internal/sheets"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

// TokenStore persists the OAuth token between runs.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
	Clear() error
}

// Options configures a Client.
type Options struct {
	// ClientSecret accompanies the client id entered by the user. Optional
	// for installed-app clients using PKCE.
	ClientSecret string
	RedirectURL  string
	// Open presents the consent URL to the user.
	Open   func(ctx context.Context, authURL string) error
	Tokens TokenStore
	// Limiter throttles calls to the Google APIs. Nil does not limit.
	Limiter    *rate.Limiter
	SheetTitle string

	// Endpoint overrides google.Endpoint.
	Endpoint oauth2.Endpoint
	// ServiceOptions are appended to the Google API client options.
	ServiceOptions []option.ClientOption
}

// Client is the remote client library configured by the connection wizard.
// It is not usable until Init succeeds.
type Client struct {
	opts Options

	mu   sync.Mutex
	flow *auth.Flow
	svc  sheets.TableService
}

// New returns an uninitialized Client.
func New(opts *Options) *Client {
	return &Client{opts: *opts}
}

// Init binds the client to clientID and apiKey and restores any saved token.
// It replaces a previous binding.
func (c *Client) Init(ctx context.Context, clientID, apiKey string) error {
	clientID = strings.TrimSpace(clientID)
	apiKey = strings.TrimSpace(apiKey)
	if clientID == "" || apiKey == "" {
		return models.ConfigurationError("Client ID and API Key are required.")
	}
	flow, err := auth.NewFlow(&auth.Options{
		ClientID:     clientID,
		ClientSecret: c.opts.ClientSecret,
		RedirectURL:  c.opts.RedirectURL,
		Scopes:       sheets.Scopes,
		Endpoint:     c.opts.Endpoint,
		Open:         c.opts.Open,
		OnToken:      c.saveToken,
	})
	if err != nil {
		return models.ConfigurationError("Invalid Keys or identity client failed to initialize.").Wrap(err)
	}
	if c.opts.Tokens != nil {
		tok, err := c.opts.Tokens.Load()
		if err != nil {
			slog.WarnContext(ctx, "Ignoring unreadable OAuth token", "err", err)
		} else if tok != nil {
			flow.SetToken(tok)
		}
	}
	hc := &http.Client{
		Transport: &oauth2.Transport{
			Source: flow.TokenSource(context.WithoutCancel(ctx)),
			Base:   &apiKeyTransport{key: apiKey, base: http.DefaultTransport},
		},
	}
	opts := append([]option.ClientOption{option.WithHTTPClient(hc)}, c.opts.ServiceOptions...)
	svc, err := sheets.NewGoogleService(ctx, c.opts.Limiter, opts...)
	if err != nil {
		return models.ConfigurationError("Invalid Keys or Google API client failed to load.").Wrap(err)
	}

	c.mu.Lock()
	old := c.flow
	c.flow, c.svc = flow, svc
	c.mu.Unlock()
	if old != nil {
		old.Clear()
	}
	return nil
}

func (c *Client) saveToken(tok *oauth2.Token) {
	if c.opts.Tokens == nil {
		return
	}
	if err := c.opts.Tokens.Save(tok); err != nil {
		slog.Error("Failed to save OAuth token", "err", err)
	}
}

func (c *Client) current() (*auth.Flow, sheets.TableService) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flow, c.svc
}

// RequestAccessToken asks the identity provider for a grant. See
// auth.Flow.RequestAccessToken for prompt.
func (c *Client) RequestAccessToken(ctx context.Context, prompt string) error {
	flow, _ := c.current()
	if flow == nil {
		return models.ConfigurationError("Enter your Client ID and API Key first.")
	}
	_, err := flow.RequestAccessToken(ctx, prompt)
	return err
}

// HasToken reports whether a grant is held.
func (c *Client) HasToken() bool {
	flow, _ := c.current()
	return flow != nil && flow.HasToken()
}

// Callback implements auth.Receiver for the current binding.
func (c *Client) Callback(ctx context.Context, state, code, errCode, errDesc string) error {
	flow, _ := c.current()
	if flow == nil {
		return auth.ErrUnknownState
	}
	return flow.Callback(ctx, state, code, errCode, errDesc)
}

// Connection returns a connection to spreadsheetID. spreadsheetID may be
// empty for listing and creating spreadsheets.
func (c *Client) Connection(spreadsheetID string) (*sheets.Connection, error) {
	_, svc := c.current()
	if svc == nil {
		return nil, models.ConfigurationError("Enter your Client ID and API Key first.")
	}
	return &sheets.Connection{Service: svc, SpreadsheetID: spreadsheetID, SheetTitle: c.opts.SheetTitle}, nil
}

// Forget drops the binding and the saved token.
func (c *Client) Forget() error {
	c.mu.Lock()
	flow := c.flow
	c.flow, c.svc = nil, nil
	c.mu.Unlock()
	if flow != nil {
		flow.Clear()
	}
	if c.opts.Tokens != nil {
		if err := c.opts.Tokens.Clear(); err != nil {
			return err
		}
	}
	return nil
}

// apiKeyTransport adds the API key to every request.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	q := r.URL.Query()
	q.Set("key", t.key)
	r.URL.RawQuery = q.Encode()
	return t.base.RoundTrip(r)
}

// ServiceAccountConnection returns a connection authenticated with a service
// account key instead of a user grant.
func ServiceAccountConnection(ctx context.Context, key []byte, spreadsheetID, sheetTitle string, limiter *rate.Limiter, extra ...option.ClientOption) (*sheets.Connection, error) {
	ts, err := auth.ServiceAccount(ctx, key)
	if err != nil {
		return nil, models.ConfigurationError("Invalid service account key.").Wrap(err)
	}
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, extra...)
	svc, err := sheets.NewGoogleService(ctx, limiter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	return &sheets.Connection{Service: svc, SpreadsheetID: spreadsheetID, SheetTitle: sheetTitle}, nil
}

// IsNotAuthorized reports whether err comes from a missing or expired grant.
func IsNotAuthorized(err error) bool {
	return errors.Is(err, auth.ErrNotAuthorized)
}
