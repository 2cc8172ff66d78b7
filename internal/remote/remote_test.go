package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/insureflow/insureflow/internal/auth"
	"github.com/insureflow/insureflow/internal/models"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

type memTokens struct {
	mu      sync.Mutex
	tok     *oauth2.Token
	cleared bool
}

func (m *memTokens) Load() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tok, nil
}

func (m *memTokens) Save(tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = tok
	return nil
}

func (m *memTokens) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok, m.cleared = nil, true
	return nil
}

type seen struct {
	mu    sync.Mutex
	auth  string
	key   string
	calls int
}

func newSheetsServer(t *testing.T) (*httptest.Server, *seen) {
	s := &seen{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.auth = r.Header.Get("Authorization")
		s.key = r.URL.Query().Get("key")
		s.calls++
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"values": [][]any{}})
	}))
	t.Cleanup(srv.Close)
	return srv, s
}

func TestUninitialized(t *testing.T) {
	c := New(&Options{Open: func(context.Context, string) error { return nil }})
	ctx := context.Background()
	if _, err := c.Connection("x"); !models.IsCode(err, models.ErrorCodeConfiguration) {
		t.Errorf("Connection: expected CONFIGURATION_ERROR, got %v", err)
	}
	if err := c.RequestAccessToken(ctx, auth.PromptConsent); !models.IsCode(err, models.ErrorCodeConfiguration) {
		t.Errorf("RequestAccessToken: expected CONFIGURATION_ERROR, got %v", err)
	}
	if c.HasToken() {
		t.Error("expected no token")
	}
	if err := c.Callback(ctx, "s", "c", "", ""); !errors.Is(err, auth.ErrUnknownState) {
		t.Errorf("Callback: expected ErrUnknownState, got %v", err)
	}
	if err := c.Init(ctx, " ", "key"); !models.IsCode(err, models.ErrorCodeConfiguration) {
		t.Errorf("Init: expected CONFIGURATION_ERROR, got %v", err)
	}
}

func TestAuthenticatedRequests(t *testing.T) {
	srv, s := newSheetsServer(t)
	tokens := &memTokens{tok: &oauth2.Token{AccessToken: "saved", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}}
	c := New(&Options{
		Open:           func(context.Context, string) error { return nil },
		Tokens:         tokens,
		ServiceOptions: []option.ClientOption{option.WithEndpoint(srv.URL + "/")},
	})
	ctx := context.Background()
	if err := c.Init(ctx, "client", " api-key "); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !c.HasToken() {
		t.Fatal("expected the saved token to be restored")
	}
	conn, err := c.Connection("abc")
	if err != nil {
		t.Fatalf("Connection failed: %v", err)
	}
	if _, err := conn.FetchAll(ctx); err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auth != "Bearer saved" {
		t.Errorf("expected bearer token, got %q", s.auth)
	}
	if s.key != "api-key" {
		t.Errorf("expected api key, got %q", s.key)
	}
}

func TestRequestWithoutGrant(t *testing.T) {
	srv, s := newSheetsServer(t)
	c := New(&Options{
		Open:           func(context.Context, string) error { return nil },
		Tokens:         &memTokens{},
		ServiceOptions: []option.ClientOption{option.WithEndpoint(srv.URL + "/")},
	})
	ctx := context.Background()
	if err := c.Init(ctx, "client", "key"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	conn, _ := c.Connection("abc")
	_, err := conn.FetchAll(ctx)
	if !IsNotAuthorized(err) {
		t.Errorf("expected not authorized, got %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls != 0 {
		t.Errorf("expected no request to reach the API, got %d", s.calls)
	}
}

func TestInteractiveGrantIsSaved(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh", "token_type": "Bearer", "refresh_token": "r", "expires_in": 3600,
		})
	}))
	defer tokenSrv.Close()

	tokens := &memTokens{}
	var c *Client
	c = New(&Options{
		RedirectURL: "http://127.0.0.1:1/oauth2/callback",
		Endpoint:    oauth2.Endpoint{AuthURL: "https://accounts.example/auth", TokenURL: tokenSrv.URL},
		Tokens:      tokens,
		Open: func(ctx context.Context, authURL string) error {
			u, err := url.Parse(authURL)
			if err != nil {
				return err
			}
			go func() {
				_ = c.Callback(context.Background(), u.Query().Get("state"), "code", "", "")
			}()
			return nil
		},
	})
	ctx := context.Background()
	if err := c.Init(ctx, "client", "key"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := c.RequestAccessToken(ctx, auth.PromptConsent); err != nil {
		t.Fatalf("RequestAccessToken failed: %v", err)
	}
	if tok, _ := tokens.Load(); tok == nil || tok.AccessToken != "fresh" {
		t.Errorf("expected token to be saved, got %v", tok)
	}
	if err := c.Forget(); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if c.HasToken() || !tokens.cleared {
		t.Error("Forget should drop the grant and the saved token")
	}
	if _, err := c.Connection(""); err == nil {
		t.Error("expected Connection to fail after Forget")
	}
}

func TestServiceAccountConnection(t *testing.T) {
	if _, err := ServiceAccountConnection(context.Background(), []byte("nope"), "id", "", nil); !models.IsCode(err, models.ErrorCodeConfiguration) {
		t.Errorf("expected CONFIGURATION_ERROR, got %v", err)
	}
	key := []byte(`{"type":"service_account","client_email":"bot@example.com","private_key":"x","token_uri":"https://oauth2.example/token"}`)
	conn, err := ServiceAccountConnection(context.Background(), key, "sheet-id", "Policies", nil)
	if err != nil {
		t.Fatalf("ServiceAccountConnection failed: %v", err)
	}
	if conn.SpreadsheetID != "sheet-id" || conn.SheetTitle != "Policies" {
		t.Errorf("unexpected connection %+v", conn)
	}
}
