// Package auth obtains Google access tokens for the spreadsheet APIs.
//
// [Flow] runs the OAuth2 authorization-code flow with PKCE. At most one grant
// is pending at a time: a new interactive request supersedes the previous one,
// which then fails with [ErrSuperseded].
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Prompt modes for RequestAccessToken.
const (
	// PromptConsent forces the consent screen, for a first authorization.
	PromptConsent = "consent"
	// PromptNone reuses or silently refreshes the current grant.
	PromptNone = ""
)

var (
	// ErrSuperseded is returned to a pending request when a newer one starts.
	ErrSuperseded = errors.New("authorization request superseded")
	// ErrNotAuthorized is returned when no usable token is held.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrUnknownState is returned by Callback for a state that matches no
	// pending request.
	ErrUnknownState = errors.New("unknown or expired authorization state")
)

// Options configures a Flow.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// Endpoint defaults to google.Endpoint.
	Endpoint oauth2.Endpoint
	// Open presents the consent URL to the user. It must not block until the
	// grant completes.
	Open func(ctx context.Context, authURL string) error
	// OnToken is called with every new or refreshed token.
	OnToken func(*oauth2.Token)
	// HTTPClient is used for token requests when set.
	HTTPClient *http.Client
}

type result struct {
	token *oauth2.Token
	err   error
}

type grant struct {
	state    string
	verifier string
	done     chan result
}

// Flow obtains and refreshes a user's access token.
type Flow struct {
	cfg     oauth2.Config
	open    func(ctx context.Context, authURL string) error
	onToken func(*oauth2.Token)
	client  *http.Client

	mu      sync.Mutex
	pending *grant
	token   *oauth2.Token
}

// NewFlow creates a Flow. It does not contact the provider.
func NewFlow(opts *Options) (*Flow, error) {
	if strings.TrimSpace(opts.ClientID) == "" {
		return nil, errors.New("client id is required")
	}
	if opts.Open == nil {
		return nil, errors.New("an Open function is required")
	}
	endpoint := opts.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = google.Endpoint
	}
	return &Flow{
		cfg: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       opts.Scopes,
			Endpoint:     endpoint,
		},
		open:    opts.Open,
		onToken: opts.OnToken,
		client:  opts.HTTPClient,
	}, nil
}

func (f *Flow) context(ctx context.Context) context.Context {
	if f.client != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, f.client)
	}
	return ctx
}

// SetToken installs a previously saved token.
func (f *Flow) SetToken(tok *oauth2.Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = tok
}

// HasToken reports whether a token is held, valid or not.
func (f *Flow) HasToken() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token != nil
}

// Clear forgets the token and fails any pending request.
func (f *Flow) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = nil
	if f.pending != nil {
		f.pending.done <- result{err: ErrSuperseded}
		f.pending = nil
	}
}

func (f *Flow) store(tok *oauth2.Token) {
	f.mu.Lock()
	f.token = tok
	f.mu.Unlock()
	if f.onToken != nil {
		f.onToken(tok)
	}
}

// RequestAccessToken returns an access token.
//
// With PromptNone and a held token, the token is returned as is or refreshed
// without user interaction; without a held token the user is sent through the
// flow with no prompt parameter. Any other prompt starts an interactive grant
// and waits for Callback or ctx.
func (f *Flow) RequestAccessToken(ctx context.Context, prompt string) (*oauth2.Token, error) {
	if prompt == PromptNone && f.HasToken() {
		return f.refresh(ctx)
	}
	return f.interactive(ctx, prompt)
}

func (f *Flow) refresh(ctx context.Context) (*oauth2.Token, error) {
	f.mu.Lock()
	cur := f.token
	f.mu.Unlock()
	if cur == nil {
		return nil, ErrNotAuthorized
	}
	if cur.Valid() {
		return cur, nil
	}
	if cur.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token expired", ErrNotAuthorized)
	}
	tok, err := f.cfg.TokenSource(f.context(ctx), cur).Token()
	if err != nil {
		return nil, grantError(err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = cur.RefreshToken
	}
	f.store(tok)
	return tok, nil
}

func (f *Flow) interactive(ctx context.Context, prompt string) (*oauth2.Token, error) {
	g := &grant{
		state:    oauth2.GenerateVerifier(),
		verifier: oauth2.GenerateVerifier(),
		done:     make(chan result, 1),
	}
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(g.verifier)}
	if prompt != PromptNone {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", prompt))
	}
	authURL := f.cfg.AuthCodeURL(g.state, opts...)

	f.mu.Lock()
	if f.pending != nil {
		f.pending.done <- result{err: ErrSuperseded}
	}
	f.pending = g
	f.mu.Unlock()

	if err := f.open(ctx, authURL); err != nil {
		f.drop(g)
		return nil, fmt.Errorf("failed to open consent page: %w", err)
	}
	select {
	case r := <-g.done:
		return r.token, r.err
	case <-ctx.Done():
		f.drop(g)
		return nil, ctx.Err()
	}
}

// drop clears g if it is still the pending grant.
func (f *Flow) drop(g *grant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == g {
		f.pending = nil
	}
}

// Callback completes the pending grant with the provider's redirect
// parameters. errCode and errDesc are the error and error_description query
// parameters, empty on success.
func (f *Flow) Callback(ctx context.Context, state, code, errCode, errDesc string) error {
	f.mu.Lock()
	g := f.pending
	if g == nil || state == "" || g.state != state {
		f.mu.Unlock()
		return ErrUnknownState
	}
	f.pending = nil
	f.mu.Unlock()

	if errCode != "" {
		err := &GrantError{Code: errCode, Description: errDesc}
		g.done <- result{err: err}
		return err
	}
	tok, err := f.cfg.Exchange(f.context(ctx), code, oauth2.VerifierOption(g.verifier))
	if err != nil {
		err = grantError(err)
		g.done <- result{err: err}
		return err
	}
	f.store(tok)
	g.done <- result{token: tok}
	return nil
}

// TokenSource returns a source that serves the held token and refreshes it
// when it expires.
func (f *Flow) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &flowSource{ctx: ctx, f: f}
}

type flowSource struct {
	ctx context.Context
	f   *Flow
}

func (s *flowSource) Token() (*oauth2.Token, error) {
	return s.f.refresh(s.ctx)
}

// GrantError is a rejection reported by the identity provider.
type GrantError struct {
	Code        string
	Description string
}

func (e *GrantError) Error() string {
	if e.Description == "" {
		return "authorization failed: " + e.Code
	}
	return fmt.Sprintf("authorization failed: %s: %s", e.Code, e.Description)
}

// OriginMismatch reports whether the provider rejected the request because
// the calling origin or redirect URI is not registered with the client.
func (e *GrantError) OriginMismatch() bool {
	msg := strings.ToLower(e.Code + " " + e.Description)
	for _, s := range []string{"referer", "origin_mismatch", "redirect_uri_mismatch"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func grantError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		return &GrantError{Code: re.ErrorCode, Description: re.ErrorDescription}
	}
	return err
}
