package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ServiceAccountScopes are the scopes requested for a service account. The
// account only sees spreadsheets shared with it.
var ServiceAccountScopes = []string{
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/drive.file",
}

// ServiceAccount returns a token source for a service account JSON key.
func ServiceAccount(ctx context.Context, key []byte, scopes ...string) (oauth2.TokenSource, error) {
	if len(scopes) == 0 {
		scopes = ServiceAccountScopes
	}
	cfg, err := google.JWTConfigFromJSON(key, scopes...)
	if err != nil {
		return nil, fmt.Errorf("invalid service account key: %w", err)
	}
	return cfg.TokenSource(ctx), nil
}
