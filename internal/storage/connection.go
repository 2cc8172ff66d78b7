// Persists the spreadsheet connection configuration and the OAuth token.

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/insureflow/insureflow/internal/jsonldb"
	"golang.org/x/oauth2"
)

// File names inside the data directory.
const (
	ConnectionFile = "google_config.json"
	TokenFile      = "google_token.json"
)

// ConnectionConfig holds the keys entered in the connection wizard and the
// chosen spreadsheet. An empty SpreadsheetID means no table is chosen yet.
type ConnectionConfig struct {
	ClientID      string `json:"clientId"`
	APIKey        string `json:"apiKey"`
	SpreadsheetID string `json:"spreadsheetId"`
}

// HasKeys reports whether both keys are set.
func (c *ConnectionConfig) HasKeys() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.APIKey) != ""
}

// ConnectionStore reads and writes a ConnectionConfig as a JSON file.
type ConnectionStore struct {
	path string
}

// NewConnectionStore returns a store for dataDir/google_config.json.
func NewConnectionStore(dataDir string) *ConnectionStore {
	return &ConnectionStore{path: filepath.Join(dataDir, ConnectionFile)}
}

// Path returns the file backing the store.
func (s *ConnectionStore) Path() string {
	return s.path
}

// Load returns the saved configuration. ok is false when nothing is saved.
func (s *ConnectionStore) Load() (cfg ConnectionConfig, ok bool, err error) {
	ok, err = readJSON(s.path, &cfg)
	return cfg, ok, err
}

// Save replaces the saved configuration.
func (s *ConnectionStore) Save(cfg ConnectionConfig) error {
	return writeJSON(s.path, cfg)
}

// Clear removes the saved configuration.
func (s *ConnectionStore) Clear() error {
	return remove(s.path)
}

// TokenStore reads and writes an OAuth token as a JSON file.
type TokenStore struct {
	path string
}

// NewTokenStore returns a store for dataDir/google_token.json.
func NewTokenStore(dataDir string) *TokenStore {
	return &TokenStore{path: filepath.Join(dataDir, TokenFile)}
}

// Load returns the saved token, or nil when none is saved.
func (s *TokenStore) Load() (*oauth2.Token, error) {
	var tok oauth2.Token
	ok, err := readJSON(s.path, &tok)
	if err != nil || !ok {
		return nil, err
	}
	return &tok, nil
}

// Save replaces the saved token.
func (s *TokenStore) Save(tok *oauth2.Token) error {
	return writeJSON(s.path, tok)
}

// Clear removes the saved token.
func (s *TokenStore) Clear() error {
	return remove(s.path)
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// writeJSON writes v with owner-only permissions; both files hold secrets.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	return jsonldb.WriteFileAtomic(path, data, 0o600)
}

func remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
	}
	return nil
}
