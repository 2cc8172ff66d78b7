package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/insureflow/insureflow/internal/models"
	"golang.org/x/oauth2"
)

func TestLoadServerConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadServerConfig(dir)
	if err != nil {
		t.Fatalf("LoadServerConfig failed: %v", err)
	}
	if len(cfg.JWTSecret) != 32 {
		t.Errorf("expected 32-byte secret, got %d", len(cfg.JWTSecret))
	}
	st, err := os.Stat(filepath.Join(dir, "server_config.json"))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Errorf("expected 0600, got %v", st.Mode().Perm())
	}
	again, err := LoadServerConfig(dir)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if string(again.JWTSecret) != string(cfg.JWTSecret) {
		t.Error("secret changed across loads")
	}

	t.Run("invalid", func(t *testing.T) {
		dir := t.TempDir()
		data := []byte(`{"jwt_secret":"c2hvcnQ=","max_request_body_bytes":10}`)
		if err := os.WriteFile(filepath.Join(dir, "server_config.json"), data, 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadServerConfig(dir); err == nil {
			t.Error("expected error for short secret")
		}
	})
}

func TestConnectionStore(t *testing.T) {
	s := NewConnectionStore(t.TempDir())
	if _, ok, err := s.Load(); err != nil || ok {
		t.Fatalf("expected nothing saved, got ok=%v err=%v", ok, err)
	}
	want := ConnectionConfig{ClientID: "id.apps.googleusercontent.com", APIKey: "key"}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, ok, err := s.Load()
	if err != nil || !ok || got != want {
		t.Fatalf("Load mismatch: %+v ok=%v err=%v", got, ok, err)
	}
	if !got.HasKeys() {
		t.Error("expected keys")
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"clientId"`, `"apiKey"`, `"spreadsheetId": ""`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("expected %s in %s", key, data)
		}
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("second Clear failed: %v", err)
	}
	if _, ok, _ := s.Load(); ok {
		t.Error("expected nothing after Clear")
	}
}

func TestHasKeys(t *testing.T) {
	tests := []struct {
		cfg  ConnectionConfig
		want bool
	}{
		{ConnectionConfig{ClientID: "a", APIKey: "b"}, true},
		{ConnectionConfig{ClientID: " ", APIKey: "b"}, false},
		{ConnectionConfig{ClientID: "a"}, false},
	}
	for _, tt := range tests {
		if got := tt.cfg.HasKeys(); got != tt.want {
			t.Errorf("%+v: expected %v, got %v", tt.cfg, tt.want, got)
		}
	}
}

func TestTokenStore(t *testing.T) {
	s := NewTokenStore(t.TempDir())
	tok, err := s.Load()
	if err != nil || tok != nil {
		t.Fatalf("expected no token, got %v, %v", tok, err)
	}
	want := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour).Round(time.Second)}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.AccessToken != "a" || got.RefreshToken != "r" || !got.Expiry.Equal(want.Expiry) {
		t.Errorf("unexpected token %+v", got)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if tok, _ := s.Load(); tok != nil {
		t.Error("expected no token after Clear")
	}
}

func TestSnapshotStore(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSnapshotStore(dir)
	if err != nil {
		t.Fatalf("OpenSnapshotStore failed: %v", err)
	}
	clients, policies, products := s.Load()
	if len(clients)+len(policies)+len(products) != 0 {
		t.Fatal("expected empty snapshot")
	}
	err = s.Save(
		[]models.Client{{ID: "c-1", Name: "Jane", TotalPolicies: 1, Status: models.ClientStatusLead, Tags: []string{"Life"}}},
		[]models.Policy{{ID: "p-1", HolderName: "Jane", Type: models.PolicyTypeLife, Status: models.PolicyStatusActive, PaymentMode: models.PaymentModeMonthly}},
		[]models.Product{{Name: "Term Life", Type: models.PolicyTypeLife}},
	)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s2, err := OpenSnapshotStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	clients, policies, products = s2.Load()
	if len(clients) != 1 || clients[0].Tags[0] != "Life" {
		t.Errorf("unexpected clients %+v", clients)
	}
	if len(policies) != 1 || policies[0].Type != models.PolicyTypeLife {
		t.Errorf("unexpected policies %+v", policies)
	}
	if len(products) != 1 || products[0].Name != "Term Life" {
		t.Errorf("unexpected products %+v", products)
	}
}
