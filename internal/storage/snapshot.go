// Persists the local copy of clients, policies and products.

package storage

import (
	"fmt"
	"path/filepath"

	"github.com/insureflow/insureflow/internal/jsonldb"
	"github.com/insureflow/insureflow/internal/models"
)

// SnapshotStore keeps the three collections in JSONL tables under
// dataDir/db.
type SnapshotStore struct {
	clients  *jsonldb.Table[models.Client]
	policies *jsonldb.Table[models.Policy]
	products *jsonldb.Table[models.Product]
}

// OpenSnapshotStore opens or creates the tables.
func OpenSnapshotStore(dataDir string) (*SnapshotStore, error) {
	dir := filepath.Join(dataDir, "db")
	clients, err := jsonldb.NewTable[models.Client](filepath.Join(dir, "clients.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open clients table: %w", err)
	}
	policies, err := jsonldb.NewTable[models.Policy](filepath.Join(dir, "policies.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open policies table: %w", err)
	}
	products, err := jsonldb.NewTable[models.Product](filepath.Join(dir, "products.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open products table: %w", err)
	}
	return &SnapshotStore{clients: clients, policies: policies, products: products}, nil
}

// Load returns the stored collections.
func (s *SnapshotStore) Load() (clients []models.Client, policies []models.Policy, products []models.Product) {
	return s.clients.All(), s.policies.All(), s.products.All()
}

// Save replaces the stored collections.
func (s *SnapshotStore) Save(clients []models.Client, policies []models.Policy, products []models.Product) error {
	if err := s.clients.Replace(clients); err != nil {
		return fmt.Errorf("failed to save clients: %w", err)
	}
	if err := s.policies.Replace(policies); err != nil {
		return fmt.Errorf("failed to save policies: %w", err)
	}
	if err := s.products.Replace(products); err != nil {
		return fmt.Errorf("failed to save products: %w", err)
	}
	return nil
}
