// Package jsonldb stores typed rows in JSONL files with an in-memory copy.
//
// Line 1 of every file is a schema header describing the row columns,
// reflected from T. Following lines are rows. Writes replace the file
// atomically so a crash never leaves a half-written table.
package jsonldb

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sync"

	"github.com/invopop/jsonschema"
)

// currentVersion is the current version of the JSONL table format.
const currentVersion = "1.0"

// column describes one JSON property of T.
type column struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// schemaHeader is the first line of a table file.
type schemaHeader struct {
	Version string   `json:"version"`
	Columns []column `json:"columns"`
}

// Table handles storage and in-memory caching for a single table in JSONL format.
type Table[T any] struct {
	path   string
	header schemaHeader

	mu   sync.RWMutex
	rows []T
}

// NewTable creates a new Table and loads all data from the file.
func NewTable[T any](path string) (*Table[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	header, err := headerFor[T]()
	if err != nil {
		return nil, err
	}
	table := &Table[T]{path: path, header: header}
	if err := table.load(); err != nil {
		return nil, err
	}
	return table, nil
}

func headerFor[T any]() (schemaHeader, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return schemaHeader{}, fmt.Errorf("row type must be a struct, got %s", t.Kind())
	}
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	s := r.ReflectFromType(t)
	h := schemaHeader{Version: currentVersion}
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		h.Columns = append(h.Columns, column{
			Name:     pair.Key,
			Type:     pair.Value.Type,
			Required: slices.Contains(s.Required, pair.Key),
		})
	}
	return h, nil
}

func (t *Table[T]) load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			t.rows = []T{}
			return nil
		}
		return fmt.Errorf("failed to open table file %s: %w", t.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	rows := []T{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			var h schemaHeader
			if err := json.Unmarshal(line, &h); err != nil {
				return fmt.Errorf("failed to parse schema header in %s: %w", t.path, err)
			}
			if h.Version == "" {
				return fmt.Errorf("missing schema version in %s", t.path)
			}
			continue
		}
		var row T
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("failed to unmarshal row in %s: %w", t.path, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read table file %s: %w", t.path, err)
	}
	t.rows = rows
	return nil
}

// All returns a copy of all rows.
func (t *Table[T]) All() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.rows)
}

// Len returns the number of rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Append adds a row and persists the table.
func (t *Table[T]) Append(row T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rows := append(slices.Clip(t.rows), row)
	if err := t.write(rows); err != nil {
		return err
	}
	t.rows = rows
	return nil
}

// Replace replaces all rows with the provided slice and persists it.
func (t *Table[T]) Replace(rows []T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rows = slices.Clone(rows)
	if rows == nil {
		rows = []T{}
	}
	if err := t.write(rows); err != nil {
		return err
	}
	t.rows = rows
	return nil
}

func (t *Table[T]) write(rows []T) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(t.header); err != nil {
		return fmt.Errorf("failed to marshal schema header: %w", err)
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("failed to marshal row: %w", err)
		}
	}
	return WriteFileAtomic(t.path, buf.Bytes(), 0o644)
}

// WriteFileAtomic writes data to a temporary file next to path and renames it
// over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Chmod(perm); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
