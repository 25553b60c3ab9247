// Package store implements the two persisted JSON documents of spec §6:
// a credentials document keyed by provider_kind and a usage-snapshot
// document, both written atomically (write-temp-then-rename, the pattern
// grounded on other_examples/acoyfellow-chomp's server.go state-file
// persistence, since the teacher repo itself persists nothing to disk).
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// writeFileAtomic writes data to path via a sibling temp file followed by
// a rename, so a crash mid-write never leaves a half-written document.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: rename temp file: %w", err)
	}
	return nil
}

// fileMutex serializes reads and writes to one file path, since the
// credentials document and usage-snapshot document are each updated from
// multiple goroutines (the refresher scheduler, the pool manager) without
// any other coordination.
type fileMutex struct {
	mu   sync.Mutex
	path string
}

func newFileMutex(path string) *fileMutex {
	return &fileMutex{path: path}
}

func (f *fileMutex) readJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: decode %s: %w", f.path, err)
	}
	return nil
}

func (f *fileMutex) writeJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", f.path, err)
	}
	if dir := filepath.Dir(f.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}
	return writeFileAtomic(f.path, data, 0o600)
}
