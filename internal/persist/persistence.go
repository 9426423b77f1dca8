// Package persist writes JSON documents to a data directory atomically.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Persistence handles the disk I/O for the in-memory stores.
type Persistence struct {
	DataDir string
	mu      sync.Mutex // Protects concurrent writes to the filesystem
}

// NewPersistence initializes a persistence handler.
func NewPersistence(dir string) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Persistence{DataDir: dir}, nil
}

func (p *Persistence) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid document name %q", name)
	}
	return filepath.Join(p.DataDir, name+".json"), nil
}

// Save writes one document atomically: temp file first, then rename, so a
// crash leaves either the old file or the new one.
func (p *Persistence) Save(name string, v any) error {
	filePath, err := p.path(name)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, bytes, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, filePath)
}

// Remove deletes a document. Removing a missing document is not an error.
func (p *Persistence) Remove(name string) error {
	filePath, err := p.path(name)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// LoadAll decodes every document in dir into a map keyed by document name.
// Unreadable or corrupt files are skipped with a warning.
func LoadAll[T any](p *Persistence) (map[string]T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	all := make(map[string]T)

	files, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		name := strings.TrimSuffix(file.Name(), ".json")

		content, err := os.ReadFile(filepath.Join(p.DataDir, file.Name()))
		if err != nil {
			slog.Warn("could not read document", "file", file.Name(), "error", err)
			continue
		}

		var doc T
		if err := json.Unmarshal(content, &doc); err != nil {
			slog.Warn("could not decode document", "file", file.Name(), "error", err)
			continue
		}
		all[name] = doc
	}
	return all, nil
}
