package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alejandrodnm/arbfleet/internal/domain"
)

// SnapshotFile implementa ports.SnapshotStore sobre un fichero JSON.
// Save escribe a un temporal y hace rename: un lector nunca ve un snapshot a medias.
type SnapshotFile struct {
	path string
}

// NewSnapshotFile crea el directorio contenedor si no existe.
func NewSnapshotFile(path string) (*SnapshotFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage.NewSnapshotFile: mkdir: %w", err)
	}
	return &SnapshotFile{path: path}, nil
}

// Save reemplaza el snapshot atómicamente.
func (f *SnapshotFile) Save(_ context.Context, snap domain.TradeSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("storage.SnapshotFile.Save: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("storage.SnapshotFile.Save: temp: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op tras el rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("storage.SnapshotFile.Save: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("storage.SnapshotFile.Save: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage.SnapshotFile.Save: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("storage.SnapshotFile.Save: rename: %w", err)
	}
	return nil
}

// Load devuelve ok=false si el fichero no existe.
func (f *SnapshotFile) Load(_ context.Context) (domain.TradeSnapshot, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.TradeSnapshot{}, false, nil
	}
	if err != nil {
		return domain.TradeSnapshot{}, false, fmt.Errorf("storage.SnapshotFile.Load: read: %w", err)
	}

	var snap domain.TradeSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.TradeSnapshot{}, false, fmt.Errorf("storage.SnapshotFile.Load: decode %s: %w", f.path, err)
	}
	return snap, true, nil
}
