// Package docstore хранит сгенерированные документы квитанций.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound возвращается, если документ отсутствует в хранилище.
var ErrNotFound = errors.New("document not found")

// Store описывает контракт хранилища документов.
type Store interface {
	Save(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
}

// LocalStore хранит документы в локальной файловой системе.
type LocalStore struct {
	basePath string
}

// NewLocalStore создаёт хранилище в указанном каталоге, создавая его при необходимости.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create document directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

// Save записывает документ на диск.
func (s *LocalStore) Save(_ context.Context, name string, data []byte) error {
	path := filepath.Join(s.basePath, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

// Load читает документ с диска.
func (s *LocalStore) Load(_ context.Context, name string) ([]byte, error) {
	path := filepath.Join(s.basePath, filepath.Base(name))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}
