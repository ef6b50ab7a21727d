package kv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore is the default KV backend: domain_path is a directory under
// Root named after the domain key, "vm" and "metrics" are files within it.
// It exists mainly as a local stand-in for a toolstack-managed xenstore-like
// tree during development and testing.
type FileStore struct {
	Root string
}

// NewFileStore returns a FileStore rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

func (f *FileStore) ReadVMUUID(ctx context.Context, domain string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := os.ReadFile(filepath.Join(f.Root, domain, "vm"))
	if err != nil {
		return "", fmt.Errorf("kv: reading vm uuid for domain %s: %w", domain, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (f *FileStore) ReadMetrics(ctx context.Context, domain string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(f.Root, domain, "metrics"))
	if err != nil {
		return nil, fmt.Errorf("kv: reading metrics for domain %s: %w", domain, err)
	}
	return b, nil
}

func (f *FileStore) WriteMetrics(ctx context.Context, domain string, xml []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(f.Root, domain)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("kv: creating domain directory %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metrics"), xml, 0o644); err != nil {
		return fmt.Errorf("kv: writing metrics for domain %s: %w", domain, err)
	}
	return nil
}
