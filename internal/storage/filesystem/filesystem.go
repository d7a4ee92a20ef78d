// Package filesystem implements the local filesystem storage backend. This backend is
// intended for development and single-node deployments only — it does not support
// horizontal scaling (multiple service instances would need access to the same
// filesystem, e.g., via NFS). For production, use the S3 backend.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/config"
	"github.com/fraud-governance/fraud-governance/internal/storage"
	"github.com/fraud-governance/fraud-governance/pkg/checksum"
)

func init() {
	// Register filesystem storage backend
	storage.Register("filesystem", func(cfg *config.Config) (storage.Backend, error) {
		return New(&cfg.Storage.Filesystem)
	})
}

// FilesystemBackend implements the Backend interface on a local directory
type FilesystemBackend struct {
	rootDir string
}

// New creates a filesystem storage backend rooted at cfg.RootDir
func New(cfg *config.FilesystemStorageConfig) (*FilesystemBackend, error) {
	if err := os.MkdirAll(cfg.RootDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	abs, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}

	return &FilesystemBackend{rootDir: abs}, nil
}

func (b *FilesystemBackend) fullPath(key string) string {
	return filepath.Join(b.rootDir, filepath.FromSlash(key))
}

// PutImmutable writes an object that must never change once written. A key that
// already holds identical bytes is a no-op; differing bytes are a publishing error.
func (b *FilesystemBackend) PutImmutable(ctx context.Context, key string, data []byte) error {
	fullPath := b.fullPath(key)

	existing, err := os.ReadFile(fullPath)
	if err == nil {
		if checksum.SHA256(existing) == checksum.SHA256(data) {
			return nil
		}
		return apperrors.Publishing("immutable object already exists with different content", map[string]any{
			"key":               key,
			"existing_checksum": checksum.Prefixed(existing),
			"new_checksum":      checksum.Prefixed(data),
		})
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read existing object: %w", err)
	}

	return b.write(fullPath, data)
}

// PutPointer overwrites the object at key unconditionally.
func (b *FilesystemBackend) PutPointer(ctx context.Context, key string, data []byte) error {
	return b.write(b.fullPath(key), data)
}

// write stores data via a temp file and rename so readers never observe a
// partially written object.
func (b *FilesystemBackend) write(fullPath string, data []byte) error {
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move object into place: %w", err)
	}

	return nil
}

// Get retrieves the full contents of an object
func (b *FilesystemBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound("object not found", map[string]any{"key": key})
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Exists checks if an object exists at key
func (b *FilesystemBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// Delete removes an object. Missing keys are treated as already deleted.
func (b *FilesystemBackend) Delete(ctx context.Context, key string) error {
	fullPath := b.fullPath(key)

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete object: %w", err)
	}

	// Try to remove empty parent directories (best effort)
	dir := filepath.Dir(fullPath)
	for dir != b.rootDir {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}

	return nil
}

// URI returns a file:// URI for the key
func (b *FilesystemBackend) URI(key string) string {
	return "file://" + filepath.ToSlash(b.fullPath(key))
}
