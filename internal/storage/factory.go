// factory.go implements the storage backend registry and factory, mapping backend type
// strings (filesystem, s3) to constructor functions and dispatching NewBackend calls.
package storage

import (
	"fmt"

	"github.com/fraud-governance/fraud-governance/internal/config"
)

// FactoryFunc creates a storage backend from configuration
type FactoryFunc func(*config.Config) (Backend, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg *config.Config) (Backend, error) {
	factory, ok := factories[cfg.Storage.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %s (must be 'filesystem' or 's3')", cfg.Storage.Backend)
	}

	return factory(cfg)
}
