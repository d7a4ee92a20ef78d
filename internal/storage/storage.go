// Package storage defines the Backend interface and common types for artifact
// storage backends.
//
// New backends are added by implementing the Backend interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (Backend, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
// This means adding a new backend requires no changes to the factory or main
// package — only a blank import in cmd/server/main.go.
package storage

import (
	"context"
)

// Backend is the interface all artifact storage backends implement.
//
// Compiled ruleset artifacts are content-addressed and immutable: once a key
// exists, its bytes never change. Pointer objects (manifest.json) are small
// mutable documents that are overwritten to repoint consumers at a new
// artifact version.
type Backend interface {
	// PutImmutable writes an object that must never change once written.
	// If the key already exists with identical content the call is a no-op;
	// if it exists with different content an error of kind PUBLISHING_ERROR
	// is returned and nothing is overwritten.
	PutImmutable(ctx context.Context, key string, data []byte) error

	// PutPointer overwrites the object at key unconditionally.
	PutPointer(ctx context.Context, key string, data []byte) error

	// Get retrieves the full contents of an object. A missing key returns
	// an error of kind NOT_FOUND.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URI returns the backend-native URI for a key, e.g. "s3://bucket/key"
	// or "file:///data/artifacts/key". This is the value recorded in the
	// ruleset_manifests table as artifact_uri.
	URI(key string) string
}
