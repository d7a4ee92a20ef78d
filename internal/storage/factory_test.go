package storage_test

import (
	"context"
	"testing"

	"github.com/fraud-governance/fraud-governance/internal/config"
	"github.com/fraud-governance/fraud-governance/internal/storage"
)

// ---------------------------------------------------------------------------
// Minimal mock Backend implementation for Register tests
// ---------------------------------------------------------------------------

type mockBackend struct{}

func (m *mockBackend) PutImmutable(_ context.Context, _ string, _ []byte) error { return nil }
func (m *mockBackend) PutPointer(_ context.Context, _ string, _ []byte) error   { return nil }
func (m *mockBackend) Get(_ context.Context, _ string) ([]byte, error)          { return nil, nil }
func (m *mockBackend) Exists(_ context.Context, _ string) (bool, error)         { return false, nil }
func (m *mockBackend) Delete(_ context.Context, _ string) error                 { return nil }
func (m *mockBackend) URI(key string) string                                    { return "mock://" + key }

// ---------------------------------------------------------------------------
// Register
// ---------------------------------------------------------------------------

func TestRegister_AddsFactory(t *testing.T) {
	storage.Register("test-backend", func(_ *config.Config) (storage.Backend, error) {
		return &mockBackend{}, nil
	})

	cfg := &config.Config{}
	cfg.Storage.Backend = "test-backend"

	b, err := storage.NewBackend(cfg)
	if err != nil {
		t.Fatalf("NewBackend() error: %v", err)
	}
	if b == nil {
		t.Fatal("NewBackend() returned nil")
	}
}

// ---------------------------------------------------------------------------
// NewBackend
// ---------------------------------------------------------------------------

func TestNewBackend_UnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Backend = "completely-unknown-backend"

	_, err := storage.NewBackend(cfg)
	if err == nil {
		t.Error("NewBackend() = nil error, want error for unregistered backend")
	}
}

func TestNewBackend_EmptyBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Backend = ""

	_, err := storage.NewBackend(cfg)
	if err == nil {
		t.Error("NewBackend() = nil error, want error for empty backend name")
	}
}
