package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/pkg/checksum"
)

// memBackend is an in-memory storage.Backend recording write order.
type memBackend struct {
	mu         sync.Mutex
	objects    map[string][]byte
	writeOrder []string
	pointerErr error
}

func newMemBackend() *memBackend {
	return &memBackend{objects: make(map[string][]byte)}
}

func (m *memBackend) PutImmutable(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.objects[key]; ok {
		if checksum.SHA256(existing) == checksum.SHA256(data) {
			return nil
		}
		return apperrors.Publishing("immutable object already exists with different content", map[string]any{"key": key})
	}
	m.objects[key] = data
	m.writeOrder = append(m.writeOrder, key)
	return nil
}

func (m *memBackend) PutPointer(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pointerErr != nil {
		return m.pointerErr
	}
	m.objects[key] = data
	m.writeOrder = append(m.writeOrder, key)
	return nil
}

func (m *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, apperrors.NotFound("object not found", map[string]any{"key": key})
	}
	return data, nil
}

func (m *memBackend) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memBackend) URI(key string) string { return "mem://" + key }

func expectRegistryPublish(mock sqlmock.Sqlmock, version int) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(registry_version").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(version))
	mock.ExpectQuery("SELECT (.+) FROM rule_fields WHERE is_active").WillReturnRows(activeFieldRows())
	mock.ExpectExec("INSERT INTO field_registry_manifests").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_entries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestRegistryPublish_WritesArtifactThenPointer(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewService(db, discardLogger())
	store := newMemBackend()
	pub := NewRegistryPublisher(svc, store, "artifacts", 3, time.Millisecond, discardLogger())

	expectRegistryPublish(mock, 4)

	manifest, err := pub.Publish(context.Background(), "checker-1")
	if err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	if manifest.RegistryVersion != 4 {
		t.Errorf("RegistryVersion = %d, want 4", manifest.RegistryVersion)
	}
	if manifest.FieldCount != 2 {
		t.Errorf("FieldCount = %d, want 2", manifest.FieldCount)
	}
	if manifest.ArtifactURI != "mem://artifacts/fields/registry/v4/fields.json" {
		t.Errorf("ArtifactURI = %s", manifest.ArtifactURI)
	}

	if len(store.writeOrder) != 2 {
		t.Fatalf("writeOrder = %v, want artifact then pointer", store.writeOrder)
	}
	if !strings.HasSuffix(store.writeOrder[0], "v4/fields.json") {
		t.Errorf("first write = %s, want artifact", store.writeOrder[0])
	}
	if !strings.HasSuffix(store.writeOrder[1], "registry/manifest.json") {
		t.Errorf("second write = %s, want pointer", store.writeOrder[1])
	}

	// Checksum in the manifest row matches the stored artifact bytes.
	artifact := store.objects["artifacts/fields/registry/v4/fields.json"]
	if checksum.Prefixed(artifact) != manifest.Checksum {
		t.Error("manifest checksum does not match artifact bytes")
	}

	// Pointer references the artifact.
	var pointer map[string]any
	if err := json.Unmarshal(store.objects["artifacts/fields/registry/manifest.json"], &pointer); err != nil {
		t.Fatalf("pointer unmarshal: %v", err)
	}
	if pointer["artifact_uri"] != manifest.ArtifactURI {
		t.Errorf("pointer artifact_uri = %v, want %s", pointer["artifact_uri"], manifest.ArtifactURI)
	}
	if pointer["schema_version"] != "1.0" {
		t.Errorf("pointer schema_version = %v, want 1.0", pointer["schema_version"])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRegistryPublish_ArtifactIsDeterministic(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewService(db, discardLogger())
	store := newMemBackend()
	pub := NewRegistryPublisher(svc, store, "artifacts", 3, time.Millisecond, discardLogger())

	expectRegistryPublish(mock, 1)
	first, err := pub.Publish(context.Background(), "checker-1")
	if err != nil {
		t.Fatalf("first Publish() error: %v", err)
	}

	// Same catalog, same registry version: the immutable put must be a no-op.
	expectRegistryPublish(mock, 1)
	second, err := pub.Publish(context.Background(), "checker-2")
	if err != nil {
		t.Fatalf("second Publish() error: %v", err)
	}
	if first.Checksum != second.Checksum {
		t.Errorf("checksums differ across identical publishes: %s vs %s", first.Checksum, second.Checksum)
	}
}

func TestRegistryPublish_PointerFailureSurfaces(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewService(db, discardLogger())
	store := newMemBackend()
	store.pointerErr = errors.New("connection reset")
	pub := NewRegistryPublisher(svc, store, "artifacts", 2, time.Millisecond, discardLogger())

	expectRegistryPublish(mock, 1)

	_, err := pub.Publish(context.Background(), "checker-1")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	// Artifact is durable even though the pointer write failed.
	exists, _ := store.Exists(context.Background(), "artifacts/fields/registry/v1/fields.json")
	if !exists {
		t.Error("artifact should exist after pointer failure")
	}
}
