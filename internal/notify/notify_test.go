package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogNotifier_EmitsStructuredEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	n := NewLogNotifier(logger)
	n.Notify(context.Background(), Event{
		EntityType: "RULESET_VERSION",
		EntityID:   "6f1d9c2e-0000-0000-0000-000000000001",
		Action:     "APPROVE",
		Actor:      "checker@example.com",
		Details:    map[string]any{"version": 3},
	})

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "governance event", record["msg"])
	assert.Equal(t, "RULESET_VERSION", record["entity_type"])
	assert.Equal(t, "APPROVE", record["action"])
	assert.Equal(t, "checker@example.com", record["actor"])
}

func TestWebhookNotifier_PostsEvent(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer hook-token", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, map[string]string{"Authorization": "Bearer hook-token"}, slog.Default())
	n.Notify(context.Background(), Event{
		EntityType: "RULE_VERSION",
		EntityID:   "6f1d9c2e-0000-0000-0000-000000000002",
		Action:     "SUBMIT",
		Actor:      "maker@example.com",
	})

	select {
	case payload := <-received:
		assert.Equal(t, "RULE_VERSION", payload["entity_type"])
		assert.Equal(t, "SUBMIT", payload["action"])
		assert.Equal(t, "maker@example.com", payload["actor"])
		assert.NotEmpty(t, payload["timestamp"])
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not called")
	}
}

func TestWebhookNotifier_SurvivesUnreachableEndpoint(t *testing.T) {
	n := NewWebhookNotifier("http://127.0.0.1:1/hook", nil, slog.Default())
	// Must not panic or block beyond the client timeout.
	n.Notify(context.Background(), Event{Action: "SUBMIT"})
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func (r *recordingNotifier) Notify(_ context.Context, event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func TestDispatcher_FansOutToAllNotifiers(t *testing.T) {
	a := &recordingNotifier{done: make(chan struct{}, 1)}
	b := &recordingNotifier{done: make(chan struct{}, 1)}

	d := NewDispatcher(a, b)
	d.Notify(context.Background(), Event{Action: "REJECT", Actor: "checker@example.com"})

	for _, n := range []*recordingNotifier{a, b} {
		select {
		case <-n.done:
		case <-time.After(2 * time.Second):
			t.Fatal("notifier was not invoked")
		}
		n.mu.Lock()
		require.Len(t, n.events, 1)
		assert.Equal(t, "REJECT", n.events[0].Action)
		n.mu.Unlock()
	}
}

func TestDispatcher_DeliveryOutlivesCanceledContext(t *testing.T) {
	n := &recordingNotifier{done: make(chan struct{}, 1)}
	d := NewDispatcher(n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Notify(ctx, Event{Action: "APPROVE"})

	select {
	case <-n.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not invoked after context cancellation")
	}
}
