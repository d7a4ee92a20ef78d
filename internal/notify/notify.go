// Package notify fans governance state changes out to interested listeners.
// Delivery is fire-and-forget: workflow transactions never wait on, or fail
// because of, a notifier.
package notify

import (
	"context"
	"log/slog"

	"github.com/fraud-governance/fraud-governance/internal/safego"
)

// Event describes one committed state change.
type Event struct {
	EntityType string
	EntityID   string
	Action     string
	Actor      string
	Details    map[string]any
}

// Notifier receives events after the transaction that produced them commits.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier logging at info level.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) {
	attrs := []any{
		slog.String("entity_type", event.EntityType),
		slog.String("entity_id", event.EntityID),
		slog.String("action", event.Action),
		slog.String("actor", event.Actor),
	}
	for k, v := range event.Details {
		attrs = append(attrs, slog.Any(k, v))
	}
	n.logger.Info("governance event", attrs...)
}

// Dispatcher delivers each event to every registered notifier on its own
// goroutine. The request context is detached so delivery survives the
// response being written.
type Dispatcher struct {
	notifiers []Notifier
}

// NewDispatcher creates a dispatcher over the given notifiers.
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers}
}

func (d *Dispatcher) Notify(ctx context.Context, event Event) {
	detached := context.WithoutCancel(ctx)
	for _, n := range d.notifiers {
		n := n
		safego.Go(func() {
			n.Notify(detached, event)
		})
	}
}
