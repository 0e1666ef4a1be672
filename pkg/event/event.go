// Package event publishes operator notifications about memory updates.
package event

import (
	"context"

	"github.com/m-mizutani/memento/pkg/model"
	"github.com/m-mizutani/memento/pkg/utils/logging"
)

// Emitter publishes an event. Failures are reported but never block a turn.
type Emitter interface {
	Emit(ctx context.Context, ev *model.Event) error
}

// Logger writes events to the context logger
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (l *Logger) Emit(ctx context.Context, ev *model.Event) error {
	logger := logging.From(ctx)
	logger.Info("memory event",
		"id", ev.ID,
		"kind", ev.Kind,
		"user_id", ev.UserID,
		"turn_id", ev.TurnID,
		"added", ev.Added,
		"updated", ev.Updated,
		"refreshed", ev.Refreshed,
		"removed", ev.Removed,
		"cleared", ev.Cleared,
		"rejected", ev.Rejected,
		"total", ev.Total,
		"reason", ev.Reason,
		"reasons", ev.Reasons,
	)
	return nil
}

// Multi fans an event out to every emitter and returns the first error
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, ev *model.Event) error {
	var first error
	for _, e := range m {
		if err := e.Emit(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
