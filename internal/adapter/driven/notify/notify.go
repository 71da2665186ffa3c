// Package notify implements the Notifier port over slog, RabbitMQ and Redis
// pub/sub, plus a fan-out that delivers to several notifiers at once.
package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.Notifier = (*Log)(nil)
	_ driven.Notifier = (*Multi)(nil)
)

// Log writes every event as a structured log line.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// Send logs the event. It never fails.
func (l *Log) Send(ctx context.Context, e model.Event) error {
	attrs := []any{
		"kind", e.Kind,
		"owner_id", e.OwnerID,
		"subject_id", e.SubjectID,
		"occurred_at", e.OccurredAt,
	}
	for k, v := range e.Attributes {
		attrs = append(attrs, k, v)
	}
	l.logger.InfoContext(ctx, "event", attrs...)
	return nil
}

// Multi delivers each event to every member. A failing member does not stop
// delivery to the others.
type Multi struct {
	members []driven.Notifier
	logger  *slog.Logger
}

// NewMulti creates a fan-out notifier. Nil members are ignored.
func NewMulti(logger *slog.Logger, members ...driven.Notifier) *Multi {
	m := &Multi{logger: logger}
	for _, n := range members {
		if n != nil {
			m.members = append(m.members, n)
		}
	}
	return m
}

// Send delivers to all members and returns their joined errors.
func (m *Multi) Send(ctx context.Context, e model.Event) error {
	var errs []error
	for _, n := range m.members {
		if err := n.Send(ctx, e); err != nil {
			m.logger.Warn("notifier failed", "kind", e.Kind, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every member that holds resources.
func (m *Multi) Close() error {
	var errs []error
	for _, n := range m.members {
		if c, ok := n.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
