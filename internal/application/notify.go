// Package application contains use-case orchestration services.
package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// notifyTimeout bounds how long a single event delivery may block a caller.
const notifyTimeout = 5 * time.Second

func newID() string {
	return uuid.NewString()
}

// emit delivers an event best effort. Failures are logged and swallowed.
func emit(ctx context.Context, n driven.Notifier, logger *slog.Logger, event model.Event) {
	if n == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := n.Send(ctx, event); err != nil {
		logger.Warn("event delivery failed", "kind", event.Kind, "subject", event.SubjectID, "error", err)
	}
}
