package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

// ProxyStore defines the driven port for proxy pool persistence.
type ProxyStore interface {
	Add(ctx context.Context, p model.ProxyEntry) error
	Get(ctx context.Context, ownerID, id string) (*model.ProxyEntry, error)
	Remove(ctx context.Context, ownerID, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]model.ProxyEntry, error)

	// RecordTest applies a probe result in a single statement. A failure
	// increments the consecutive failure counter and clears healthy once it
	// reaches failThreshold; a success resets the counter and sets healthy.
	RecordTest(ctx context.Context, id string, result model.ProxyTestResult, failThreshold int) (*model.ProxyEntry, error)

	// MarkUsed stamps last_used_at for least-recently-used tie breaking.
	MarkUsed(ctx context.Context, id string, at time.Time) error
}
