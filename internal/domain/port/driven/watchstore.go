package driven

import (
	"context"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

// WatchStore defines the driven port for credential watch persistence.
type WatchStore interface {
	Create(ctx context.Context, w model.CredentialWatch) error
	Get(ctx context.Context, ownerID, id string) (*model.CredentialWatch, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.CredentialWatch, error)
	ListActive(ctx context.Context) ([]model.CredentialWatch, error)
	SetStatus(ctx context.Context, ownerID, id string, status model.WatchStatus) error
	SetNotifiedState(ctx context.Context, id string, state model.WatchState) error
	Remove(ctx context.Context, ownerID, id string) error
}
