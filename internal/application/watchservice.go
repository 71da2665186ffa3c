package application

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// DefaultAlertDaysBefore is the alert window used when none is given.
const DefaultAlertDaysBefore = 7

// CreateWatchInput describes a new credential watch.
type CreateWatchInput struct {
	CredentialID    string
	ExpiresAt       time.Time
	AlertDaysBefore *int
}

// WatchView is a watch together with its state derived at read time.
type WatchView struct {
	model.CredentialWatch
	State     model.WatchState
	DaysUntil int
}

// WatchService tracks credential expiry dates and raises alerts as they
// approach.
type WatchService struct {
	store       driven.WatchStore
	credentials driven.CredentialStore
	notifier    driven.Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewWatchService creates a new WatchService with all required dependencies.
func NewWatchService(store driven.WatchStore, credentials driven.CredentialStore, notifier driven.Notifier, logger *slog.Logger) *WatchService {
	return &WatchService{
		store:       store,
		credentials: credentials,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *WatchService) WithClock(now func() time.Time) *WatchService {
	s.now = now
	return s
}

// Create validates and stores a watch on one of the owner's credentials.
func (s *WatchService) Create(ctx context.Context, ownerID string, in CreateWatchInput) (*WatchView, error) {
	in.CredentialID = strings.TrimSpace(in.CredentialID)
	alert := DefaultAlertDaysBefore
	if in.AlertDaysBefore != nil {
		alert = *in.AlertDaysBefore
	}

	switch {
	case in.CredentialID == "":
		return nil, model.Invalid("credentialId", "required")
	case in.ExpiresAt.IsZero():
		return nil, model.Invalid("expiresAt", "required")
	case alert < 0:
		return nil, model.Invalid("alertDaysBefore", "must not be negative")
	}

	if _, err := s.credentials.Get(ctx, ownerID, in.CredentialID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	w := model.CredentialWatch{
		ID:              newID(),
		OwnerID:         ownerID,
		CredentialID:    in.CredentialID,
		ExpiresAt:       in.ExpiresAt.UTC(),
		AlertDaysBefore: alert,
		Status:          model.WatchStatusActive,
		CreatedAt:       now,
	}
	if err := s.store.Create(ctx, w); err != nil {
		return nil, err
	}

	s.logger.Info("watch created", "watch_id", w.ID, "credential_id", w.CredentialID, "expires_at", w.ExpiresAt.Format(time.RFC3339))
	v := s.view(w, now)
	return &v, nil
}

// List returns the owner's watches with their derived state.
func (s *WatchService) List(ctx context.Context, ownerID string) ([]WatchView, error) {
	watches, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	views := make([]WatchView, 0, len(watches))
	for _, w := range watches {
		views = append(views, s.view(w, now))
	}
	return views, nil
}

// Summary partitions the owner's watches by derived state.
func (s *WatchService) Summary(ctx context.Context, ownerID string) (model.WatchSummary, error) {
	watches, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return model.WatchSummary{}, err
	}

	now := s.now().UTC()
	sum := model.WatchSummary{Total: len(watches)}
	for _, w := range watches {
		switch w.State(now) {
		case model.WatchStateDismissed:
			sum.Dismissed++
		case model.WatchStateExpired:
			sum.Expired++
		case model.WatchStateExpiringSoon:
			sum.ExpiringSoon++
		default:
			sum.Active++
		}
	}
	return sum, nil
}

// Dismiss silences a watch. Dismissed watches are never alerted again.
func (s *WatchService) Dismiss(ctx context.Context, ownerID, id string) (*WatchView, error) {
	if err := s.store.SetStatus(ctx, ownerID, id, model.WatchStatusDismissed); err != nil {
		return nil, err
	}
	w, err := s.store.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	v := s.view(*w, s.now().UTC())
	return &v, nil
}

// Remove deletes a watch.
func (s *WatchService) Remove(ctx context.Context, ownerID, id string) error {
	return s.store.Remove(ctx, ownerID, id)
}

// Sweep emits an alert the first time each active watch enters the
// expiring or expired state.
func (s *WatchService) Sweep(ctx context.Context, now time.Time) error {
	watches, err := s.store.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, w := range watches {
		state := w.State(now)
		if state == w.LastNotifiedState {
			continue
		}

		var kind model.EventKind
		switch state {
		case model.WatchStateExpiringSoon:
			kind = model.EventWatchExpiring
		case model.WatchStateExpired:
			kind = model.EventWatchExpired
		}

		if err := s.store.SetNotifiedState(ctx, w.ID, state); err != nil {
			return err
		}
		if kind == "" {
			continue
		}

		s.logger.Info("watch alert", "watch_id", w.ID, "state", state, "days_until", w.DaysUntil(now))
		emit(ctx, s.notifier, s.logger, model.Event{
			Kind:       kind,
			OwnerID:    w.OwnerID,
			SubjectID:  w.CredentialID,
			OccurredAt: now,
			Attributes: map[string]string{
				"watchId":   w.ID,
				"expiresAt": w.ExpiresAt.Format(time.RFC3339),
				"daysUntil": strconv.Itoa(w.DaysUntil(now)),
			},
		})
	}
	return nil
}

func (s *WatchService) view(w model.CredentialWatch, now time.Time) WatchView {
	return WatchView{CredentialWatch: w, State: w.State(now), DaysUntil: w.DaysUntil(now)}
}
