package model

import (
	"math"
	"time"
)

// WatchState is the derived display state of a credential watch.
type WatchState string

const (
	WatchStateActive       WatchState = "active"
	WatchStateExpiringSoon WatchState = "expiring_soon"
	WatchStateExpired      WatchState = "expired"
	WatchStateDismissed    WatchState = "dismissed"
)

// CredentialWatch monitors a credential's expiry date.
type CredentialWatch struct {
	ID                string
	OwnerID           string
	CredentialID      string
	ExpiresAt         time.Time
	AlertDaysBefore   int
	Status            WatchStatus
	LastNotifiedState WatchState
	CreatedAt         time.Time
}

// DaysUntil returns the whole days left before expiry, rounded up.
func (w CredentialWatch) DaysUntil(now time.Time) int {
	return int(math.Ceil(w.ExpiresAt.Sub(now).Hours() / 24))
}

// Expired reports whether the watched credential has expired.
func (w CredentialWatch) Expired(now time.Time) bool {
	return !now.Before(w.ExpiresAt)
}

// ExpiringSoon reports whether expiry falls within the alert window.
func (w CredentialWatch) ExpiringSoon(now time.Time) bool {
	if w.Expired(now) {
		return false
	}
	d := w.DaysUntil(now)
	return d > 0 && d <= w.AlertDaysBefore
}

// State returns the derived state at now. Dismissed wins over everything.
func (w CredentialWatch) State(now time.Time) WatchState {
	switch {
	case w.Status == WatchStatusDismissed:
		return WatchStateDismissed
	case w.Expired(now):
		return WatchStateExpired
	case w.ExpiringSoon(now):
		return WatchStateExpiringSoon
	default:
		return WatchStateActive
	}
}

// WatchSummary aggregates an owner's watches.
type WatchSummary struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	Dismissed    int `json:"dismissed"`
	Expired      int `json:"expired"`
	ExpiringSoon int `json:"expiringSoon"`
}
