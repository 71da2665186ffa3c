package model

import "time"

// SyncSchedule recurrently creates fetch jobs for a fixed set of providers.
type SyncSchedule struct {
	ID             string
	OwnerID        string
	Name           string
	Frequency      Frequency
	DayOfWeek      *time.Weekday // Required for weekly and biweekly.
	DayOfMonth     int           // Monthly only; clamped to the last day of shorter months.
	TimeOfDay      string        // HH:MM, 24-hour, in Timezone.
	Timezone       string        // IANA zone name.
	ProviderIDs    []string
	Enabled        bool
	NextRunAt      time.Time
	ClaimVersion   int64 // Incremented by every successful dispatch claim.
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	LastJobID      string
	LastRunAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
