package model

import "time"

// EventKind names a notification emitted by the application.
type EventKind string

const (
	EventJobCompleted       EventKind = "job.completed"
	EventJobFailed          EventKind = "job.failed"
	EventJobCancelled       EventKind = "job.cancelled"
	EventScheduleDispatched EventKind = "schedule.dispatched"
	EventWatchExpiring      EventKind = "watch.expiring"
	EventWatchExpired       EventKind = "watch.expired"
)

// Event is a fire-and-forget notification. It never carries secret values.
type Event struct {
	Kind       EventKind         `json:"kind"`
	OwnerID    string            `json:"ownerId"`
	SubjectID  string            `json:"subjectId"`
	OccurredAt time.Time         `json:"occurredAt"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
