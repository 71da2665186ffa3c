package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/catalog"
	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// DefaultTickInterval is how often the scheduler looks for due schedules.
const DefaultTickInterval = time.Minute

// JobDispatcher creates fetch jobs and reports when they finish.
type JobDispatcher interface {
	Create(ctx context.Context, ownerID string, providerIDs []string) (*model.FetchJob, error)
	Wait(ctx context.Context, jobID string) (*model.FetchJob, error)
}

// Sweeper is periodic work that piggybacks on the scheduler tick.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) error
}

// CreateScheduleInput describes a new sync schedule.
type CreateScheduleInput struct {
	Name        string
	Frequency   model.Frequency
	DayOfWeek   *int
	DayOfMonth  int
	TimeOfDay   string
	Timezone    string
	ProviderIDs []string
	Enabled     *bool // Defaults to true.
}

// Scheduler computes schedule recurrences and turns due schedules into
// fetch jobs. Every dispatch first wins an atomic claim, so overlapping
// ticks or manual triggers never create duplicate jobs for one run.
type Scheduler struct {
	store      driven.ScheduleStore
	dispatcher JobDispatcher
	catalog    *catalog.Catalog
	notifier   driven.Notifier
	sweepers   []Sweeper
	interval   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	outcomes sync.WaitGroup
}

// NewScheduler creates a new Scheduler with all required dependencies.
func NewScheduler(
	store driven.ScheduleStore,
	dispatcher JobDispatcher,
	cat *catalog.Catalog,
	notifier driven.Notifier,
	interval time.Duration,
	logger *slog.Logger,
	sweepers ...Sweeper,
) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		catalog:    cat,
		notifier:   notifier,
		sweepers:   sweepers,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start runs an immediate tick, then ticks on the configured interval.
// Start blocks until the context is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.tickAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tickAndLog(ctx)
		}
	}
}

func (s *Scheduler) tickAndLog(ctx context.Context) {
	start := time.Now()
	dispatched, err := s.Tick(ctx)
	if err != nil {
		s.logger.Error("scheduler tick failed", "error", err)
		return
	}
	s.logger.Debug("scheduler tick complete",
		"dispatched", dispatched,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// Tick dispatches every due schedule this process wins the claim for, then
// runs the registered sweepers. It returns the number of jobs created.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now().UTC()

	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, sch := range due {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}

		job, err := s.dispatch(ctx, sch, now)
		if err != nil {
			s.logger.Error("schedule dispatch failed", "schedule_id", sch.ID, "error", err)
			continue
		}
		if job != nil {
			dispatched++
		}
	}

	for _, sw := range s.sweepers {
		if err := sw.Sweep(ctx, now); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
	}

	return dispatched, nil
}

// dispatch claims the run and creates its job. A nil job with a nil error
// means another claimer won.
func (s *Scheduler) dispatch(ctx context.Context, sch model.SyncSchedule, now time.Time) (*model.FetchJob, error) {
	next, err := NextRun(sch, now)
	if err != nil {
		return nil, err
	}

	won, err := s.store.Claim(ctx, sch.ID, sch.ClaimVersion, next, now)
	if err != nil {
		return nil, err
	}
	if !won {
		s.logger.Debug("schedule claimed elsewhere", "schedule_id", sch.ID)
		return nil, nil
	}

	job, err := s.dispatcher.Create(ctx, sch.OwnerID, sch.ProviderIDs)
	if err != nil {
		if recErr := s.store.RecordDispatch(ctx, sch.ID, ""); recErr != nil {
			s.logger.Error("record dispatch", "schedule_id", sch.ID, "error", recErr)
		}
		if recErr := s.store.RecordOutcome(ctx, sch.ID, false); recErr != nil {
			s.logger.Error("record outcome", "schedule_id", sch.ID, "error", recErr)
		}
		return nil, fmt.Errorf("create job for schedule %q: %w", sch.ID, err)
	}

	if err := s.store.RecordDispatch(ctx, sch.ID, job.ID); err != nil {
		return job, err
	}

	s.logger.Info("schedule dispatched",
		"schedule_id", sch.ID,
		"job_id", job.ID,
		"next_run_at", next.Format(time.RFC3339),
	)
	emit(ctx, s.notifier, s.logger, model.Event{
		Kind:       model.EventScheduleDispatched,
		OwnerID:    sch.OwnerID,
		SubjectID:  sch.ID,
		OccurredAt: now,
		Attributes: map[string]string{"jobId": job.ID},
	})

	s.outcomes.Add(1)
	go s.awaitOutcome(sch.ID, job.ID)

	return job, nil
}

// awaitOutcome counts a run as successful only when every provider succeeded.
func (s *Scheduler) awaitOutcome(scheduleID, jobID string) {
	defer s.outcomes.Done()

	ctx := context.Background()
	final, err := s.dispatcher.Wait(ctx, jobID)
	success := err == nil &&
		final.Status == model.JobStatusCompleted &&
		final.FailedProviders == 0

	if err := s.store.RecordOutcome(ctx, scheduleID, success); err != nil {
		s.logger.Error("record schedule outcome", "schedule_id", scheduleID, "job_id", jobID, "error", err)
	}
}

// Drain blocks until all pending outcome recordings have finished.
func (s *Scheduler) Drain() {
	s.outcomes.Wait()
}

// Create validates input, computes the first run, and stores the schedule.
func (s *Scheduler) Create(ctx context.Context, ownerID string, in CreateScheduleInput) (*model.SyncSchedule, error) {
	sch, err := s.buildSchedule(ownerID, in)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, *sch); err != nil {
		return nil, err
	}

	s.logger.Info("schedule created", "schedule_id", sch.ID, "frequency", sch.Frequency, "next_run_at", sch.NextRunAt)
	return sch, nil
}

func (s *Scheduler) buildSchedule(ownerID string, in CreateScheduleInput) (*model.SyncSchedule, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Timezone == "" {
		in.Timezone = "UTC"
	}

	switch {
	case ownerID == "":
		return nil, model.Invalid("ownerId", "required")
	case in.Name == "":
		return nil, model.Invalid("name", "required")
	case !in.Frequency.Valid():
		return nil, model.Invalid("frequency", "must be daily, weekly, biweekly or monthly")
	case in.Frequency.NeedsDayOfWeek() && in.DayOfWeek == nil:
		return nil, model.Invalid("dayOfWeek", "required for weekly and biweekly schedules")
	case !in.Frequency.NeedsDayOfWeek() && in.DayOfWeek != nil:
		return nil, model.Invalid("dayOfWeek", "only allowed for weekly and biweekly schedules")
	case in.DayOfWeek != nil && (*in.DayOfWeek < 0 || *in.DayOfWeek > 6):
		return nil, model.Invalid("dayOfWeek", "must be between 0 (Sunday) and 6 (Saturday)")
	case in.DayOfMonth < 0 || in.DayOfMonth > 31:
		return nil, model.Invalid("dayOfMonth", "must be between 1 and 31")
	case in.DayOfMonth != 0 && in.Frequency != model.FrequencyMonthly:
		return nil, model.Invalid("dayOfMonth", "only allowed for monthly schedules")
	}

	if _, _, err := ParseTimeOfDay(in.TimeOfDay); err != nil {
		return nil, model.Invalid("timeOfDay", "must be HH:MM in 24-hour time")
	}
	loc, err := time.LoadLocation(in.Timezone)
	if err != nil {
		return nil, model.Invalid("timezone", "unknown IANA timezone "+strconv.Quote(in.Timezone))
	}

	providers, err := s.normalizeProviders(in.ProviderIDs)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sch := &model.SyncSchedule{
		ID:          newID(),
		OwnerID:     ownerID,
		Name:        in.Name,
		Frequency:   in.Frequency,
		DayOfMonth:  in.DayOfMonth,
		TimeOfDay:   strings.TrimSpace(in.TimeOfDay),
		Timezone:    in.Timezone,
		ProviderIDs: providers,
		Enabled:     in.Enabled == nil || *in.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.DayOfWeek != nil {
		wd := time.Weekday(*in.DayOfWeek)
		sch.DayOfWeek = &wd
	}
	if sch.Frequency == model.FrequencyMonthly && sch.DayOfMonth == 0 {
		sch.DayOfMonth = now.In(loc).Day()
	}

	if sch.NextRunAt, err = NextRun(*sch, now); err != nil {
		return nil, err
	}
	return sch, nil
}

func (s *Scheduler) normalizeProviders(providerIDs []string) ([]string, error) {
	seen := make(map[string]bool, len(providerIDs))
	out := make([]string, 0, len(providerIDs))
	for _, id := range providerIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		if s.catalog != nil && !s.catalog.Known(id) {
			return nil, model.Invalid("providerIds", "unknown provider "+strconv.Quote(id))
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, model.Invalid("providerIds", "at least one provider is required")
	}
	return out, nil
}

// List returns an owner's schedules.
func (s *Scheduler) List(ctx context.Context, ownerID string) ([]model.SyncSchedule, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

// Toggle enables or disables a schedule. Enabling recomputes the next run
// from now; disabling leaves it frozen. A tick or trigger that claims the
// schedule between the read and the write returns
// model.ErrConcurrencyConflict.
func (s *Scheduler) Toggle(ctx context.Context, ownerID, id string, enabled bool) (*model.SyncSchedule, error) {
	sch, err := s.store.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	next := sch.NextRunAt
	if enabled {
		if next, err = NextRun(*sch, s.now().UTC()); err != nil {
			return nil, err
		}
	}

	ok, err := s.store.SetEnabled(ctx, ownerID, id, sch.ClaimVersion, enabled, next)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("toggle schedule %q: %w", id, model.ErrConcurrencyConflict)
	}

	s.logger.Info("schedule toggled", "schedule_id", id, "enabled", enabled)
	return s.store.Get(ctx, ownerID, id)
}

// Delete removes a schedule.
func (s *Scheduler) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.store.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	s.logger.Info("schedule deleted", "schedule_id", id)
	return nil
}

// TriggerNow dispatches a schedule immediately through the same claim path
// as a tick, bypassing the due check. Losing the claim to a concurrent
// dispatch returns model.ErrConcurrencyConflict.
func (s *Scheduler) TriggerNow(ctx context.Context, ownerID, id string) (*model.FetchJob, error) {
	sch, err := s.store.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !sch.Enabled {
		return nil, model.Invalid("schedule", "disabled schedules cannot be triggered")
	}

	job, err := s.dispatch(ctx, *sch, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("trigger schedule %q: %w", id, model.ErrConcurrencyConflict)
	}
	return job, nil
}
