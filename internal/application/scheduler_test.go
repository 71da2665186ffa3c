package application_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/keyfetch/internal/application"
	"github.com/ericfisherdev/keyfetch/internal/catalog"
	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

type fakeDispatcher struct {
	created   atomic.Int32
	createErr error
	final     model.FetchJob
}

func (d *fakeDispatcher) Create(_ context.Context, ownerID string, providerIDs []string) (*model.FetchJob, error) {
	if d.createErr != nil {
		return nil, d.createErr
	}
	n := d.created.Add(1)
	return &model.FetchJob{
		ID:          "job-" + string(rune('0'+n)),
		OwnerID:     ownerID,
		Status:      model.JobStatusQueued,
		ProviderIDs: providerIDs,
	}, nil
}

func (d *fakeDispatcher) Wait(_ context.Context, jobID string) (*model.FetchJob, error) {
	j := d.final
	j.ID = jobID
	return &j, nil
}

type countingSweeper struct{ calls atomic.Int32 }

func (s *countingSweeper) Sweep(_ context.Context, _ time.Time) error {
	s.calls.Add(1)
	return nil
}

// losingScheduleStore always loses the dispatch claim.
type losingScheduleStore struct {
	*memScheduleStore
}

func (losingScheduleStore) Claim(_ context.Context, _ string, _ int64, _, _ time.Time) (bool, error) {
	return false, nil
}

// claimingScheduleStore lets a tick claim the schedule right before every
// toggle write.
type claimingScheduleStore struct {
	*memScheduleStore
}

func (c claimingScheduleStore) SetEnabled(ctx context.Context, ownerID, id string, expectedVersion int64, enabled bool, nextRunAt time.Time) (bool, error) {
	sch := c.get(id)
	if _, err := c.Claim(ctx, id, sch.ClaimVersion, sch.NextRunAt.AddDate(0, 0, 1), sch.NextRunAt); err != nil {
		return false, err
	}
	return c.memScheduleStore.SetEnabled(ctx, ownerID, id, expectedVersion, enabled, nextRunAt)
}

var schedulerStart = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

func dailyInput() application.CreateScheduleInput {
	return application.CreateScheduleInput{
		Name:        "nightly",
		Frequency:   model.FrequencyDaily,
		TimeOfDay:   "09:00",
		Timezone:    "UTC",
		ProviderIDs: []string{"openai", "github"},
	}
}

func TestSchedulerCreate_ComputesNextRun(t *testing.T) {
	clock := &fixedClock{t: schedulerStart}
	store := newMemScheduleStore()
	s := application.NewScheduler(store, &fakeDispatcher{}, catalog.MustDefault(), nil, time.Minute, discardLogger()).WithClock(clock.Now)

	sch, err := s.Create(context.Background(), owner, dailyInput())
	require.NoError(t, err)
	assert.True(t, sch.Enabled)
	assert.Equal(t, time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC), sch.NextRunAt)
	assert.Equal(t, []string{"openai", "github"}, sch.ProviderIDs)

	monthly := dailyInput()
	monthly.Frequency = model.FrequencyMonthly
	m, err := s.Create(context.Background(), owner, monthly)
	require.NoError(t, err)
	assert.Equal(t, 1, m.DayOfMonth, "defaults to the creation day")
}

func TestSchedulerCreate_Validation(t *testing.T) {
	s := application.NewScheduler(newMemScheduleStore(), &fakeDispatcher{}, catalog.MustDefault(), nil, time.Minute, discardLogger())
	monday := 1
	eight := 8

	tests := []struct {
		name   string
		mutate func(*application.CreateScheduleInput)
	}{
		{"missing name", func(in *application.CreateScheduleInput) { in.Name = " " }},
		{"bad frequency", func(in *application.CreateScheduleInput) { in.Frequency = "hourly" }},
		{"weekly without weekday", func(in *application.CreateScheduleInput) { in.Frequency = model.FrequencyWeekly }},
		{"daily with weekday", func(in *application.CreateScheduleInput) { in.DayOfWeek = &monday }},
		{"weekday out of range", func(in *application.CreateScheduleInput) {
			in.Frequency = model.FrequencyWeekly
			in.DayOfWeek = &eight
		}},
		{"day of month on daily", func(in *application.CreateScheduleInput) { in.DayOfMonth = 3 }},
		{"bad time", func(in *application.CreateScheduleInput) { in.TimeOfDay = "9am" }},
		{"bad timezone", func(in *application.CreateScheduleInput) { in.Timezone = "Nowhere/Land" }},
		{"unknown provider", func(in *application.CreateScheduleInput) { in.ProviderIDs = []string{"friendster"} }},
		{"no providers", func(in *application.CreateScheduleInput) { in.ProviderIDs = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := dailyInput()
			tt.mutate(&in)
			_, err := s.Create(context.Background(), owner, in)
			assert.True(t, model.IsValidation(err), "got %v", err)
		})
	}
}

func TestSchedulerTick_DispatchesDueOnce(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{t: schedulerStart}
	store := newMemScheduleStore()
	dispatcher := &fakeDispatcher{final: model.FetchJob{Status: model.JobStatusCompleted}}
	sweeper := &countingSweeper{}
	s := application.NewScheduler(store, dispatcher, catalog.MustDefault(), nil, time.Minute, discardLogger(), sweeper).WithClock(clock.Now)

	sch, err := s.Create(ctx, owner, dailyInput())
	require.NoError(t, err)

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not due yet")

	clock.Set(time.Date(2026, 1, 2, 9, 0, 30, 0, time.UTC))
	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "next run already advanced")

	s.Drain()
	got := store.get(sch.ID)
	assert.Equal(t, 1, got.TotalRuns)
	assert.Equal(t, 1, got.SuccessfulRuns)
	assert.Zero(t, got.FailedRuns)
	assert.Equal(t, "job-1", got.LastJobID)
	assert.Equal(t, time.Date(2026, 1, 3, 9, 0, 0, 0, time.UTC), got.NextRunAt)
	assert.Equal(t, int32(3), sweeper.calls.Load())
}

func TestSchedulerTick_ConcurrentTicksDispatchOnce(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{t: schedulerStart}
	store := newMemScheduleStore()
	dispatcher := &fakeDispatcher{final: model.FetchJob{Status: model.JobStatusCompleted}}
	s := application.NewScheduler(store, dispatcher, catalog.MustDefault(), nil, time.Minute, discardLogger()).WithClock(clock.Now)

	_, err := s.Create(ctx, owner, dailyInput())
	require.NoError(t, err)
	clock.Set(time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	var total atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.Tick(ctx)
			assert.NoError(t, err)
			total.Add(int32(n))
		}()
	}
	wg.Wait()
	s.Drain()

	assert.Equal(t, int32(1), total.Load())
	assert.Equal(t, int32(1), dispatcher.created.Load())
}

func TestSchedulerTick_FailedJobCountsAsFailedRun(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{t: schedulerStart}
	store := newMemScheduleStore()
	dispatcher := &fakeDispatcher{final: model.FetchJob{Status: model.JobStatusCompleted, FailedProviders: 1}}
	s := application.NewScheduler(store, dispatcher, catalog.MustDefault(), nil, time.Minute, discardLogger()).WithClock(clock.Now)

	sch, err := s.Create(ctx, owner, dailyInput())
	require.NoError(t, err)
	clock.Set(time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC))

	_, err = s.Tick(ctx)
	require.NoError(t, err)
	s.Drain()

	got := store.get(sch.ID)
	assert.Equal(t, 1, got.FailedRuns)
	assert.Zero(t, got.SuccessfulRuns)
}

func TestSchedulerTick_DispatchErrorRecordsFailure(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{t: schedulerStart}
	store := newMemScheduleStore()
	dispatcher := &fakeDispatcher{createErr: errors.New("database is locked")}
	s := application.NewScheduler(store, dispatcher, catalog.MustDefault(), nil, time.Minute, discardLogger()).WithClock(clock.Now)

	sch, err := s.Create(ctx, owner, dailyInput())
	require.NoError(t, err)
	clock.Set(time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC))

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got := store.get(sch.ID)
	assert.Equal(t, 1, got.TotalRuns)
	assert.Equal(t, 1, got.FailedRuns)
	assert.Empty(t, got.LastJobID)
	assert.True(t, got.NextRunAt.After(clock.Now()), "claim still advanced the schedule")
}

func TestSchedulerTriggerNow(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{t: schedulerStart}
	store := newMemScheduleStore()
	notifier := &recordingNotifier{}
	dispatcher := &fakeDispatcher{final: model.FetchJob{Status: model.JobStatusCompleted}}
	s := application.NewScheduler(store, dispatcher, catalog.MustDefault(), notifier, time.Minute, discardLogger()).WithClock(clock.Now)

	sch, err := s.Create(ctx, owner, dailyInput())
	require.NoError(t, err)

	job, err := s.TriggerNow(ctx, owner, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, owner, job.OwnerID)
	s.Drain()

	assert.Equal(t, []model.EventKind{model.EventScheduleDispatched}, notifier.kinds())
	assert.Equal(t, 1, store.get(sch.ID).TotalRuns)

	_, err = s.Toggle(ctx, owner, sch.ID, false)
	require.NoError(t, err)
	_, err = s.TriggerNow(ctx, owner, sch.ID)
	assert.True(t, model.IsValidation(err))

	_, err = s.TriggerNow(ctx, "intruder", sch.ID)
	assert.True(t, model.IsNotFound(err))
}

func TestSchedulerTriggerNow_LostClaim(t *testing.T) {
	ctx := context.Background()
	store := losingScheduleStore{newMemScheduleStore()}
	s := application.NewScheduler(store, &fakeDispatcher{}, catalog.MustDefault(), nil, time.Minute, discardLogger())

	sch, err := s.Create(ctx, owner, dailyInput())
	require.NoError(t, err)

	_, err = s.TriggerNow(ctx, owner, sch.ID)
	assert.ErrorIs(t, err, model.ErrConcurrencyConflict)
}

func TestSchedulerToggle_RecomputesOnEnable(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{t: schedulerStart}
	store := newMemScheduleStore()
	s := application.NewScheduler(store, &fakeDispatcher{}, catalog.MustDefault(), nil, time.Minute, discardLogger()).WithClock(clock.Now)

	sch, err := s.Create(ctx, owner, dailyInput())
	require.NoError(t, err)

	disabled, err := s.Toggle(ctx, owner, sch.ID, false)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)
	assert.Equal(t, sch.NextRunAt, disabled.NextRunAt)

	clock.Set(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	enabled, err := s.Toggle(ctx, owner, sch.ID, true)
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)
	assert.Equal(t, time.Date(2026, 1, 11, 9, 0, 0, 0, time.UTC), enabled.NextRunAt)

	require.NoError(t, s.Delete(ctx, owner, sch.ID))
	list, err := s.List(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSchedulerToggle_ConflictsWithConcurrentClaim(t *testing.T) {
	ctx := context.Background()
	store := claimingScheduleStore{newMemScheduleStore()}
	s := application.NewScheduler(store, &fakeDispatcher{}, catalog.MustDefault(), nil, time.Minute, discardLogger()).
		WithClock((&fixedClock{t: schedulerStart}).Now)

	sch, err := s.Create(ctx, owner, dailyInput())
	require.NoError(t, err)

	_, err = s.Toggle(ctx, owner, sch.ID, false)
	require.ErrorIs(t, err, model.ErrConcurrencyConflict)

	got := store.get(sch.ID)
	assert.True(t, got.Enabled)
	assert.Equal(t, int64(1), got.ClaimVersion)
}

func TestSchedulerToggle_InvalidatesPendingClaim(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{t: schedulerStart}
	store := newMemScheduleStore()
	s := application.NewScheduler(store, &fakeDispatcher{}, catalog.MustDefault(), nil, time.Minute, discardLogger()).WithClock(clock.Now)

	sch, err := s.Create(ctx, owner, dailyInput())
	require.NoError(t, err)

	_, err = s.Toggle(ctx, owner, sch.ID, false)
	require.NoError(t, err)
	enabled, err := s.Toggle(ctx, owner, sch.ID, true)
	require.NoError(t, err)

	won, err := store.Claim(ctx, sch.ID, sch.ClaimVersion, enabled.NextRunAt.AddDate(0, 0, 1), clock.Now())
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, enabled.NextRunAt, store.get(sch.ID).NextRunAt)
}

func TestSchedulerStart_StopsOnCancel(t *testing.T) {
	sweeper := &countingSweeper{}
	s := application.NewScheduler(newMemScheduleStore(), &fakeDispatcher{}, catalog.MustDefault(), nil, time.Hour, discardLogger(), sweeper)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sweeper.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
