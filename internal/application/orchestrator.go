package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/keyfetch/internal/catalog"
	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// Orchestrator defaults.
const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 2 * time.Minute
	DefaultRetryBackoff   = 2 * time.Second
	DefaultConcurrency    = 3
	maxConcurrency        = 5
	maxRetryBackoff       = 30 * time.Second
	defaultJobListLimit   = 50
)

var errCancelled = errors.New("job cancelled")

// OrchestratorConfig tunes retries and concurrency. Zero values take defaults.
type OrchestratorConfig struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryBackoff   time.Duration
	Concurrency    int // Clamped to 1..5.

	// InstanceID tags the jobs this process runs. Recover only fails jobs
	// tagged with it, so instances sharing a database leave each other's
	// live jobs alone. It must be stable across restarts of one instance.
	InstanceID string
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Concurrency > maxConcurrency {
		c.Concurrency = maxConcurrency
	}
	return c
}

// infraError marks a failure of our own storage rather than of a provider.
// It fails the whole job.
type infraError struct{ err error }

func (e *infraError) Error() string { return e.err.Error() }
func (e *infraError) Unwrap() error { return e.err }

// jobRun is the in-process state of a running job.
type jobRun struct {
	cancelled atomic.Bool
	stop      context.CancelFunc // Interrupts retry waits only, never in-flight attempts.
	stopCtx   context.Context
	done      chan struct{}
	mu        sync.Mutex // Serializes result recording and finalization.
	finished  int        // Succeeded or failed results recorded, guarded by mu.
}

func (r *jobRun) requestCancel() {
	r.cancelled.Store(true)
	r.stop()
}

// Orchestrator runs fetch jobs: it fans providers out over a bounded worker
// pool, retries failed attempts with backoff, stores retrieved credentials
// in the vault, and honours cooperative cancellation.
type Orchestrator struct {
	jobs       driven.JobStore
	vault      *VaultService
	proxies    *ProxyService
	automation driven.ProviderAutomation
	verifiers  []driven.CredentialVerifier
	notifier   driven.Notifier
	catalog    *catalog.Catalog
	cfg        OrchestratorConfig
	logger     *slog.Logger
	now        func() time.Time

	baseCtx  context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu   sync.Mutex
	runs map[string]*jobRun
}

// NewOrchestrator creates a new Orchestrator with all required dependencies.
func NewOrchestrator(
	jobs driven.JobStore,
	vault *VaultService,
	proxies *ProxyService,
	automation driven.ProviderAutomation,
	verifiers []driven.CredentialVerifier,
	notifier driven.Notifier,
	cat *catalog.Catalog,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	baseCtx, shutdown := context.WithCancel(context.Background())
	return &Orchestrator{
		jobs:       jobs,
		vault:      vault,
		proxies:    proxies,
		automation: automation,
		verifiers:  verifiers,
		notifier:   notifier,
		catalog:    cat,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		now:        time.Now,
		baseCtx:    baseCtx,
		shutdown:   shutdown,
		runs:       make(map[string]*jobRun),
	}
}

// Create validates the provider list, persists a queued job, and starts it
// in the background. Duplicate provider ids are collapsed.
func (o *Orchestrator) Create(ctx context.Context, ownerID string, providerIDs []string) (*model.FetchJob, error) {
	if ownerID == "" {
		return nil, model.Invalid("ownerId", "required")
	}

	providers, err := o.normalizeProviders(providerIDs)
	if err != nil {
		return nil, err
	}

	job := model.FetchJob{
		ID:             newID(),
		OwnerID:        ownerID,
		RunnerID:       o.cfg.InstanceID,
		Status:         model.JobStatusQueued,
		ProviderIDs:    providers,
		TotalProviders: len(providers),
		Results:        make(map[string]model.ProviderResult, len(providers)),
		CreatedAt:      o.now().UTC(),
	}
	for _, id := range providers {
		job.Results[id] = model.ProviderResult{ProviderID: id, Status: model.ProviderStatusPending}
	}

	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	stopCtx, stop := context.WithCancel(o.baseCtx)
	run := &jobRun{stop: stop, stopCtx: stopCtx, done: make(chan struct{})}

	o.mu.Lock()
	o.runs[job.ID] = run
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(job, run)

	o.logger.Info("fetch job created", "job_id", job.ID, "providers", len(providers))
	return &job, nil
}

func (o *Orchestrator) normalizeProviders(providerIDs []string) ([]string, error) {
	seen := make(map[string]bool, len(providerIDs))
	providers := make([]string, 0, len(providerIDs))
	for _, id := range providerIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		if o.catalog != nil && !o.catalog.Known(id) {
			return nil, model.Invalid("providerIds", "unknown provider "+strconv.Quote(id))
		}
		seen[id] = true
		providers = append(providers, id)
	}
	if len(providers) == 0 {
		return nil, model.Invalid("providerIds", "at least one provider is required")
	}
	return providers, nil
}

// Get returns a job owned by ownerID.
func (o *Orchestrator) Get(ctx context.Context, ownerID, jobID string) (*model.FetchJob, error) {
	return o.jobs.Get(ctx, ownerID, jobID)
}

// List returns an owner's most recent jobs.
func (o *Orchestrator) List(ctx context.Context, ownerID string) ([]model.FetchJob, error) {
	return o.jobs.ListByOwner(ctx, ownerID, defaultJobListLimit)
}

// Cancel requests cooperative cancellation. Providers that have not started
// are skipped and no further retries are made, but an attempt already in
// flight runs to completion. Cancelling a finished job is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, ownerID, jobID string) (*model.FetchJob, error) {
	job, err := o.jobs.Get(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	if err := o.jobs.RequestCancel(ctx, jobID); err != nil {
		return nil, err
	}

	o.mu.Lock()
	run := o.runs[jobID]
	o.mu.Unlock()

	if run != nil {
		run.requestCancel()
		o.logger.Info("fetch job cancellation requested", "job_id", jobID)
	} else {
		// No live runner, e.g. the job was queued before a restart.
		ok, err := o.jobs.Transition(ctx, jobID,
			[]model.JobStatus{model.JobStatusQueued, model.JobStatusRunning},
			model.JobStatusCancelled, o.now().UTC(), "")
		if err != nil {
			return nil, err
		}
		if ok {
			o.emitTerminal(ctx, job.OwnerID, jobID, model.JobStatusCancelled)
		}
	}

	return o.jobs.Get(ctx, ownerID, jobID)
}

// Wait blocks until the job reaches a terminal status or ctx is done, then
// returns the stored job.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) (*model.FetchJob, error) {
	o.mu.Lock()
	run := o.runs[jobID]
	o.mu.Unlock()

	if run != nil {
		select {
		case <-run.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.jobs.GetByID(ctx, jobID)
}

// Recover fails jobs left queued or running by a previous run of this
// instance. Jobs tagged with another instance id are skipped; untagged jobs
// predate runner tracking and are treated as ours. It must run before any
// new job is created.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	orphans, err := o.jobs.ListByStatus(ctx, model.JobStatusQueued, model.JobStatusRunning)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, job := range orphans {
		if job.RunnerID != "" && job.RunnerID != o.cfg.InstanceID {
			continue
		}

		o.mu.Lock()
		_, live := o.runs[job.ID]
		o.mu.Unlock()
		if live {
			continue
		}

		ok, err := o.jobs.Transition(ctx, job.ID,
			[]model.JobStatus{model.JobStatusQueued, model.JobStatusRunning},
			model.JobStatusFailed, o.now().UTC(), "interrupted by restart")
		if err != nil {
			return recovered, err
		}
		if ok {
			recovered++
		}
	}

	if recovered > 0 {
		o.logger.Warn("failed interrupted fetch jobs", "count", recovered)
	}
	return recovered, nil
}

// Shutdown stops all running jobs and waits for their goroutines to exit or
// ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.shutdown()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(job model.FetchJob, run *jobRun) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.runs, job.ID)
		o.mu.Unlock()
		run.stop()
		close(run.done)
	}()

	ctx := o.baseCtx
	start := time.Now()

	if run.cancelled.Load() {
		var err error
		for _, providerID := range job.ProviderIDs {
			skipped := model.ProviderResult{ProviderID: providerID, Status: model.ProviderStatusSkipped}
			if err = o.record(run, job.ID, skipped); err != nil {
				break
			}
		}
		o.finalize(ctx, job, run, err)
		return
	}

	ok, err := o.jobs.Transition(context.WithoutCancel(ctx), job.ID, []model.JobStatus{model.JobStatusQueued}, model.JobStatusRunning, o.now().UTC(), "")
	if err != nil {
		o.finalize(ctx, job, run, &infraError{err: err})
		return
	}
	if !ok {
		o.logger.Warn("fetch job no longer queued", "job_id", job.ID)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for _, providerID := range job.ProviderIDs {
		g.Go(func() error {
			return o.runProvider(gctx, run, job, providerID)
		})
	}

	o.finalize(ctx, job, run, g.Wait())
	o.logger.Info("fetch job finished", "job_id", job.ID, "duration", time.Since(start).Round(time.Millisecond))
}

// runProvider drives one provider to an outcome and records it. The
// returned error is non-nil only for infrastructure failures.
func (o *Orchestrator) runProvider(ctx context.Context, run *jobRun, job model.FetchJob, providerID string) error {
	if run.cancelled.Load() || ctx.Err() != nil {
		return o.record(run, job.ID, model.ProviderResult{ProviderID: providerID, Status: model.ProviderStatusSkipped})
	}

	result, err := o.fetchProvider(ctx, run, job, providerID)
	if err != nil {
		return err
	}

	finished := o.now().UTC()
	result.FinishedAt = &finished
	return o.record(run, job.ID, result)
}

func (o *Orchestrator) fetchProvider(ctx context.Context, run *jobRun, job model.FetchJob, providerID string) (model.ProviderResult, error) {
	result := model.ProviderResult{ProviderID: providerID}
	log := o.logger.With("job_id", job.ID, "provider", providerID)

	login, err := o.vault.LoginInput(ctx, job.OwnerID, providerID)
	if err != nil {
		if !errors.Is(err, model.ErrDecryption) && !model.IsValidation(err) {
			return result, &infraError{err: fmt.Errorf("load login for %s: %w", providerID, err)}
		}
		result.Status = model.ProviderStatusFailed
		result.Error = err.Error()
		return result, nil
	}

	var fetched []model.FetchedCredential
	var lastErr error

	attempt := func() error {
		if result.Attempts > 0 && run.cancelled.Load() {
			return backoff.Permanent(errCancelled)
		}
		result.Attempts++

		proxy, err := o.proxies.Select(ctx, job.OwnerID, providerID)
		if errors.Is(err, model.ErrProxyUnavailable) {
			lastErr = err
			return backoff.Permanent(err)
		}
		if err != nil {
			return backoff.Permanent(&infraError{err: err})
		}
		if proxy != nil {
			result.ProxyID = proxy.ID
		}

		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		defer cancel()

		creds, err := o.automation.Attempt(attemptCtx, providerID, login, proxy)
		if err == nil && len(creds) == 0 {
			err = errors.New("automation returned no credentials")
		}
		if err == nil {
			err = o.verify(attemptCtx, providerID, creds)
		}
		if err != nil {
			lastErr = &model.ProviderAutomationError{
				ProviderID: providerID,
				Reason:     "attempt " + strconv.Itoa(result.Attempts),
				Err:        err,
			}
			log.Warn("provider attempt failed", "attempt", result.Attempts, "error", err)
			if ctx.Err() != nil {
				return backoff.Permanent(lastErr)
			}
			return lastErr
		}

		fetched = creds
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.cfg.RetryBackoff
	policy.MaxInterval = maxRetryBackoff
	policy.MaxElapsedTime = 0

	// Waits between retries end early when the job is cancelled.
	err = backoff.Retry(attempt, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(o.cfg.MaxAttempts-1)),
		run.stopCtx,
	))

	var infra *infraError
	if errors.As(err, &infra) {
		return result, infra
	}
	if err != nil {
		result.Status = model.ProviderStatusFailed
		switch {
		case lastErr != nil && (errors.Is(err, errCancelled) || errors.Is(err, context.Canceled)):
			result.Error = "cancelled after: " + lastErr.Error()
		case lastErr != nil:
			result.Error = lastErr.Error()
		default:
			result.Error = err.Error()
		}
		return result, nil
	}

	for _, c := range fetched {
		cred, err := o.vault.Put(ctx, job.OwnerID, PutInput{
			ProviderID: providerID,
			KeyType:    c.KeyType,
			Label:      c.Label,
			Value:      c.Value,
			ChangeType: model.ChangeTypeRotated,
		})
		if errors.Is(err, model.ErrConcurrencyConflict) || model.IsValidation(err) {
			result.Status = model.ProviderStatusFailed
			result.Error = err.Error()
			return result, nil
		}
		if err != nil {
			return result, &infraError{err: fmt.Errorf("store credential for %s: %w", providerID, err)}
		}
		result.CredentialIDs = append(result.CredentialIDs, cred.ID)
	}

	result.Status = model.ProviderStatusSucceeded
	log.Info("provider fetched", "attempts", result.Attempts, "credentials", len(result.CredentialIDs))
	return result, nil
}

func (o *Orchestrator) verify(ctx context.Context, providerID string, creds []model.FetchedCredential) error {
	for _, c := range creds {
		for _, v := range o.verifiers {
			if !v.Supports(providerID, c.KeyType) {
				continue
			}
			if err := v.Verify(ctx, c); err != nil {
				return fmt.Errorf("verify %s %s: %w", providerID, c.KeyType, err)
			}
		}
	}
	return nil
}

func (o *Orchestrator) record(run *jobRun, jobID string, result model.ProviderResult) error {
	run.mu.Lock()
	defer run.mu.Unlock()

	if err := o.jobs.RecordResult(context.WithoutCancel(o.baseCtx), jobID, result); err != nil {
		return &infraError{err: err}
	}
	if result.Status == model.ProviderStatusSucceeded || result.Status == model.ProviderStatusFailed {
		run.finished++
	}
	return nil
}

// finalize moves the job to its terminal status. An infrastructure error
// wins; otherwise a cancel request yields cancelled unless every provider
// already has an outcome, in which case the job completed.
func (o *Orchestrator) finalize(ctx context.Context, job model.FetchJob, run *jobRun, runErr error) {
	run.mu.Lock()
	defer run.mu.Unlock()

	from := []model.JobStatus{model.JobStatusQueued, model.JobStatusRunning}
	now := o.now().UTC()

	var status model.JobStatus
	var msg string
	switch {
	case runErr != nil:
		status, msg = model.JobStatusFailed, runErr.Error()
		o.logger.Error("fetch job failed", "job_id", job.ID, "error", runErr)
	case run.cancelled.Load() && run.finished < len(job.ProviderIDs):
		status = model.JobStatusCancelled
	case ctx.Err() != nil:
		status, msg = model.JobStatusFailed, "interrupted by shutdown"
	default:
		status = model.JobStatusCompleted
	}

	ok, err := o.jobs.Transition(context.WithoutCancel(ctx), job.ID, from, status, now, msg)
	if err != nil {
		o.logger.Error("finalize fetch job", "job_id", job.ID, "status", status, "error", err)
		return
	}
	if ok {
		o.emitTerminal(ctx, job.OwnerID, job.ID, status)
	}
}

func (o *Orchestrator) emitTerminal(ctx context.Context, ownerID, jobID string, status model.JobStatus) {
	kind := model.EventJobCompleted
	switch status {
	case model.JobStatusFailed:
		kind = model.EventJobFailed
	case model.JobStatusCancelled:
		kind = model.EventJobCancelled
	}

	emit(ctx, o.notifier, o.logger, model.Event{
		Kind:       kind,
		OwnerID:    ownerID,
		SubjectID:  jobID,
		OccurredAt: o.now().UTC(),
		Attributes: map[string]string{"status": string(status)},
	})
}
