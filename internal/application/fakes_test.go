package application_test

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/keyfetch/internal/adapter/driven/aesgcm"
	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

// --- In-memory store implementations ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCipher(t *testing.T) *aesgcm.Cipher {
	t.Helper()
	key := make([]byte, aesgcm.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := aesgcm.New(key)
	require.NoError(t, err)
	return c
}

type memCredentialStore struct {
	mu      sync.Mutex
	creds   map[string]model.Credential
	history []model.CredentialHistoryEntry

	// conflicts makes the next N Update calls fail as if a concurrent
	// writer had won.
	conflicts int
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{creds: make(map[string]model.Credential)}
}

func (m *memCredentialStore) Get(_ context.Context, ownerID, id string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[id]
	if !ok || c.OwnerID != ownerID || c.DeletedAt != nil {
		return nil, model.NotFound("credential", id)
	}
	return &c, nil
}

func (m *memCredentialStore) FindByKey(_ context.Context, ownerID, providerID, keyType, label string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.OwnerID == ownerID && c.ProviderID == providerID && c.KeyType == keyType && c.KeyLabel == label && c.DeletedAt == nil {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memCredentialStore) ListByOwner(_ context.Context, ownerID string) ([]model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Credential
	for _, c := range m.creds {
		if c.OwnerID == ownerID && c.DeletedAt == nil {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].KeyType < out[j].KeyType
	})
	return out, nil
}

func (m *memCredentialStore) Create(_ context.Context, cred model.Credential, entry model.CredentialHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.OwnerID == cred.OwnerID && c.ProviderID == cred.ProviderID && c.KeyType == cred.KeyType && c.KeyLabel == cred.KeyLabel && c.DeletedAt == nil {
			return model.ErrConcurrencyConflict
		}
	}
	m.creds[cred.ID] = cred
	m.history = append(m.history, entry)
	return nil
}

func (m *memCredentialStore) Update(_ context.Context, cred model.Credential, expectedVersion int, entry model.CredentialHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		return model.ErrConcurrencyConflict
	}
	cur, ok := m.creds[cred.ID]
	if !ok || cur.Version != expectedVersion || cur.DeletedAt != nil {
		return model.ErrConcurrencyConflict
	}
	m.creds[cred.ID] = cred
	m.history = append(m.history, entry)
	return nil
}

func (m *memCredentialStore) SoftDelete(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[id]
	if !ok || c.OwnerID != ownerID || c.DeletedAt != nil {
		return model.NotFound("credential", id)
	}
	now := time.Now()
	c.DeletedAt = &now
	m.creds[id] = c
	return nil
}

func (m *memCredentialStore) AppendHistory(_ context.Context, entry model.CredentialHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, entry)
	return nil
}

func (m *memCredentialStore) GetHistoryEntry(_ context.Context, ownerID, id string) (*model.CredentialHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.history {
		if e.ID == id && m.creds[e.CredentialID].OwnerID == ownerID {
			return &e, nil
		}
	}
	return nil, model.NotFound("history entry", id)
}

func (m *memCredentialStore) ListHistory(_ context.Context, credentialID string) ([]model.CredentialHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CredentialHistoryEntry
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].CredentialID == credentialID {
			out = append(out, m.history[i])
		}
	}
	return out, nil
}

func (m *memCredentialStore) CountChangesSince(_ context.Context, ownerID string, since time.Time) (map[model.ChangeType]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.ChangeType]int)
	for _, e := range m.history {
		if m.creds[e.CredentialID].OwnerID == ownerID && !e.CreatedAt.Before(since) {
			counts[e.ChangeType]++
		}
	}
	return counts, nil
}

func (m *memCredentialStore) historyFor(credentialID string) []model.CredentialHistoryEntry {
	entries, _ := m.ListHistory(context.Background(), credentialID)
	return entries
}

type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.FetchJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*model.FetchJob)}
}

func cloneJob(j *model.FetchJob) *model.FetchJob {
	c := *j
	c.ProviderIDs = append([]string(nil), j.ProviderIDs...)
	c.Results = make(map[string]model.ProviderResult, len(j.Results))
	for k, v := range j.Results {
		c.Results[k] = v
	}
	return &c
}

func (m *memJobStore) Create(_ context.Context, job model.FetchJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(&job)
	return nil
}

func (m *memJobStore) Get(_ context.Context, ownerID, id string) (*model.FetchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.OwnerID != ownerID {
		return nil, model.NotFound("job", id)
	}
	return cloneJob(j), nil
}

func (m *memJobStore) GetByID(_ context.Context, id string) (*model.FetchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, model.NotFound("job", id)
	}
	return cloneJob(j), nil
}

func (m *memJobStore) ListByOwner(_ context.Context, ownerID string, limit int) ([]model.FetchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.FetchJob
	for _, j := range m.jobs {
		if j.OwnerID == ownerID {
			out = append(out, *cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobStore) ListByStatus(_ context.Context, statuses ...model.JobStatus) ([]model.FetchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.FetchJob
	for _, j := range m.jobs {
		for _, s := range statuses {
			if j.Status == s {
				out = append(out, *cloneJob(j))
				break
			}
		}
	}
	return out, nil
}

func (m *memJobStore) Transition(_ context.Context, id string, from []model.JobStatus, to model.JobStatus, at time.Time, errMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, model.NotFound("job", id)
	}
	for _, f := range from {
		if j.Status == f {
			j.Status = to
			if to == model.JobStatusRunning {
				j.StartedAt = &at
			} else if to.Terminal() {
				j.CompletedAt = &at
			}
			if errMsg != "" {
				j.ErrorMessage = errMsg
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *memJobStore) RequestCancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return model.NotFound("job", id)
	}
	j.CancelRequested = true
	return nil
}

func (m *memJobStore) RecordResult(_ context.Context, jobID string, result model.ProviderResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return model.NotFound("job", jobID)
	}
	switch result.Status {
	case model.ProviderStatusSucceeded:
		j.CompletedProviders++
	case model.ProviderStatusFailed:
		j.FailedProviders++
	}
	j.Results[result.ProviderID] = result
	return nil
}

type memProxyStore struct {
	mu      sync.Mutex
	proxies map[string]model.ProxyEntry
}

func newMemProxyStore(entries ...model.ProxyEntry) *memProxyStore {
	m := &memProxyStore{proxies: make(map[string]model.ProxyEntry)}
	for _, p := range entries {
		m.proxies[p.ID] = p
	}
	return m
}

func (m *memProxyStore) Add(_ context.Context, p model.ProxyEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proxies[p.ID] = p
	return nil
}

func (m *memProxyStore) Get(_ context.Context, ownerID, id string) (*model.ProxyEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proxies[id]
	if !ok || p.OwnerID != ownerID {
		return nil, model.NotFound("proxy", id)
	}
	return &p, nil
}

func (m *memProxyStore) Remove(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proxies[id]
	if !ok || p.OwnerID != ownerID {
		return model.NotFound("proxy", id)
	}
	delete(m.proxies, id)
	return nil
}

func (m *memProxyStore) ListByOwner(_ context.Context, ownerID string) ([]model.ProxyEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ProxyEntry
	for _, p := range m.proxies {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memProxyStore) RecordTest(_ context.Context, id string, result model.ProxyTestResult, failThreshold int) (*model.ProxyEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proxies[id]
	if !ok {
		return nil, model.NotFound("proxy", id)
	}
	at := result.TestedAt
	p.LastTestedAt = &at
	if result.Healthy {
		latency := result.LatencyMs
		p.SuccessCount++
		p.ConsecutiveFailures = 0
		p.Healthy = true
		p.LatencyMs = &latency
		p.ExternalIP = result.ExternalIP
	} else {
		p.FailCount++
		p.ConsecutiveFailures++
		if p.ConsecutiveFailures >= failThreshold {
			p.Healthy = false
		}
	}
	m.proxies[id] = p
	return &p, nil
}

func (m *memProxyStore) MarkUsed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proxies[id]
	if !ok {
		return model.NotFound("proxy", id)
	}
	p.LastUsedAt = &at
	m.proxies[id] = p
	return nil
}

type memScheduleStore struct {
	mu        sync.Mutex
	schedules map[string]model.SyncSchedule
}

func newMemScheduleStore() *memScheduleStore {
	return &memScheduleStore{schedules: make(map[string]model.SyncSchedule)}
}

func (m *memScheduleStore) Create(_ context.Context, s model.SyncSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
	return nil
}

func (m *memScheduleStore) Get(_ context.Context, ownerID, id string) (*model.SyncSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok || s.OwnerID != ownerID {
		return nil, model.NotFound("schedule", id)
	}
	return &s, nil
}

func (m *memScheduleStore) ListByOwner(_ context.Context, ownerID string) ([]model.SyncSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SyncSchedule
	for _, s := range m.schedules {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memScheduleStore) Delete(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok || s.OwnerID != ownerID {
		return model.NotFound("schedule", id)
	}
	delete(m.schedules, id)
	return nil
}

func (m *memScheduleStore) SetEnabled(_ context.Context, ownerID, id string, expectedVersion int64, enabled bool, nextRunAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok || s.OwnerID != ownerID {
		return false, model.NotFound("schedule", id)
	}
	if s.ClaimVersion != expectedVersion {
		return false, nil
	}
	s.ClaimVersion++
	s.Enabled = enabled
	s.NextRunAt = nextRunAt
	m.schedules[id] = s
	return true, nil
}

func (m *memScheduleStore) ListDue(_ context.Context, now time.Time) ([]model.SyncSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SyncSchedule
	for _, s := range m.schedules {
		if s.Enabled && !s.NextRunAt.After(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memScheduleStore) Claim(_ context.Context, id string, expectedVersion int64, nextRunAt, claimedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok || !s.Enabled || s.ClaimVersion != expectedVersion {
		return false, nil
	}
	s.ClaimVersion++
	s.NextRunAt = nextRunAt
	s.LastRunAt = &claimedAt
	m.schedules[id] = s
	return true, nil
}

func (m *memScheduleStore) RecordDispatch(_ context.Context, id, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.schedules[id]
	s.TotalRuns++
	s.LastJobID = jobID
	m.schedules[id] = s
	return nil
}

func (m *memScheduleStore) RecordOutcome(_ context.Context, id string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.schedules[id]
	if success {
		s.SuccessfulRuns++
	} else {
		s.FailedRuns++
	}
	m.schedules[id] = s
	return nil
}

func (m *memScheduleStore) get(id string) model.SyncSchedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedules[id]
}

type memWatchStore struct {
	mu      sync.Mutex
	watches map[string]model.CredentialWatch
}

func newMemWatchStore() *memWatchStore {
	return &memWatchStore{watches: make(map[string]model.CredentialWatch)}
}

func (m *memWatchStore) Create(_ context.Context, w model.CredentialWatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watches[w.ID] = w
	return nil
}

func (m *memWatchStore) Get(_ context.Context, ownerID, id string) (*model.CredentialWatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watches[id]
	if !ok || w.OwnerID != ownerID {
		return nil, model.NotFound("watch", id)
	}
	return &w, nil
}

func (m *memWatchStore) ListByOwner(_ context.Context, ownerID string) ([]model.CredentialWatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CredentialWatch
	for _, w := range m.watches {
		if w.OwnerID == ownerID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (m *memWatchStore) ListActive(_ context.Context) ([]model.CredentialWatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CredentialWatch
	for _, w := range m.watches {
		if w.Status == model.WatchStatusActive {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memWatchStore) SetStatus(_ context.Context, ownerID, id string, status model.WatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watches[id]
	if !ok || w.OwnerID != ownerID {
		return model.NotFound("watch", id)
	}
	w.Status = status
	m.watches[id] = w
	return nil
}

func (m *memWatchStore) SetNotifiedState(_ context.Context, id string, state model.WatchState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watches[id]
	if !ok {
		return model.NotFound("watch", id)
	}
	w.LastNotifiedState = state
	m.watches[id] = w
	return nil
}

func (m *memWatchStore) Remove(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watches[id]
	if !ok || w.OwnerID != ownerID {
		return model.NotFound("watch", id)
	}
	delete(m.watches, id)
	return nil
}

// --- Collaborator fakes ---

type attemptFunc func(ctx context.Context, providerID string, login map[string]string, proxy *model.ProxyEntry) ([]model.FetchedCredential, error)

type fakeAutomation struct {
	attempt attemptFunc

	mu    sync.Mutex
	calls map[string]int
	total atomic.Int32
}

func newFakeAutomation(fn attemptFunc) *fakeAutomation {
	return &fakeAutomation{attempt: fn, calls: make(map[string]int)}
}

func (f *fakeAutomation) Attempt(ctx context.Context, providerID string, login map[string]string, proxy *model.ProxyEntry) ([]model.FetchedCredential, error) {
	f.mu.Lock()
	f.calls[providerID]++
	f.mu.Unlock()
	f.total.Add(1)
	return f.attempt(ctx, providerID, login, proxy)
}

func (f *fakeAutomation) callsFor(providerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[providerID]
}

type fakeProber struct {
	result model.ProxyTestResult
	err    error
}

func (f *fakeProber) Probe(_ context.Context, _ model.ProxyEntry) (model.ProxyTestResult, error) {
	return f.result, f.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingNotifier) Send(_ context.Context, e model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingNotifier) kinds() []model.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

// fixedClock returns a settable time source.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}
