package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

func seedProxy(t *testing.T, repo *ProxyRepo, ownerID, id string) model.ProxyEntry {
	t.Helper()

	p := model.ProxyEntry{
		ID:        id,
		OwnerID:   ownerID,
		Protocol:  model.ProxyHTTP,
		Host:      "10.0.0.5",
		Port:      8080,
		Username:  "u",
		Password:  "p",
		Type:      model.ProxyResidential,
		Healthy:   true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Add(context.Background(), p))
	return p
}

func TestProxyRepo_AddGetRemove(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProxyRepo(db)
	ctx := context.Background()

	seedProxy(t, repo, "owner-1", "px-1")

	got, err := repo.Get(ctx, "owner-1", "px-1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:8080", got.Address())
	assert.Equal(t, "p", got.Password)
	assert.Nil(t, got.LatencyMs)
	assert.True(t, got.Healthy)

	_, err = repo.Get(ctx, "owner-2", "px-1")
	assert.True(t, model.IsNotFound(err))

	require.NoError(t, repo.Remove(ctx, "owner-1", "px-1"))
	assert.True(t, model.IsNotFound(repo.Remove(ctx, "owner-1", "px-1")))
}

func TestProxyRepo_RecordTestThreshold(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProxyRepo(db)
	ctx := context.Background()

	seedProxy(t, repo, "owner-1", "px-1")
	fail := model.ProxyTestResult{Healthy: false, Error: "timeout", TestedAt: time.Now()}

	p, err := repo.RecordTest(ctx, "px-1", fail, 3)
	require.NoError(t, err)
	assert.True(t, p.Healthy)
	p, err = repo.RecordTest(ctx, "px-1", fail, 3)
	require.NoError(t, err)
	assert.True(t, p.Healthy)

	p, err = repo.RecordTest(ctx, "px-1", fail, 3)
	require.NoError(t, err)
	assert.False(t, p.Healthy)
	assert.Equal(t, 3, p.FailCount)
	assert.Equal(t, 3, p.ConsecutiveFailures)

	pass := model.ProxyTestResult{Healthy: true, ExternalIP: "203.0.113.7", Country: "US", City: "Austin", LatencyMs: 120, TestedAt: time.Now()}
	p, err = repo.RecordTest(ctx, "px-1", pass, 3)
	require.NoError(t, err)
	assert.True(t, p.Healthy)
	assert.Equal(t, 0, p.ConsecutiveFailures)
	assert.Equal(t, 1, p.SuccessCount)
	require.NotNil(t, p.LatencyMs)
	assert.Equal(t, 120, *p.LatencyMs)
	assert.Equal(t, "US", p.Country)
	assert.Equal(t, "203.0.113.7", p.ExternalIP)
	assert.NotNil(t, p.LastTestedAt)
}

func TestProxyRepo_ConcurrentFailuresCountedExactly(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProxyRepo(db)
	ctx := context.Background()

	seedProxy(t, repo, "owner-1", "px-1")
	fail := model.ProxyTestResult{Healthy: false, TestedAt: time.Now()}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.RecordTest(ctx, "px-1", fail, 3)
		}()
	}
	wg.Wait()

	p, err := repo.Get(ctx, "owner-1", "px-1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.FailCount)
	assert.Equal(t, 10, p.ConsecutiveFailures)
	assert.False(t, p.Healthy)
}

func TestProxyRepo_MarkUsed(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProxyRepo(db)
	ctx := context.Background()

	seedProxy(t, repo, "owner-1", "px-1")
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkUsed(ctx, "px-1", at))

	proxies, err := repo.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, proxies, 1)
	require.NotNil(t, proxies[0].LastUsedAt)
	assert.True(t, at.Equal(*proxies[0].LastUsedAt))
}
