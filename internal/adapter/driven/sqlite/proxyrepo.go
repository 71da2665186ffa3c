package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProxyStore = (*ProxyRepo)(nil)

// ProxyRepo is the SQLite implementation of the ProxyStore port interface.
type ProxyRepo struct {
	db *DB
}

// NewProxyRepo creates a new ProxyRepo backed by the given DB.
func NewProxyRepo(db *DB) *ProxyRepo {
	return &ProxyRepo{db: db}
}

const proxyColumns = `id, owner_id, label, protocol, host, port, username, password, proxy_type,
	country, city, healthy, latency_ms, success_count, fail_count, consecutive_failures,
	external_ip, last_tested_at, last_used_at, created_at`

// Add inserts a new proxy.
func (r *ProxyRepo) Add(ctx context.Context, p model.ProxyEntry) error {
	const query = `INSERT INTO proxies
		(id, owner_id, label, protocol, host, port, username, password, proxy_type, country, city, healthy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Writer.ExecContext(ctx, query,
		p.ID, p.OwnerID, p.Label, string(p.Protocol), p.Host, p.Port, p.Username, p.Password,
		string(p.Type), p.Country, p.City, boolToInt(p.Healthy), formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("add proxy %s: %w", p.Address(), err)
	}
	return nil
}

// Get returns a proxy owned by ownerID.
func (r *ProxyRepo) Get(ctx context.Context, ownerID, id string) (*model.ProxyEntry, error) {
	const query = `SELECT ` + proxyColumns + ` FROM proxies WHERE id = ? AND owner_id = ?`

	p, err := scanProxy(r.db.Reader.QueryRowContext(ctx, query, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("proxy", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get proxy %q: %w", id, err)
	}
	return p, nil
}

// Remove deletes a proxy owned by ownerID.
func (r *ProxyRepo) Remove(ctx context.Context, ownerID, id string) error {
	const query = `DELETE FROM proxies WHERE id = ? AND owner_id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("remove proxy %q: %w", id, err)
	}
	return checkAffected(result, model.NotFound("proxy", id))
}

// ListByOwner returns an owner's proxies in insertion order.
func (r *ProxyRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.ProxyEntry, error) {
	const query = `SELECT ` + proxyColumns + ` FROM proxies WHERE owner_id = ? ORDER BY created_at, id`

	rows, err := r.db.Reader.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	defer rows.Close()

	var proxies []model.ProxyEntry
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proxy: %w", err)
		}
		proxies = append(proxies, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proxies: %w", err)
	}
	return proxies, nil
}

// RecordTest applies a probe outcome with a single UPDATE. SQLite evaluates
// every right-hand side against the pre-update row, so the threshold compare
// sees the incremented counter without a read-modify-write race.
func (r *ProxyRepo) RecordTest(ctx context.Context, id string, result model.ProxyTestResult, failThreshold int) (*model.ProxyEntry, error) {
	const success = `UPDATE proxies SET
			success_count = success_count + 1,
			consecutive_failures = 0,
			healthy = 1,
			latency_ms = ?,
			external_ip = ?,
			country = CASE WHEN ? <> '' THEN ? ELSE country END,
			city = CASE WHEN ? <> '' THEN ? ELSE city END,
			last_tested_at = ?
		WHERE id = ?`
	const failure = `UPDATE proxies SET
			fail_count = fail_count + 1,
			consecutive_failures = consecutive_failures + 1,
			healthy = CASE WHEN consecutive_failures + 1 >= ? THEN 0 ELSE healthy END,
			last_tested_at = ?
		WHERE id = ?`

	testedAt := formatTime(result.TestedAt)

	var res sql.Result
	var err error
	if result.Healthy {
		res, err = r.db.Writer.ExecContext(ctx, success,
			result.LatencyMs, result.ExternalIP,
			result.Country, result.Country, result.City, result.City,
			testedAt, id,
		)
	} else {
		res, err = r.db.Writer.ExecContext(ctx, failure, failThreshold, testedAt, id)
	}
	if err != nil {
		return nil, fmt.Errorf("record test for proxy %q: %w", id, err)
	}
	if err := checkAffected(res, model.NotFound("proxy", id)); err != nil {
		return nil, err
	}

	const query = `SELECT ` + proxyColumns + ` FROM proxies WHERE id = ?`
	p, err := scanProxy(r.db.Writer.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("reload proxy %q: %w", id, err)
	}
	return p, nil
}

// MarkUsed stamps last_used_at.
func (r *ProxyRepo) MarkUsed(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE proxies SET last_used_at = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark proxy %q used: %w", id, err)
	}
	return checkAffected(result, model.NotFound("proxy", id))
}

func scanProxy(s scanner) (*model.ProxyEntry, error) {
	var p model.ProxyEntry
	var protocol, proxyType, createdAt string
	var healthy int
	var latency sql.NullInt64
	var lastTested, lastUsed sql.NullString

	err := s.Scan(
		&p.ID, &p.OwnerID, &p.Label, &protocol, &p.Host, &p.Port, &p.Username, &p.Password, &proxyType,
		&p.Country, &p.City, &healthy, &latency, &p.SuccessCount, &p.FailCount, &p.ConsecutiveFailures,
		&p.ExternalIP, &lastTested, &lastUsed, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	p.Protocol = model.ProxyProtocol(protocol)
	p.Type = model.ProxyType(proxyType)
	p.Healthy = healthy == 1
	if latency.Valid {
		ms := int(latency.Int64)
		p.LatencyMs = &ms
	}
	if p.LastTestedAt, err = parseNullTime(lastTested); err != nil {
		return nil, fmt.Errorf("parse last_tested_at: %w", err)
	}
	if p.LastUsedAt, err = parseNullTime(lastUsed); err != nil {
		return nil, fmt.Errorf("parse last_used_at: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &p, nil
}
