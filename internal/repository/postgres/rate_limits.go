package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/passwordless-auth/internal/core/port"
)

const rateLimitsTable = "iam.rate_limits"

// RateLimitRepository is a fixed-window counter stored in iam.rate_limits.
// Used inside a transaction it commits or rolls back with the surrounding writes.
type RateLimitRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

var _ port.RateLimiter = (*RateLimitRepository)(nil)

func NewRateLimitRepository(exec pgExecutor) *RateLimitRepository {
	return &RateLimitRepository{
		exec:    exec,
		builder: newBuilder(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock for deterministic tests.
func (r *RateLimitRepository) WithClock(clock func() time.Time) *RateLimitRepository {
	if clock != nil {
		r.now = clock
	}
	return r
}

func (r *RateLimitRepository) WithTx(tx pgx.Tx) *RateLimitRepository {
	if tx == nil {
		return r
	}
	return &RateLimitRepository{exec: tx, builder: r.builder, now: r.now}
}

// Hit opens a new window when the previous one has elapsed.
func (r *RateLimitRepository) Hit(ctx context.Context, key string, ttl time.Duration) (int, error) {
	now := r.now().UTC()
	expiresAt := now.Add(ttl)

	stmt, args, err := r.builder.Insert(rateLimitsTable).
		Columns("key", "hits", "expires_at").
		Values(key, 1, expiresAt).
		Suffix(`ON CONFLICT (key) DO UPDATE SET
			hits = CASE WHEN rate_limits.expires_at <= ? THEN 1 ELSE rate_limits.hits + 1 END,
			expires_at = CASE WHEN rate_limits.expires_at <= ? THEN EXCLUDED.expires_at ELSE rate_limits.expires_at END
			RETURNING hits`, now, now).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build rate limit hit sql: %w", err)
	}

	var hits int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&hits); err != nil {
		return 0, fmt.Errorf("rate limit hit: %w", err)
	}
	return hits, nil
}

// TooManyAttempts takes a transaction-scoped advisory lock on key, then reads
// the counter with FOR UPDATE, so concurrent issuers for one key serialize.
func (r *RateLimitRepository) TooManyAttempts(ctx context.Context, key string, maxAttempts int) (bool, error) {
	if _, err := r.exec.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key); err != nil {
		return false, fmt.Errorf("lock rate limit key: %w", err)
	}

	hits, expiresAt, err := r.read(ctx, key, true)
	if err != nil {
		return false, err
	}
	if expiresAt == nil || !expiresAt.After(r.now()) {
		return false, nil
	}
	return hits >= maxAttempts, nil
}

func (r *RateLimitRepository) AvailableIn(ctx context.Context, key string) (time.Duration, error) {
	_, expiresAt, err := r.read(ctx, key, false)
	if err != nil {
		return 0, err
	}
	if expiresAt == nil {
		return 0, nil
	}
	if remaining := expiresAt.Sub(r.now()); remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

func (r *RateLimitRepository) read(ctx context.Context, key string, forUpdate bool) (int, *time.Time, error) {
	query := r.builder.Select("hits", "expires_at").
		From(rateLimitsTable).
		Where(squirrel.Eq{"key": key})
	if forUpdate {
		query = query.Suffix("FOR UPDATE")
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return 0, nil, fmt.Errorf("build rate limit select sql: %w", err)
	}

	var (
		hits      int
		expiresAt sql.NullTime
	)
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&hits, &expiresAt); err != nil {
		if isNoRows(err) {
			return 0, nil, nil
		}
		return 0, nil, fmt.Errorf("select rate limit: %w", err)
	}
	return hits, nullableTimePtr(expiresAt), nil
}
