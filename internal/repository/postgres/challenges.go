package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/core/port"
	"github.com/arklim/passwordless-auth/internal/repository"
)

const challengesTable = "iam.login_challenges"

var challengeColumns = []string{
	"id",
	"email",
	"code_hash",
	"attempts",
	"locked_until",
	"expires_at",
	"email_sent_at",
	"consumed_at",
	"requested_ip",
	"requested_user_agent",
	"consumed_ip",
	"consumed_user_agent",
	"created_at",
	"updated_at",
}

// ChallengeRepository implements port.ChallengeRepository on iam.login_challenges.
type ChallengeRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.ChallengeRepository = (*ChallengeRepository)(nil)

func NewChallengeRepository(exec pgExecutor) *ChallengeRepository {
	return &ChallengeRepository{exec: exec, builder: newBuilder()}
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *ChallengeRepository) WithTx(tx pgx.Tx) *ChallengeRepository {
	if tx == nil {
		return r
	}
	return &ChallengeRepository{exec: tx, builder: r.builder}
}

func (r *ChallengeRepository) Create(ctx context.Context, c domain.LoginChallenge) error {
	stmt, args, err := r.builder.Insert(challengesTable).
		Columns(challengeColumns...).
		Values(
			c.ID,
			c.Email,
			c.CodeHash,
			c.Attempts,
			optionalTime(c.LockedUntil),
			c.ExpiresAt.UTC(),
			optionalTime(c.EmailSentAt),
			optionalTime(c.ConsumedAt),
			optionalString(c.RequestedIP),
			optionalString(c.RequestedUserAgent),
			optionalString(c.ConsumedIP),
			optionalString(c.ConsumedUserAgent),
			c.CreatedAt.UTC(),
			c.UpdatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert challenge sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

func (r *ChallengeRepository) GetByID(ctx context.Context, id string) (*domain.LoginChallenge, error) {
	return r.selectOne(ctx, r.selectBase().Where(squirrel.Eq{"id": id}))
}

func (r *ChallengeRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.LoginChallenge, error) {
	return r.selectOne(ctx, r.selectBase().Where(squirrel.Eq{"id": id}).Suffix("FOR UPDATE"))
}

// LatestForEmail returns the most recently issued challenge for the email.
func (r *ChallengeRepository) LatestForEmail(ctx context.Context, email string) (*domain.LoginChallenge, error) {
	return r.selectOne(ctx, r.selectBase().
		Where(squirrel.Eq{"email": email}).
		OrderBy("created_at DESC").
		Limit(1))
}

func (r *ChallengeRepository) MarkEmailSent(ctx context.Context, id string, sentAt time.Time) error {
	stmt, args, err := r.builder.Update(challengesTable).
		Set("email_sent_at", sentAt.UTC()).
		Set("updated_at", sentAt.UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark email sent sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark challenge email sent: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateVerificationState writes the fields the verifier mutates.
func (r *ChallengeRepository) UpdateVerificationState(ctx context.Context, c domain.LoginChallenge) error {
	stmt, args, err := r.builder.Update(challengesTable).
		Set("attempts", c.Attempts).
		Set("locked_until", optionalTime(c.LockedUntil)).
		Set("consumed_at", optionalTime(c.ConsumedAt)).
		Set("consumed_ip", optionalString(c.ConsumedIP)).
		Set("consumed_user_agent", optionalString(c.ConsumedUserAgent)).
		Set("updated_at", c.UpdatedAt.UTC()).
		Where(squirrel.Eq{"id": c.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update challenge sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update challenge: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteCreatedBefore prunes challenges older than cutoff and reports how many rows went.
func (r *ChallengeRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	stmt, args, err := r.builder.Delete(challengesTable).
		Where(squirrel.Lt{"created_at": cutoff.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build prune challenges sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("prune challenges: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (r *ChallengeRepository) selectBase() squirrel.SelectBuilder {
	return r.builder.Select(challengeColumns...).From(challengesTable)
}

func (r *ChallengeRepository) selectOne(ctx context.Context, query squirrel.SelectBuilder) (*domain.LoginChallenge, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select challenge sql: %w", err)
	}

	var (
		c                  domain.LoginChallenge
		lockedUntil        sql.NullTime
		emailSentAt        sql.NullTime
		consumedAt         sql.NullTime
		requestedIP        sql.NullString
		requestedUserAgent sql.NullString
		consumedIP         sql.NullString
		consumedUserAgent  sql.NullString
	)

	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&c.ID,
		&c.Email,
		&c.CodeHash,
		&c.Attempts,
		&lockedUntil,
		&c.ExpiresAt,
		&emailSentAt,
		&consumedAt,
		&requestedIP,
		&requestedUserAgent,
		&consumedIP,
		&consumedUserAgent,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan challenge: %w", err)
	}

	c.ExpiresAt = c.ExpiresAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.LockedUntil = nullableTimePtr(lockedUntil)
	c.EmailSentAt = nullableTimePtr(emailSentAt)
	c.ConsumedAt = nullableTimePtr(consumedAt)
	c.RequestedIP = nullableStringPtr(requestedIP)
	c.RequestedUserAgent = nullableStringPtr(requestedUserAgent)
	c.ConsumedIP = nullableStringPtr(consumedIP)
	c.ConsumedUserAgent = nullableStringPtr(consumedUserAgent)

	return &c, nil
}
