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

const tokensTable = "iam.bearer_tokens"

var tokenColumns = []string{
	"id",
	"account_id",
	"variant",
	"name",
	"token_hash",
	"token_prefix",
	"expires_at",
	"valid_from",
	"valid_to",
	"allowed_ips",
	"usage_count",
	"last_used_at",
	"revoked_at",
	"rotated_from_token_id",
	"rotated_by_user_id",
	"created_at",
	"updated_at",
}

// TokenRepository implements port.TokenRepository on iam.bearer_tokens.
type TokenRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.TokenRepository = (*TokenRepository)(nil)

func NewTokenRepository(exec pgExecutor) *TokenRepository {
	return &TokenRepository{exec: exec, builder: newBuilder()}
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *TokenRepository) WithTx(tx pgx.Tx) *TokenRepository {
	if tx == nil {
		return r
	}
	return &TokenRepository{exec: tx, builder: r.builder}
}

func (r *TokenRepository) Create(ctx context.Context, t domain.BearerToken) error {
	var allowedIPs any
	if len(t.AllowedIPs) > 0 {
		allowedIPs = t.AllowedIPs
	}

	stmt, args, err := r.builder.Insert(tokensTable).
		Columns(tokenColumns...).
		Values(
			t.ID,
			t.AccountID,
			string(t.Variant),
			optionalString(t.Name),
			t.TokenHash,
			t.TokenPrefix,
			optionalTime(t.ExpiresAt),
			optionalTime(t.ValidFrom),
			optionalTime(t.ValidTo),
			allowedIPs,
			t.UsageCount,
			optionalTime(t.LastUsedAt),
			optionalTime(t.RevokedAt),
			optionalString(t.RotatedFromTokenID),
			optionalString(t.RotatedByUserID),
			t.CreatedAt.UTC(),
			t.UpdatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (r *TokenRepository) GetByID(ctx context.Context, id string) (*domain.BearerToken, error) {
	return r.selectOne(ctx, r.selectBase().Where(squirrel.Eq{"id": id}))
}

func (r *TokenRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.BearerToken, error) {
	return r.selectOne(ctx, r.selectBase().Where(squirrel.Eq{"id": id}).Suffix("FOR UPDATE"))
}

func (r *TokenRepository) GetByHash(ctx context.Context, hash string) (*domain.BearerToken, error) {
	return r.selectOne(ctx, r.selectBase().Where(squirrel.Eq{"token_hash": hash}).Limit(1))
}

func (r *TokenRepository) SetRotationLineage(ctx context.Context, id string, rotatedFromID string, rotatedBy *string) error {
	stmt, args, err := r.builder.Update(tokensTable).
		Set("rotated_from_token_id", rotatedFromID).
		Set("rotated_by_user_id", optionalString(rotatedBy)).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build token lineage sql: %w", err)
	}

	return r.execAffectingOne(ctx, "set token lineage", stmt, args)
}

// Revoke keeps the first revocation timestamp when called twice.
func (r *TokenRepository) Revoke(ctx context.Context, id string, revokedAt time.Time) error {
	stmt, args, err := r.builder.Update(tokensTable).
		Set("revoked_at", squirrel.Expr("COALESCE(revoked_at, ?)", revokedAt.UTC())).
		Set("updated_at", revokedAt.UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke token sql: %w", err)
	}

	return r.execAffectingOne(ctx, "revoke token", stmt, args)
}

// RecordUsage increments usage_count atomically.
func (r *TokenRepository) RecordUsage(ctx context.Context, id string, usedAt time.Time) error {
	stmt, args, err := r.builder.Update(tokensTable).
		Set("usage_count", squirrel.Expr("usage_count + 1")).
		Set("last_used_at", usedAt.UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build token usage sql: %w", err)
	}

	return r.execAffectingOne(ctx, "record token usage", stmt, args)
}

func (r *TokenRepository) execAffectingOne(ctx context.Context, op, stmt string, args []any) error {
	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *TokenRepository) selectBase() squirrel.SelectBuilder {
	return r.builder.Select(tokenColumns...).From(tokensTable)
}

func (r *TokenRepository) selectOne(ctx context.Context, query squirrel.SelectBuilder) (*domain.BearerToken, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select token sql: %w", err)
	}

	var (
		t           domain.BearerToken
		variant     string
		name        sql.NullString
		expiresAt   sql.NullTime
		validFrom   sql.NullTime
		validTo     sql.NullTime
		allowedIPs  []string
		lastUsedAt  sql.NullTime
		revokedAt   sql.NullTime
		rotatedFrom sql.NullString
		rotatedBy   sql.NullString
	)

	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&t.ID,
		&t.AccountID,
		&variant,
		&name,
		&t.TokenHash,
		&t.TokenPrefix,
		&expiresAt,
		&validFrom,
		&validTo,
		&allowedIPs,
		&t.UsageCount,
		&lastUsedAt,
		&revokedAt,
		&rotatedFrom,
		&rotatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}

	t.Variant = domain.TokenVariant(variant)
	t.Name = nullableStringPtr(name)
	t.ExpiresAt = nullableTimePtr(expiresAt)
	t.ValidFrom = nullableTimePtr(validFrom)
	t.ValidTo = nullableTimePtr(validTo)
	if len(allowedIPs) > 0 {
		t.AllowedIPs = allowedIPs
	}
	t.LastUsedAt = nullableTimePtr(lastUsedAt)
	t.RevokedAt = nullableTimePtr(revokedAt)
	t.RotatedFromTokenID = nullableStringPtr(rotatedFrom)
	t.RotatedByUserID = nullableStringPtr(rotatedBy)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()

	return &t, nil
}
