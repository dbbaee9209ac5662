package postgres

import (
	"context"
	"fmt"
	"strings"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/core/port"
	"github.com/arklim/passwordless-auth/internal/repository"
)

// AccountRepository reads accounts owned by the host application.
type AccountRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.AccountRepository = (*AccountRepository)(nil)

func NewAccountRepository(exec pgExecutor) *AccountRepository {
	return &AccountRepository{exec: exec, builder: newBuilder()}
}

func (r *AccountRepository) WithTx(tx pgx.Tx) *AccountRepository {
	if tx == nil {
		return r
	}
	return &AccountRepository{exec: tx, builder: r.builder}
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.selectOne(ctx, squirrel.Eq{"id": id})
}

// GetByEmail matches case-insensitively.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.selectOne(ctx, squirrel.Expr("lower(email) = ?", strings.ToLower(strings.TrimSpace(email))))
}

func (r *AccountRepository) selectOne(ctx context.Context, where squirrel.Sqlizer) (*domain.Account, error) {
	stmt, args, err := r.builder.Select("id", "email", "name", "account_type", "is_active", "created_at").
		From("iam.accounts").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	var (
		account     domain.Account
		accountType string
	)
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&account.ID,
		&account.Email,
		&account.Name,
		&accountType,
		&account.IsActive,
		&account.CreatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	account.Type = domain.AccountType(accountType)
	account.CreatedAt = account.CreatedAt.UTC()
	return &account, nil
}
