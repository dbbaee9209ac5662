package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/arklim/passwordless-auth/internal/core/port"
)

type txBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Transactor implements port.Transactor with pgx transactions.
type Transactor struct {
	db       txBeginner
	counters *RateLimitRepository
	logger   *zap.Logger
}

var _ port.Transactor = (*Transactor)(nil)

func NewTransactor(db txBeginner, counters *RateLimitRepository, log *zap.Logger) *Transactor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transactor{db: db, counters: counters, logger: log}
}

type txScope struct {
	challenges *ChallengeRepository
	tokens     *TokenRepository
	accounts   *AccountRepository
	counters   *RateLimitRepository
	hooks      []func(ctx context.Context)
}

func (s *txScope) Challenges() port.ChallengeRepository { return s.challenges }

func (s *txScope) Tokens() port.TokenRepository { return s.tokens }

func (s *txScope) Accounts() port.AccountRepository { return s.accounts }

func (s *txScope) Counters() port.RateLimiter { return s.counters }

func (s *txScope) AfterCommit(fn func(ctx context.Context)) {
	if fn != nil {
		s.hooks = append(s.hooks, fn)
	}
}

// WithinTx commits when fn returns nil and then runs the after-commit hooks
// with a context detached from ctx's cancellation.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.TxScope) error) (err error) {
	tx, err := t.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				t.logger.Warn("rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	counters := t.counters
	if counters == nil {
		counters = NewRateLimitRepository(tx)
	}
	scope := &txScope{
		challenges: NewChallengeRepository(tx),
		tokens:     NewTokenRepository(tx),
		accounts:   NewAccountRepository(tx),
		counters:   counters.WithTx(tx),
	}

	if err = fn(ctx, scope); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	hookCtx := context.WithoutCancel(ctx)
	for _, hook := range scope.hooks {
		hook(hookCtx)
	}
	return nil
}
