package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Challenges *ChallengeRepository
	Tokens     *TokenRepository
	Accounts   *AccountRepository
	Counters   *RateLimitRepository
	Transactor *Transactor
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool, log *zap.Logger) *Repositories {
	counters := NewRateLimitRepository(pool)
	return &Repositories{
		Challenges: NewChallengeRepository(pool),
		Tokens:     NewTokenRepository(pool),
		Accounts:   NewAccountRepository(pool),
		Counters:   counters,
		Transactor: NewTransactor(pool, counters, log),
	}
}
