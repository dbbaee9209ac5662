package port

import "context"

// TxScope exposes repositories bound to a single database transaction.
type TxScope interface {
	Challenges() ChallengeRepository
	Tokens() TokenRepository
	Accounts() AccountRepository
	Counters() RateLimiter
	// AfterCommit registers fn to run once the transaction has committed. It never runs on rollback.
	AfterCommit(fn func(ctx context.Context))
}

// Transactor runs fn inside a transaction, committing when fn returns nil and rolling back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxScope) error) error
}
