package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/core/port"
	"github.com/arklim/passwordless-auth/internal/repository"
)

// testClock is a settable clock shared by services and fakes.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memoryCounter struct {
	hits      int
	expiresAt time.Time
}

// memoryDB holds every table in maps. WithinTx holds the mutex for the whole
// transaction, which stands in for row locks, and restores a snapshot on error.
type memoryDB struct {
	mu         sync.Mutex
	clock      *testClock
	challenges map[string]domain.LoginChallenge
	tokens     map[string]domain.BearerToken
	accounts   map[string]domain.Account
	counters   map[string]memoryCounter
	commits    int
	rollbacks  int

	createChallengeErr error
	revokeTokenErr     error
	recordUsageErr     error
}

var _ port.Transactor = (*memoryDB)(nil)

func newMemoryDB(clock *testClock) *memoryDB {
	return &memoryDB{
		clock:      clock,
		challenges: map[string]domain.LoginChallenge{},
		tokens:     map[string]domain.BearerToken{},
		accounts:   map[string]domain.Account{},
		counters:   map[string]memoryCounter{},
	}
}

func (db *memoryDB) addAccount(account domain.Account) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.accounts[account.ID] = account
}

func (db *memoryDB) challenge(id string) domain.LoginChallenge {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.challenges[id]
}

func (db *memoryDB) token(id string) domain.BearerToken {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tokens[id]
}

func (db *memoryDB) challengeCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.challenges)
}

func (db *memoryDB) tokenCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.tokens)
}

func (db *memoryDB) counterHits(key string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.counters[key].hits
}

type memorySnapshot struct {
	challenges map[string]domain.LoginChallenge
	tokens     map[string]domain.BearerToken
	counters   map[string]memoryCounter
}

func (db *memoryDB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.TxScope) error) error {
	db.mu.Lock()
	snapshot := memorySnapshot{
		challenges: maps.Clone(db.challenges),
		tokens:     maps.Clone(db.tokens),
		counters:   maps.Clone(db.counters),
	}

	scope := &memoryScope{db: db}
	if err := fn(ctx, scope); err != nil {
		db.challenges = snapshot.challenges
		db.tokens = snapshot.tokens
		db.counters = snapshot.counters
		db.rollbacks++
		db.mu.Unlock()
		return err
	}
	db.commits++
	db.mu.Unlock()

	for _, hook := range scope.hooks {
		hook(context.WithoutCancel(ctx))
	}
	return nil
}

// run executes fn under the mutex unless the caller already holds it inside a transaction.
func (db *memoryDB) run(inTx bool, fn func()) {
	if !inTx {
		db.mu.Lock()
		defer db.mu.Unlock()
	}
	fn()
}

type memoryScope struct {
	db    *memoryDB
	hooks []func(ctx context.Context)
}

func (s *memoryScope) Challenges() port.ChallengeRepository {
	return &memoryChallenges{db: s.db, inTx: true}
}

func (s *memoryScope) Tokens() port.TokenRepository { return &memoryTokens{db: s.db, inTx: true} }

func (s *memoryScope) Accounts() port.AccountRepository {
	return &memoryAccounts{db: s.db, inTx: true}
}

func (s *memoryScope) Counters() port.RateLimiter { return &memoryCounters{db: s.db, inTx: true} }

func (s *memoryScope) AfterCommit(fn func(ctx context.Context)) {
	s.hooks = append(s.hooks, fn)
}

type memoryChallenges struct {
	db   *memoryDB
	inTx bool
}

func (r *memoryChallenges) Create(_ context.Context, c domain.LoginChallenge) (err error) {
	r.db.run(r.inTx, func() {
		if r.db.createChallengeErr != nil {
			err = r.db.createChallengeErr
			return
		}
		r.db.challenges[c.ID] = c
	})
	return err
}

func (r *memoryChallenges) GetByID(_ context.Context, id string) (c *domain.LoginChallenge, err error) {
	r.db.run(r.inTx, func() {
		stored, ok := r.db.challenges[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		c = &stored
	})
	return c, err
}

func (r *memoryChallenges) GetByIDForUpdate(ctx context.Context, id string) (*domain.LoginChallenge, error) {
	return r.GetByID(ctx, id)
}

func (r *memoryChallenges) LatestForEmail(_ context.Context, email string) (c *domain.LoginChallenge, err error) {
	r.db.run(r.inTx, func() {
		var matches []domain.LoginChallenge
		for _, stored := range r.db.challenges {
			if stored.Email == email {
				matches = append(matches, stored)
			}
		}
		if len(matches) == 0 {
			err = repository.ErrNotFound
			return
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
		c = &matches[0]
	})
	return c, err
}

func (r *memoryChallenges) MarkEmailSent(_ context.Context, id string, sentAt time.Time) (err error) {
	r.db.run(r.inTx, func() {
		stored, ok := r.db.challenges[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		stored.EmailSentAt = &sentAt
		r.db.challenges[id] = stored
	})
	return err
}

func (r *memoryChallenges) UpdateVerificationState(_ context.Context, c domain.LoginChallenge) (err error) {
	r.db.run(r.inTx, func() {
		stored, ok := r.db.challenges[c.ID]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		stored.Attempts = c.Attempts
		stored.LockedUntil = c.LockedUntil
		stored.ConsumedAt = c.ConsumedAt
		stored.ConsumedIP = c.ConsumedIP
		stored.ConsumedUserAgent = c.ConsumedUserAgent
		stored.UpdatedAt = c.UpdatedAt
		r.db.challenges[c.ID] = stored
	})
	return err
}

func (r *memoryChallenges) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (deleted int64, err error) {
	r.db.run(r.inTx, func() {
		for id, stored := range r.db.challenges {
			if stored.CreatedAt.Before(cutoff) {
				delete(r.db.challenges, id)
				deleted++
			}
		}
	})
	return deleted, nil
}

type memoryTokens struct {
	db   *memoryDB
	inTx bool
}

func (r *memoryTokens) Create(_ context.Context, t domain.BearerToken) error {
	r.db.run(r.inTx, func() { r.db.tokens[t.ID] = t })
	return nil
}

func (r *memoryTokens) GetByID(_ context.Context, id string) (t *domain.BearerToken, err error) {
	r.db.run(r.inTx, func() {
		stored, ok := r.db.tokens[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		t = &stored
	})
	return t, err
}

func (r *memoryTokens) GetByIDForUpdate(ctx context.Context, id string) (*domain.BearerToken, error) {
	return r.GetByID(ctx, id)
}

func (r *memoryTokens) GetByHash(_ context.Context, hash string) (t *domain.BearerToken, err error) {
	r.db.run(r.inTx, func() {
		for _, stored := range r.db.tokens {
			if stored.TokenHash == hash {
				copied := stored
				t = &copied
				return
			}
		}
		err = repository.ErrNotFound
	})
	return t, err
}

func (r *memoryTokens) SetRotationLineage(_ context.Context, id string, rotatedFromID string, rotatedBy *string) (err error) {
	r.db.run(r.inTx, func() {
		stored, ok := r.db.tokens[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		stored.RotatedFromTokenID = &rotatedFromID
		stored.RotatedByUserID = rotatedBy
		r.db.tokens[id] = stored
	})
	return err
}

func (r *memoryTokens) Revoke(_ context.Context, id string, revokedAt time.Time) (err error) {
	r.db.run(r.inTx, func() {
		if r.db.revokeTokenErr != nil {
			err = r.db.revokeTokenErr
			return
		}
		stored, ok := r.db.tokens[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		if stored.RevokedAt == nil {
			stored.RevokedAt = &revokedAt
		}
		r.db.tokens[id] = stored
	})
	return err
}

func (r *memoryTokens) RecordUsage(_ context.Context, id string, usedAt time.Time) (err error) {
	r.db.run(r.inTx, func() {
		if r.db.recordUsageErr != nil {
			err = r.db.recordUsageErr
			return
		}
		stored, ok := r.db.tokens[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		stored.UsageCount++
		stored.LastUsedAt = &usedAt
		r.db.tokens[id] = stored
	})
	return err
}

type memoryAccounts struct {
	db   *memoryDB
	inTx bool
}

func (r *memoryAccounts) GetByID(_ context.Context, id string) (a *domain.Account, err error) {
	r.db.run(r.inTx, func() {
		stored, ok := r.db.accounts[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		a = &stored
	})
	return a, err
}

func (r *memoryAccounts) GetByEmail(_ context.Context, email string) (a *domain.Account, err error) {
	r.db.run(r.inTx, func() {
		for _, stored := range r.db.accounts {
			if strings.EqualFold(stored.Email, email) {
				copied := stored
				a = &copied
				return
			}
		}
		err = repository.ErrNotFound
	})
	return a, err
}

// memoryCounters is a fixed-window limiter over the shared clock.
type memoryCounters struct {
	db   *memoryDB
	inTx bool
}

func (r *memoryCounters) live(key string) (memoryCounter, bool) {
	counter, ok := r.db.counters[key]
	if !ok || !r.db.clock.Now().Before(counter.expiresAt) {
		return memoryCounter{}, false
	}
	return counter, true
}

func (r *memoryCounters) Hit(_ context.Context, key string, ttl time.Duration) (hits int, err error) {
	r.db.run(r.inTx, func() {
		counter, ok := r.live(key)
		if !ok {
			counter = memoryCounter{expiresAt: r.db.clock.Now().Add(ttl)}
		}
		counter.hits++
		r.db.counters[key] = counter
		hits = counter.hits
	})
	return hits, nil
}

func (r *memoryCounters) TooManyAttempts(_ context.Context, key string, maxAttempts int) (limited bool, err error) {
	r.db.run(r.inTx, func() {
		counter, ok := r.live(key)
		limited = ok && counter.hits >= maxAttempts
	})
	return limited, nil
}

func (r *memoryCounters) AvailableIn(_ context.Context, key string) (remaining time.Duration, err error) {
	r.db.run(r.inTx, func() {
		if counter, ok := r.live(key); ok {
			remaining = counter.expiresAt.Sub(r.db.clock.Now())
		}
	})
	return remaining, nil
}

// fixedCodes returns the queued codes in order, repeating the last one.
type fixedCodes struct {
	codes []string
	calls int
}

func (g *fixedCodes) Generate(digits int) (string, error) {
	code := g.codes[len(g.codes)-1]
	if g.calls < len(g.codes) {
		code = g.codes[g.calls]
	}
	g.calls++
	if len(code) != digits {
		return "", errors.New("fixed code length does not match digits")
	}
	return code, nil
}

// plainHasher tags codes instead of hashing them so tests can assert the stored value.
type plainHasher struct{}

func (plainHasher) Hash(secret string) (string, error) {
	return "hashed:" + secret, nil
}

func (plainHasher) Verify(secret, encoded string) (bool, error) {
	return subtle.ConstantTimeCompare([]byte("hashed:"+secret), []byte(encoded)) == 1, nil
}

type tagCipher struct{}

func (tagCipher) Encrypt(plaintext string) (string, error) {
	return "sealed:" + plaintext, nil
}

func (tagCipher) Decrypt(ciphertext string) (string, error) {
	return strings.TrimPrefix(ciphertext, "sealed:"), nil
}

type recordingMail struct {
	mu        sync.Mutex
	loginCode []domain.LoginCodeMail
	rotations []domain.TokenRotationMail
	err       error
}

func (m *recordingMail) EnqueueLoginCode(_ context.Context, mail domain.LoginCodeMail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.loginCode = append(m.loginCode, mail)
	return nil
}

func (m *recordingMail) EnqueueTokenRotation(_ context.Context, mail domain.TokenRotationMail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rotations = append(m.rotations, mail)
	return nil
}

type recordingMetrics struct {
	mu                sync.Mutex
	challengesIssued  int
	verifications     map[string]int
	rateLimited       map[string]int
	tokenAuthFailures map[string]int
	tokensIssued      map[string]int
	tokensRotated     int
	mailFailures      map[string]int
	challengesPruned  int64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		verifications:     map[string]int{},
		rateLimited:       map[string]int{},
		tokenAuthFailures: map[string]int{},
		tokensIssued:      map[string]int{},
		mailFailures:      map[string]int{},
	}
}

func (m *recordingMetrics) IncChallengeIssued() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challengesIssued++
}

func (m *recordingMetrics) IncVerification(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[outcome]++
}

func (m *recordingMetrics) IncRateLimited(scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited[scope]++
}

func (m *recordingMetrics) IncTokenAuthFailure(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenAuthFailures[reason]++
}

func (m *recordingMetrics) IncTokenIssued(variant string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokensIssued[variant]++
}

func (m *recordingMetrics) IncTokenRotated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokensRotated++
}

func (m *recordingMetrics) IncMailEnqueueFailure(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mailFailures[kind]++
}

func (m *recordingMetrics) AddChallengesPruned(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challengesPruned += count
}
