package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/passwordless-auth/internal/infra/config"
)

func testChallengeSettings() config.ChallengeSettings {
	return config.ChallengeSettings{
		CodeDigits:       6,
		TTL:              10 * time.Minute,
		MaxAttempts:      3,
		LockDuration:     15 * time.Minute,
		RateLimitPerHour: 3,
		ResendCooldown:   time.Minute,
		Retention:        24 * time.Hour,
		PruneInterval:    time.Hour,
	}
}

type issuerFixture struct {
	clock   *testClock
	db      *memoryDB
	codes   *fixedCodes
	mail    *recordingMail
	metrics *recordingMetrics
	issuer  *ChallengeIssuer
}

func newIssuerFixture(t *testing.T, codes ...string) *issuerFixture {
	t.Helper()
	if len(codes) == 0 {
		codes = []string{"482913"}
	}

	f := &issuerFixture{
		clock:   newTestClock(),
		codes:   &fixedCodes{codes: codes},
		mail:    &recordingMail{},
		metrics: newRecordingMetrics(),
	}
	f.db = newMemoryDB(f.clock)
	f.issuer = NewChallengeIssuer(testChallengeSettings(), f.db, f.codes, plainHasher{}, tagCipher{}, f.mail, f.metrics, zaptest.NewLogger(t))
	f.issuer.WithClock(f.clock.Now)
	return f
}

func TestChallengeIssuerPersistsHashedChallengeAndQueuesEncryptedCode(t *testing.T) {
	f := newIssuerFixture(t)
	now := f.clock.Now()

	issued, err := f.issuer.Issue(context.Background(), IssueChallengeInput{
		Email:     "  User@Example.EDU ",
		IP:        "203.0.113.7",
		UserAgent: "curl/8.0",
	})
	require.NoError(t, err)
	require.Equal(t, "user@example.edu", issued.Email)
	require.Equal(t, now.Add(10*time.Minute), issued.ExpiresAt)

	stored := f.db.challenge(issued.ChallengeID)
	require.Equal(t, "user@example.edu", stored.Email)
	require.Equal(t, "hashed:482913", stored.CodeHash)
	require.NotContains(t, stored.CodeHash, "sealed:")
	require.Zero(t, stored.Attempts)
	require.NotNil(t, stored.EmailSentAt)
	require.Equal(t, "203.0.113.7", *stored.RequestedIP)
	require.Equal(t, "curl/8.0", *stored.RequestedUserAgent)
	require.True(t, stored.IsActive(now))

	require.Equal(t, 1, f.db.counterHits("login-code:user@example.edu"))

	require.Len(t, f.mail.loginCode, 1)
	mail := f.mail.loginCode[0]
	require.Equal(t, issued.ChallengeID, mail.ChallengeID)
	require.Equal(t, "sealed:482913", mail.EncryptedCode)
	require.Equal(t, issued.ExpiresAt, mail.ExpiresAt)
	require.Equal(t, 1, f.metrics.challengesIssued)
}

func TestChallengeIssuerCreatesNewRecordPerIssuance(t *testing.T) {
	f := newIssuerFixture(t, "111111", "222222")

	first, err := f.issuer.Issue(context.Background(), IssueChallengeInput{Email: "user@example.edu"})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, err := f.issuer.Issue(context.Background(), IssueChallengeInput{Email: "user@example.edu"})
	require.NoError(t, err)

	require.NotEqual(t, first.ChallengeID, second.ChallengeID)
	require.Equal(t, 2, f.db.challengeCount())
	require.Equal(t, 2, f.db.counterHits("login-code:user@example.edu"))
}

func TestChallengeIssuerRateLimitWritesNothing(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.issuer.Issue(ctx, IssueChallengeInput{Email: "user@example.edu"})
		require.NoError(t, err)
		f.clock.Advance(10 * time.Minute)
	}
	require.Equal(t, 3, f.db.challengeCount())

	_, err := f.issuer.Issue(ctx, IssueChallengeInput{Email: "user@example.edu"})
	require.ErrorIs(t, err, ErrRateLimited)

	var limitErr *RateLimitExceededError
	require.True(t, errors.As(err, &limitErr))
	require.Equal(t, ScopeLoginCode, limitErr.Scope)
	// Window opened 30 minutes ago and lasts an hour.
	require.Equal(t, 30*time.Minute, limitErr.RetryAfter)
	require.Equal(t, 30, limitErr.RetryAfterMinutes())

	require.Equal(t, 3, f.db.challengeCount())
	require.Equal(t, 3, f.db.counterHits("login-code:user@example.edu"))
	require.Len(t, f.mail.loginCode, 3)
	require.Equal(t, 1, f.metrics.rateLimited[ScopeLoginCode])

	f.clock.Advance(30 * time.Minute)
	_, err = f.issuer.Issue(ctx, IssueChallengeInput{Email: "user@example.edu"})
	require.NoError(t, err, "a new window opens once the hour elapses")
}

func TestChallengeIssuerLimitsEmailsIndependently(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.issuer.Issue(ctx, IssueChallengeInput{Email: "a@example.edu"})
		require.NoError(t, err)
	}

	_, err := f.issuer.Issue(ctx, IssueChallengeInput{Email: "b@example.edu"})
	require.NoError(t, err)
}

func TestChallengeIssuerRollsBackOnPersistenceFailure(t *testing.T) {
	f := newIssuerFixture(t)
	f.db.createChallengeErr = errors.New("disk full")

	_, err := f.issuer.Issue(context.Background(), IssueChallengeInput{Email: "user@example.edu"})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrRateLimited))

	require.Zero(t, f.db.challengeCount())
	require.Zero(t, f.db.counterHits("login-code:user@example.edu"))
	require.Empty(t, f.mail.loginCode, "mail must not be queued for a rolled back challenge")
	require.Equal(t, 1, f.db.rollbacks)
}

func TestChallengeIssuerMailFailureDoesNotFailIssuance(t *testing.T) {
	f := newIssuerFixture(t)
	f.mail.err = errors.New("broker unavailable")

	issued, err := f.issuer.Issue(context.Background(), IssueChallengeInput{Email: "user@example.edu"})
	require.NoError(t, err)
	require.NotEmpty(t, issued.ChallengeID)
	require.Equal(t, 1, f.metrics.mailFailures["login_code"])
	require.Nil(t, f.db.challenge(issued.ChallengeID).EmailSentAt, "undelivered mail must not be stamped as sent")
	require.Equal(t, 1, f.db.commits)
}

func TestChallengeIssuerStampsSentOnlyAfterEnqueue(t *testing.T) {
	f := newIssuerFixture(t)
	issuedAt := f.clock.Now()

	issued, err := f.issuer.Issue(context.Background(), IssueChallengeInput{Email: "user@example.edu"})
	require.NoError(t, err)

	stored := f.db.challenge(issued.ChallengeID)
	require.NotNil(t, stored.EmailSentAt)
	require.Equal(t, issuedAt, *stored.EmailSentAt)
	require.Len(t, f.mail.loginCode, 1)
	require.Equal(t, 2, f.db.commits, "the sent stamp commits separately after the queue accepts the mail")
}

func TestChallengeIssuerChargeSharesTheHourlyLimit(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.issuer.Charge(ctx, " Ghost@Example.edu", "203.0.113.7"))
	}
	require.Equal(t, 3, f.db.counterHits("login-code:ghost@example.edu"))
	require.Zero(t, f.db.challengeCount())
	require.Empty(t, f.mail.loginCode)

	err := f.issuer.Charge(ctx, "ghost@example.edu", "203.0.113.7")
	var limitErr *RateLimitExceededError
	require.True(t, errors.As(err, &limitErr))
	require.Equal(t, ScopeLoginCode, limitErr.Scope)
	require.Equal(t, time.Hour, limitErr.RetryAfter)
	require.Equal(t, 3, f.db.counterHits("login-code:ghost@example.edu"))
	require.Equal(t, 1, f.metrics.rateLimited[ScopeLoginCode])

	_, err = f.issuer.Issue(ctx, IssueChallengeInput{Email: "ghost@example.edu"})
	require.ErrorIs(t, err, ErrRateLimited)

	require.ErrorIs(t, f.issuer.Charge(ctx, "  ", ""), ErrEmailRequired)
}

func TestChallengeIssuerTruncatesUserAgent(t *testing.T) {
	f := newIssuerFixture(t)

	issued, err := f.issuer.Issue(context.Background(), IssueChallengeInput{
		Email:     "user@example.edu",
		UserAgent: strings.Repeat("é", 600),
	})
	require.NoError(t, err)

	stored := f.db.challenge(issued.ChallengeID)
	require.Equal(t, 512, len([]rune(*stored.RequestedUserAgent)))
	require.Nil(t, stored.RequestedIP)
}

func TestChallengeIssuerSanitizesMalformedUserAgent(t *testing.T) {
	f := newIssuerFixture(t)

	issued, err := f.issuer.Issue(context.Background(), IssueChallengeInput{
		Email:     "user@example.edu",
		UserAgent: "agent\xff\xfe/1.0\x00" + strings.Repeat("\xc3", 600),
	})
	require.NoError(t, err)

	stored := f.db.challenge(issued.ChallengeID)
	require.NotNil(t, stored.RequestedUserAgent)
	ua := *stored.RequestedUserAgent
	require.True(t, utf8.ValidString(ua))
	require.NotContains(t, ua, "\x00")
	require.True(t, strings.HasPrefix(ua, "agent\uFFFD/1.0"))
	require.LessOrEqual(t, utf8.RuneCountInString(ua), 512)
}

func TestChallengeIssuerRequiresEmail(t *testing.T) {
	f := newIssuerFixture(t)

	_, err := f.issuer.Issue(context.Background(), IssueChallengeInput{Email: "   "})
	require.ErrorIs(t, err, ErrEmailRequired)
	require.Zero(t, f.db.commits)
}

func TestRateLimitExceededErrorRoundsUp(t *testing.T) {
	cases := []struct {
		retryAfter time.Duration
		want       int
	}{
		{0, 1},
		{30 * time.Second, 1},
		{time.Minute, 1},
		{61 * time.Second, 2},
		{59*time.Minute + time.Second, 60},
	}
	for _, tc := range cases {
		err := &RateLimitExceededError{Scope: ScopeLoginCode, RetryAfter: tc.retryAfter}
		if got := err.RetryAfterMinutes(); got != tc.want {
			t.Fatalf("RetryAfterMinutes(%s) = %d, want %d", tc.retryAfter, got, tc.want)
		}
	}
}
