package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"math/big"
	"time"

	"github.com/arklim/passwordless-auth/internal/infra/config"
)

// TimingEqualizer pads an operation to a minimum duration of floor plus a
// random jitter, so response latency does not reveal which branch ran.
// It complements rate limiting; it does not replace it.
type TimingEqualizer struct {
	floor  time.Duration
	jitter time.Duration
	random io.Reader
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewTimingEqualizer constructs an equalizer from the timing settings.
func NewTimingEqualizer(cfg config.TimingSettings) *TimingEqualizer {
	return &TimingEqualizer{
		floor:  cfg.Floor,
		jitter: cfg.Jitter,
		random: rand.Reader,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Run executes fn and then waits until the minimum duration has elapsed,
// whether fn succeeded, failed or returned early. fn's error is returned
// only after the wait. A cancelled ctx cuts the wait short and its error is
// joined with fn's.
func (e *TimingEqualizer) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	start := e.now()
	minimum := e.floor + e.pickJitter()

	fnErr := fn(ctx)

	remaining := minimum - e.now().Sub(start)
	if remaining <= 0 {
		return fnErr
	}
	if err := e.sleep(ctx, remaining); err != nil {
		return errors.Join(fnErr, err)
	}
	return fnErr
}

// pickJitter draws uniformly from [0, jitter]. A failing random source
// yields the full jitter so the floor is never shortened.
func (e *TimingEqualizer) pickJitter() time.Duration {
	if e.jitter <= 0 {
		return 0
	}
	n, err := rand.Int(e.random, big.NewInt(int64(e.jitter)+1))
	if err != nil {
		return e.jitter
	}
	return time.Duration(n.Int64())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
