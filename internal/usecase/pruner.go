package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/passwordless-auth/internal/core/port"
	"github.com/arklim/passwordless-auth/internal/infra/config"
)

// ChallengePruner deletes challenges older than the retention window.
type ChallengePruner struct {
	challenges port.ChallengeRepository
	retention  time.Duration
	interval   time.Duration
	metrics    port.AuthMetrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewChallengePruner constructs a ChallengePruner.
func NewChallengePruner(cfg config.ChallengeSettings, challenges port.ChallengeRepository, metrics port.AuthMetrics, log *zap.Logger) *ChallengePruner {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChallengePruner{
		challenges: challenges,
		retention:  cfg.Retention,
		interval:   cfg.PruneInterval,
		metrics:    metricsOrNop(metrics),
		logger:     log,
		now:        defaultClock,
	}
}

// WithClock overrides the pruner clock for deterministic tests.
func (p *ChallengePruner) WithClock(clock func() time.Time) {
	if clock != nil {
		p.now = clock
	}
}

// Prune removes challenges created before now minus retention.
func (p *ChallengePruner) Prune(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}

	deleted, err := p.challenges.DeleteCreatedBefore(ctx, p.now().Add(-p.retention))
	if err != nil {
		return 0, fmt.Errorf("prune login challenges: %w", err)
	}
	p.metrics.AddChallengesPruned(deleted)
	return deleted, nil
}

// Run prunes once immediately and then on every interval until ctx is cancelled.
func (p *ChallengePruner) Run(ctx context.Context) {
	if p.interval <= 0 || p.retention <= 0 {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.pruneOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *ChallengePruner) pruneOnce(ctx context.Context) {
	deleted, err := p.Prune(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("login challenge pruning failed", zap.Error(err))
		}
		return
	}
	if deleted > 0 {
		p.logger.Info("pruned login challenges", zap.Int64("deleted", deleted))
	}
}
