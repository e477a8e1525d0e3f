package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ApprovalExpirer expires overdue approvals and reports how many it moved.
type ApprovalExpirer interface {
	ExpireApprovals(ctx context.Context) (int, error)
}

// ApprovalSweeper periodically expires overdue approvals.
type ApprovalSweeper struct {
	expirer  ApprovalExpirer
	interval time.Duration
	logger   zerolog.Logger
}

// NewApprovalSweeper creates a sweeper. A zero interval uses DefaultSweepInterval.
func NewApprovalSweeper(expirer ApprovalExpirer, interval time.Duration, logger zerolog.Logger) *ApprovalSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &ApprovalSweeper{expirer: expirer, interval: interval, logger: logger}
}

// Start runs until ctx is cancelled.
func (s *ApprovalSweeper) Start(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("approval sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("approval sweeper shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ApprovalSweeper) sweep(ctx context.Context) {
	n, err := s.expirer.ExpireApprovals(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("approval sweep failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int("expired", n).Msg("expired overdue approvals")
	}
}
