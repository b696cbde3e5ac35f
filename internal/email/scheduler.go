package email

import (
	"context"
	"time"

	"portal-mailer/internal/common/logger"
)

// Maintainer is the part of Dispatcher the scheduler drives.
type Maintainer interface {
	Sweep(ctx context.Context) (SweepResult, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

// Scheduler triggers the sweep and the retention sweep on fixed intervals.
type Scheduler struct {
	target         Maintainer
	sweepEvery     time.Duration
	retentionEvery time.Duration
	logger         logger.Logger
}

func NewScheduler(target Maintainer, sweepEvery, retentionEvery time.Duration, log logger.Logger) *Scheduler {
	if sweepEvery <= 0 {
		sweepEvery = 15 * time.Minute
	}
	if retentionEvery <= 0 {
		retentionEvery = 24 * time.Hour
	}
	return &Scheduler{
		target:         target,
		sweepEvery:     sweepEvery,
		retentionEvery: retentionEvery,
		logger:         log,
	}
}

// Run blocks until ctx is cancelled. A tick that arrives while the previous
// sweep is still running is dropped by the dispatcher's own guard.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting", map[string]interface{}{
		"sweepInterval":     s.sweepEvery.String(),
		"retentionInterval": s.retentionEvery.String(),
	})

	sweepTicker := time.NewTicker(s.sweepEvery)
	defer sweepTicker.Stop()
	retentionTicker := time.NewTicker(s.retentionEvery)
	defer retentionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down", nil)
			return ctx.Err()

		case <-sweepTicker.C:
			if _, err := s.target.Sweep(ctx); err != nil {
				s.logger.Error("scheduled sweep failed", map[string]interface{}{"error": err})
			}

		case <-retentionTicker.C:
			if _, err := s.target.PurgeExpired(ctx); err != nil {
				s.logger.Error("scheduled retention sweep failed", map[string]interface{}{"error": err})
			}
		}
	}
}
