/**
 * @description
 * Cron scheduler for the outcome sweeper. The sweeper turns settlements,
 * account creations and payouts whose outcome never arrived into failures so
 * their reservations are refunded.
 */
package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper expires outcomes past their deadline.
type Sweeper interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	logger   *zap.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(sweeper Sweeper, logger *zap.Logger, schedule string) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "scheduler"))
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:     c,
		sweeper:  sweeper,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the sweep job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		s.logger.Error("failed to schedule outcome sweeper", zap.String("schedule", s.schedule), zap.Error(err))
		return err
	}
	s.logger.Info("scheduled outcome sweeper", zap.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

// Sweep runs one pass of the sweeper.
func (s *Scheduler) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	expired, err := s.sweeper.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("outcome sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		s.logger.Info("outcome sweep finished", zap.Int("expired", expired))
	}
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
