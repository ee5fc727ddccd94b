package lifecycle

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler drives the minute-granularity sweep.
type Scheduler struct {
	cron   *cron.Cron
	engine *Engine
	logger *zap.Logger
}

// NewScheduler creates the sweep scheduler. The sweep runs once per minute;
// overlapping runs are prevented by skipping while a previous run is active.
func NewScheduler(engine *Engine, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		engine: engine,
		logger: logger,
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc("* * * * *", func() {
		s.engine.SweepOnce(context.Background())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("sweep scheduler started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("sweep scheduler stopped")
}
