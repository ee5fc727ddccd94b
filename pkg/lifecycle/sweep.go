package lifecycle

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SweepResult summarizes one full pass over the non-suspended subscribers.
type SweepResult struct {
	Processed int
	Errors    int
	Duration  time.Duration
}

// SweepOnce pages through every non-suspended subscriber and syncs each one.
// Pages are processed by a bounded worker pool; a failing subscriber is
// counted and skipped, never fatal to the rest of the sweep.
func (e *Engine) SweepOnce(ctx context.Context) SweepResult {
	start := time.Now()
	sweepID := uuid.NewString()[:8]

	var processed, failed atomic.Int64
	afterID := int64(0)

	for {
		subs, err := e.billing.ListSyncCandidates(ctx, afterID, e.config.ChunkSize)
		if err != nil {
			e.logger.Error("sweep page load failed",
				zap.String("sweep_id", sweepID),
				zap.Int64("after_id", afterID),
				zap.Error(err),
			)
			break
		}
		if len(subs) == 0 {
			break
		}
		afterID = subs[len(subs)-1].ID

		var g errgroup.Group
		g.SetLimit(e.config.SweepWorkers)
		for _, sub := range subs {
			sub := sub
			g.Go(func() error {
				processed.Add(1)
				if _, err := e.Sync(ctx, sub.ID); err != nil {
					failed.Add(1)
					e.logger.Warn("subscriber skipped this cycle",
						zap.String("sweep_id", sweepID),
						zap.Int64("subscriber_id", sub.ID),
						zap.Error(err),
					)
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(subs) < e.config.ChunkSize {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	result := SweepResult{
		Processed: int(processed.Load()),
		Errors:    int(failed.Load()),
		Duration:  time.Since(start),
	}
	if e.metrics != nil {
		e.metrics.ObserveSweep(result.Duration.Seconds(), result.Processed, result.Errors)
	}
	e.logger.Info("sweep complete",
		zap.String("sweep_id", sweepID),
		zap.Int("processed", result.Processed),
		zap.Int("errors", result.Errors),
		zap.Duration("duration", result.Duration),
	)
	return result
}
