// Package workers runs background maintenance jobs.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2/log"
)

// Pruner removes stale queue entries and reports how many went.
type Pruner interface {
	PruneStaleEntries(ctx context.Context) (int, error)
}

// QueueJanitor periodically clears WAITING entries nobody will pair with.
type QueueJanitor struct {
	pruner   Pruner
	interval time.Duration
	sched    gocron.Scheduler
}

func NewQueueJanitor(pruner Pruner, interval time.Duration) *QueueJanitor {
	return &QueueJanitor{pruner: pruner, interval: interval}
}

// Start schedules the first pass immediately and then one every interval.
// Passes never overlap. A zero interval disables the janitor.
func (j *QueueJanitor) Start(ctx context.Context) error {
	if j.interval <= 0 {
		log.Info("🧹 [QueueJanitor] disabled")
		return nil
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(func() { j.RunOnce(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule queue janitor: %w", err)
	}

	sched.Start()
	j.sched = sched
	log.Infof("🧹 [QueueJanitor] started, every %s", j.interval)
	return nil
}

// RunOnce performs a single prune pass.
func (j *QueueJanitor) RunOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	n, err := j.pruner.PruneStaleEntries(ctx)
	if err != nil {
		log.Warnf("⚠️ [QueueJanitor] prune failed after %d entries: %v", n, err)
	}
	return n
}

// Stop waits for a running pass to finish and shuts the scheduler down.
func (j *QueueJanitor) Stop() error {
	if j.sched == nil {
		return nil
	}
	return j.sched.Shutdown()
}
