package scheduler

import (
	"context"
	"fmt"
	"time"

	"bloodsos/pkg/logger"

	"github.com/robfig/cron/v3"
)

// Job is a named unit of housekeeping work.
type Job func(ctx context.Context) error

// JobObserver is told how each run ended.
type JobObserver interface {
	ObserveJob(job string, err error)
}

type Cron struct {
	c        *cron.Cron
	log      *logger.Logger
	observer JobObserver
	timeout  time.Duration
}

// NewCron runs jobs in UTC. Overlapping runs of the same job are skipped and a
// panicking job does not stop the scheduler.
func NewCron(log *logger.Logger, observer JobObserver, timeout time.Duration) *Cron {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return &Cron{c: c, log: log, observer: observer, timeout: timeout}
}

func (cr *Cron) Start() { cr.c.Start() }

// Stop waits for running jobs to finish.
func (cr *Cron) Stop() {
	ctx := cr.c.Stop()
	<-ctx.Done()
}

// Every schedules job at a fixed interval, e.g. "@every 1m".
func (cr *Cron) Every(interval time.Duration, name string, job Job) (cron.EntryID, error) {
	return cr.Add(fmt.Sprintf("@every %s", interval), name, job)
}

func (cr *Cron) Add(expr, name string, job Job) (cron.EntryID, error) {
	id, err := cr.c.AddFunc(expr, func() { cr.run(name, job) })
	if err != nil {
		return 0, fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return id, nil
}

func (cr *Cron) run(name string, job Job) {
	ctx := context.Background()
	if cr.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cr.timeout)
		defer cancel()
	}

	start := time.Now()
	err := job(ctx)
	if cr.observer != nil {
		cr.observer.ObserveJob(name, err)
	}

	entry := cr.log.WithFields(map[string]interface{}{
		"job":      name,
		"duration": time.Since(start).String(),
	})
	if err != nil {
		entry.WithError(err).Warn("Scheduled job failed")
		return
	}
	entry.Debug("Scheduled job finished")
}

func (cr *Cron) Entries() []cron.Entry { return cr.c.Entries() }
