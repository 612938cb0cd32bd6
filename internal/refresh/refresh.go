// Package refresh reloads the calendar's options and events on a cron
// schedule.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "sportcal/internal/log"
)

// DefaultTimeout bounds a single scheduled reload.
const DefaultTimeout = 30 * time.Second

// Reloader is the target of a scheduled reload.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Scheduler runs Reload on a standard five-field cron schedule (descriptors
// such as "@every 10m" are accepted). Runs never overlap: a tick that fires
// while the previous reload is still going is skipped.
type Scheduler struct {
	schedule string
	target   Reloader
	timeout  time.Duration
	cron     *cron.Cron
}

// New validates schedule and prepares a stopped scheduler.
func New(schedule string, loc *time.Location, target Reloader, timeout time.Duration) (*Scheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("refresh: invalid schedule %q: %w", schedule, err)
	}
	if loc == nil {
		loc = time.Local
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	logger := cronLogger{}
	s := &Scheduler{
		schedule: schedule,
		target:   target,
		timeout:  timeout,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("refresh: add schedule: %w", err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	appLog.Info("refresh scheduler started", "schedule", s.schedule)
	s.cron.Start()
}

// Stop halts the schedule. The returned context is done once a running
// reload has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next is the time of the next scheduled reload, or zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.target.Reload(ctx); err != nil {
		appLog.Warn("scheduled reload failed", err, "elapsed", time.Since(start).Round(time.Millisecond))
		return
	}
	appLog.Info("scheduled reload done", "elapsed", time.Since(start).Round(time.Millisecond))
}

// cronLogger routes the cron package's own logging through appLog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
