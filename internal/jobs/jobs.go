// Package jobs runs the bridge's periodic maintenance on cron schedules.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Func is a scheduled job. ctx is cancelled when the scheduler stops.
type Func func(ctx context.Context) error

// Scheduler wraps a cron runner whose jobs never overlap themselves and
// recover from panics.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	names  []string
}

// New creates a scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "jobs")
	cl := cronLogger{logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn under name on a standard cron spec ("*/5 * * * *",
// "@every 30s"). An empty spec disables the job and is not an error.
func (s *Scheduler) Add(name, spec string, timeout time.Duration, fn Func) error {
	if spec == "" {
		s.logger.Info("job disabled", "job", name)
		return nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", name, spec, err)
	}
	s.cron.Schedule(sched, cron.FuncJob(func() { s.run(name, timeout, fn) }))
	s.names = append(s.names, name)
	s.logger.Info("job scheduled", "job", name, "schedule", spec)
	return nil
}

// Jobs returns the names of the scheduled jobs.
func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.names...)
}

func (s *Scheduler) run(name string, timeout time.Duration, fn Func) {
	ctx := s.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	if err := fn(ctx); err != nil {
		s.logger.Warn("job failed", "job", name, "error", err, "took", time.Since(start))
		return
	}
	s.logger.Debug("job completed", "job", name, "took", time.Since(start))
}

// Run starts the scheduler and blocks until ctx is done. Running jobs are
// cancelled and awaited before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	s.cancel()
	<-s.cron.Stop().Done()
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
