package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/metrics"
	"github.com/funnel-agent/backend/pkg/logger"
)

// Job is one unit of scheduled background work.
type Job func(ctx context.Context) error

// Scheduler runs named jobs on standard five-field cron schedules in the
// business timezone. Overlapping runs of the same job are skipped.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration

	mu   sync.RWMutex
	jobs map[string]cron.EntryID
}

func NewScheduler(loc *time.Location, timeout time.Duration) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(cronLogger{}))),
		timeout: timeout,
		jobs:    make(map[string]cron.EntryID),
	}
}

// Add schedules job under name, replacing any job already registered with
// that name.
func (s *Scheduler) Add(name, schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[name]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
	}

	entryID, err := s.cron.AddJob(schedule, cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(
		cron.FuncJob(func() { s.run(name, job) }),
	))
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = entryID
	logger.Info("Scheduled job", zap.String("job", name), zap.String("schedule", schedule))
	return nil
}

// RunNow executes the named job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	entryID, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s is not scheduled", name)
	}
	s.cron.Entry(entryID).WrappedJob.Run()
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := job(ctx); err != nil {
		metrics.JobRuns.WithLabelValues(name, "error").Inc()
		logger.Error("Scheduled job failed",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	metrics.JobRuns.WithLabelValues(name, "success").Inc()
	logger.Debug("Scheduled job finished", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
}

// Jobs returns the scheduled job names and their next run times.
func (s *Scheduler) Jobs() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(s.jobs))
	for name, id := range s.jobs {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

func (s *Scheduler) Start() {
	logger.Info("Starting job scheduler", zap.Int("jobs", len(s.jobs)))
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		logger.Info("Job scheduler stopped")
	case <-ctx.Done():
		logger.Warn("Job scheduler stop timed out with jobs still running")
	}
}

// cronLogger adapts the global zap logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.GetLogger().Sugar().Debugw(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.GetLogger().Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
