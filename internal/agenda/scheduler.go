package agenda

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "daybook/internal/log"
)

// cronLogger routes cron's own logging through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}

// Scheduler runs Service.Refresh on a cron spec. Overlapping runs are
// skipped.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	svc      *Service
	timeout  time.Duration
}

func NewScheduler(svc *Service, spec string, timeout time.Duration) (*Scheduler, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule refresh %q: %w", spec, err)
	}
	c := cron.New(
		cron.WithLocation(svc.Location()),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	s := &Scheduler{cron: c, schedule: sched, svc: svc, timeout: timeout}
	c.Schedule(sched, cron.FuncJob(s.run))
	return s, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.svc.Refresh(ctx); err != nil {
		appLog.Error("scheduled refresh failed", err)
	}
}

// Next reports when the refresh will run next.
func (s *Scheduler) Next() time.Time {
	return s.schedule.Next(time.Now().In(s.svc.Location()))
}

func (s *Scheduler) Start() {
	s.cron.Start()
	appLog.Info("refresh scheduler started", "next", s.Next().Format(time.RFC3339))
}

// Stop waits for a running refresh to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
