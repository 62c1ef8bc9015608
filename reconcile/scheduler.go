package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/DefiantLabs/ledger-sync/db/models"
	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 15m"

// Runner is the part of Engine the scheduler drives.
type Runner interface {
	Run(ctx context.Context, scope string) (*models.ReconciliationRun, error)
}

// Scheduler triggers reconciliation runs on a cron schedule.
type Scheduler struct {
	runner   Runner
	scope    string
	schedule string

	mu   sync.Mutex
	cron *cron.Cron
}

func NewScheduler(runner Runner, schedule, scope string) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if scope == "" {
		scope = DefaultScope
	}
	return &Scheduler{runner: runner, schedule: schedule, scope: scope}
}

// ParseSchedule validates a schedule with the same parser the scheduler uses.
func ParseSchedule(spec string) error {
	_, err := parser().Parse(spec)
	return err
}

func parser() cron.Parser {
	// seconds field optional
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// Start registers the job and starts the cron loop. Runs use ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	logger := cronLogger{}
	c := cron.New(cron.WithParser(parser()), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(s.schedule, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	config.Log.Infof("Reconciliation scheduled %s for scope %s", s.schedule, s.scope)
	return nil
}

// Stop halts the schedule and waits for a running job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.runner.Run(ctx, s.scope)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunInProgress):
		config.Log.Infof("Skipping scheduled reconciliation for scope %s, a run is already in progress", s.scope)
	default:
		config.Log.Error("Scheduled reconciliation failed", err)
	}
}

// cronLogger adapts cron's logger to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	config.Log.ZDebug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	config.Log.ZError().Err(err).Fields(keysAndValues).Msg(msg)
}
