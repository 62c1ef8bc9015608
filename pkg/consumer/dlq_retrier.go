package consumer

import (
	"context"
	"time"

	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/dlq"
	"github.com/rs/zerolog/log"
)

const DefaultRetryInterval = time.Minute

// Sweeper is the dead-letter queue operation the retrier drives.
type Sweeper interface {
	RetrySweep(ctx context.Context, retry dlq.RetryFunc) (dlq.SweepResult, error)
}

// DLQRetrier periodically replays unresolved dead-letter entries.
type DLQRetrier struct {
	queue    Sweeper
	retry    dlq.RetryFunc
	clock    clock.Clock
	interval time.Duration
}

func NewDLQRetrier(queue Sweeper, retry dlq.RetryFunc, clk clock.Clock, interval time.Duration) *DLQRetrier {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	return &DLQRetrier{queue: queue, retry: retry, clock: clk, interval: interval}
}

func (s *DLQRetrier) Consume(ctx context.Context) error {
	log.Info().Dur("interval", s.interval).Msg("starting dead-letter retrier")
	t := s.clock.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
			s.sweep(ctx)
		}
	}
}

func (s *DLQRetrier) sweep(ctx context.Context) {
	res, err := s.queue.RetrySweep(ctx, s.retry)
	if err != nil {
		log.Error().Err(err).Msg("dead-letter sweep failed")
		return
	}
	if res.Attempted > 0 {
		log.Info().
			Int("attempted", res.Attempted).
			Int("recovered", res.Recovered).
			Int("failed", res.Failed).
			Msg("dead-letter sweep finished")
	}
}
