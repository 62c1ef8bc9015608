package consumer

import (
	"context"
	"time"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/pkg/repository"
	"github.com/DefiantLabs/ledger-sync/pkg/service"
	"github.com/rs/zerolog/log"
)

const DefaultHealthInterval = 15 * time.Second

// healthConsumer keeps the cached health snapshot fresh for other services.
type healthConsumer struct {
	health   service.Health
	cache    repository.HealthCache
	circuit  *breaker.Breaker
	clock    clock.Clock
	interval time.Duration
}

func NewHealthConsumer(health service.Health, cache repository.HealthCache, circuit *breaker.Breaker, clk clock.Clock, interval time.Duration) *healthConsumer {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &healthConsumer{health: health, cache: cache, circuit: circuit, clock: clk, interval: interval}
}

func (s *healthConsumer) Consume(ctx context.Context) error {
	log.Info().Msg("starting health snapshot consumer")
	t := s.clock.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
			if err := s.store(ctx); err != nil {
				log.Error().Err(err).Msg("failed to store health snapshot")
			}
		}
	}
}

func (s *healthConsumer) store(ctx context.Context) error {
	snapshot := s.health.Health(ctx)
	// a snapshot outlives two missed ticks at most
	return s.circuit.Execute(ctx, func(ctx context.Context) error {
		return s.cache.SetHealth(ctx, snapshot, 3*s.interval)
	})
}
