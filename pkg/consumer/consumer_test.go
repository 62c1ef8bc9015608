package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/db/models"
	"github.com/DefiantLabs/ledger-sync/dlq"
	"github.com/DefiantLabs/ledger-sync/events"
	"github.com/DefiantLabs/ledger-sync/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu        sync.Mutex
	published []*model.EventEnvelope
	added     int
	health    *model.Health
	ttl       time.Duration
	err       error
}

func (c *fakeCache) PublishEvent(_ context.Context, e *model.EventEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.published = append(c.published, e)
	return nil
}

func (c *fakeCache) AddEvent(context.Context, *model.EventEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.added++
	return nil
}

func (c *fakeCache) GetEvents(context.Context, int64, int64) ([]*model.EventEnvelope, error) {
	return nil, nil
}

func (c *fakeCache) SetHealth(_ context.Context, h *model.Health, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health, c.ttl = h, ttl
	return nil
}

func (c *fakeCache) GetHealth(context.Context) (*model.Health, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health, nil
}

func (c *fakeCache) publishedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func circuit() *breaker.Breaker {
	return breaker.New(breaker.Cache, breaker.DefaultConfig(), clock.New())
}

func TestNotifierForwardsBusEvents(t *testing.T) {
	cache := &fakeCache{}
	bus := events.NewBus()
	n := NewNotifier(cache, circuit(), 4)
	unsubscribe := n.Subscribe(bus)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Consume(ctx) }()

	bus.Publish(events.TransactionConfirmed{Signature: "sig-2", Slot: 7, ConfirmationStatus: "finalized"})
	bus.Publish(events.DiscrepancyDetected{RunID: "run-1", TicketID: "t-1"})

	require.Eventually(t, func() bool { return cache.publishedCount() == 2 }, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Equal(t, "confirmed", cache.published[0].Kind)
	assert.Equal(t, "sig-2", cache.published[0].CorrelationID)
	assert.Equal(t, "run-1", cache.published[1].CorrelationID)
	assert.Equal(t, 2, cache.added)
}

func TestNotifierDropsWhenFull(t *testing.T) {
	n := NewNotifier(&fakeCache{}, circuit(), 1)
	n.enqueue(events.ListenerFailed{Listener: "a"})
	n.enqueue(events.ListenerFailed{Listener: "b"})
	assert.Len(t, n.eventsCh, 1)
}

func TestNotifierCacheFailureCountsOnCircuit(t *testing.T) {
	cb := circuit()
	n := NewNotifier(&fakeCache{err: errors.New("redis down")}, cb, 1)
	err := n.publish(context.Background(), events.ListenerFailed{Listener: "a"})
	assert.Error(t, err)
	assert.EqualValues(t, 1, cb.Stats().TotalFailures)
}

func TestEnvelope(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	env, err := Envelope(events.TransactionTimedOut{Signature: "sig-9", Attempts: 30, At: at})
	require.NoError(t, err)
	assert.Equal(t, "timeout", env.Kind)
	assert.Equal(t, at, env.OccurredAt)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "sig-9", payload["signature"])
	assert.EqualValues(t, 30, payload["attempts"])
}

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
}

func (s *fakeSweeper) RetrySweep(ctx context.Context, retry dlq.RetryFunc) (dlq.SweepResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	err := retry(ctx, models.FailedWrite{Signature: "sig-1"})
	if err != nil {
		return dlq.SweepResult{Attempted: 1, Failed: 1}, nil
	}
	return dlq.SweepResult{Attempted: 1, Recovered: 1}, nil
}

func (s *fakeSweeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestDLQRetrierSweepsOnTick(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sweeper := &fakeSweeper{}
	var replayed []string
	var mu sync.Mutex
	r := NewDLQRetrier(sweeper, func(_ context.Context, fw models.FailedWrite) error {
		mu.Lock()
		replayed = append(replayed, fw.Signature)
		mu.Unlock()
		return nil
	}, clk, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Consume(ctx) }()

	require.Eventually(t, func() bool { return clk.Tickers() == 1 }, time.Second, 5*time.Millisecond)
	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return sweeper.count() == 1 }, time.Second, 5*time.Millisecond)
	clk.Advance(30 * time.Second)
	assert.Equal(t, 1, sweeper.count())

	cancel()
	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"sig-1"}, replayed)
}

type staticHealth struct{}

func (staticHealth) Health(context.Context) *model.Health {
	return &model.Health{Status: model.StatusOK}
}
func (staticHealth) Ready() bool { return true }
func (staticHealth) Diagnostics(context.Context) *model.Diagnostics {
	return &model.Diagnostics{}
}

func TestHealthConsumerStoresSnapshot(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	cache := &fakeCache{}
	c := NewHealthConsumer(staticHealth{}, cache, circuit(), clk, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx) }()

	require.Eventually(t, func() bool { return clk.Tickers() == 1 }, time.Second, 5*time.Millisecond)
	clk.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		h, _ := cache.GetHealth(ctx)
		return h != nil
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Equal(t, model.StatusOK, cache.health.Status)
	assert.Equal(t, 30*time.Second, cache.ttl)
}
