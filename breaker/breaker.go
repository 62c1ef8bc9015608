// Package breaker isolates the core from unreliable dependencies. Every ledger, database,
// cache and projection-store call runs through a named Breaker held in a Registry.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/config"
)

// Well-known circuit names.
const (
	LedgerRPC       = "ledger-rpc"
	Postgres        = "postgres"
	Cache           = "cache"
	ProjectionStore = "projection-store"
	ExternalService = "external-service"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config tunes a single circuit.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	// Timeout is how long an open circuit rejects calls before allowing a trial call.
	Timeout time.Duration
	// VolumeThreshold is the minimum number of calls before the circuit may open.
	VolumeThreshold int
	// ErrorFilter returns true for errors that must not count as failures.
	ErrorFilter func(error) bool
}

// DefaultConfig mirrors the breaker.* flag defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		VolumeThreshold:  10,
	}
}

// FromSettings converts the breaker config section into a Config.
func FromSettings(conf config.Breaker) Config {
	return Config{
		FailureThreshold: conf.FailureThreshold,
		SuccessThreshold: conf.SuccessThreshold,
		Timeout:          time.Duration(conf.Timeout) * time.Millisecond,
		VolumeThreshold:  conf.VolumeThreshold,
	}
}

// CircuitOpenError is returned without invoking the guarded call while a circuit is open.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %s is open, retry after %dms", e.Name, e.RetryAfterMs())
}

// RetryAfterMs is the retry hint in milliseconds.
func (e *CircuitOpenError) RetryAfterMs() int64 {
	return e.RetryAfter.Milliseconds()
}

// Stats is a point-in-time copy of a circuit's record.
type Stats struct {
	Name            string     `json:"name"`
	State           State      `json:"state"`
	Failures        int        `json:"failures"`
	Successes       int        `json:"successes"`
	TotalRequests   int64      `json:"totalRequests"`
	TotalFailures   int64      `json:"totalFailures"`
	TotalSuccesses  int64      `json:"totalSuccesses"`
	LastFailureTime *time.Time `json:"lastFailureTime,omitempty"`
}

// Breaker is a CLOSED/OPEN/HALF_OPEN state machine guarding one dependency.
type Breaker struct {
	name  string
	cfg   Config
	clock clock.Clock

	mu             sync.Mutex
	state          State
	failures       int
	successes      int
	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	lastFailure    time.Time
	openedAt       time.Time
	trialInFlight  bool
}

// New builds a standalone breaker. Most callers should go through Registry.GetOrCreate.
func New(name string, cfg Config, clk clock.Clock) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Breaker{name: name, cfg: cfg, clock: clk, state: StateClosed}
}

func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.allow()
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	b.record(callErr, trial)
	return callErr
}

// Call is Execute for functions that return a value.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (b *Breaker) allow() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		elapsed := b.clock.Since(b.openedAt)
		if elapsed < b.cfg.Timeout {
			return false, &CircuitOpenError{Name: b.name, RetryAfter: b.cfg.Timeout - elapsed}
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		b.totalRequests++
		return true, nil
	case StateHalfOpen:
		if b.trialInFlight {
			return false, &CircuitOpenError{Name: b.name, RetryAfter: 0}
		}
		b.trialInFlight = true
		b.totalRequests++
		return true, nil
	default:
		b.totalRequests++
		return false, nil
	}
}

func (b *Breaker) record(err error, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialInFlight = false
	}

	switch {
	case err == nil:
		b.onSuccess()
	case b.cfg.ErrorFilter != nil && b.cfg.ErrorFilter(err):
		// filtered errors count neither way
	default:
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	b.successes++
	b.totalSuccesses++
	b.failures = 0

	if b.state == StateHalfOpen && b.successes >= b.cfg.SuccessThreshold {
		b.transition(StateClosed)
		b.resetCounters()
	}
}

func (b *Breaker) onFailure() {
	b.failures++
	b.totalFailures++
	b.lastFailure = b.clock.Now()

	switch {
	case b.state == StateHalfOpen:
		b.trip()
	case b.state == StateClosed && b.failures >= b.cfg.FailureThreshold && b.totalRequests >= int64(b.cfg.VolumeThreshold):
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.transition(StateOpen)
	b.openedAt = b.clock.Now()
	b.successes = 0
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	config.Log.ZWarn().
		Str("circuit", b.name).
		Str("from", string(b.state)).
		Str("to", string(to)).
		Int("failures", b.failures).
		Msg("circuit state change")
	b.state = to
	if to == StateHalfOpen {
		b.successes = 0
	}
}

func (b *Breaker) resetCounters() {
	b.failures = 0
	b.successes = 0
	b.totalRequests = 0
	b.totalFailures = 0
	b.totalSuccesses = 0
	b.trialInFlight = false
}

// ForceState is an operator override.
func (b *Breaker) ForceState(state State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	config.Log.ZWarn().Str("circuit", b.name).Str("state", string(state)).Msg("circuit state forced by operator")
	b.transition(state)
	b.trialInFlight = false
	if state == StateOpen {
		b.openedAt = b.clock.Now()
	}
}

// Reset returns the circuit to CLOSED with zeroed counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transition(StateClosed)
	b.resetCounters()
	b.lastFailure = time.Time{}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a copy of the circuit record.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Name:           b.name,
		State:          b.state,
		Failures:       b.failures,
		Successes:      b.successes,
		TotalRequests:  b.totalRequests,
		TotalFailures:  b.totalFailures,
		TotalSuccesses: b.totalSuccesses,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailureTime = &t
	}
	return s
}
