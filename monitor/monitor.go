// Package monitor tracks submitted transactions until they reach a target confirmation level or
// run out of poll attempts. One shared ticker drives every pending signature.
package monitor

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/DefiantLabs/ledger-sync/events"
	"github.com/DefiantLabs/ledger-sync/ledger"
)

const (
	DefaultInterval    = 2000 * time.Millisecond
	DefaultMaxAttempts = 30
)

// StatusChecker queries signature statuses, index aligned with the request.
type StatusChecker interface {
	SignatureStatuses(ctx context.Context, signatures []string) ([]ledger.SignatureStatus, error)
}

// Pending is one tracked signature.
type Pending struct {
	Signature string
	Metadata  map[string]string
	Attempts  int
	AddedAt   time.Time
}

// SideEffect runs after a signature is confirmed, outside the monitor lock.
type SideEffect func(ctx context.Context, p Pending, status ledger.SignatureStatus) error

type Config struct {
	Interval    time.Duration
	MaxAttempts int
	Target      ledger.Commitment
}

func DefaultConfig() Config {
	return Config{
		Interval:    DefaultInterval,
		MaxAttempts: DefaultMaxAttempts,
		Target:      ledger.Finalized,
	}
}

type entry struct {
	Pending
	effect SideEffect
}

// Monitor owns the pending set exclusively.
type Monitor struct {
	checker   StatusChecker
	publisher events.Publisher
	clock     clock.Clock
	conf      Config

	mu      sync.Mutex
	pending map[string]*entry
	cancel  context.CancelFunc
}

func New(checker StatusChecker, publisher events.Publisher, clk clock.Clock, conf Config) *Monitor {
	defaults := DefaultConfig()
	if conf.Interval <= 0 {
		conf.Interval = defaults.Interval
	}
	if conf.MaxAttempts <= 0 {
		conf.MaxAttempts = defaults.MaxAttempts
	}
	if conf.Target == "" {
		conf.Target = defaults.Target
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		checker:   checker,
		publisher: publisher,
		clock:     clk,
		conf:      conf,
		pending:   make(map[string]*entry),
	}
}

// Add tracks signature until it resolves. Adding a signature that is already pending is a no-op.
func (m *Monitor) Add(signature string, metadata map[string]string) {
	m.AddWithSideEffect(signature, metadata, nil)
}

// AddWithSideEffect is Add with an action run once the signature is confirmed.
func (m *Monitor) AddWithSideEffect(signature string, metadata map[string]string, effect SideEffect) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[signature]; ok {
		return
	}
	m.pending[signature] = &entry{
		Pending: Pending{
			Signature: signature,
			Metadata:  maps.Clone(metadata),
			AddedAt:   m.clock.Now(),
		},
		effect: effect,
	}

	if m.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		go m.loop(ctx, cancel, m.clock.NewTicker(m.conf.Interval))
	}
}

// PendingCount is the current backlog size.
func (m *Monitor) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Stop halts polling and drops every pending entry.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	clear(m.pending)
}

func (m *Monitor) loop(ctx context.Context, cancel context.CancelFunc, ticker clock.Ticker) {
	defer cancel()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if !m.poll(ctx) {
				return
			}
		}
	}
}

// poll runs one tick. It returns false once the pending set has drained and the loop went idle.
func (m *Monitor) poll(ctx context.Context) bool {
	m.mu.Lock()
	signatures := make([]string, 0, len(m.pending))
	for sig := range m.pending {
		signatures = append(signatures, sig)
	}
	m.mu.Unlock()

	var statuses []ledger.SignatureStatus
	var err error
	if len(signatures) > 0 {
		statuses, err = m.checker.SignatureStatuses(ctx, signatures)
		if err != nil {
			m.logPollError(err, len(signatures))
			statuses = nil
		}
	}

	type resolved struct {
		entry  entry
		status ledger.SignatureStatus
	}
	var confirmed []resolved
	var timedOut []Pending

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	for i, sig := range signatures {
		e, ok := m.pending[sig]
		if !ok {
			continue
		}
		e.Attempts++

		if i < len(statuses) {
			status := statuses[i]
			if status.Invalid != "" {
				config.Log.ZWarn().Str("signature", sig).Str("reason", status.Invalid).Msg("dropping malformed signature")
				delete(m.pending, sig)
				timedOut = append(timedOut, e.Pending)
				continue
			}
			if status.Found && status.Level.Reaches(m.conf.Target) {
				delete(m.pending, sig)
				confirmed = append(confirmed, resolved{entry: *e, status: status})
				continue
			}
		}
		if e.Attempts >= m.conf.MaxAttempts {
			delete(m.pending, sig)
			timedOut = append(timedOut, e.Pending)
		}
	}
	idle := len(m.pending) == 0
	if idle {
		// the next Add starts a fresh loop
		m.cancel = nil
	}
	m.mu.Unlock()

	now := m.clock.Now()
	for _, r := range confirmed {
		m.publisher.Publish(events.TransactionConfirmed{
			Signature:          r.entry.Signature,
			Slot:               r.status.Slot,
			ConfirmationStatus: string(r.status.Level),
			Err:                r.status.Err,
			Attempts:           r.entry.Attempts,
			Metadata:           r.entry.Metadata,
			At:                 now,
		})
		if r.entry.effect != nil {
			if err := r.entry.effect(ctx, r.entry.Pending, r.status); err != nil {
				config.Log.ZError().Err(err).Str("signature", r.entry.Signature).Msg("confirmation side effect failed")
			}
		}
	}
	for _, p := range timedOut {
		config.Log.ZWarn().Str("signature", p.Signature).Int("attempts", p.Attempts).Msg("transaction confirmation timed out")
		m.publisher.Publish(events.TransactionTimedOut{
			Signature: p.Signature,
			Attempts:  p.Attempts,
			Metadata:  p.Metadata,
			At:        now,
		})
	}
	return !idle
}

func (m *Monitor) logPollError(err error, pending int) {
	switch {
	case ledger.IsCircuitOpen(err), ledger.IsTransient(err):
		config.Log.ZDebug().Err(err).Int("pending", pending).Msg("inconclusive confirmation poll")
	default:
		config.Log.ZWarn().Err(err).Int("pending", pending).Msg("confirmation poll failed")
	}
}
