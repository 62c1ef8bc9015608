package breaker

import (
	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/puzpuzpuz/xsync/v4"
)

// Registry holds one shared Breaker per dependency name. It is constructed explicitly and passed to
// the components that need it, so tests get isolated registries.
type Registry struct {
	circuits *xsync.Map[string, *Breaker]
	defaults Config
	clock    clock.Clock
}

func NewRegistry(defaults Config, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		circuits: xsync.NewMap[string, *Breaker](),
		defaults: defaults,
		clock:    clk,
	}
}

// GetOrCreate returns the circuit registered under name, creating it with cfg on first use.
// Later calls with a different cfg get the existing instance.
func (r *Registry) GetOrCreate(name string, cfg Config) *Breaker {
	b, _ := r.circuits.Compute(name, func(old *Breaker, loaded bool) (*Breaker, xsync.ComputeOp) {
		if loaded {
			return old, xsync.CancelOp
		}
		return New(name, cfg, r.clock), xsync.UpdateOp
	})
	if b == nil {
		// CancelOp on an existing key leaves the current value in place
		b, _ = r.circuits.Load(name)
	}
	return b
}

// Circuit is GetOrCreate with the registry defaults.
func (r *Registry) Circuit(name string) *Breaker {
	return r.GetOrCreate(name, r.defaults)
}

// Get returns a registered circuit without creating one.
func (r *Registry) Get(name string) (*Breaker, bool) {
	return r.circuits.Load(name)
}

// All returns a copy of every circuit's stats keyed by name.
func (r *Registry) All() map[string]Stats {
	out := make(map[string]Stats, r.circuits.Size())
	r.circuits.Range(func(name string, b *Breaker) bool {
		out[name] = b.Stats()
		return true
	})
	return out
}

// AnyOpen reports whether one of the named circuits is currently OPEN.
func (r *Registry) AnyOpen(names ...string) bool {
	for _, name := range names {
		if b, ok := r.circuits.Load(name); ok && b.State() == StateOpen {
			return true
		}
	}
	return false
}
