package listener

import (
	"context"
	"errors"
	"fmt"

	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/puzpuzpuz/xsync/v4"
)

// ErrListenerExists is returned when a name is already registered.
var ErrListenerExists = errors.New("listener already registered")

// Manager owns the set of named listeners.
type Manager struct {
	listeners *xsync.Map[string, Listener]
}

func NewManager() *Manager {
	return &Manager{listeners: xsync.NewMap[string, Listener]()}
}

// Add registers l under name. A registered name is never replaced.
func (m *Manager) Add(name string, l Listener) error {
	if _, loaded := m.listeners.LoadOrStore(name, l); loaded {
		return fmt.Errorf("%w: %s", ErrListenerExists, name)
	}
	return nil
}

// Remove unsubscribes and forgets the named listener. Unknown names are ignored.
func (m *Manager) Remove(name string) error {
	l, ok := m.listeners.Load(name)
	if !ok {
		return nil
	}
	err := l.Unsubscribe()
	m.listeners.Delete(name)
	return err
}

func (m *Manager) Get(name string) (Listener, bool) {
	return m.listeners.Load(name)
}

// StartAll subscribes every listener and returns the joined subscribe errors.
func (m *Manager) StartAll(ctx context.Context) error {
	var errs []error
	m.listeners.Range(func(name string, l Listener) bool {
		if err := l.Subscribe(ctx); err != nil {
			config.Log.ZError().Err(err).Str("listener", name).Msg("failed to subscribe listener")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return true
	})
	return errors.Join(errs...)
}

// StopAll unsubscribes every listener. A failing listener is logged and does not stop the rest.
func (m *Manager) StopAll() {
	m.listeners.Range(func(name string, l Listener) bool {
		if err := stop(l); err != nil {
			config.Log.ZError().Err(err).Str("listener", name).Msg("failed to unsubscribe listener")
		}
		return true
	})
}

func stop(l Listener) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("unsubscribe panic: %v", rec)
		}
	}()
	return l.Unsubscribe()
}

// Status maps each listener name to whether it is subscribed.
func (m *Manager) Status() map[string]bool {
	out := make(map[string]bool, m.listeners.Size())
	m.listeners.Range(func(name string, l Listener) bool {
		out[name] = l.IsSubscribed()
		return true
	})
	return out
}
