// Package listener owns the long-lived ledger subscriptions.
package listener

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/DefiantLabs/ledger-sync/events"
)

// Listener is a named ledger subscription. Subscribe and Unsubscribe are idempotent.
type Listener interface {
	Name() string
	Subscribe(ctx context.Context) error
	Unsubscribe() error
	IsSubscribed() bool
}

// BaseListener carries the state and error routing shared by every listener.
type BaseListener struct {
	name      string
	publisher events.Publisher
	clock     clock.Clock

	mu         sync.Mutex
	subscribed bool
}

func NewBaseListener(name string, publisher events.Publisher, clk clock.Clock) BaseListener {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return BaseListener{name: name, publisher: publisher, clock: clk}
}

func (b *BaseListener) Name() string {
	return b.name
}

func (b *BaseListener) IsSubscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribed
}

func (b *BaseListener) setSubscribed(v bool) {
	b.mu.Lock()
	b.subscribed = v
	b.mu.Unlock()
}

// HandleError logs err and publishes a ListenerFailed event. It never returns the error, so it is
// safe to call from inside a transport callback.
func (b *BaseListener) HandleError(err error) {
	if err == nil {
		return
	}
	config.Log.ZError().Err(err).Str("listener", b.name).Msg("listener error")
	b.publisher.Publish(events.ListenerFailed{
		Listener: b.name,
		Error:    err.Error(),
		At:       b.clock.Now(),
	})
}

// Guard runs fn and routes a panic or returned error to HandleError.
func (b *BaseListener) Guard(fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			config.Log.ZError().Str("listener", b.name).Str("stack", string(debug.Stack())).Msg("listener handler panicked")
			b.HandleError(fmt.Errorf("handler panic: %v", rec))
		}
	}()
	b.HandleError(fn())
}
