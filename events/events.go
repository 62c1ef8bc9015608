// Package events is the in-process notification channel of the core. The set of events is
// closed: only the types in this package implement Event.
package events

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/DefiantLabs/ledger-sync/config"
)

// Kind names an event variant on the wire.
type Kind string

const (
	KindConfirmed   Kind = "confirmed"
	KindTimeout     Kind = "timeout"
	KindListenerErr Kind = "listener-error"
	KindDiscrepancy Kind = "discrepancy-detected"
)

// Event is implemented only by the variants below.
type Event interface {
	Kind() Kind
	OccurredAt() time.Time
	sealed()
}

// TransactionConfirmed is published when a tracked signature reaches the target confirmation level.
type TransactionConfirmed struct {
	Signature          string `json:"signature"`
	Slot               uint64 `json:"slot"`
	ConfirmationStatus string `json:"confirmationStatus"`
	// Err is set when the transaction landed but its execution failed.
	Err      string            `json:"err,omitempty"`
	Attempts int               `json:"attempts"`
	Metadata map[string]string `json:"metadata,omitempty"`
	At       time.Time         `json:"at"`
}

// TransactionTimedOut is published once when a tracked signature exhausts its poll attempts.
type TransactionTimedOut struct {
	Signature string            `json:"signature"`
	Attempts  int               `json:"attempts"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	At        time.Time         `json:"at"`
}

// ListenerFailed is published by listeners instead of surfacing errors into the transport.
type ListenerFailed struct {
	Listener string    `json:"listener"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}

// DiscrepancyDetected is published for every new discrepancy a reconciliation run records.
type DiscrepancyDetected struct {
	RunID           string    `json:"runId"`
	TicketID        string    `json:"ticketId"`
	DiscrepancyType string    `json:"discrepancyType"`
	DatabaseValue   string    `json:"databaseValue"`
	LedgerValue     string    `json:"ledgerValue"`
	AutoCorrected   bool      `json:"autoCorrected"`
	At              time.Time `json:"at"`
}

func (TransactionConfirmed) Kind() Kind { return KindConfirmed }
func (TransactionTimedOut) Kind() Kind  { return KindTimeout }
func (ListenerFailed) Kind() Kind       { return KindListenerErr }
func (DiscrepancyDetected) Kind() Kind  { return KindDiscrepancy }

func (e TransactionConfirmed) OccurredAt() time.Time { return e.At }
func (e TransactionTimedOut) OccurredAt() time.Time  { return e.At }
func (e ListenerFailed) OccurredAt() time.Time       { return e.At }
func (e DiscrepancyDetected) OccurredAt() time.Time  { return e.At }

func (TransactionConfirmed) sealed() {}
func (TransactionTimedOut) sealed()  {}
func (ListenerFailed) sealed()       {}
func (DiscrepancyDetected) sealed()  {}

// Handler receives published events. Handlers run on the publisher's goroutine and must not block.
type Handler func(Event)

// Publisher is the narrow interface producers depend on.
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribed handlers.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every handler. A panicking handler is logged and skipped.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, e)
	}
}

func deliver(h Handler, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			config.Log.ZError().
				Str("event", string(e.Kind())).
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("event handler panicked")
		}
	}()
	h(e)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}
