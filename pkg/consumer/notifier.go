package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/events"
	"github.com/DefiantLabs/ledger-sync/pkg/model"
	"github.com/DefiantLabs/ledger-sync/pkg/repository"
	"github.com/rs/zerolog/log"
)

const DefaultNotifierBuffer = 256

// Notifier forwards bus events to the cache channel. Bus handlers must not block, so events are
// buffered and dropped with a warning when the buffer is full.
type Notifier struct {
	cache    repository.EventsCache
	circuit  *breaker.Breaker
	eventsCh chan events.Event
}

func NewNotifier(cache repository.EventsCache, circuit *breaker.Breaker, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = DefaultNotifierBuffer
	}
	return &Notifier{cache: cache, circuit: circuit, eventsCh: make(chan events.Event, buffer)}
}

// Subscribe attaches the notifier to bus and returns the unsubscribe function.
func (s *Notifier) Subscribe(bus *events.Bus) func() {
	return bus.Subscribe(s.enqueue)
}

func (s *Notifier) enqueue(e events.Event) {
	select {
	case s.eventsCh <- e:
	default:
		log.Warn().Str("event", string(e.Kind())).Msg("notifier buffer full, dropping event")
	}
}

func (s *Notifier) Consume(ctx context.Context) error {
	log.Info().Msgf("Starting notifier consumer")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msgf("breaking the notifier loop.")
			return nil
		case e := <-s.eventsCh:
			if err := s.publish(ctx, e); err != nil {
				log.Err(err).Str("event", string(e.Kind())).Msg("Error publishing event")
			}
		}
	}
}

func (s *Notifier) publish(ctx context.Context, e events.Event) error {
	envelope, err := Envelope(e)
	if err != nil {
		return err
	}
	return s.circuit.Execute(ctx, func(ctx context.Context) error {
		if err := s.cache.PublishEvent(ctx, envelope); err != nil {
			return err
		}
		return s.cache.AddEvent(ctx, envelope)
	})
}

// Envelope wraps an event for other services. The correlation id is the event's natural key.
func Envelope(e events.Event) (*model.EventEnvelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Kind(), err)
	}
	return &model.EventEnvelope{
		Kind:          string(e.Kind()),
		OccurredAt:    e.OccurredAt(),
		CorrelationID: correlationID(e),
		Payload:       payload,
	}, nil
}

func correlationID(e events.Event) string {
	switch ev := e.(type) {
	case events.TransactionConfirmed:
		return ev.Signature
	case events.TransactionTimedOut:
		return ev.Signature
	case events.ListenerFailed:
		return ev.Listener
	case events.DiscrepancyDetected:
		return ev.RunID
	}
	return ""
}
