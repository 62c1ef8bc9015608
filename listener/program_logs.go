package listener

import (
	"context"
	"errors"
	"time"

	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/DefiantLabs/ledger-sync/events"
	"github.com/DefiantLabs/ledger-sync/ledger"
)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
)

// Handler consumes one transaction from a subscription.
type Handler func(ctx context.Context, txn ledger.Transaction) error

// ProgramLogsListener streams the logs of every transaction mentioning a program and hands each one
// to a Handler. A dropped stream is redialed with backoff until Unsubscribe. The backoff only
// resets once a notification arrives, so a stream that dials but fails straight away keeps backing off.
type ProgramLogsListener struct {
	BaseListener
	program string
	dialer  ledger.Dialer
	handler Handler

	cancel context.CancelFunc
	done   chan struct{}
}

func NewProgramLogsListener(name string, program string, dialer ledger.Dialer, handler Handler, publisher events.Publisher, clk clock.Clock) *ProgramLogsListener {
	return &ProgramLogsListener{
		BaseListener: NewBaseListener(name, publisher, clk),
		program:      program,
		dialer:       dialer,
		handler:      handler,
	}
}

func (l *ProgramLogsListener) Subscribe(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subscribed {
		return nil
	}

	stream, err := l.dialer.SubscribeLogs(ctx, l.program)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	l.done = make(chan struct{})
	l.subscribed = true

	config.Log.ZInfo().Str("listener", l.name).Str("program", l.program).Msg("subscribed to program logs")
	go l.run(runCtx, stream, l.done)
	return nil
}

func (l *ProgramLogsListener) Unsubscribe() error {
	l.mu.Lock()
	if !l.subscribed {
		l.mu.Unlock()
		return nil
	}
	cancel, done := l.cancel, l.done
	l.subscribed = false
	l.cancel = nil
	l.done = nil
	l.mu.Unlock()

	cancel()
	<-done
	config.Log.ZInfo().Str("listener", l.name).Msg("unsubscribed from program logs")
	return nil
}

func (l *ProgramLogsListener) run(ctx context.Context, stream ledger.LogStream, done chan struct{}) {
	defer close(done)
	delay := minReconnectDelay

	for {
		if stream == nil {
			var err error
			stream, err = l.dialer.SubscribeLogs(ctx, l.program)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.HandleError(err)
				if !l.sleep(ctx, delay) {
					return
				}
				delay = min(delay*2, maxReconnectDelay)
				continue
			}
		}

		n, err := stream.Recv(ctx)
		if err != nil {
			stream.Close()
			stream = nil
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			l.HandleError(err)
			if !l.sleep(ctx, delay) {
				return
			}
			delay = min(delay*2, maxReconnectDelay)
			continue
		}
		delay = minReconnectDelay

		txn := ledger.Transaction{
			Signature: n.Signature,
			Slot:      n.Slot,
			ProgramID: l.program,
			Logs:      n.Logs,
			Failed:    n.Failed,
		}
		l.Guard(func() error {
			return l.handler(ctx, txn)
		})
	}
}

func (l *ProgramLogsListener) sleep(ctx context.Context, d time.Duration) bool {
	ticker := l.clock.NewTicker(d)
	defer ticker.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-ticker.C():
		return true
	}
}
