package ledger

import (
	"context"
	"fmt"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// LogNotification is one logsSubscribe notification.
type LogNotification struct {
	Signature string
	Slot      uint64
	Logs      []string
	Failed    bool
}

// LogStream delivers notifications in order until closed.
type LogStream interface {
	Recv(ctx context.Context) (*LogNotification, error)
	Close()
}

// Dialer opens log subscriptions for a program.
type Dialer interface {
	SubscribeLogs(ctx context.Context, program string) (LogStream, error)
}

type wsLogStream struct {
	conn *ws.Client
	sub  *ws.LogSubscription
}

func (s *wsLogStream) Recv(ctx context.Context) (*LogNotification, error) {
	res, err := s.sub.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("log subscription closed")
	}
	return &LogNotification{
		Signature: res.Value.Signature.String(),
		Slot:      res.Context.Slot,
		Logs:      res.Value.Logs,
		Failed:    res.Value.Err != nil,
	}, nil
}

func (s *wsLogStream) Close() {
	s.sub.Unsubscribe()
	s.conn.Close()
}

// SubscribeLogs opens a websocket and subscribes to logs mentioning program.
func (c *Client) SubscribeLogs(ctx context.Context, program string) (LogStream, error) {
	key, err := solana.PublicKeyFromBase58(program)
	if err != nil {
		return nil, fmt.Errorf("invalid program id %q: %w", program, err)
	}

	return breaker.Call(ctx, c.circuit, func(ctx context.Context) (LogStream, error) {
		conn, err := ws.Connect(ctx, c.wsURL)
		if err != nil {
			return nil, err
		}
		sub, err := conn.LogsSubscribeMentions(key, c.commitment)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return &wsLogStream{conn: conn, sub: sub}, nil
	})
}
