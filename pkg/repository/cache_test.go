package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DefiantLabs/ledger-sync/pkg/model"
	testdb "github.com/DefiantLabs/ledger-sync/pkg/repository/test_db"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	rdb, cleanup, err := testdb.NewRedis()
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cache := NewCache(rdb, "")

	health, err := cache.GetHealth(ctx)
	require.NoError(t, err)
	require.Nil(t, health)

	snapshot := &model.Health{Status: model.StatusOK, Circuits: map[string]string{"postgres": "CLOSED"}, DLQBacklog: 3}
	require.NoError(t, cache.SetHealth(ctx, snapshot, time.Minute))
	health, err = cache.GetHealth(ctx)
	require.NoError(t, err)
	require.Equal(t, snapshot.Circuits, health.Circuits)
	require.EqualValues(t, 3, health.DLQBacklog)

	sub := rdb.Subscribe(ctx, DefaultEventsChannel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	envelope := &model.EventEnvelope{Kind: "confirmed", OccurredAt: time.Now().UTC(), Payload: json.RawMessage(`{"signature":"sig-2"}`)}
	require.NoError(t, cache.PublishEvent(ctx, envelope))
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got model.EventEnvelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	require.Equal(t, "confirmed", got.Kind)

	for i := 0; i < maxEventsCacheSize+5; i++ {
		require.NoError(t, cache.AddEvent(ctx, envelope))
	}
	events, err := cache.GetEvents(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, events, maxEventsCacheSize+1)
}
