package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeAdvanceDeliversTick(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)
	ticker := c.NewTicker(time.Second)

	got := make(chan time.Time, 1)
	go func() { got <- <-ticker.C() }()

	c.Advance(time.Second)
	select {
	case ts := <-got:
		require.Equal(t, start.Add(time.Second), ts)
	case <-time.After(time.Second):
		t.Fatal("tick was not delivered")
	}
}

func TestFakeAdvanceSkipsStoppedTicker(t *testing.T) {
	c := NewFake(time.Now())
	ticker := c.NewTicker(time.Second)
	ticker.Stop()

	// must not block: nobody is receiving and the ticker is stopped
	c.Advance(5 * time.Second)
	require.Equal(t, 0, c.Tickers())
}

func TestFakeSince(t *testing.T) {
	start := time.Now()
	c := NewFake(start)
	c.Advance(90 * time.Millisecond)
	require.Equal(t, 90*time.Millisecond, c.Since(start))
}
