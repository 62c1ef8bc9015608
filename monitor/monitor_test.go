package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/DefiantLabs/ledger-sync/events"
	"github.com/DefiantLabs/ledger-sync/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeChecker struct {
	mu     sync.Mutex
	levels map[string]ledger.Commitment
	err    error
	calls  int
}

func (f *fakeChecker) set(sig string, level ledger.Commitment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels[sig] = level
}

func (f *fakeChecker) SignatureStatuses(_ context.Context, signatures []string) ([]ledger.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]ledger.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		level, ok := f.levels[sig]
		out[i] = ledger.SignatureStatus{Signature: sig, Slot: 500, Level: level, Found: ok}
	}
	return out, nil
}

type MonitorTestSuite struct {
	suite.Suite
	clock   *clock.Fake
	checker *fakeChecker
	bus     *events.Bus
	events  chan events.Event
	monitor *Monitor
}

func (suite *MonitorTestSuite) SetupTest() {
	suite.clock = clock.NewFake(time.Unix(1000, 0))
	suite.checker = &fakeChecker{levels: map[string]ledger.Commitment{}}
	suite.bus = events.NewBus()
	suite.events = make(chan events.Event, 64)
	suite.bus.Subscribe(func(e events.Event) { suite.events <- e })
	suite.monitor = New(suite.checker, suite.bus, suite.clock, Config{})
}

func (suite *MonitorTestSuite) TearDownTest() {
	suite.monitor.Stop()
}

func (f *fakeChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// tick advances one interval and waits until the loop has queried the checker.
func (suite *MonitorTestSuite) tick() {
	before := suite.checker.callCount()
	suite.clock.Advance(DefaultInterval)
	suite.Require().Eventually(func() bool {
		return suite.checker.callCount() > before
	}, 2*time.Second, time.Millisecond)
}

// idleTick advances one interval when no loop is expected to poll.
func (suite *MonitorTestSuite) idleTick() {
	suite.clock.Advance(DefaultInterval)
}

func (suite *MonitorTestSuite) next() events.Event {
	select {
	case e := <-suite.events:
		return e
	case <-time.After(2 * time.Second):
		suite.FailNow("no event published")
		return nil
	}
}

func (suite *MonitorTestSuite) TestFinalizedSignatureConfirmsOnce() {
	suite.monitor.Add("sig-2", map[string]string{"ticketId": "t-1"})
	suite.Equal(1, suite.monitor.PendingCount())

	suite.checker.set("sig-2", ledger.Finalized)
	suite.tick()

	confirmed, ok := suite.next().(events.TransactionConfirmed)
	suite.Require().True(ok)
	suite.Equal("sig-2", confirmed.Signature)
	suite.Equal("finalized", confirmed.ConfirmationStatus)
	suite.Equal("t-1", confirmed.Metadata["ticketId"])
	suite.Equal(1, confirmed.Attempts)
	suite.Equal(0, suite.monitor.PendingCount())

	suite.idleTick()
	suite.Empty(suite.events)
}

func (suite *MonitorTestSuite) TestLowerLevelsKeepPolling() {
	suite.monitor.Add("sig-3", nil)

	suite.checker.set("sig-3", ledger.Processed)
	suite.tick()
	suite.checker.set("sig-3", ledger.Confirmed)
	suite.tick()
	suite.Equal(1, suite.monitor.PendingCount())
	suite.Empty(suite.events)

	suite.checker.set("sig-3", ledger.Finalized)
	suite.tick()
	confirmed := suite.next().(events.TransactionConfirmed)
	suite.Equal(3, confirmed.Attempts)
}

func (suite *MonitorTestSuite) TestTargetLevelIsConfigurable() {
	suite.monitor = New(suite.checker, suite.bus, suite.clock, Config{Target: ledger.Confirmed})
	suite.monitor.Add("sig-4", nil)
	suite.checker.set("sig-4", ledger.Confirmed)
	suite.tick()

	suite.Equal("confirmed", suite.next().(events.TransactionConfirmed).ConfirmationStatus)
}

func (suite *MonitorTestSuite) TestTimesOutExactlyOnceAfterMaxAttempts() {
	suite.monitor.Add("sig-5", nil)
	for i := 0; i < DefaultMaxAttempts-1; i++ {
		suite.tick()
	}
	suite.Equal(1, suite.monitor.PendingCount())
	suite.Empty(suite.events)

	suite.tick()
	timedOut, ok := suite.next().(events.TransactionTimedOut)
	suite.Require().True(ok)
	suite.Equal("sig-5", timedOut.Signature)
	suite.Equal(DefaultMaxAttempts, timedOut.Attempts)
	suite.Equal(0, suite.monitor.PendingCount())

	suite.idleTick()
	suite.idleTick()
	suite.Empty(suite.events)
}

func (suite *MonitorTestSuite) TestTransientErrorsAreInconclusive() {
	suite.checker.mu.Lock()
	suite.checker.err = errors.New("read: connection reset by peer")
	suite.checker.mu.Unlock()
	suite.monitor.Add("sig-6", nil)
	suite.tick()
	suite.tick()
	suite.Equal(1, suite.monitor.PendingCount())
	suite.Empty(suite.events)

	suite.checker.mu.Lock()
	suite.checker.err = nil
	suite.checker.mu.Unlock()
	suite.checker.set("sig-6", ledger.Finalized)
	suite.tick()
	suite.Equal(3, suite.next().(events.TransactionConfirmed).Attempts)
}

func (suite *MonitorTestSuite) TestSideEffectRunsAfterConfirmation() {
	done := make(chan Pending, 1)
	suite.monitor.AddWithSideEffect("sig-7", map[string]string{"ticketId": "t-9"}, func(_ context.Context, p Pending, status ledger.SignatureStatus) error {
		done <- p
		return errors.New("side effect errors are logged only")
	})
	suite.checker.set("sig-7", ledger.Finalized)
	suite.tick()

	suite.next()
	select {
	case p := <-done:
		suite.Equal("t-9", p.Metadata["ticketId"])
	case <-time.After(2 * time.Second):
		suite.FailNow("side effect did not run")
	}
}

func (suite *MonitorTestSuite) TestSingleTickerForAllPending() {
	suite.monitor.Add("a", nil)
	suite.monitor.Add("b", nil)
	suite.monitor.Add("a", nil)
	suite.Equal(2, suite.monitor.PendingCount())
	suite.Equal(1, suite.clock.Tickers())

	suite.tick()
	suite.Equal(1, suite.checker.callCount())
}

func (suite *MonitorTestSuite) TestStopDropsPending() {
	suite.monitor.Add("a", nil)
	suite.monitor.Add("b", nil)
	suite.monitor.Stop()
	suite.Equal(0, suite.monitor.PendingCount())

	suite.idleTick()
	suite.Empty(suite.events)
	suite.Zero(suite.checker.callCount())

	suite.monitor.Add("c", nil)
	suite.Equal(1, suite.monitor.PendingCount())
}

func TestMonitorSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}

// finalizedRPC answers every getSignatureStatuses query with a finalized status.
func finalizedRPC(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var sigs []string
		if len(req.Params) > 0 {
			require.NoError(t, json.Unmarshal(req.Params[0], &sigs))
		}
		value := make([]map[string]any, len(sigs))
		for i := range sigs {
			value[i] = map[string]any{"slot": 900, "confirmations": nil, "err": nil, "confirmationStatus": "finalized"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]any{"context": map[string]any{"slot": 900}, "value": value},
		})
	}))
}

func TestMalformedSignatureDoesNotStallTheBatch(t *testing.T) {
	ts := finalizedRPC(t)
	defer ts.Close()

	var valid solana.Signature
	for i := range valid {
		valid[i] = byte(i + 1)
	}

	clk := clock.NewFake(time.Unix(1000, 0))
	client := ledger.NewClient(config.Ledger{RPC: ts.URL}, breaker.New(breaker.LedgerRPC, breaker.DefaultConfig(), clk))
	bus := events.NewBus()
	received := make(chan events.Event, 8)
	bus.Subscribe(func(e events.Event) { received <- e })

	m := New(client, bus, clk, Config{MaxAttempts: 3})
	defer m.Stop()
	m.Add(valid.String(), nil)
	m.Add("sig-2", nil)

	clk.Advance(DefaultInterval)

	got := map[string]events.Event{}
	for len(got) < 2 {
		select {
		case e := <-received:
			switch ev := e.(type) {
			case events.TransactionConfirmed:
				got[ev.Signature] = ev
			case events.TransactionTimedOut:
				got[ev.Signature] = ev
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("expected two events, got %d", len(got))
		}
	}

	confirmed, ok := got[valid.String()].(events.TransactionConfirmed)
	require.True(t, ok)
	require.Equal(t, 1, confirmed.Attempts)
	require.Equal(t, uint64(900), confirmed.Slot)

	_, ok = got["sig-2"].(events.TransactionTimedOut)
	require.True(t, ok)
	require.Equal(t, 0, m.PendingCount())
}
