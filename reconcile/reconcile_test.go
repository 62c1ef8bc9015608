package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/db"
	"github.com/DefiantLabs/ledger-sync/db/models"
	"github.com/DefiantLabs/ledger-sync/events"
	"github.com/DefiantLabs/ledger-sync/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type memStore struct {
	mu            sync.Mutex
	runs          map[string]*models.ReconciliationRun
	tickets       map[string]*models.Ticket
	discrepancies []*models.OwnershipDiscrepancy
	log           []models.ReconciliationLogEntry
	insertErr     error
}

func newMemStore(tickets ...models.Ticket) *memStore {
	s := &memStore{runs: map[string]*models.ReconciliationRun{}, tickets: map[string]*models.Ticket{}}
	for i := range tickets {
		t := tickets[i]
		s.tickets[t.ID] = &t
	}
	return s
}

func (s *memStore) HasRunningRun(_ context.Context, scope string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.Scope == scope && r.Status == models.RunRunning {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) CreateRun(_ context.Context, run *models.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *run
	s.runs[run.ID] = &row
	return nil
}

func (s *memStore) FinishRun(_ context.Context, run *models.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *run
	s.runs[run.ID] = &row
	return nil
}

func (s *memStore) TicketsPage(_ context.Context, afterID string, limit int) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ticket
	for _, t := range s.tickets {
		if t.IsMinted && t.Status != models.TicketBurned && t.ID > afterID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) OpenDiscrepancy(_ context.Context, ticketID string, kind models.DiscrepancyType) (*models.OwnershipDiscrepancy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.discrepancies {
		if d.TicketID == ticketID && d.DiscrepancyType == kind && !d.Resolved {
			copied := *d
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memStore) RefreshDiscrepancy(_ context.Context, d *models.OwnershipDiscrepancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored := s.byID(d.ID); stored != nil && !stored.Resolved {
		stored.DatabaseValue = d.DatabaseValue
		stored.LedgerValue = d.LedgerValue
	}
	return nil
}

func (s *memStore) byID(id uint) *models.OwnershipDiscrepancy {
	for _, d := range s.discrepancies {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (s *memStore) InsertDiscrepancy(_ context.Context, d *models.OwnershipDiscrepancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	d.ID = uint(len(s.discrepancies) + 1)
	row := *d
	s.discrepancies = append(s.discrepancies, &row)
	return nil
}

func (s *memStore) ApplyCorrection(_ context.Context, d *models.OwnershipDiscrepancy, c db.Correction, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tickets[d.TicketID]
	switch c.Column {
	case "owner_id":
		t.OwnerID = c.Value.(string)
	case "is_used":
		t.IsUsed = c.Value.(bool)
	case "transfer_count":
		t.TransferCount = c.Value.(int)
	case "status":
		t.Status = c.Value.(models.TicketStatus)
	}
	s.log = append(s.log, models.ReconciliationLogEntry{
		RunID: d.RunID, TicketID: d.TicketID, FieldName: c.Column,
		OldValue: c.OldValue, NewValue: c.NewValue, Source: c.Source, ChangedAt: at,
	})
	d.MarkResolved(at)
	if stored := s.byID(d.ID); stored != nil {
		stored.MarkResolved(at)
	}
	return nil
}

func (s *memStore) onlyRun() models.ReconciliationRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		return *r
	}
	return models.ReconciliationRun{}
}

type fakeLedger struct {
	mu     sync.Mutex
	states map[string]*ledger.TicketState
	errs   map[string]error
}

func (l *fakeLedger) TicketState(_ context.Context, address string) (*ledger.TicketState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.errs[address]; ok {
		return nil, err
	}
	state, ok := l.states[address]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	copied := *state
	return &copied, nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.DiscrepancyDetected
}

func (r *recorder) Publish(e events.Event) {
	if d, ok := e.(events.DiscrepancyDetected); ok {
		r.mu.Lock()
		r.events = append(r.events, d)
		r.mu.Unlock()
	}
}

func ticket(id, owner string) models.Ticket {
	return models.Ticket{ID: id, TokenID: "token-" + id, TicketAddress: "addr-" + id, OwnerID: owner, Status: models.TicketActive, IsMinted: true}
}

type EngineTestSuite struct {
	suite.Suite
	store     *memStore
	ledger    *fakeLedger
	published *recorder
	clock     *clock.Fake
}

func (suite *EngineTestSuite) SetupTest() {
	suite.store = newMemStore(ticket("t-1", "wallet-A"), ticket("t-2", "wallet-C"))
	suite.ledger = &fakeLedger{
		states: map[string]*ledger.TicketState{
			"addr-t-1": {Address: "addr-t-1", Owner: "wallet-B"},
			"addr-t-2": {Address: "addr-t-2", Owner: "wallet-C"},
		},
		errs: map[string]error{},
	}
	suite.published = &recorder{}
	suite.clock = clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func (suite *EngineTestSuite) engine(policy Policy) *Engine {
	e := NewEngine(suite.store, suite.ledger, suite.published, suite.clock, Config{PageSize: 1, Workers: 2, Policy: policy})
	suite.T().Cleanup(e.Close)
	return e
}

func (suite *EngineTestSuite) TestOwnershipMismatchFlagged() {
	run, err := suite.engine(nil).Run(context.Background(), "")
	suite.Require().NoError(err)

	suite.Equal(models.RunCompleted, run.Status)
	suite.Equal(2, run.TicketsChecked)
	suite.Equal(1, run.DiscrepanciesFound)
	suite.Equal(0, run.DiscrepanciesResolved)
	suite.NotNil(run.CompletedAt)

	suite.Require().Len(suite.store.discrepancies, 1)
	d := suite.store.discrepancies[0]
	suite.Equal("t-1", d.TicketID)
	suite.Equal(models.DiscrepancyOwnershipMismatch, d.DiscrepancyType)
	suite.Equal("wallet-A", d.DatabaseValue)
	suite.Equal("wallet-B", d.LedgerValue)
	suite.False(d.Resolved)
	suite.Equal("wallet-A", suite.store.tickets["t-1"].OwnerID)

	persisted := suite.store.onlyRun()
	suite.Equal(models.RunCompleted, persisted.Status)
	suite.Equal(1, persisted.DiscrepanciesFound)

	suite.Require().Len(suite.published.events, 1)
	suite.False(suite.published.events[0].AutoCorrected)
}

func (suite *EngineTestSuite) TestSecondRunRecordsNothingNew() {
	e := suite.engine(nil)
	_, err := e.Run(context.Background(), DefaultScope)
	suite.Require().NoError(err)

	run, err := e.Run(context.Background(), DefaultScope)
	suite.Require().NoError(err)
	suite.Equal(0, run.DiscrepanciesFound)
	suite.Len(suite.store.discrepancies, 1)
}

func (suite *EngineTestSuite) TestAutoCorrectPatchesTicket() {
	policy, err := PolicyFromConfig([]string{"ownership_mismatch"})
	suite.Require().NoError(err)

	run, err := suite.engine(policy).Run(context.Background(), DefaultScope)
	suite.Require().NoError(err)
	suite.Equal(1, run.DiscrepanciesFound)
	suite.Equal(1, run.DiscrepanciesResolved)

	suite.Equal("wallet-B", suite.store.tickets["t-1"].OwnerID)
	suite.True(suite.store.discrepancies[0].Resolved)
	suite.Require().Len(suite.store.log, 1)
	entry := suite.store.log[0]
	suite.Equal("owner_id", entry.FieldName)
	suite.Equal("wallet-A", entry.OldValue)
	suite.Equal("wallet-B", entry.NewValue)
	suite.Equal("blockchain", entry.Source)
	suite.Equal(run.ID, entry.RunID)
	suite.True(suite.published.events[0].AutoCorrected)
}

func (suite *EngineTestSuite) TestAutoCorrectResolvesDiscrepancyFlaggedEarlier() {
	_, err := suite.engine(nil).Run(context.Background(), DefaultScope)
	suite.Require().NoError(err)
	suite.Require().Len(suite.store.discrepancies, 1)
	suite.False(suite.store.discrepancies[0].Resolved)

	policy, err := PolicyFromConfig([]string{"ownership_mismatch"})
	suite.Require().NoError(err)
	run, err := suite.engine(policy).Run(context.Background(), DefaultScope)
	suite.Require().NoError(err)
	suite.Equal(0, run.DiscrepanciesFound)
	suite.Equal(1, run.DiscrepanciesResolved)

	suite.Equal("wallet-B", suite.store.tickets["t-1"].OwnerID)
	suite.Require().Len(suite.store.discrepancies, 1)
	suite.True(suite.store.discrepancies[0].Resolved)
	suite.Require().Len(suite.store.log, 1)
	suite.Equal(run.ID, suite.store.log[0].RunID)
	suite.Equal("wallet-B", suite.store.log[0].NewValue)

	suite.Require().Len(suite.published.events, 2)
	suite.True(suite.published.events[1].AutoCorrected)
}

func (suite *EngineTestSuite) TestLedgerChangeRefreshesOpenDiscrepancy() {
	e := suite.engine(nil)
	_, err := e.Run(context.Background(), DefaultScope)
	suite.Require().NoError(err)

	suite.ledger.states["addr-t-1"] = &ledger.TicketState{Address: "addr-t-1", Owner: "wallet-C"}
	run, err := e.Run(context.Background(), DefaultScope)
	suite.Require().NoError(err)
	suite.Equal(0, run.DiscrepanciesFound)

	suite.Require().Len(suite.store.discrepancies, 1)
	d := suite.store.discrepancies[0]
	suite.False(d.Resolved)
	suite.Equal("wallet-A", d.DatabaseValue)
	suite.Equal("wallet-C", d.LedgerValue)

	suite.Require().Len(suite.published.events, 2)
	suite.Equal("wallet-C", suite.published.events[1].LedgerValue)
}

func (suite *EngineTestSuite) TestFieldComparisons() {
	suite.ledger.states["addr-t-2"] = &ledger.TicketState{Owner: "wallet-C", Used: true, TransferCount: 3}

	_, err := suite.engine(nil).Run(context.Background(), DefaultScope)
	suite.Require().NoError(err)

	kinds := map[models.DiscrepancyType]*models.OwnershipDiscrepancy{}
	for _, d := range suite.store.discrepancies {
		if d.TicketID == "t-2" {
			kinds[d.DiscrepancyType] = d
		}
	}
	suite.Require().Len(kinds, 2)
	suite.Equal("false", kinds[models.DiscrepancyUsedStatusMismatch].DatabaseValue)
	suite.Equal("true", kinds[models.DiscrepancyUsedStatusMismatch].LedgerValue)
	suite.Equal("0", kinds[models.DiscrepancyTransferCountMismatch].DatabaseValue)
	suite.Equal("3", kinds[models.DiscrepancyTransferCountMismatch].LedgerValue)
}

func (suite *EngineTestSuite) TestBurnedAndMissingAccounts() {
	suite.ledger.states["addr-t-1"] = &ledger.TicketState{Burned: true}
	delete(suite.ledger.states, "addr-t-2")

	policy, err := PolicyFromConfig([]string{"BURN_NOT_RECORDED"})
	suite.Require().NoError(err)
	run, err := suite.engine(policy).Run(context.Background(), DefaultScope)
	suite.Require().NoError(err)
	suite.Equal(2, run.DiscrepanciesFound)
	suite.Equal(1, run.DiscrepanciesResolved)

	suite.Equal(models.TicketBurned, suite.store.tickets["t-1"].Status)
	var missing *models.OwnershipDiscrepancy
	for _, d := range suite.store.discrepancies {
		if d.DiscrepancyType == models.DiscrepancyTokenNotFound {
			missing = d
		}
	}
	suite.Require().NotNil(missing)
	suite.Equal("t-2", missing.TicketID)
	suite.False(missing.Resolved)
}

func (suite *EngineTestSuite) TestTransientLedgerErrorSkipsTicket() {
	suite.ledger.errs["addr-t-1"] = context.DeadlineExceeded

	run, err := suite.engine(nil).Run(context.Background(), DefaultScope)
	suite.Require().NoError(err)
	suite.Equal(models.RunCompleted, run.Status)
	suite.Equal(1, run.TicketsChecked)
	suite.Equal(0, run.DiscrepanciesFound)
}

func (suite *EngineTestSuite) TestOpenCircuitFailsRun() {
	suite.ledger.errs["addr-t-2"] = &breaker.CircuitOpenError{Name: "ledger-rpc", RetryAfter: time.Second}
	policy, err := PolicyFromConfig([]string{"OWNERSHIP_MISMATCH"})
	suite.Require().NoError(err)

	run, err := suite.engine(policy).Run(context.Background(), DefaultScope)
	suite.Require().Error(err)
	suite.True(ledger.IsCircuitOpen(err))

	persisted := suite.store.onlyRun()
	suite.Equal(models.RunFailed, persisted.Status)
	suite.Require().NotNil(persisted.ErrorMessage)
	suite.Contains(*persisted.ErrorMessage, "ledger-rpc")
	suite.Equal(run.ID, persisted.ID)

	// the correction made on the first page survives the failure
	suite.Equal(1, persisted.DiscrepanciesResolved)
	suite.Equal("wallet-B", suite.store.tickets["t-1"].OwnerID)
}

func (suite *EngineTestSuite) TestStoreErrorFailsRun() {
	suite.store.insertErr = errors.New("connection lost")

	run, err := suite.engine(nil).Run(context.Background(), DefaultScope)
	suite.Require().Error(err)
	suite.Equal(models.RunFailed, run.Status)
	suite.Equal(models.RunFailed, suite.store.onlyRun().Status)
}

func (suite *EngineTestSuite) TestRunInProgress() {
	suite.store.runs["existing"] = &models.ReconciliationRun{ID: "existing", Scope: DefaultScope, Status: models.RunRunning}

	run, err := suite.engine(nil).Run(context.Background(), DefaultScope)
	suite.ErrorIs(err, ErrRunInProgress)
	suite.Nil(run)
	suite.Len(suite.store.runs, 1)

	_, err = suite.engine(nil).Run(context.Background(), "event:other")
	suite.NoError(err)
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestPolicyFromConfig(t *testing.T) {
	p, err := PolicyFromConfig([]string{" transfer_count_mismatch ", ""})
	require.NoError(t, err)
	assert.Equal(t, ActionAutoCorrect, p.ActionFor(models.DiscrepancyTransferCountMismatch))
	assert.Equal(t, ActionFlag, p.ActionFor(models.DiscrepancyOwnershipMismatch))

	_, err = PolicyFromConfig([]string{"TOKEN_NOT_FOUND"})
	assert.Error(t, err)
	_, err = PolicyFromConfig([]string{"SOMETHING_ELSE"})
	assert.Error(t, err)

	for _, kind := range models.DiscrepancyTypes {
		assert.Equal(t, ActionFlag, DefaultPolicy().ActionFor(kind))
	}
	assert.Equal(t, ActionFlag, Policy{models.DiscrepancyTokenNotFound: ActionAutoCorrect}.ActionFor(models.DiscrepancyTokenNotFound))
}

func TestParseSchedule(t *testing.T) {
	assert.NoError(t, ParseSchedule(DefaultSchedule))
	assert.NoError(t, ParseSchedule("0 */5 * * * *"))
	assert.NoError(t, ParseSchedule("*/5 * * * *"))
	assert.Error(t, ParseSchedule("every so often"))
}

type countingRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingRunner) Run(context.Context, string) (*models.ReconciliationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil, r.err
}

func TestSchedulerRunsAndStops(t *testing.T) {
	runner := &countingRunner{err: ErrRunInProgress}
	s := NewScheduler(runner, "@every 1s", "")
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.calls > 0
	}, 5*time.Second, 50*time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(&countingRunner{}, "not a schedule", "")
	assert.Error(t, s.Start(context.Background()))
}
