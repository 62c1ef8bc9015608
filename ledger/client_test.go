package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// statusServer answers getSignatureStatuses with level for every queried signature.
type statusServer struct {
	mu      sync.Mutex
	level   string
	queried [][]string
}

func (s *statusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var sigs []string
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params[0], &sigs)
	}

	s.mu.Lock()
	s.queried = append(s.queried, sigs)
	level := s.level
	s.mu.Unlock()

	value := make([]map[string]any, len(sigs))
	for i := range sigs {
		value[i] = map[string]any{"slot": 77, "confirmations": nil, "err": nil, "confirmationStatus": level}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  map[string]any{"context": map[string]any{"slot": 77}, "value": value},
	})
}

func testSignature(seed byte) string {
	var sig solana.Signature
	for i := range sig {
		sig[i] = seed + byte(i)
	}
	return sig.String()
}

func TestSignatureStatusesReportsMalformedSignaturesPerIndex(t *testing.T) {
	srv := &statusServer{level: "finalized"}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := NewClient(config.Ledger{RPC: ts.URL}, breaker.New(breaker.LedgerRPC, breaker.DefaultConfig(), nil))
	valid := testSignature(3)

	out, err := client.SignatureStatuses(context.Background(), []string{valid, "sig-2", valid})
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.True(t, out[0].Found)
	assert.Equal(t, Finalized, out[0].Level)
	assert.Equal(t, uint64(77), out[0].Slot)
	assert.Empty(t, out[0].Invalid)

	assert.False(t, out[1].Found)
	assert.Equal(t, "sig-2", out[1].Signature)
	assert.NotEmpty(t, out[1].Invalid)

	assert.True(t, out[2].Found)

	require.Len(t, srv.queried, 1)
	assert.Equal(t, []string{valid, valid}, srv.queried[0])
}

func TestSignatureStatusesSkipsTheCallWhenNothingParses(t *testing.T) {
	srv := &statusServer{level: "finalized"}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := NewClient(config.Ledger{RPC: ts.URL}, breaker.New(breaker.LedgerRPC, breaker.DefaultConfig(), nil))
	out, err := client.SignatureStatuses(context.Background(), []string{"not-a-signature"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.NotEmpty(t, out[0].Invalid)
	assert.Empty(t, srv.queried)
}

// historyServer serves getSignaturesForAddress over a fixed newest-first history.
type historyServer struct {
	mu      sync.Mutex
	history []string
	calls   int
}

func (s *historyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var opts struct {
		Limit  int    `json:"limit"`
		Before string `json:"before"`
		Until  string `json:"until"`
	}
	if len(req.Params) > 1 {
		_ = json.Unmarshal(req.Params[1], &opts)
	}

	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	started := opts.Before == ""
	var page []map[string]any
	for i, sig := range s.history {
		if !started {
			started = sig == opts.Before
			continue
		}
		if sig == opts.Until || (opts.Limit > 0 && len(page) == opts.Limit) {
			break
		}
		page = append(page, map[string]any{
			"signature":          sig,
			"slot":               1000 - i,
			"err":                nil,
			"memo":               nil,
			"blockTime":          nil,
			"confirmationStatus": "finalized",
		})
	}
	if page == nil {
		page = []map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": page})
}

func TestSignaturesSincePagesPastTheLimit(t *testing.T) {
	history := make([]string, 6)
	for i := range history {
		history[i] = testSignature(byte(10 * (i + 1)))
	}
	srv := &historyServer{history: history}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := NewClient(config.Ledger{RPC: ts.URL}, breaker.New(breaker.LedgerRPC, breaker.DefaultConfig(), nil))
	program := solana.NewWallet().PublicKey().String()
	cursor := history[5]

	sigs, err := client.SignaturesSince(context.Background(), program, cursor, 2)
	require.NoError(t, err)
	require.Len(t, sigs, 5)
	for i, s := range sigs {
		assert.Equal(t, history[4-i], s.Signature)
	}
	assert.Less(t, sigs[0].Slot, sigs[4].Slot)
	assert.Equal(t, 3, srv.calls)
}

func TestSignaturesSinceWithoutCursorReturnsOnePage(t *testing.T) {
	history := []string{testSignature(1), testSignature(2), testSignature(3)}
	srv := &historyServer{history: history}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := NewClient(config.Ledger{RPC: ts.URL}, breaker.New(breaker.LedgerRPC, breaker.DefaultConfig(), nil))
	sigs, err := client.SignaturesSince(context.Background(), solana.NewWallet().PublicKey().String(), "", 2)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, history[1], sigs[0].Signature)
	assert.Equal(t, history[0], sigs[1].Signature)
	assert.Equal(t, 1, srv.calls)
}
