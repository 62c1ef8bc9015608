package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Client is the read-mostly view of the cluster.
type Client struct {
	rpc        *rpc.Client
	circuit    *breaker.Breaker
	commitment rpc.CommitmentType
	wsURL      string
}

func NewClient(conf config.Ledger, circuit *breaker.Breaker) *Client {
	commitment := rpc.CommitmentConfirmed
	if c, err := ParseCommitment(conf.Commitment); err == nil {
		commitment = rpc.CommitmentType(c)
	}
	return &Client{
		rpc:        rpc.New(conf.RPC),
		circuit:    circuit,
		commitment: commitment,
		wsURL:      conf.WS,
	}
}

// maxStatusBatch is the getSignatureStatuses request limit.
const maxStatusBatch = 256

// SignatureStatus queries the status of one signature, searching transaction history.
func (c *Client) SignatureStatus(ctx context.Context, signature string) (SignatureStatus, error) {
	out, err := c.SignatureStatuses(ctx, []string{signature})
	if err != nil {
		return SignatureStatus{}, err
	}
	return out[0], nil
}

// SignatureStatuses queries many signatures at once. The result is index aligned with signatures.
// A signature that does not parse is reported on its own index through Invalid and is never sent.
func (c *Client) SignatureStatuses(ctx context.Context, signatures []string) ([]SignatureStatus, error) {
	statuses := make([]SignatureStatus, len(signatures))
	sigs := make([]solana.Signature, 0, len(signatures))
	index := make([]int, 0, len(signatures))
	for i, s := range signatures {
		statuses[i].Signature = s
		sig, err := solana.SignatureFromBase58(s)
		if err != nil {
			statuses[i].Invalid = err.Error()
			continue
		}
		sigs = append(sigs, sig)
		index = append(index, i)
	}

	for start := 0; start < len(sigs); start += maxStatusBatch {
		end := min(start+maxStatusBatch, len(sigs))
		batch := sigs[start:end]

		out, err := breaker.Call(ctx, c.circuit, func(ctx context.Context) (*rpc.GetSignatureStatusesResult, error) {
			return c.rpc.GetSignatureStatuses(ctx, true, batch...)
		})
		if err != nil {
			return nil, err
		}

		for i := range batch {
			if out == nil || i >= len(out.Value) || out.Value[i] == nil {
				continue
			}
			v := out.Value[i]
			status := &statuses[index[start+i]]
			status.Found = true
			status.Slot = v.Slot
			status.Level = Commitment(v.ConfirmationStatus)
			if v.Err != nil {
				status.Err = fmt.Sprintf("%v", v.Err)
			}
		}
	}
	return statuses, nil
}

func (c *Client) Slot(ctx context.Context) (uint64, error) {
	return breaker.Call(ctx, c.circuit, func(ctx context.Context) (uint64, error) {
		return c.rpc.GetSlot(ctx, c.commitment)
	})
}

func (c *Client) LatestBlockhash(ctx context.Context) (string, error) {
	out, err := breaker.Call(ctx, c.circuit, func(ctx context.Context) (*rpc.GetLatestBlockhashResult, error) {
		return c.rpc.GetLatestBlockhash(ctx, c.commitment)
	})
	if err != nil {
		return "", err
	}
	return out.Value.Blockhash.String(), nil
}

// Health is the check the readiness endpoint uses.
func (c *Client) Health(ctx context.Context) error {
	return c.circuit.Execute(ctx, func(ctx context.Context) error {
		_, err := c.rpc.GetHealth(ctx)
		return err
	})
}

// TicketState reads and decodes a ticket account. A missing account yields ErrAccountNotFound.
func (c *Client) TicketState(ctx context.Context, address string) (*TicketState, error) {
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid ticket address %q: %w", address, err)
	}

	out, err := breaker.Call(ctx, c.circuit, func(ctx context.Context) (*rpc.GetAccountInfoResult, error) {
		res, err := c.rpc.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
		// a missing account is an answer, not a failing dependency
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return res, err
	})
	if err != nil {
		return nil, err
	}
	if out == nil || out.Value == nil || out.Value.Data == nil {
		return nil, ErrAccountNotFound
	}
	return DecodeTicket(address, out.Value.Data.GetBinary())
}

// SignaturesSince returns the program's signatures newer than until, oldest first. Pages of limit
// signatures are walked backwards until until is reached, so a gap wider than one page is
// returned whole. An empty until returns only the most recent page.
func (c *Client) SignaturesSince(ctx context.Context, program string, until string, limit int) ([]SignatureInfo, error) {
	key, err := solana.PublicKeyFromBase58(program)
	if err != nil {
		return nil, fmt.Errorf("invalid program id %q: %w", program, err)
	}
	var untilSig solana.Signature
	if until != "" {
		if untilSig, err = solana.SignatureFromBase58(until); err != nil {
			return nil, fmt.Errorf("invalid cursor signature %q: %w", until, err)
		}
	}

	// newest first on the wire
	var newestFirst []*rpc.TransactionSignature
	var before solana.Signature
	for {
		opts := &rpc.GetSignaturesForAddressOpts{Commitment: c.commitment, Until: untilSig, Before: before}
		if limit > 0 {
			opts.Limit = &limit
		}
		page, err := breaker.Call(ctx, c.circuit, func(ctx context.Context) ([]*rpc.TransactionSignature, error) {
			return c.rpc.GetSignaturesForAddressWithOpts(ctx, key, opts)
		})
		if err != nil {
			return nil, err
		}
		newestFirst = append(newestFirst, page...)

		if until == "" || limit <= 0 || len(page) < limit || page[len(page)-1] == nil {
			break
		}
		before = page[len(page)-1].Signature
	}

	sigs := make([]SignatureInfo, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		s := newestFirst[i]
		if s == nil {
			continue
		}
		sigs = append(sigs, SignatureInfo{Signature: s.Signature.String(), Slot: s.Slot, Failed: s.Err != nil})
	}
	return sigs, nil
}

// Transaction fetches one transaction with its log messages.
func (c *Client) Transaction(ctx context.Context, program string, signature string) (*Transaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}
	maxVersion := uint64(0)

	out, err := breaker.Call(ctx, c.circuit, func(ctx context.Context) (*rpc.GetTransactionResult, error) {
		return c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     c.commitment,
			MaxSupportedTransactionVersion: &maxVersion,
		})
	})
	if err != nil {
		return nil, err
	}

	txn := &Transaction{Signature: signature, Slot: out.Slot, ProgramID: program}
	if out.BlockTime != nil {
		t := out.BlockTime.Time()
		txn.BlockTime = &t
	}
	if out.Meta != nil {
		txn.Logs = out.Meta.LogMessages
		txn.Failed = out.Meta.Err != nil
	}
	return txn, nil
}

func (c *Client) Commitment() Commitment {
	return Commitment(c.commitment)
}
