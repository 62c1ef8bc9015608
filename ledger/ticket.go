package ledger

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// TicketState is the on-chain view of a ticket account.
type TicketState struct {
	Address       string
	Event         string
	TicketID      uint64
	AssetID       string
	Owner         string
	Used          bool
	VerifiedAt    *int64
	TransferCount uint32
	Burned        bool
}

var (
	ticketDiscriminator = AccountDiscriminator("Ticket")
	closedDiscriminator = bytes.Repeat([]byte{0xff}, 8)
)

// AccountDiscriminator is the 8 byte prefix identifying an account type.
func AccountDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("account:" + name))
	return sum[:8]
}

// ErrShortData is returned when account data ends before the layout does.
var ErrShortData = errors.New("borsh data truncated")

// ticketAccount is the borsh layout of a ticket account after its discriminator.
type ticketAccount struct {
	Event         solana.PublicKey
	TicketID      uint64
	AssetID       solana.PublicKey
	Owner         string
	Used          bool
	VerifiedAt    *int64 `bin:"optional"`
	TransferCount uint32
}

// DecodeBorsh decodes a borsh payload into v, reporting truncated input as ErrShortData.
func DecodeBorsh(data []byte, v interface{}) error {
	if err := bin.NewBorshDecoder(data).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrShortData, err)
	}
	return nil
}

// DecodeTicket decodes a ticket account. A closed account decodes as Burned.
func DecodeTicket(address string, data []byte) (*TicketState, error) {
	if len(data) < 8 {
		return nil, ErrShortData
	}
	if bytes.Equal(data[:8], closedDiscriminator) {
		return &TicketState{Address: address, Burned: true}, nil
	}
	if !bytes.Equal(data[:8], ticketDiscriminator) {
		return nil, fmt.Errorf("account %s is not a ticket", address)
	}

	var acct ticketAccount
	if err := DecodeBorsh(data[8:], &acct); err != nil {
		return nil, err
	}
	return &TicketState{
		Address:       address,
		Event:         acct.Event.String(),
		TicketID:      acct.TicketID,
		AssetID:       acct.AssetID.String(),
		Owner:         acct.Owner,
		Used:          acct.Used,
		VerifiedAt:    acct.VerifiedAt,
		TransferCount: acct.TransferCount,
	}, nil
}
