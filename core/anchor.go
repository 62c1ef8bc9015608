package core

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/DefiantLabs/ledger-sync/db/models"
	"github.com/DefiantLabs/ledger-sync/ledger"
	"github.com/DefiantLabs/ledger-sync/util"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const (
	instructionLogPrefix = "Program log: Instruction: "
	programDataPrefix    = "Program data: "
	programLogPrefix     = "Program log: "
)

// Marketplace names recorded on activity rows.
const (
	MarketplaceSecondary = "marketplace"
	MarketplaceTicket    = "tickettoken"
)

// MarketplaceEvent is a decoded listing lifecycle event. Amounts are in SOL.
type MarketplaceEvent struct {
	Name           string
	Type           models.ActivityType
	Marketplace    string
	TokenID        string
	Seller         string
	Buyer          *string
	Price          decimal.Decimal
	MarketplaceFee decimal.Decimal
	VenueRoyalty   decimal.Decimal
	ExpiresAt      *int64
	Timestamp      int64
}

// EventDiscriminator is the 8 byte prefix of an emitted event.
func EventDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("event:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

type listingCreated struct {
	Seller    solana.PublicKey
	AssetID   solana.PublicKey
	Price     uint64
	ExpiresAt int64
	Timestamp int64
}

type listingSold struct {
	Buyer          solana.PublicKey
	Seller         solana.PublicKey
	AssetID        solana.PublicKey
	Price          uint64
	MarketplaceFee uint64
	VenueRoyalty   uint64
	Timestamp      int64
}

type listingCancelled struct {
	Seller    solana.PublicKey
	AssetID   solana.PublicKey
	Timestamp int64
}

type ticketListed struct {
	Seller    solana.PublicKey
	Event     solana.PublicKey
	AssetID   solana.PublicKey
	Price     uint64
	ExpiresAt int64
	Timestamp int64
}

type eventDecoder func(data []byte) (*MarketplaceEvent, error)

var eventDecoders = map[[8]byte]eventDecoder{
	EventDiscriminator("ListingCreated"):            decodeListingCreated,
	EventDiscriminator("ListingSold"):               decodeListingSold,
	EventDiscriminator("ListingCancelled"):          decodeListingCancelled,
	EventDiscriminator("TicketListedOnMarketplace"): decodeTicketListed,
}

// decodeProgramData decodes one "Program data:" payload. Unknown or malformed payloads yield nil.
func decodeProgramData(payload string) *MarketplaceEvent {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil || len(raw) < 8 {
		return nil
	}
	var disc [8]byte
	copy(disc[:], raw[:8])
	decode, ok := eventDecoders[disc]
	if !ok {
		return nil
	}
	ev, err := decode(raw[8:])
	if err != nil {
		return nil
	}
	return ev
}

func decodeListingCreated(data []byte) (*MarketplaceEvent, error) {
	var e listingCreated
	if err := ledger.DecodeBorsh(data, &e); err != nil {
		return nil, err
	}
	return &MarketplaceEvent{
		Name:        "ListingCreated",
		Type:        models.ActivityList,
		Marketplace: MarketplaceSecondary,
		Seller:      e.Seller.String(),
		TokenID:     e.AssetID.String(),
		Price:       util.LamportsToSOL(e.Price),
		ExpiresAt:   &e.ExpiresAt,
		Timestamp:   e.Timestamp,
	}, nil
}

func decodeListingSold(data []byte) (*MarketplaceEvent, error) {
	var e listingSold
	if err := ledger.DecodeBorsh(data, &e); err != nil {
		return nil, err
	}
	buyer := e.Buyer.String()
	return &MarketplaceEvent{
		Name:           "ListingSold",
		Type:           models.ActivitySale,
		Marketplace:    MarketplaceSecondary,
		Buyer:          &buyer,
		Seller:         e.Seller.String(),
		TokenID:        e.AssetID.String(),
		Price:          util.LamportsToSOL(e.Price),
		MarketplaceFee: util.LamportsToSOL(e.MarketplaceFee),
		VenueRoyalty:   util.LamportsToSOL(e.VenueRoyalty),
		Timestamp:      e.Timestamp,
	}, nil
}

func decodeListingCancelled(data []byte) (*MarketplaceEvent, error) {
	var e listingCancelled
	if err := ledger.DecodeBorsh(data, &e); err != nil {
		return nil, err
	}
	return &MarketplaceEvent{
		Name:        "ListingCancelled",
		Type:        models.ActivityDelist,
		Marketplace: MarketplaceSecondary,
		Seller:      e.Seller.String(),
		TokenID:     e.AssetID.String(),
		Timestamp:   e.Timestamp,
	}, nil
}

func decodeTicketListed(data []byte) (*MarketplaceEvent, error) {
	var e ticketListed
	if err := ledger.DecodeBorsh(data, &e); err != nil {
		return nil, err
	}
	return &MarketplaceEvent{
		Name:        "TicketListedOnMarketplace",
		Type:        models.ActivityList,
		Marketplace: MarketplaceTicket,
		Seller:      e.Seller.String(),
		TokenID:     e.AssetID.String(),
		Price:       util.LamportsToSOL(e.Price),
		ExpiresAt:   &e.ExpiresAt,
		Timestamp:   e.Timestamp,
	}, nil
}

// parseBidLog reads "Program log: bid asset=<id> bidder=<key> price=<lamports>" lines.
func parseBidLog(line string) *MarketplaceEvent {
	body, ok := strings.CutPrefix(line, programLogPrefix)
	if !ok {
		return nil
	}
	fields := strings.Fields(body)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "bid") {
		return nil
	}
	ev := &MarketplaceEvent{Name: "PlaceBid", Type: models.ActivityBid, Marketplace: MarketplaceSecondary}
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch key {
		case "asset", "asset_id":
			ev.TokenID = value
		case "bidder":
			bidder := value
			ev.Buyer = &bidder
		case "price":
			if p, err := decimal.NewFromString(value); err == nil && p.IsPositive() && p.IsInteger() {
				ev.Price = util.LamportsToSOL(p.BigInt().Uint64())
			}
		}
	}
	if ev.TokenID == "" {
		return nil
	}
	return ev
}
