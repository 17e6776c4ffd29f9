package order

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side of the book an order rests on.
type Side string

const (
	Bid Side = "Bid"
	Ask Side = "Ask"
)

func ParseSide(s string) (Side, error) {
	switch s {
	case "Bid", "B":
		return Bid, nil
	case "Ask", "A":
		return Ask, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// Status lifecycle is a one-way DAG:
//
//	open -> filled
//	open -> cancelled
//	open -> triggered -> filled
//	open -> triggered -> cancelled
//
// Terminal states never transition again.
type Status string

const (
	StatusOpen      Status = "open"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusTriggered Status = "triggered"
)

func ParseStatus(s string) (Status, error) {
	switch s {
	case "open":
		return StatusOpen, nil
	case "filled":
		return StatusFilled, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	case "triggered":
		return StatusTriggered, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// IsTerminal reports whether no further transition is legal from s.
func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// CanTransition reports whether s -> next is a legal move on the status DAG.
// Re-observing the same status is legal (idempotent upsert).
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusOpen:
		return next == StatusFilled || next == StatusCancelled || next == StatusTriggered
	case StatusTriggered:
		return next == StatusFilled || next == StatusCancelled
	default: // filled, cancelled
		return false
	}
}

// Order is one resting order observed in the node's book-diff log.
// ID is the node-assigned oid and is stable across re-observations, so
// repeated sightings upsert rather than duplicate.
type Order struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Owner     string    `json:"owner"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}

// Liquidity is the notional value resting at this order's price.
func (o *Order) Liquidity() float64 { return o.Price * o.Size }

func (o *Order) IsClosed() bool { return o.Status.IsTerminal() }

// NormalizeOwner validates the owner as an EVM address and returns its
// checksummed form. Owners in node logs are hex addresses of the signing
// wallet.
func NormalizeOwner(owner string) (string, error) {
	if !common.IsHexAddress(owner) {
		return "", fmt.Errorf("owner %q is not a hex address", owner)
	}
	return common.HexToAddress(owner).Hex(), nil
}
