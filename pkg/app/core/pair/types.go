// Package pair holds the records the exchange engine owns: pairs with their
// pooled reserves, liquidity positions and resting limit orders.
package pair

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ID identifies a pair. 0 means "no pair"; assigned ids start at 1.
type ID uint64

// OrderID identifies a limit order within its pair, starting at 0
type OrderID uint64

// Key is the canonical unordered identity of a pair
type Key struct {
	Low  common.Address
	High common.Address
}

// Sort orders two tokens by their numeric address value
func Sort(a, b common.Address) (low, high common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return a, b
	}
	return b, a
}

func KeyOf(a, b common.Address) Key {
	low, high := Sort(a, b)
	return Key{Low: low, High: high}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Low.Hex(), k.High.Hex())
}

// Pair is a pool of two tokens in canonical order
type Pair struct {
	ID          ID             `json:"id"`
	TokenLow    common.Address `json:"tokenLow"`
	TokenHigh   common.Address `json:"tokenHigh"`
	ReserveLow  *uint256.Int   `json:"reserveLow"`
	ReserveHigh *uint256.Int   `json:"reserveHigh"`
	TotalShares *uint256.Int   `json:"totalShares"`
	Initialized bool           `json:"initialized"`
	NextOrderID OrderID        `json:"nextOrderId"`
}

func (p *Pair) Key() Key { return Key{Low: p.TokenLow, High: p.TokenHigh} }

// Has reports whether token is one of the pair's tokens
func (p *Pair) Has(token common.Address) bool {
	return token == p.TokenLow || token == p.TokenHigh
}

// Other returns the counterpart of token. token must belong to the pair.
func (p *Pair) Other(token common.Address) common.Address {
	if token == p.TokenLow {
		return p.TokenHigh
	}
	return p.TokenLow
}

// Reserves returns (reserveIn, reserveOut) for a trade selling tokenIn
func (p *Pair) Reserves(tokenIn common.Address) (in, out *uint256.Int) {
	if tokenIn == p.TokenLow {
		return p.ReserveLow, p.ReserveHigh
	}
	return p.ReserveHigh, p.ReserveLow
}

// SetReserves is the inverse of Reserves
func (p *Pair) SetReserves(tokenIn common.Address, in, out *uint256.Int) {
	if tokenIn == p.TokenLow {
		p.ReserveLow, p.ReserveHigh = in, out
		return
	}
	p.ReserveHigh, p.ReserveLow = in, out
}

func (p *Pair) Clone() *Pair {
	c := *p
	c.ReserveLow = cloneInt(p.ReserveLow)
	c.ReserveHigh = cloneInt(p.ReserveHigh)
	c.TotalShares = cloneInt(p.TotalShares)
	return &c
}

// Position is an account's share of a pair's pool. The record survives a full
// withdrawal with HasPosition cleared.
type Position struct {
	PairID      ID             `json:"pairId"`
	Owner       common.Address `json:"owner"`
	Shares      *uint256.Int   `json:"shares"`
	HasPosition bool           `json:"hasPosition"`
}

func (p *Position) Clone() *Position {
	c := *p
	c.Shares = cloneInt(p.Shares)
	return &c
}

// LimitOrder offers OfferAmount of OfferToken for DesiredAmount of the pair's
// other token. Both amounts are what remains unfilled.
type LimitOrder struct {
	ID            OrderID        `json:"id"`
	PairID        ID             `json:"pairId"`
	Maker         common.Address `json:"maker"`
	OfferToken    common.Address `json:"offerToken"`
	DesiredToken  common.Address `json:"desiredToken"`
	OfferAmount   *uint256.Int   `json:"offerAmount"`
	DesiredAmount *uint256.Int   `json:"desiredAmount"`
	Active        bool           `json:"active"`
}

func (o *LimitOrder) Clone() *LimitOrder {
	c := *o
	c.OfferAmount = cloneInt(o.OfferAmount)
	c.DesiredAmount = cloneInt(o.DesiredAmount)
	return &c
}

// Changes is the set of records one operation writes
type Changes struct {
	Pair      *Pair
	Positions []*Position
	Orders    []*LimitOrder
}

func cloneInt(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}
