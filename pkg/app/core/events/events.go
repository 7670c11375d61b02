// Package events defines the notifications the exchange emits after every
// committed state change.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
)

type Kind string

const (
	KindPairCreated         Kind = "pair_created"
	KindLiquidityAdded      Kind = "liquidity_added"
	KindLiquidityRemoved    Kind = "liquidity_removed"
	KindReservesUpdated     Kind = "reserves_updated"
	KindSwapExecuted        Kind = "swap_executed"
	KindLimitOrderPlaced    Kind = "limit_order_placed"
	KindLimitOrderFilled    Kind = "limit_order_filled"
	KindLimitOrderCancelled Kind = "limit_order_cancelled"
)

// Event is implemented by every notification type
type Event interface {
	Kind() Kind
	Pair() pair.ID
}

type PairCreated struct {
	PairID    pair.ID        `json:"pairId"`
	TokenLow  common.Address `json:"tokenLow"`
	TokenHigh common.Address `json:"tokenHigh"`
	Creator   common.Address `json:"creator"`
}

type LiquidityAdded struct {
	PairID     pair.ID        `json:"pairId"`
	Provider   common.Address `json:"provider"`
	AmountLow  *uint256.Int   `json:"amountLow"`
	AmountHigh *uint256.Int   `json:"amountHigh"`
	Shares     *uint256.Int   `json:"shares"`
}

type LiquidityRemoved struct {
	PairID     pair.ID        `json:"pairId"`
	Provider   common.Address `json:"provider"`
	AmountLow  *uint256.Int   `json:"amountLow"`
	AmountHigh *uint256.Int   `json:"amountHigh"`
	Shares     *uint256.Int   `json:"shares"`
}

// ReservesUpdated accompanies every reserve mutation
type ReservesUpdated struct {
	PairID      pair.ID      `json:"pairId"`
	ReserveLow  *uint256.Int `json:"reserveLow"`
	ReserveHigh *uint256.Int `json:"reserveHigh"`
	TotalShares *uint256.Int `json:"totalShares"`
}

type SwapExecuted struct {
	PairID    pair.ID        `json:"pairId"`
	Trader    common.Address `json:"trader"`
	TokenIn   common.Address `json:"tokenIn"`
	TokenOut  common.Address `json:"tokenOut"`
	AmountIn  *uint256.Int   `json:"amountIn"`
	AmountOut *uint256.Int   `json:"amountOut"`
}

type LimitOrderPlaced struct {
	PairID        pair.ID        `json:"pairId"`
	OrderID       pair.OrderID   `json:"orderId"`
	Maker         common.Address `json:"maker"`
	OfferToken    common.Address `json:"offerToken"`
	DesiredToken  common.Address `json:"desiredToken"`
	OfferAmount   *uint256.Int   `json:"offerAmount"`
	DesiredAmount *uint256.Int   `json:"desiredAmount"`
}

type LimitOrderFilled struct {
	PairID           pair.ID        `json:"pairId"`
	OrderID          pair.OrderID   `json:"orderId"`
	Maker            common.Address `json:"maker"`
	Filler           common.Address `json:"filler"`
	DesiredFilled    *uint256.Int   `json:"desiredFilled"`
	OfferFilled      *uint256.Int   `json:"offerFilled"`
	RemainingOffer   *uint256.Int   `json:"remainingOffer"`
	RemainingDesired *uint256.Int   `json:"remainingDesired"`
	Active           bool           `json:"active"`
}

type LimitOrderCancelled struct {
	PairID   pair.ID        `json:"pairId"`
	OrderID  pair.OrderID   `json:"orderId"`
	Maker    common.Address `json:"maker"`
	Refunded *uint256.Int   `json:"refunded"`
}

func (PairCreated) Kind() Kind         { return KindPairCreated }
func (LiquidityAdded) Kind() Kind      { return KindLiquidityAdded }
func (LiquidityRemoved) Kind() Kind    { return KindLiquidityRemoved }
func (ReservesUpdated) Kind() Kind     { return KindReservesUpdated }
func (SwapExecuted) Kind() Kind        { return KindSwapExecuted }
func (LimitOrderPlaced) Kind() Kind    { return KindLimitOrderPlaced }
func (LimitOrderFilled) Kind() Kind    { return KindLimitOrderFilled }
func (LimitOrderCancelled) Kind() Kind { return KindLimitOrderCancelled }

func (e PairCreated) Pair() pair.ID         { return e.PairID }
func (e LiquidityAdded) Pair() pair.ID      { return e.PairID }
func (e LiquidityRemoved) Pair() pair.ID    { return e.PairID }
func (e ReservesUpdated) Pair() pair.ID     { return e.PairID }
func (e SwapExecuted) Pair() pair.ID        { return e.PairID }
func (e LimitOrderPlaced) Pair() pair.ID    { return e.PairID }
func (e LimitOrderFilled) Pair() pair.ID    { return e.PairID }
func (e LimitOrderCancelled) Pair() pair.ID { return e.PairID }

// Envelope is the wire form of an event: journal lines, websocket frames and
// gossip messages all carry it
type Envelope struct {
	Seq    uint64          `json:"seq"`
	Kind   Kind            `json:"kind"`
	PairID pair.ID         `json:"pairId"`
	Time   int64           `json:"time"` // unix milliseconds
	Data   json.RawMessage `json:"data"`
}

// Decode rebuilds the typed event carried by env
func (env Envelope) Decode() (Event, error) {
	var ev Event
	switch env.Kind {
	case KindPairCreated:
		ev = &PairCreated{}
	case KindLiquidityAdded:
		ev = &LiquidityAdded{}
	case KindLiquidityRemoved:
		ev = &LiquidityRemoved{}
	case KindReservesUpdated:
		ev = &ReservesUpdated{}
	case KindSwapExecuted:
		ev = &SwapExecuted{}
	case KindLimitOrderPlaced:
		ev = &LimitOrderPlaced{}
	case KindLimitOrderFilled:
		ev = &LimitOrderFilled{}
	case KindLimitOrderCancelled:
		ev = &LimitOrderCancelled{}
	default:
		return nil, fmt.Errorf("unknown event kind: %s", env.Kind)
	}
	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", env.Kind, err)
	}
	return ev, nil
}
