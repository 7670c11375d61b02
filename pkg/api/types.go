package api

import (
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
)

// API request and response types. Amounts are *uint256.Int, which encode as
// quoted decimal strings.

// ==============================
// REST Response Types
// ==============================

// PairInfo is a pair with its active order count
type PairInfo struct {
	*pair.Pair
	ActiveOrders int `json:"activeOrders"`
}

type PairLookup struct {
	PairID pair.ID `json:"pairId"` // 0 when no pair exists
}

type ReservesResponse struct {
	PairID      pair.ID      `json:"pairId"`
	ReserveLow  *uint256.Int `json:"reserveLow"`
	ReserveHigh *uint256.Int `json:"reserveHigh"`
	TotalShares *uint256.Int `json:"totalShares"`
}

type ShareResponse struct {
	PairID   pair.ID      `json:"pairId"`
	Holder   string       `json:"holder"`
	Shares   *uint256.Int `json:"shares"`
	ShareBps uint64       `json:"shareBps"` // shares * 10000 / totalShares
}

type QuoteResponse struct {
	PairID    pair.ID      `json:"pairId"`
	TokenIn   string       `json:"tokenIn"`
	AmountIn  *uint256.Int `json:"amountIn"`
	AmountOut *uint256.Int `json:"amountOut"`
}

type BalanceResponse struct {
	Token   string       `json:"token"`
	Holder  string       `json:"holder"`
	Balance *uint256.Int `json:"balance"`
}

type AllowanceResponse struct {
	Token     string       `json:"token"`
	Owner     string       `json:"owner"`
	Spender   string       `json:"spender"`
	Allowance *uint256.Int `json:"allowance"`
}

type NonceResponse struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"` // last accepted; the next request must use a higher one
}

type HealthResponse struct {
	Status    string `json:"status"`
	Pairs     int    `json:"pairs"`
	EventSeq  uint64 `json:"eventSeq"`
	StateHash string `json:"stateHash"`
	Custody   string `json:"custody"`
	ChainID   string `json:"chainId"`
}

type FaucetRequest struct {
	Token   string `json:"token"`
	Address string `json:"address"`
}

type FaucetResponse struct {
	Token   string       `json:"token"`
	Address string       `json:"address"`
	Amount  *uint256.Int `json:"amount"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Class   string `json:"class,omitempty"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients: {"op":"subscribe","channels":["pair:1","all"]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSEvent carries one engine event to subscribers
type WSEvent struct {
	Type    string          `json:"type"` // always "event"
	Channel string          `json:"channel"`
	Event   events.Envelope `json:"event"`
}
