package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var (
	ErrMalformed    = errors.New("transaction: malformed request")
	ErrBadSignature = errors.New("transaction: invalid signature")
)

// Action names the engine operation a request invokes
type Action string

const (
	ActionCreatePair       Action = "create_pair"
	ActionAddLiquidity     Action = "add_liquidity"
	ActionRemoveLiquidity  Action = "remove_liquidity"
	ActionSwap             Action = "swap"
	ActionPlaceLimitOrder  Action = "place_limit_order"
	ActionFillLimitOrder   Action = "fill_limit_order"
	ActionCancelLimitOrder Action = "cancel_limit_order"
	ActionApprove          Action = "approve"
)

// SignedTransaction is the JSON body accepted by POST /api/v1/tx
type SignedTransaction struct {
	Request   RequestPayload `json:"request"`
	Signature string         `json:"signature"` // Hex-encoded signature (0x...)
}

// RequestPayload is the wire form of crypto.RequestEIP712. Amounts are
// decimal strings so 256-bit values survive JSON.
//
//	create_pair         token_a, token_b, amount_a, amount_b
//	add_liquidity       pair_id, amount_a (low token deposit)
//	remove_liquidity    pair_id, amount_a (shares)
//	swap                pair_id, token_a (token in), amount_a, amount_b (min out, optional)
//	place_limit_order   pair_id, token_a (offer token), amount_a (offer), amount_b (desired)
//	fill_limit_order    pair_id, order_id, amount_a
//	cancel_limit_order  pair_id, order_id
//	approve             token_a, amount_a (custody allowance)
type RequestPayload struct {
	Action  Action `json:"action"`
	PairID  uint64 `json:"pair_id,omitempty"`
	OrderID uint64 `json:"order_id,omitempty"`
	TokenA  string `json:"token_a,omitempty"`
	TokenB  string `json:"token_b,omitempty"`
	AmountA string `json:"amount_a,omitempty"`
	AmountB string `json:"amount_b,omitempty"`
	Nonce   uint64 `json:"nonce"`
	Owner   string `json:"owner"`
}

// Request is a decoded, typed payload
type Request struct {
	Action  Action
	PairID  pair.ID
	OrderID pair.OrderID
	TokenA  common.Address
	TokenB  common.Address
	AmountA *uint256.Int
	AmountB *uint256.Int // nil when omitted
	Nonce   uint64
	Owner   common.Address
}

func (a Action) Valid() bool {
	switch a {
	case ActionCreatePair, ActionAddLiquidity, ActionRemoveLiquidity, ActionSwap,
		ActionPlaceLimitOrder, ActionFillLimitOrder, ActionCancelLimitOrder, ActionApprove:
		return true
	}
	return false
}

// Decode parses every field. Presence rules per action are checked here;
// amount and token semantics are left to the engine.
func (p *RequestPayload) Decode() (*Request, error) {
	if !p.Action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrMalformed, p.Action)
	}
	req := &Request{
		Action:  p.Action,
		PairID:  pair.ID(p.PairID),
		OrderID: pair.OrderID(p.OrderID),
		Nonce:   p.Nonce,
	}

	var err error
	if req.Owner, err = parseAddress("owner", p.Owner, true); err != nil {
		return nil, err
	}

	needTokenA := p.Action == ActionCreatePair || p.Action == ActionSwap ||
		p.Action == ActionPlaceLimitOrder || p.Action == ActionApprove
	if req.TokenA, err = parseAddress("token_a", p.TokenA, needTokenA); err != nil {
		return nil, err
	}
	if req.TokenB, err = parseAddress("token_b", p.TokenB, p.Action == ActionCreatePair); err != nil {
		return nil, err
	}

	needAmountA := p.Action != ActionCancelLimitOrder
	if req.AmountA, err = parseAmount("amount_a", p.AmountA, needAmountA); err != nil {
		return nil, err
	}
	needAmountB := p.Action == ActionCreatePair || p.Action == ActionPlaceLimitOrder
	if req.AmountB, err = parseAmount("amount_b", p.AmountB, needAmountB); err != nil {
		return nil, err
	}
	return req, nil
}

func parseAddress(field, s string, required bool) (common.Address, error) {
	if s == "" {
		if required {
			return common.Address{}, fmt.Errorf("%w: missing %s", ErrMalformed, field)
		}
		return common.Address{}, nil
	}
	addr, err := crypto.ParseAddress(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s: %w", ErrMalformed, field, err)
	}
	return addr, nil
}

func parseAmount(field, s string, required bool) (*uint256.Int, error) {
	if s == "" {
		if required {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformed, field)
		}
		return nil, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, field, err)
	}
	return v, nil
}

// ToEIP712 converts the payload to the typed data that was signed
func (p *RequestPayload) ToEIP712() (*crypto.RequestEIP712, error) {
	req, err := p.Decode()
	if err != nil {
		return nil, err
	}
	return req.ToEIP712(), nil
}

func (r *Request) ToEIP712() *crypto.RequestEIP712 {
	return &crypto.RequestEIP712{
		Action:  string(r.Action),
		PairID:  new(big.Int).SetUint64(uint64(r.PairID)),
		OrderID: new(big.Int).SetUint64(uint64(r.OrderID)),
		TokenA:  r.TokenA,
		TokenB:  r.TokenB,
		AmountA: toBig(r.AmountA),
		AmountB: toBig(r.AmountB),
		Nonce:   new(big.Int).SetUint64(r.Nonce),
		Owner:   r.Owner,
	}
}

// Payload renders a typed request back to its wire form
func (r *Request) Payload() RequestPayload {
	p := RequestPayload{
		Action:  r.Action,
		PairID:  uint64(r.PairID),
		OrderID: uint64(r.OrderID),
		Nonce:   r.Nonce,
		Owner:   r.Owner.Hex(),
	}
	if r.TokenA != (common.Address{}) {
		p.TokenA = r.TokenA.Hex()
	}
	if r.TokenB != (common.Address{}) {
		p.TokenB = r.TokenB.Hex()
	}
	if r.AmountA != nil {
		p.AmountA = r.AmountA.Dec()
	}
	if r.AmountB != nil {
		p.AmountB = r.AmountB.Dec()
	}
	return p
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if tx.Signature == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	return &tx, nil
}
