// Package ledger is the token ledger the exchange settles against. It models
// ERC-20 style fungible tokens: balances, allowances, and optionally
// a fee charged on every transfer.
package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token describes how a token behaves on transfer
type Token struct {
	Address common.Address `json:"address"`
	Symbol  string         `json:"symbol"`

	// FeeBps is deducted from every transfer (0-10000). The fee goes to
	// FeeRecipient, or is burned when FeeRecipient is the zero address.
	FeeBps       uint64         `json:"feeBps"`
	FeeRecipient common.Address `json:"feeRecipient"`

	// Rejecting makes every transfer fail
	Rejecting bool `json:"rejecting"`
}

type Balance struct {
	Token  common.Address `json:"token"`
	Holder common.Address `json:"holder"`
	Amount *uint256.Int   `json:"amount"`
}

type Allowance struct {
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

// Snapshot is the persisted form of a ledger
type Snapshot struct {
	Tokens     []Token
	Balances   []Balance
	Allowances []Allowance
}
