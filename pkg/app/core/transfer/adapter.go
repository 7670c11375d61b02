// Package transfer moves tokens between users and the exchange custody account.
// Incoming amounts are measured as the custody balance delta, so tokens that
// charge a fee on transfer are credited with what actually arrived.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/guard"
)

var ErrTransferFailed = errors.New("transfer: token transfer failed")

// Ledger is the token contract surface the adapter needs
type Ledger interface {
	BalanceOf(token, holder common.Address) *uint256.Int
	Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *uint256.Int) error
}

// Adapter pulls tokens into and pays tokens out of a single custody account.
// Movements of the same token are serialized so balance deltas are exact.
type Adapter struct {
	ledger  Ledger
	custody common.Address
	tokens  *guard.Keyed[common.Address]
	log     *zap.SugaredLogger
}

func NewAdapter(ledger Ledger, custody common.Address, log *zap.SugaredLogger) *Adapter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Adapter{
		ledger:  ledger,
		custody: custody,
		tokens:  guard.NewKeyed[common.Address](),
		log:     log,
	}
}

// Custody returns the account holding pooled and escrowed tokens
func (a *Adapter) Custody() common.Address { return a.custody }

// CustodyBalance returns custody's current balance of token
func (a *Adapter) CustodyBalance(token common.Address) *uint256.Int {
	return a.ledger.BalanceOf(token, a.custody)
}

// TransferIn pulls amount of token from `from` and returns what custody
// actually received. The custody account must hold an allowance from `from`.
func (a *Adapter) TransferIn(ctx context.Context, token, from common.Address, amount *uint256.Int) (*uint256.Int, error) {
	unlock, err := a.tokens.Lock(ctx, token)
	if err != nil {
		return nil, err
	}
	defer unlock()

	before := a.ledger.BalanceOf(token, a.custody)
	if err := a.ledger.TransferFrom(ctx, token, a.custody, from, a.custody, amount); err != nil {
		return nil, fmt.Errorf("%w: pull %s of %s from %s: %w", ErrTransferFailed, amount.Dec(), token.Hex(), from.Hex(), err)
	}
	after := a.ledger.BalanceOf(token, a.custody)

	if after.Lt(before) {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Sub(after, before), nil
}

// TransferOut pays amount of token from custody to `to`
func (a *Adapter) TransferOut(ctx context.Context, token, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	unlock, err := a.tokens.Lock(ctx, token)
	if err != nil {
		return err
	}
	defer unlock()

	if err := a.ledger.Transfer(ctx, token, a.custody, to, amount); err != nil {
		return fmt.Errorf("%w: pay %s of %s to %s: %w", ErrTransferFailed, amount.Dec(), token.Hex(), to.Hex(), err)
	}
	return nil
}

// reclaim pulls back a payout. It needs an allowance from `from` to custody
// and so may fail.
func (a *Adapter) reclaim(ctx context.Context, token, from common.Address, amount *uint256.Int) error {
	unlock, err := a.tokens.Lock(ctx, token)
	if err != nil {
		return err
	}
	defer unlock()
	return a.ledger.TransferFrom(ctx, token, a.custody, from, a.custody, amount)
}
