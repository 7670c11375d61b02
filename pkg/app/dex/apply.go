package dex

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
)

// Result reports what an applied request did
type Result struct {
	Action  transaction.Action      `json:"action"`
	Owner   common.Address          `json:"owner"`
	Nonce   uint64                  `json:"nonce"`
	PairID  pair.ID                 `json:"pair_id,omitempty"`
	OrderID *pair.OrderID           `json:"order_id,omitempty"`
	Amounts map[string]*uint256.Int `json:"amounts,omitempty"`
}

// Apply verifies tx, consumes its nonce and executes it. A request that
// passes the signature and nonce checks consumes its nonce even when the
// engine rejects it.
func (a *App) Apply(ctx context.Context, tx *transaction.SignedTransaction) (*Result, error) {
	req, err := a.verifier.Verify(tx)
	if err != nil {
		a.log.Debugw("request_rejected", "err", err)
		return nil, err
	}

	release, err := a.accounts.Lock(ctx, req.Owner)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := a.useNonce(req.Owner, req.Nonce); err != nil {
		a.log.Warnw("nonce_rejected", "owner", req.Owner.Hex(), "nonce", req.Nonce, "err", err)
		return nil, err
	}

	start := time.Now()
	res, err := a.execute(ctx, req)
	if err != nil {
		a.log.Infow("request_failed",
			"action", req.Action,
			"owner", req.Owner.Hex(),
			"nonce", req.Nonce,
			"err", err,
		)
		return nil, err
	}
	a.log.Infow("request_applied",
		"action", req.Action,
		"owner", req.Owner.Hex(),
		"nonce", req.Nonce,
		"pair_id", res.PairID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (a *App) execute(ctx context.Context, req *transaction.Request) (*Result, error) {
	res := &Result{Action: req.Action, Owner: req.Owner, Nonce: req.Nonce, PairID: req.PairID}
	e := a.engine

	switch req.Action {
	case transaction.ActionCreatePair:
		id, err := e.CreatePair(ctx, req.Owner, req.TokenA, req.TokenB, req.AmountA, req.AmountB)
		if err != nil {
			return nil, err
		}
		res.PairID = id

	case transaction.ActionAddLiquidity:
		high, minted, err := e.AddLiquidity(ctx, req.Owner, req.PairID, req.AmountA)
		if err != nil {
			return nil, err
		}
		res.Amounts = map[string]*uint256.Int{"amount_high": high, "shares": minted}

	case transaction.ActionRemoveLiquidity:
		low, high, err := e.RemoveLiquidity(ctx, req.Owner, req.PairID, req.AmountA)
		if err != nil {
			return nil, err
		}
		res.Amounts = map[string]*uint256.Int{"amount_low": low, "amount_high": high}

	case transaction.ActionSwap:
		out, err := e.Swap(ctx, req.Owner, req.PairID, req.TokenA, req.AmountA, req.AmountB)
		if err != nil {
			return nil, err
		}
		res.Amounts = map[string]*uint256.Int{"amount_out": out}

	case transaction.ActionPlaceLimitOrder:
		oid, err := e.PlaceLimitOrder(ctx, req.Owner, req.PairID, req.TokenA, req.AmountA, req.AmountB)
		if err != nil {
			return nil, err
		}
		res.OrderID = &oid

	case transaction.ActionFillLimitOrder:
		filled, err := e.FillLimitOrder(ctx, req.Owner, req.PairID, req.OrderID, req.AmountA)
		if err != nil {
			return nil, err
		}
		oid := req.OrderID
		res.OrderID = &oid
		res.Amounts = map[string]*uint256.Int{"offer_filled": filled}

	case transaction.ActionCancelLimitOrder:
		if err := e.CancelLimitOrder(ctx, req.Owner, req.PairID, req.OrderID); err != nil {
			return nil, err
		}
		oid := req.OrderID
		res.OrderID = &oid

	case transaction.ActionApprove:
		if err := a.ledger.Approve(req.TokenA, req.Owner, e.Adapter().Custody(), req.AmountA); err != nil {
			return nil, err
		}
		res.Amounts = map[string]*uint256.Int{"allowance": req.AmountA}
	}
	return res, nil
}
