package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/fixedpoint"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
)

// Swap sells amountIn of tokenIn to the pool and pays the other token to
// trader. The output is priced on what custody actually received.
func (e *Engine) Swap(ctx context.Context, trader common.Address, id pair.ID, tokenIn common.Address, amountIn, minOut *uint256.Int) (out *uint256.Int, err error) {
	defer e.observe(OpSwap, time.Now(), &err)

	if fixedpoint.IsZero(amountIn) {
		return nil, ErrZeroAmount
	}
	ctx, st, release, err := e.enter(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	p := st.Pair()
	if !p.Has(tokenIn) {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotInPair, tokenIn.Hex())
	}
	tokenOut := p.Other(tokenIn)

	sess := e.adapter.Begin()
	defer e.unwind(ctx, sess, &err)

	received, err := sess.In(ctx, tokenIn, trader, amountIn)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut := p.Reserves(tokenIn)
	if out, err = SwapOutput(received, reserveIn, reserveOut); err != nil {
		return nil, err
	}
	switch {
	case out.IsZero():
		return nil, ErrInsufficientOutput
	case minOut != nil && out.Lt(minOut):
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrSlippage, out.Dec(), minOut.Dec())
	case !out.Lt(reserveOut):
		return nil, fmt.Errorf("%w: output %s would drain reserve %s", ErrInsufficientLiquidity, out.Dec(), reserveOut.Dec())
	}

	if err = sess.Out(ctx, tokenOut, trader, out); err != nil {
		return nil, err
	}

	newIn, err := fixedpoint.Add(reserveIn, received)
	if err != nil {
		return nil, err
	}
	p.SetReserves(tokenIn, newIn, new(uint256.Int).Sub(reserveOut, out))

	if err = e.commit(st, pair.Changes{Pair: p}); err != nil {
		return nil, err
	}
	sess.Commit()

	e.publish(
		events.SwapExecuted{
			PairID:    id,
			Trader:    trader,
			TokenIn:   tokenIn,
			TokenOut:  tokenOut,
			AmountIn:  new(uint256.Int).Set(received),
			AmountOut: new(uint256.Int).Set(out),
		},
		reservesUpdated(p),
	)
	return out, nil
}

// QuoteSwap prices a swap of amountIn against the current reserves without
// touching state. Transfer fees of tokenIn are not accounted for.
func (e *Engine) QuoteSwap(id pair.ID, tokenIn common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	st, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	p := st.Pair()
	if !p.Has(tokenIn) {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotInPair, tokenIn.Hex())
	}
	reserveIn, reserveOut := p.Reserves(tokenIn)
	return SwapOutput(fixedpoint.Clone(amountIn), reserveIn, reserveOut)
}
