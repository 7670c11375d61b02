package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/fixedpoint"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transfer"
)

// CreatePair registers the unordered pair {tokenA, tokenB}, seeds it with the
// amounts actually received from caller and mints the initial shares to caller.
func (e *Engine) CreatePair(ctx context.Context, caller, tokenA, tokenB common.Address, amountA, amountB *uint256.Int) (id pair.ID, err error) {
	defer e.observe(OpCreatePair, time.Now(), &err)

	if tokenA == (common.Address{}) || tokenB == (common.Address{}) {
		return 0, ErrInvalidToken
	}
	if tokenA == tokenB {
		return 0, ErrIdenticalTokens
	}
	if fixedpoint.IsZero(amountA) || fixedpoint.IsZero(amountB) {
		return 0, ErrZeroAmount
	}

	ctx, err = e.scope.Enter(ctx)
	if err != nil {
		return 0, err
	}
	key := pair.KeyOf(tokenA, tokenB)
	if e.registry.Lookup(tokenA, tokenB) != 0 {
		return 0, fmt.Errorf("%w: %s", ErrPairExists, key)
	}
	unlock, err := e.creating.Lock(ctx, key)
	if err != nil {
		return 0, err
	}
	defer unlock()
	if e.registry.Lookup(tokenA, tokenB) != 0 {
		return 0, fmt.Errorf("%w: %s", ErrPairExists, key)
	}

	amountLow, amountHigh := amountA, amountB
	if tokenA != key.Low {
		amountLow, amountHigh = amountB, amountA
	}

	sess := e.adapter.Begin()
	defer e.unwind(ctx, sess, &err)

	recvLow, err := sess.In(ctx, key.Low, caller, amountLow)
	if err != nil {
		return 0, err
	}
	recvHigh, err := sess.In(ctx, key.High, caller, amountHigh)
	if err != nil {
		return 0, err
	}
	if recvLow.IsZero() || recvHigh.IsZero() {
		return 0, fmt.Errorf("%w: nothing received", ErrZeroAmount)
	}

	shares, err := InitialShares(recvLow, recvHigh)
	if err != nil {
		return 0, err
	}
	if shares.Lt(e.minShares) {
		return 0, fmt.Errorf("%w: initial shares %s below minimum %s", ErrInsufficientLiquidity, shares.Dec(), e.minShares.Dec())
	}

	var (
		p       *pair.Pair
		release func()
	)
	id, err = e.registry.Register(key, func(id pair.ID) (pair.Changes, error) {
		p = &pair.Pair{
			ID:          id,
			TokenLow:    key.Low,
			TokenHigh:   key.High,
			ReserveLow:  recvLow,
			ReserveHigh: recvHigh,
			TotalShares: shares,
			Initialized: true,
		}
		ch := pair.Changes{
			Pair: p,
			Positions: []*pair.Position{{
				PairID:      id,
				Owner:       caller,
				Shares:      new(uint256.Int).Set(shares),
				HasPosition: true,
			}},
		}
		// hold the new pair's guard until its creation events are out
		var lerr error
		if release, lerr = e.pairs.Lock(ctx, id); lerr != nil {
			return pair.Changes{}, lerr
		}
		if perr := e.persist(ch); perr != nil {
			release()
			return pair.Changes{}, perr
		}
		return ch, nil
	})
	if err != nil {
		return 0, err
	}
	defer release()
	sess.Commit()

	e.log.Infow("pair_created", "pair_id", id, "token_low", key.Low.Hex(), "token_high", key.High.Hex(), "shares", shares.Dec())
	e.publish(
		events.PairCreated{PairID: id, TokenLow: key.Low, TokenHigh: key.High, Creator: caller},
		events.LiquidityAdded{
			PairID:     id,
			Provider:   caller,
			AmountLow:  new(uint256.Int).Set(recvLow),
			AmountHigh: new(uint256.Int).Set(recvHigh),
			Shares:     new(uint256.Int).Set(shares),
		},
		reservesUpdated(p),
	)
	return id, nil
}

// AddLiquidity deposits amountLow of the low token plus the high token at the
// current pool ratio. It returns the high amount received and the shares minted.
func (e *Engine) AddLiquidity(ctx context.Context, caller common.Address, id pair.ID, amountLow *uint256.Int) (amountHigh, minted *uint256.Int, err error) {
	defer e.observe(OpAddLiquidity, time.Now(), &err)

	if fixedpoint.IsZero(amountLow) {
		return nil, nil, ErrZeroAmount
	}
	ctx, st, release, err := e.enter(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	p := st.Pair()
	required, err := RequiredHigh(amountLow, p.ReserveLow, p.ReserveHigh)
	if err != nil {
		return nil, nil, err
	}
	if p.TotalShares.IsZero() {
		return nil, nil, fmt.Errorf("%w: pair %d has no shares", ErrInsufficientLiquidity, id)
	}

	sess := e.adapter.Begin()
	defer e.unwind(ctx, sess, &err)

	recvLow, err := sess.In(ctx, p.TokenLow, caller, amountLow)
	if err != nil {
		return nil, nil, err
	}
	recvHigh, err := sess.In(ctx, p.TokenHigh, caller, required)
	if err != nil {
		return nil, nil, err
	}
	if recvLow.IsZero() || recvHigh.IsZero() {
		return nil, nil, fmt.Errorf("%w: nothing received", ErrZeroAmount)
	}

	minted, err = MintedShares(recvLow, p.TotalShares, p.ReserveLow)
	if err != nil {
		return nil, nil, err
	}
	if minted.IsZero() {
		return nil, nil, fmt.Errorf("%w: deposit mints no shares", ErrInsufficientLiquidity)
	}

	pos := st.Position(caller)
	if pos.Shares, err = fixedpoint.Add(pos.Shares, minted); err != nil {
		return nil, nil, err
	}
	pos.HasPosition = true
	if p.TotalShares, err = fixedpoint.Add(p.TotalShares, minted); err != nil {
		return nil, nil, err
	}
	if p.ReserveLow, err = fixedpoint.Add(p.ReserveLow, recvLow); err != nil {
		return nil, nil, err
	}
	if p.ReserveHigh, err = fixedpoint.Add(p.ReserveHigh, recvHigh); err != nil {
		return nil, nil, err
	}

	if err = e.commit(st, pair.Changes{Pair: p, Positions: []*pair.Position{pos}}); err != nil {
		return nil, nil, err
	}
	sess.Commit()

	e.publish(
		events.LiquidityAdded{
			PairID:     id,
			Provider:   caller,
			AmountLow:  new(uint256.Int).Set(recvLow),
			AmountHigh: new(uint256.Int).Set(recvHigh),
			Shares:     new(uint256.Int).Set(minted),
		},
		reservesUpdated(p),
	)
	return recvHigh, minted, nil
}

// RemoveLiquidity burns shares of caller's position and pays out both sides
// pro rata.
func (e *Engine) RemoveLiquidity(ctx context.Context, caller common.Address, id pair.ID, shares *uint256.Int) (amountLow, amountHigh *uint256.Int, err error) {
	defer e.observe(OpRemoveLiquidity, time.Now(), &err)

	if fixedpoint.IsZero(shares) {
		return nil, nil, ErrZeroAmount
	}
	ctx, st, release, err := e.enter(ctx, id)
	if err != nil {
		return nil, nil, wrapNotFound(err, ErrNoPosition)
	}
	defer release()

	pos := st.Position(caller)
	if !pos.HasPosition {
		return nil, nil, ErrNoPosition
	}
	if pos.Shares.Lt(shares) {
		return nil, nil, fmt.Errorf("%w: have %s, burning %s", ErrInsufficientShares, pos.Shares.Dec(), shares.Dec())
	}

	p := st.Pair()
	if amountLow, err = Payout(p.ReserveLow, shares, p.TotalShares); err != nil {
		return nil, nil, err
	}
	if amountHigh, err = Payout(p.ReserveHigh, shares, p.TotalShares); err != nil {
		return nil, nil, err
	}
	if amountLow.IsZero() || amountHigh.IsZero() {
		return nil, nil, fmt.Errorf("%w: withdrawal rounds to zero", ErrInsufficientLiquidity)
	}

	pos.Shares = new(uint256.Int).Sub(pos.Shares, shares)
	pos.HasPosition = !pos.Shares.IsZero()
	p.TotalShares = new(uint256.Int).Sub(p.TotalShares, shares)
	p.ReserveLow = new(uint256.Int).Sub(p.ReserveLow, amountLow)
	p.ReserveHigh = new(uint256.Int).Sub(p.ReserveHigh, amountHigh)

	sess := e.adapter.Begin()
	defer func() {
		if err == nil {
			return
		}
		uerr := sess.Rollback(ctx)
		if uerr == nil {
			return
		}
		err = fmt.Errorf("%w (unwind incomplete: %v)", err, uerr)
		var ue *transfer.UnwindError
		if errors.As(uerr, &ue) {
			e.settleRemoval(st, caller, shares, ue)
		}
	}()

	if err = sess.Out(ctx, p.TokenLow, caller, amountLow); err != nil {
		return nil, nil, err
	}
	if err = sess.Out(ctx, p.TokenHigh, caller, amountHigh); err != nil {
		return nil, nil, err
	}

	if err = e.commit(st, pair.Changes{Pair: p, Positions: []*pair.Position{pos}}); err != nil {
		return nil, nil, err
	}
	sess.Commit()

	e.publish(
		events.LiquidityRemoved{
			PairID:     id,
			Provider:   caller,
			AmountLow:  new(uint256.Int).Set(amountLow),
			AmountHigh: new(uint256.Int).Set(amountHigh),
			Shares:     new(uint256.Int).Set(shares),
		},
		reservesUpdated(p),
	)
	return amountLow, amountHigh, nil
}

// settleRemoval books a failed removal whose payouts could not all be pulled
// back. The shares are burned and each reserve gives up exactly what left
// custody. The unpaid rest of the claim stays in the pool, or idle in custody
// once no shares remain.
func (e *Engine) settleRemoval(st *pair.State, caller common.Address, shares *uint256.Int, ue *transfer.UnwindError) {
	p := st.Pair()
	paidLow := ue.Shortfall(p.TokenLow)
	paidHigh := ue.Shortfall(p.TokenHigh)
	if paidLow.IsZero() && paidHigh.IsZero() {
		return
	}

	pos := st.Position(caller)
	pos.Shares = new(uint256.Int).Sub(pos.Shares, shares)
	pos.HasPosition = !pos.Shares.IsZero()
	p.TotalShares = new(uint256.Int).Sub(p.TotalShares, shares)
	if p.TotalShares.IsZero() {
		p.ReserveLow = new(uint256.Int)
		p.ReserveHigh = new(uint256.Int)
	} else {
		p.ReserveLow = new(uint256.Int).Sub(p.ReserveLow, paidLow)
		p.ReserveHigh = new(uint256.Int).Sub(p.ReserveHigh, paidHigh)
	}

	if err := e.commit(st, pair.Changes{Pair: p, Positions: []*pair.Position{pos}}); err != nil {
		e.log.Errorw("removal_settlement_failed", "pair", p.ID, "provider", caller.Hex(), "err", err)
		return
	}
	e.log.Warnw("removal_settled",
		"pair", p.ID,
		"provider", caller.Hex(),
		"shares", shares.Dec(),
		"paid_low", paidLow.Dec(),
		"paid_high", paidHigh.Dec())

	e.publish(
		events.LiquidityRemoved{
			PairID:     p.ID,
			Provider:   caller,
			AmountLow:  paidLow,
			AmountHigh: paidHigh,
			Shares:     new(uint256.Int).Set(shares),
		},
		reservesUpdated(p),
	)
}
