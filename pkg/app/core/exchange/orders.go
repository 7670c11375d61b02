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

// PlaceLimitOrder escrows offerAmount of offerToken and rests an order asking
// desiredAmount of the pair's other token for it. An order that would pay a
// taker more than swapping the same offer against the pool is rejected.
func (e *Engine) PlaceLimitOrder(ctx context.Context, maker common.Address, id pair.ID, offerToken common.Address, offerAmount, desiredAmount *uint256.Int) (oid pair.OrderID, err error) {
	defer e.observe(OpPlaceLimitOrder, time.Now(), &err)

	if fixedpoint.IsZero(offerAmount) || fixedpoint.IsZero(desiredAmount) {
		return 0, ErrZeroAmount
	}
	ctx, st, release, err := e.enter(ctx, id)
	if err != nil {
		return 0, err
	}
	defer release()

	p := st.Pair()
	if !p.Has(offerToken) {
		return 0, fmt.Errorf("%w: %s", ErrTokenNotInPair, offerToken.Hex())
	}

	sess := e.adapter.Begin()
	defer e.unwind(ctx, sess, &err)

	received, err := sess.In(ctx, offerToken, maker, offerAmount)
	if err != nil {
		return 0, err
	}
	if received.IsZero() {
		return 0, fmt.Errorf("%w: nothing received", ErrZeroAmount)
	}

	reserveIn, reserveOut := p.Reserves(offerToken)
	quote, err := SwapOutput(received, reserveIn, reserveOut)
	if err != nil {
		return 0, err
	}
	if desiredAmount.Lt(quote) {
		return 0, fmt.Errorf("%w: asking %s, pool pays %s", ErrBadPriceRatio, desiredAmount.Dec(), quote.Dec())
	}

	oid = p.NextOrderID
	p.NextOrderID++
	order := &pair.LimitOrder{
		ID:            oid,
		PairID:        id,
		Maker:         maker,
		OfferToken:    offerToken,
		DesiredToken:  p.Other(offerToken),
		OfferAmount:   received,
		DesiredAmount: new(uint256.Int).Set(desiredAmount),
		Active:        true,
	}

	if err = e.commit(st, pair.Changes{Pair: p, Orders: []*pair.LimitOrder{order}}); err != nil {
		return 0, err
	}
	sess.Commit()

	e.publish(events.LimitOrderPlaced{
		PairID:        id,
		OrderID:       oid,
		Maker:         maker,
		OfferToken:    order.OfferToken,
		DesiredToken:  order.DesiredToken,
		OfferAmount:   new(uint256.Int).Set(order.OfferAmount),
		DesiredAmount: new(uint256.Int).Set(order.DesiredAmount),
	})
	return oid, nil
}

// FillLimitOrder pays amount of the order's desired token to the maker and the
// proportional part of the remaining offer to filler. It returns the offer
// amount paid.
func (e *Engine) FillLimitOrder(ctx context.Context, filler common.Address, id pair.ID, oid pair.OrderID, amount *uint256.Int) (offerFilled *uint256.Int, err error) {
	defer e.observe(OpFillLimitOrder, time.Now(), &err)

	ctx, st, release, err := e.enter(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	order, ok := st.Order(oid)
	if !ok || !order.Active {
		return nil, fmt.Errorf("%w: order %d of pair %d", ErrOrderNotActive, oid, id)
	}
	if fixedpoint.IsZero(amount) {
		return nil, ErrZeroAmount
	}

	sess := e.adapter.Begin()
	defer e.unwind(ctx, sess, &err)

	received, err := sess.In(ctx, order.DesiredToken, filler, amount)
	if err != nil {
		return nil, err
	}
	if received.IsZero() {
		return nil, fmt.Errorf("%w: nothing received", ErrZeroAmount)
	}
	if order.DesiredAmount.Lt(received) {
		return nil, fmt.Errorf("%w: filling %s of %s", ErrFillExceedsRemaining, received.Dec(), order.DesiredAmount.Dec())
	}

	if offerFilled, err = FillOffer(received, order.OfferAmount, order.DesiredAmount); err != nil {
		return nil, err
	}
	if offerFilled.IsZero() {
		return nil, fmt.Errorf("%w: fill of %s buys nothing", ErrInsufficientOutput, received.Dec())
	}

	if err = sess.Out(ctx, order.DesiredToken, order.Maker, received); err != nil {
		return nil, err
	}
	if err = sess.Out(ctx, order.OfferToken, filler, offerFilled); err != nil {
		return nil, err
	}

	order.OfferAmount = new(uint256.Int).Sub(order.OfferAmount, offerFilled)
	order.DesiredAmount = new(uint256.Int).Sub(order.DesiredAmount, received)
	order.Active = !order.DesiredAmount.IsZero()

	if err = e.commit(st, pair.Changes{Orders: []*pair.LimitOrder{order}}); err != nil {
		return nil, err
	}
	sess.Commit()

	e.publish(events.LimitOrderFilled{
		PairID:           id,
		OrderID:          oid,
		Maker:            order.Maker,
		Filler:           filler,
		DesiredFilled:    new(uint256.Int).Set(received),
		OfferFilled:      new(uint256.Int).Set(offerFilled),
		RemainingOffer:   new(uint256.Int).Set(order.OfferAmount),
		RemainingDesired: new(uint256.Int).Set(order.DesiredAmount),
		Active:           order.Active,
	})
	return offerFilled, nil
}

// CancelLimitOrder refunds the remaining offer to the maker and closes the order
func (e *Engine) CancelLimitOrder(ctx context.Context, caller common.Address, id pair.ID, oid pair.OrderID) (err error) {
	defer e.observe(OpCancelLimitOrder, time.Now(), &err)

	ctx, st, release, err := e.enter(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	order, ok := st.Order(oid)
	if !ok || !order.Active {
		return fmt.Errorf("%w: order %d of pair %d", ErrOrderNotActive, oid, id)
	}
	if order.Maker != caller {
		return fmt.Errorf("%w: order %d", ErrNotMaker, oid)
	}

	sess := e.adapter.Begin()
	defer e.unwind(ctx, sess, &err)

	refund := order.OfferAmount
	if err = sess.Out(ctx, order.OfferToken, order.Maker, refund); err != nil {
		return err
	}

	order.OfferAmount = new(uint256.Int)
	order.DesiredAmount = new(uint256.Int)
	order.Active = false

	if err = e.commit(st, pair.Changes{Orders: []*pair.LimitOrder{order}}); err != nil {
		return err
	}
	sess.Commit()

	e.publish(events.LimitOrderCancelled{
		PairID:   id,
		OrderID:  oid,
		Maker:    order.Maker,
		Refunded: new(uint256.Int).Set(refund),
	})
	return nil
}
