package exchange

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
)

func TestScenarioA_CreatePair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1000), u(1000))
	require.NoError(t, err)
	require.Equal(t, pair.ID(1), id)

	low, high, shares := f.reserves(t, id)
	require.Equal(t, uint64(1000), low)
	require.Equal(t, uint64(1000), high)
	require.Equal(t, uint64(1000), shares)

	pos, err := f.engine.Position(id, alice)
	require.NoError(t, err)
	require.True(t, pos.HasPosition)
	require.Equal(t, uint64(1000), pos.Shares.Uint64())
	require.Equal(t, uint64(10_000), f.engine.PoolShareBps(id, alice))

	require.Equal(t, []events.Kind{
		events.KindPairCreated, events.KindLiquidityAdded, events.KindReservesUpdated,
	}, f.events.Kinds())
	require.Equal(t, uint64(funding-1000), f.balance(tokenA, alice))
	require.Equal(t, uint64(1000), f.balance(tokenA, custody))
}

func TestScenarioB_Swap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1000), u(1000))
	require.NoError(t, err)

	// floor(1000 * floor(10*997/1000) / (1000 + 9)) = 8
	out, err := f.engine.Swap(ctx, bob, id, tokenA, u(10), u(1))
	require.NoError(t, err)
	require.Equal(t, uint64(8), out.Uint64())

	low, high, _ := f.reserves(t, id)
	require.Equal(t, uint64(1010), low)
	require.Equal(t, uint64(992), high)
	require.Equal(t, uint64(funding-10), f.balance(tokenA, bob))
	require.Equal(t, uint64(funding+8), f.balance(tokenB, bob))

	kinds := f.events.Kinds()
	require.Equal(t, []events.Kind{events.KindSwapExecuted, events.KindReservesUpdated}, kinds[len(kinds)-2:])
}

func TestScenarioC_PlaceLimitOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1000), u(1000))
	require.NoError(t, err)

	// pool pays 90 for 100
	oid, err := f.engine.PlaceLimitOrder(ctx, alice, id, tokenA, u(100), u(190))
	require.NoError(t, err)
	require.Equal(t, pair.OrderID(0), oid)

	order, err := f.engine.Order(id, oid)
	require.NoError(t, err)
	require.True(t, order.Active)
	require.Equal(t, tokenB, order.DesiredToken)
	require.Equal(t, uint64(100), order.OfferAmount.Uint64())
	require.Equal(t, uint64(190), order.DesiredAmount.Uint64())

	_, err = f.engine.PlaceLimitOrder(ctx, alice, id, tokenA, u(100), u(80))
	require.ErrorIs(t, err, ErrBadPriceRatio)
	require.Equal(t, ClassValidation, Classify(err))

	// asking exactly the pool quote is allowed
	oid, err = f.engine.PlaceLimitOrder(ctx, alice, id, tokenA, u(100), u(90))
	require.NoError(t, err)
	require.Equal(t, pair.OrderID(1), oid)

	// escrow does not touch the pool
	low, high, _ := f.reserves(t, id)
	require.Equal(t, uint64(1000), low)
	require.Equal(t, uint64(1000), high)
	require.Equal(t, uint64(funding-1000-200), f.balance(tokenA, alice))
}

func TestScenarioD_PartialFillThenCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1000), u(1000))
	require.NoError(t, err)
	oid, err := f.engine.PlaceLimitOrder(ctx, alice, id, tokenA, u(100), u(190))
	require.NoError(t, err)

	filled, err := f.engine.FillLimitOrder(ctx, bob, id, oid, u(63))
	require.NoError(t, err)
	require.Equal(t, uint64(63*100/190), filled.Uint64())

	order, err := f.engine.Order(id, oid)
	require.NoError(t, err)
	require.True(t, order.Active)
	require.Equal(t, uint64(100-33), order.OfferAmount.Uint64())
	require.Equal(t, uint64(190-63), order.DesiredAmount.Uint64())
	require.Equal(t, uint64(funding-1000+63), f.balance(tokenB, alice))
	require.Equal(t, uint64(funding+33), f.balance(tokenA, bob))

	before := f.balance(tokenA, alice)
	require.NoError(t, f.engine.CancelLimitOrder(ctx, alice, id, oid))
	require.Equal(t, before+67, f.balance(tokenA, alice))

	order, err = f.engine.Order(id, oid)
	require.NoError(t, err)
	require.False(t, order.Active)
	require.True(t, order.OfferAmount.IsZero())
	require.True(t, order.DesiredAmount.IsZero())
	require.NoError(t, f.engine.CheckInvariants())
}

func TestScenarioE_RemoveMoreThanHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1000), u(1000))
	require.NoError(t, err)
	saved := f.store.count()

	_, _, err = f.engine.RemoveLiquidity(ctx, alice, id, u(1001))
	require.ErrorIs(t, err, ErrInsufficientShares)
	require.Equal(t, ClassEconomic, Classify(err))

	low, high, shares := f.reserves(t, id)
	require.Equal(t, []uint64{1000, 1000, 1000}, []uint64{low, high, shares})
	pos, err := f.engine.Position(id, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), pos.Shares.Uint64())
	require.Equal(t, saved, f.store.count())
}

func TestCreatePairValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreatePair(ctx, alice, tokenA, tokenA, u(1000), u(1000))
	require.ErrorIs(t, err, ErrIdenticalTokens)
	_, err = f.engine.CreatePair(ctx, alice, tokenA, common.Address{}, u(1000), u(1000))
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(0), u(1000))
	require.ErrorIs(t, err, ErrZeroAmount)

	_, err = f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(10), u(10))
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
	require.Equal(t, uint64(funding), f.balance(tokenA, alice), "deposit refunded")
	require.Equal(t, uint64(funding), f.balance(tokenB, alice), "deposit refunded")
	require.Equal(t, pair.ID(0), f.engine.PairID(tokenA, tokenB))

	id, err := f.engine.CreatePair(ctx, alice, tokenB, tokenA, u(2000), u(1000))
	require.NoError(t, err)
	require.Equal(t, pair.ID(1), id, "failed creation does not consume an id")

	_, err = f.engine.CreatePair(ctx, bob, tokenA, tokenB, u(1000), u(1000))
	require.ErrorIs(t, err, ErrPairExists)
	require.Equal(t, id, f.engine.PairID(tokenA, tokenB))
	require.Equal(t, id, f.engine.PairID(tokenB, tokenA))

	// amounts follow their tokens into canonical order
	p, err := f.engine.Pair(id)
	require.NoError(t, err)
	require.Equal(t, tokenA, p.TokenLow)
	require.Equal(t, uint64(1000), p.ReserveLow.Uint64())
	require.Equal(t, uint64(2000), p.ReserveHigh.Uint64())
	require.Equal(t, uint64(1414), p.TotalShares.Uint64())

	id2, err := f.engine.CreatePair(ctx, alice, tokenC, tokenA, u(5000), u(5000))
	require.NoError(t, err)
	require.Equal(t, pair.ID(2), id2)
	require.Len(t, f.engine.Pairs(), 2)
}

func TestAddLiquidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1000), u(4000))
	require.NoError(t, err)
	// isqrt(4_000_000) = 2000

	high, minted, err := f.engine.AddLiquidity(ctx, bob, id, u(500))
	require.NoError(t, err)
	require.Equal(t, uint64(2000), high.Uint64())
	require.Equal(t, uint64(1000), minted.Uint64())

	low, hi, shares := f.reserves(t, id)
	require.Equal(t, []uint64{1500, 6000, 3000}, []uint64{low, hi, shares})
	require.Equal(t, uint64(3333), f.engine.PoolShareBps(id, bob))
	require.Equal(t, uint64(6666), f.engine.PoolShareBps(id, alice))
	require.Equal(t, uint64(0), f.engine.PoolShareBps(id, carol))
	require.Equal(t, uint64(0), f.engine.PoolShareBps(99, carol))

	_, _, err = f.engine.AddLiquidity(ctx, bob, id, u(0))
	require.ErrorIs(t, err, ErrZeroAmount)
	_, _, err = f.engine.AddLiquidity(ctx, bob, 42, u(10))
	require.ErrorIs(t, err, ErrPairNotFound)
	require.NoError(t, f.engine.CheckInvariants())
}

func TestAddLiquidityRoundingToZeroRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1_000_000), u(1))
	require.NoError(t, err)
	_, _, shares := f.reserves(t, id)
	require.Equal(t, uint64(1000), shares)

	// 999 * 1 / 1_000_000 requires no high token at all
	_, _, err = f.engine.AddLiquidity(ctx, bob, id, u(999))
	require.ErrorIs(t, err, ErrZeroAmount)
	require.Equal(t, uint64(funding), f.balance(tokenA, bob))
	require.Equal(t, uint64(funding), f.balance(tokenB, bob))
}

func TestRemoveLiquidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1000), u(4000))
	require.NoError(t, err)

	_, _, err = f.engine.RemoveLiquidity(ctx, bob, id, u(1))
	require.ErrorIs(t, err, ErrNoPosition)
	_, _, err = f.engine.RemoveLiquidity(ctx, alice, 7, u(1))
	require.ErrorIs(t, err, ErrNoPosition)
	_, _, err = f.engine.RemoveLiquidity(ctx, alice, id, u(0))
	require.ErrorIs(t, err, ErrZeroAmount)

	low, high, err := f.engine.RemoveLiquidity(ctx, alice, id, u(500))
	require.NoError(t, err)
	require.Equal(t, uint64(250), low.Uint64())
	require.Equal(t, uint64(1000), high.Uint64())

	low, high, err = f.engine.RemoveLiquidity(ctx, alice, id, u(1500))
	require.NoError(t, err)
	require.Equal(t, uint64(750), low.Uint64())
	require.Equal(t, uint64(3000), high.Uint64())

	pos, err := f.engine.Position(id, alice)
	require.NoError(t, err)
	require.False(t, pos.HasPosition)
	require.True(t, pos.Shares.IsZero())

	rl, rh, ts := f.reserves(t, id)
	require.Equal(t, []uint64{0, 0, 0}, []uint64{rl, rh, ts})
	require.Equal(t, uint64(funding), f.balance(tokenA, alice))
	require.Equal(t, uint64(funding), f.balance(tokenB, alice))
	require.NoError(t, f.engine.CheckInvariants())

	_, _, err = f.engine.RemoveLiquidity(ctx, alice, id, u(1))
	require.ErrorIs(t, err, ErrNoPosition)

	// a drained pool takes no proportional deposits and quotes nothing
	_, _, err = f.engine.AddLiquidity(ctx, bob, id, u(100))
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
	_, err = f.engine.Swap(ctx, bob, id, tokenA, u(100), nil)
	require.ErrorIs(t, err, ErrInsufficientOutput)
	require.Equal(t, uint64(funding), f.balance(tokenA, bob))
}

func TestRemoveLiquidityRoundingToZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1_000_000), u(1))
	require.NoError(t, err)

	// 1 * 1 / 1000 rounds the high side to zero
	_, _, err = f.engine.RemoveLiquidity(ctx, alice, id, u(1))
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
	_, _, shares := f.reserves(t, id)
	require.Equal(t, uint64(1000), shares)
}

func TestSwapFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1000), u(1000))
	require.NoError(t, err)

	_, err = f.engine.Swap(ctx, bob, id, tokenA, u(0), nil)
	require.ErrorIs(t, err, ErrZeroAmount)
	_, err = f.engine.Swap(ctx, bob, 9, tokenA, u(10), nil)
	require.ErrorIs(t, err, ErrPairNotFound)
	_, err = f.engine.Swap(ctx, bob, id, tokenC, u(10), nil)
	require.ErrorIs(t, err, ErrTokenNotInPair)

	// 1 * 997 / 1000 = 0
	_, err = f.engine.Swap(ctx, bob, id, tokenA, u(1), nil)
	require.ErrorIs(t, err, ErrInsufficientOutput)

	_, err = f.engine.Swap(ctx, bob, id, tokenA, u(10), u(9))
	require.ErrorIs(t, err, ErrSlippage)

	_, err = f.engine.Swap(ctx, bob, id, tokenA, u(2000), u(1))
	require.NoError(t, err)

	require.Equal(t, uint64(funding-2000), f.balance(tokenA, bob), "failed swaps refund the input")
	require.NoError(t, f.engine.CheckInvariants())
}

func TestQuoteSwapMatchesSwap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(50_000), u(80_000))
	require.NoError(t, err)

	quote, err := f.engine.QuoteSwap(id, tokenB, u(1234))
	require.NoError(t, err)
	out, err := f.engine.Swap(ctx, bob, id, tokenB, u(1234), quote)
	require.NoError(t, err)
	require.Equal(t, quote, out)

	_, err = f.engine.QuoteSwap(id, tokenC, u(1))
	require.ErrorIs(t, err, ErrTokenNotInPair)
}

func TestFillLimitOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1000), u(1000))
	require.NoError(t, err)
	oid, err := f.engine.PlaceLimitOrder(ctx, alice, id, tokenB, u(100), u(190))
	require.NoError(t, err)

	_, err = f.engine.FillLimitOrder(ctx, bob, id, oid, u(191))
	require.ErrorIs(t, err, ErrFillExceedsRemaining)
	require.Equal(t, uint64(funding), f.balance(tokenA, bob), "overfill refunded")

	_, err = f.engine.FillLimitOrder(ctx, bob, id, oid, u(1))
	require.ErrorIs(t, err, ErrInsufficientOutput)

	_, err = f.engine.FillLimitOrder(ctx, bob, id, oid, u(0))
	require.ErrorIs(t, err, ErrZeroAmount)

	got, err := f.engine.FillLimitOrder(ctx, carol, id, oid, u(100))
	require.NoError(t, err)
	require.Equal(t, uint64(52), got.Uint64())

	// self-fill of the rest pays the whole remaining offer
	got, err = f.engine.FillLimitOrder(ctx, alice, id, oid, u(90))
	require.NoError(t, err)
	require.Equal(t, uint64(48), got.Uint64())

	order, err := f.engine.Order(id, oid)
	require.NoError(t, err)
	require.False(t, order.Active)
	require.True(t, order.OfferAmount.IsZero())

	_, err = f.engine.FillLimitOrder(ctx, bob, id, oid, u(1))
	require.ErrorIs(t, err, ErrOrderNotActive)
	_, err = f.engine.FillLimitOrder(ctx, bob, id, 77, u(1))
	require.ErrorIs(t, err, ErrOrderNotActive)
	_, err = f.engine.Order(id, 77)
	require.ErrorIs(t, err, ErrOrderNotFound)

	kinds := f.events.Kinds()
	require.Equal(t, events.KindLimitOrderFilled, kinds[len(kinds)-1])
	require.NoError(t, f.engine.CheckInvariants())
}

func TestCancelLimitOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1000), u(1000))
	require.NoError(t, err)
	oid, err := f.engine.PlaceLimitOrder(ctx, alice, id, tokenA, u(100), u(500))
	require.NoError(t, err)

	err = f.engine.CancelLimitOrder(ctx, bob, id, oid)
	require.ErrorIs(t, err, ErrNotMaker)
	require.Equal(t, ClassAuthorization, Classify(err))

	require.NoError(t, f.engine.CancelLimitOrder(ctx, alice, id, oid))
	err = f.engine.CancelLimitOrder(ctx, alice, id, oid)
	require.ErrorIs(t, err, ErrOrderNotActive)
	require.Equal(t, ClassState, Classify(err))

	orders, err := f.engine.Orders(id, true)
	require.NoError(t, err)
	require.Empty(t, orders)
	orders, err = f.engine.Orders(id, false)
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestOrderIDsArePerPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ab, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1000), u(1000))
	require.NoError(t, err)
	ac, err := f.engine.CreatePair(ctx, alice, tokenA, tokenC, u(1000), u(1000))
	require.NoError(t, err)

	for want := pair.OrderID(0); want < 3; want++ {
		oid, err := f.engine.PlaceLimitOrder(ctx, alice, ab, tokenA, u(10), u(100))
		require.NoError(t, err)
		require.Equal(t, want, oid)
	}
	require.NoError(t, f.engine.CancelLimitOrder(ctx, alice, ab, 2))

	oid, err := f.engine.PlaceLimitOrder(ctx, alice, ab, tokenB, u(10), u(100))
	require.NoError(t, err)
	require.Equal(t, pair.OrderID(3), oid, "ids are never reused")

	oid, err = f.engine.PlaceLimitOrder(ctx, bob, ac, tokenC, u(10), u(100))
	require.NoError(t, err)
	require.Equal(t, pair.OrderID(0), oid)
}

func TestPlaceLimitOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1000), u(1000))
	require.NoError(t, err)

	_, err = f.engine.PlaceLimitOrder(ctx, alice, id, tokenC, u(10), u(100))
	require.ErrorIs(t, err, ErrTokenNotInPair)
	_, err = f.engine.PlaceLimitOrder(ctx, alice, id, tokenA, u(0), u(100))
	require.ErrorIs(t, err, ErrZeroAmount)
	_, err = f.engine.PlaceLimitOrder(ctx, alice, id, tokenA, u(10), u(0))
	require.ErrorIs(t, err, ErrZeroAmount)
	_, err = f.engine.PlaceLimitOrder(ctx, alice, 5, tokenA, u(10), u(100))
	require.ErrorIs(t, err, ErrPairNotFound)

	_, err = f.engine.PlaceLimitOrder(ctx, alice, id, tokenA, u(funding), u(funding))
	require.ErrorIs(t, err, ErrTransferFailed)
	require.Equal(t, ClassTransport, Classify(err))
}

func TestPersistFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1000), u(1000))
	require.NoError(t, err)
	f.events.Reset()

	f.store.failWith(errDiskFull)
	_, err = f.engine.Swap(ctx, bob, id, tokenA, u(100), nil)
	require.ErrorIs(t, err, errDiskFull)
	require.Equal(t, ClassInternal, Classify(err))

	low, high, _ := f.reserves(t, id)
	require.Equal(t, uint64(1000), low)
	require.Equal(t, uint64(1000), high)
	require.Equal(t, uint64(funding), f.balance(tokenA, bob))
	require.Equal(t, uint64(funding), f.balance(tokenB, bob))
	require.Empty(t, f.events.Kinds())

	_, err = f.engine.CreatePair(ctx, alice, tokenA, tokenC, u(1000), u(1000))
	require.ErrorIs(t, err, errDiskFull)
	require.Equal(t, pair.ID(0), f.engine.PairID(tokenA, tokenC))

	f.store.failWith(nil)
	id2, err := f.engine.CreatePair(ctx, alice, tokenA, tokenC, u(1000), u(1000))
	require.NoError(t, err)
	require.Equal(t, pair.ID(2), id2)
	require.NoError(t, f.engine.CheckInvariants())
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.CreatePair(ctx, alice, tokenA, tokenB, u(1000), u(1000))
	require.NoError(t, err)
	_, err = f.engine.PlaceLimitOrder(ctx, alice, id, tokenA, u(100), u(190))
	require.NoError(t, err)

	p, err := f.engine.Pair(id)
	require.NoError(t, err)
	positions, err := f.engine.Positions(id)
	require.NoError(t, err)
	orders, err := f.engine.Orders(id, false)
	require.NoError(t, err)

	restored := New(f.engine.Adapter(), Options{})
	require.NoError(t, restored.Restore([]pair.Changes{{Pair: p, Positions: positions, Orders: orders}}))
	require.Equal(t, id, restored.PairID(tokenB, tokenA))

	oid, err := restored.PlaceLimitOrder(ctx, alice, id, tokenA, u(100), u(190))
	require.NoError(t, err)
	require.Equal(t, pair.OrderID(1), oid)

	id2, err := restored.CreatePair(ctx, alice, tokenA, tokenC, u(1000), u(1000))
	require.NoError(t, err)
	require.Equal(t, pair.ID(2), id2)
}
