package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperswap/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transfer"
)

var (
	custody = common.HexToAddress("0x000000000000000000000000000000000000c057")
	tokenA  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func openStore(t *testing.T, dir string) *PebbleStore {
	t.Helper()
	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	return s
}

func TestSaveAndLoadPairs(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	p := &pair.Pair{
		ID: 3, TokenLow: tokenA, TokenHigh: tokenB,
		ReserveLow: u(10), ReserveHigh: u(20), TotalShares: u(14),
		Initialized: true, NextOrderID: 2,
	}
	require.NoError(t, s.SaveChanges(pair.Changes{
		Pair:      p,
		Positions: []*pair.Position{{PairID: 3, Owner: alice, Shares: u(14), HasPosition: true}},
		Orders: []*pair.LimitOrder{
			{ID: 0, PairID: 3, Maker: bob, OfferToken: tokenA, DesiredToken: tokenB, OfferAmount: u(0), DesiredAmount: u(0)},
			{ID: 1, PairID: 3, Maker: bob, OfferToken: tokenB, DesiredToken: tokenA, OfferAmount: u(5), DesiredAmount: u(9), Active: true},
		},
	}))
	// a later batch without a pair record only touches orders
	require.NoError(t, s.SaveChanges(pair.Changes{
		Orders: []*pair.LimitOrder{{ID: 1, PairID: 3, Maker: bob, OfferToken: tokenB, DesiredToken: tokenA, OfferAmount: u(4), DesiredAmount: u(7), Active: true}},
	}))

	loaded, err := s.LoadPairs()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	got := loaded[0]
	require.Equal(t, p.ID, got.Pair.ID)
	require.Equal(t, uint64(20), got.Pair.ReserveHigh.Uint64())
	require.Equal(t, pair.OrderID(2), got.Pair.NextOrderID)
	require.Len(t, got.Positions, 1)
	require.Equal(t, alice, got.Positions[0].Owner)
	require.Len(t, got.Orders, 2)
	require.Equal(t, pair.OrderID(0), got.Orders[0].ID)
	require.Equal(t, uint64(4), got.Orders[1].OfferAmount.Uint64())
}

func TestLedgerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	l := ledger.New(s, nil)
	require.NoError(t, l.RegisterToken(ledger.Token{Address: tokenB, Symbol: "FOT", FeeBps: 50}))
	require.NoError(t, l.Mint(tokenA, alice, u(1_000)))
	require.NoError(t, l.Mint(tokenB, alice, u(1_000)))
	require.NoError(t, l.Approve(tokenA, alice, bob, u(300)))
	require.NoError(t, l.TransferFrom(context.Background(), tokenA, bob, alice, bob, u(100)))
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	defer s.Close()
	snap, err := s.LoadLedger()
	require.NoError(t, err)

	restored := ledger.New(s, nil)
	restored.Restore(snap)
	require.Equal(t, uint64(900), restored.BalanceOf(tokenA, alice).Uint64())
	require.Equal(t, uint64(100), restored.BalanceOf(tokenA, bob).Uint64())
	require.Equal(t, uint64(200), restored.Allowance(tokenA, alice, bob).Uint64())
	require.Equal(t, uint64(1_000), restored.TotalSupply(tokenA).Uint64())
	tok, ok := restored.Token(tokenB)
	require.True(t, ok)
	require.Equal(t, uint64(50), tok.FeeBps)
}

func TestNonces(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	_, ok, err := s.LoadNonce(alice)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SaveNonce(alice, 7))
	n, ok, err := s.LoadNonce(alice)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), n)
}

func TestJournal(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	bus := events.NewBus(nil, nil)
	bus.Subscribe(Journal{Store: s})
	bus.Publish(
		events.PairCreated{PairID: 1, TokenLow: tokenA, TokenHigh: tokenB, Creator: alice},
		events.PairCreated{PairID: 2, TokenLow: tokenA, TokenHigh: custody, Creator: alice},
		events.SwapExecuted{PairID: 1, Trader: bob, TokenIn: tokenA, TokenOut: tokenB, AmountIn: u(10), AmountOut: u(8)},
	)

	last, err := s.LastEventSeq()
	require.NoError(t, err)
	require.Equal(t, uint64(3), last)

	all, err := s.LoadEvents(0, 0, 100)
	require.NoError(t, err)
	require.Len(t, all, 3)

	pairOne, err := s.LoadEvents(1, 1, 100)
	require.NoError(t, err)
	require.Len(t, pairOne, 1)
	ev, err := pairOne[0].Decode()
	require.NoError(t, err)
	swap, ok := ev.(*events.SwapExecuted)
	require.True(t, ok)
	require.Equal(t, uint64(8), swap.AmountOut.Uint64())
}

func TestFileWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.wal")
	w, err := NewFileWAL(path, nil)
	require.NoError(t, err)

	bus := events.NewBus(nil, nil)
	bus.Subscribe(w)
	bus.Publish(events.LimitOrderCancelled{PairID: 4, OrderID: 2, Maker: alice, Refunded: u(67)})
	require.NoError(t, w.Close())

	envs, err := ReadWAL(path)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	require.Equal(t, events.KindLimitOrderCancelled, envs[0].Kind)
	require.Equal(t, pair.ID(4), envs[0].PairID)
}

// An engine restarted from the store sees the same pairs, positions and
// orders, and keeps allocating ids after the persisted ones.
func TestEngineRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openStore(t, dir)
	l := ledger.New(s, nil)
	unlimited := new(uint256.Int).SetAllOne()
	for _, tok := range []common.Address{tokenA, tokenB} {
		require.NoError(t, l.Mint(tok, alice, u(1_000_000)))
		require.NoError(t, l.Approve(tok, alice, custody, unlimited))
	}
	e := exchange.New(transfer.NewAdapter(l, custody, nil), exchange.Options{Store: s})
	id, err := e.CreatePair(ctx, alice, tokenA, tokenB, u(10_000), u(10_000))
	require.NoError(t, err)
	_, err = e.Swap(ctx, alice, id, tokenA, u(500), nil)
	require.NoError(t, err)
	oid, err := e.PlaceLimitOrder(ctx, alice, id, tokenB, u(100), u(200))
	require.NoError(t, err)
	wantLow, wantHigh, wantShares, err := e.Reserves(id)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	defer s.Close()
	snap, err := s.LoadLedger()
	require.NoError(t, err)
	l2 := ledger.New(s, nil)
	l2.Restore(snap)
	pairs, err := s.LoadPairs()
	require.NoError(t, err)

	e2 := exchange.New(transfer.NewAdapter(l2, custody, nil), exchange.Options{Store: s})
	require.NoError(t, e2.Restore(pairs))
	require.NoError(t, e2.CheckInvariants())

	low, high, shares, err := e2.Reserves(id)
	require.NoError(t, err)
	require.Equal(t, wantLow, low)
	require.Equal(t, wantHigh, high)
	require.Equal(t, wantShares, shares)

	order, err := e2.Order(id, oid)
	require.NoError(t, err)
	require.True(t, order.Active)

	next, err := e2.PlaceLimitOrder(ctx, alice, id, tokenB, u(100), u(200))
	require.NoError(t, err)
	require.Equal(t, oid+1, next)
	require.NoError(t, e2.CancelLimitOrder(ctx, alice, id, oid))
}
