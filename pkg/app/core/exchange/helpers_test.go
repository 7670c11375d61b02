package exchange

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transfer"
)

var (
	custody = common.HexToAddress("0x000000000000000000000000000000000000c057")
	tokenA  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tokenC  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol   = common.HexToAddress("0x0000000000000000000000000000000000000ca1")
)

const funding = 1_000_000_000

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type fixture struct {
	ledger *ledger.Ledger
	engine *Engine
	events *events.Recorder
	store  *recordingStore
}

// recordingStore keeps every saved batch and can be told to fail
type recordingStore struct {
	mu    sync.Mutex
	saved []pair.Changes
	fail  error
}

func (s *recordingStore) failWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func (s *recordingStore) SaveChanges(ch pair.Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.saved = append(s.saved, ch)
	return nil
}

var errDiskFull = errors.New("disk full")

// testingT is satisfied by *testing.T and *rapid.T
type testingT interface {
	require.TestingT
	Helper()
}

func newFixture(t testingT) *fixture {
	t.Helper()
	l := ledger.New(nil, nil)
	unlimited := new(uint256.Int).SetAllOne()
	for _, tok := range []common.Address{tokenA, tokenB, tokenC} {
		for _, who := range []common.Address{alice, bob, carol} {
			require.NoError(t, l.Mint(tok, who, u(funding)))
			require.NoError(t, l.Approve(tok, who, custody, unlimited))
		}
	}

	rec := &events.Recorder{}
	bus := events.NewBus(nil, nil)
	bus.Subscribe(rec)
	store := &recordingStore{}

	e := New(transfer.NewAdapter(l, custody, nil), Options{Store: store, Bus: bus})
	return &fixture{ledger: l, engine: e, events: rec, store: store}
}

func (f *fixture) balance(token, holder common.Address) uint64 {
	return f.ledger.BalanceOf(token, holder).Uint64()
}

func (f *fixture) reserves(t testingT, id pair.ID) (low, high, shares uint64) {
	t.Helper()
	rl, rh, ts, err := f.engine.Reserves(id)
	require.NoError(t, err)
	return rl.Uint64(), rh.Uint64(), ts.Uint64()
}
