package events

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/util"
)

func TestPublishStampsAndFansOut(t *testing.T) {
	clock := util.NewManualClock(time.UnixMilli(1_700_000_000_000))
	bus := NewBus(clock, nil)

	var a, b Recorder
	bus.Subscribe(&a)
	bus.Subscribe(&b)

	envs := bus.Publish(
		SwapExecuted{PairID: 3, AmountIn: uint256.NewInt(10), AmountOut: uint256.NewInt(9)},
		ReservesUpdated{PairID: 3, ReserveLow: uint256.NewInt(1), ReserveHigh: uint256.NewInt(2), TotalShares: uint256.NewInt(3)},
	)
	require.Len(t, envs, 2)
	require.Equal(t, uint64(1), envs[0].Seq)
	require.Equal(t, uint64(2), envs[1].Seq)
	require.Equal(t, int64(1_700_000_000_000), envs[0].Time)

	require.Equal(t, []Kind{KindSwapExecuted, KindReservesUpdated}, a.Kinds())
	require.Equal(t, a.Envelopes(), b.Envelopes())
	require.Equal(t, uint64(2), bus.Seq())

	a.Reset()
	require.Empty(t, a.Envelopes())
}

func TestEnvelopeDecodeRoundTrip(t *testing.T) {
	bus := NewBus(nil, nil)
	maker := common.HexToAddress("0x0000000000000000000000000000000000000a11")
	envs := bus.Publish(LimitOrderFilled{
		PairID:           1,
		OrderID:          4,
		Maker:            maker,
		Filler:           maker,
		DesiredFilled:    uint256.NewInt(63),
		OfferFilled:      uint256.NewInt(33),
		RemainingOffer:   uint256.NewInt(67),
		RemainingDesired: uint256.NewInt(127),
		Active:           true,
	})

	ev, err := envs[0].Decode()
	require.NoError(t, err)
	filled, ok := ev.(*LimitOrderFilled)
	require.True(t, ok)
	require.Equal(t, uint64(33), filled.OfferFilled.Uint64())
	require.Equal(t, maker, filled.Maker)
	require.Equal(t, KindLimitOrderFilled, filled.Kind())

	_, err = Envelope{Kind: "bogus"}.Decode()
	require.Error(t, err)
}

func TestResumeContinuesSequence(t *testing.T) {
	bus := NewBus(nil, nil)
	bus.Resume(41)
	envs := bus.Publish(PairCreated{PairID: 1})
	require.Equal(t, uint64(42), envs[0].Seq)
}
