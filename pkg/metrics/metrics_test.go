package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/exchange"
)

func TestObserveOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOperation(exchange.OpSwap, exchange.ClassNone, time.Millisecond)
	m.ObserveOperation(exchange.OpSwap, exchange.Classify(exchange.ErrSlippage), time.Millisecond)
	m.ObserveOperation(exchange.OpSwap, exchange.Classify(errors.New("boom")), time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("swap", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("swap", "economic")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("swap", "internal")))
}

func TestEventsUpdateGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())
	bus := events.NewBus(nil, nil)
	bus.Subscribe(m)

	tokenA := common.HexToAddress("0xaa")
	bus.Publish(
		events.PairCreated{PairID: 1},
		events.ReservesUpdated{PairID: 1, ReserveLow: uint256.NewInt(1010), ReserveHigh: uint256.NewInt(992), TotalShares: uint256.NewInt(1000)},
		events.SwapExecuted{PairID: 1, TokenIn: tokenA, AmountIn: uint256.NewInt(10), AmountOut: uint256.NewInt(8)},
		events.LimitOrderFilled{PairID: 1, DesiredFilled: uint256.NewInt(1), OfferFilled: uint256.NewInt(1),
			RemainingOffer: uint256.NewInt(0), RemainingDesired: uint256.NewInt(0), Active: false},
	)

	require.Equal(t, 1.0, testutil.ToFloat64(m.PairsTotal))
	require.Equal(t, 1010.0, testutil.ToFloat64(m.PoolReserves.WithLabelValues("1", "low")))
	require.Equal(t, 992.0, testutil.ToFloat64(m.PoolReserves.WithLabelValues("1", "high")))
	require.Equal(t, 1000.0, testutil.ToFloat64(m.ShareSupply.WithLabelValues("1")))
	require.Equal(t, 10.0, testutil.ToFloat64(m.SwapVolume.WithLabelValues("1", tokenA.Hex())))
	require.Equal(t, 1.0, testutil.ToFloat64(m.OrderFills.WithLabelValues("1", "true")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("swap_executed")))
}
