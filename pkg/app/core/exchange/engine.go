// Package exchange implements the constant-product pools and the resting
// limit-order book that trade against them.
//
// Every mutating operation runs under its pair's guard: validation, transfers,
// persistence and the in-memory commit happen as one unit, and events are
// published before the guard is released. Transfers already made by an
// operation that fails are unwound through the adapter's journal.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/guard"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transfer"
)

const (
	OpCreatePair       = "create_pair"
	OpAddLiquidity     = "add_liquidity"
	OpRemoveLiquidity  = "remove_liquidity"
	OpSwap             = "swap"
	OpPlaceLimitOrder  = "place_limit_order"
	OpFillLimitOrder   = "fill_limit_order"
	OpCancelLimitOrder = "cancel_limit_order"
)

// Store persists the records written by one operation atomically
type Store interface {
	SaveChanges(ch pair.Changes) error
}

// Observer is told about every finished operation
type Observer interface {
	ObserveOperation(op string, class ErrorClass, elapsed time.Duration)
}

type Options struct {
	// MinimumShares is the smallest initial share supply a new pair may mint.
	// Defaults to DefaultMinimumShares.
	MinimumShares *uint256.Int

	Store    Store
	Bus      *events.Bus
	Observer Observer
	Logger   *zap.SugaredLogger
}

type Engine struct {
	registry *pair.Registry
	adapter  *transfer.Adapter

	pairs    *guard.Keyed[pair.ID]
	creating *guard.Keyed[pair.Key]
	scope    *guard.Scope

	minShares *uint256.Int
	store     Store
	bus       *events.Bus
	observer  Observer
	log       *zap.SugaredLogger
}

func New(adapter *transfer.Adapter, opts Options) *Engine {
	e := &Engine{
		registry:  pair.NewRegistry(),
		adapter:   adapter,
		pairs:     guard.NewKeyed[pair.ID](),
		creating:  guard.NewKeyed[pair.Key](),
		scope:     guard.NewScope("exchange"),
		minShares: uint256.NewInt(DefaultMinimumShares),
		store:     opts.Store,
		bus:       opts.Bus,
		observer:  opts.Observer,
		log:       opts.Logger,
	}
	if opts.MinimumShares != nil {
		e.minShares = new(uint256.Int).Set(opts.MinimumShares)
	}
	if e.bus == nil {
		e.bus = events.NewBus(nil, e.log)
	}
	if e.log == nil {
		e.log = zap.NewNop().Sugar()
	}
	return e
}

func (e *Engine) Bus() *events.Bus { return e.bus }

func (e *Engine) Adapter() *transfer.Adapter { return e.adapter }

// Restore installs persisted pairs. It must run before the engine serves calls.
func (e *Engine) Restore(snapshots []pair.Changes) error {
	for _, ch := range snapshots {
		if err := e.registry.Restore(ch); err != nil {
			return fmt.Errorf("failed to restore pair: %w", err)
		}
	}
	e.log.Infow("engine_restored", "pairs", len(snapshots), "last_pair_id", e.registry.LastID())
	return nil
}

// enter marks ctx as inside the engine, resolves the pair and takes its guard
func (e *Engine) enter(ctx context.Context, id pair.ID) (context.Context, *pair.State, func(), error) {
	ctx, err := e.scope.Enter(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := e.registry.Get(id)
	if err != nil {
		return nil, nil, nil, err
	}
	release, err := e.pairs.Lock(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return ctx, st, release, nil
}

func (e *Engine) persist(ch pair.Changes) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SaveChanges(ch); err != nil {
		return fmt.Errorf("failed to persist changes: %w", err)
	}
	return nil
}

// commit persists ch and then makes it visible to readers
func (e *Engine) commit(st *pair.State, ch pair.Changes) error {
	if err := e.persist(ch); err != nil {
		return err
	}
	st.Apply(ch)
	return nil
}

// unwind reverses the session when the operation failed
func (e *Engine) unwind(ctx context.Context, sess *transfer.Session, errp *error) {
	if *errp == nil {
		return
	}
	if uerr := sess.Rollback(ctx); uerr != nil {
		*errp = fmt.Errorf("%w (unwind incomplete: %v)", *errp, uerr)
	}
}

func (e *Engine) observe(op string, start time.Time, errp *error) {
	class := Classify(*errp)
	elapsed := time.Since(start)
	if e.observer != nil {
		e.observer.ObserveOperation(op, class, elapsed)
	}
	switch class {
	case ClassNone:
	case ClassTransport, ClassInternal:
		e.log.Warnw("operation_failed", "op", op, "class", class, "err", *errp)
	default:
		e.log.Debugw("operation_rejected", "op", op, "class", class, "err", *errp)
	}
}

func (e *Engine) publish(evs ...events.Event) {
	e.bus.Publish(evs...)
}

func reservesUpdated(p *pair.Pair) events.ReservesUpdated {
	return events.ReservesUpdated{
		PairID:      p.ID,
		ReserveLow:  new(uint256.Int).Set(p.ReserveLow),
		ReserveHigh: new(uint256.Int).Set(p.ReserveHigh),
		TotalShares: new(uint256.Int).Set(p.TotalShares),
	}
}

func wrapNotFound(err error, target error) error {
	if errors.Is(err, ErrPairNotFound) {
		return fmt.Errorf("%w: %w", target, err)
	}
	return err
}
