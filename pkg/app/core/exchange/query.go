package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
)

// PairID returns the id of the pair holding a and b in either order, 0 if none
func (e *Engine) PairID(a, b common.Address) pair.ID {
	return e.registry.Lookup(a, b)
}

func (e *Engine) Reserves(id pair.ID) (reserveLow, reserveHigh, totalShares *uint256.Int, err error) {
	st, err := e.registry.Get(id)
	if err != nil {
		return nil, nil, nil, err
	}
	p := st.Pair()
	return p.ReserveLow, p.ReserveHigh, p.TotalShares, nil
}

// PoolShareBps returns holder's share of the pool in basis points
func (e *Engine) PoolShareBps(id pair.ID, holder common.Address) uint64 {
	st, err := e.registry.Get(id)
	if err != nil {
		return 0
	}
	return ShareBps(st.Share(holder))
}

func (e *Engine) Pair(id pair.ID) (*pair.Pair, error) {
	st, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return st.Pair(), nil
}

func (e *Engine) Pairs() []*pair.Pair {
	return e.registry.Pairs()
}

// Position returns holder's position in the pair; an account that never
// deposited gets an empty one
func (e *Engine) Position(id pair.ID, holder common.Address) (*pair.Position, error) {
	st, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return st.Position(holder), nil
}

func (e *Engine) Positions(id pair.ID) ([]*pair.Position, error) {
	st, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return st.Positions(), nil
}

func (e *Engine) Order(id pair.ID, oid pair.OrderID) (*pair.LimitOrder, error) {
	st, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	o, ok := st.Order(oid)
	if !ok {
		return nil, fmt.Errorf("%w: order %d of pair %d", ErrOrderNotFound, oid, id)
	}
	return o, nil
}

func (e *Engine) Orders(id pair.ID, activeOnly bool) ([]*pair.LimitOrder, error) {
	st, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return st.Orders(activeOnly), nil
}
