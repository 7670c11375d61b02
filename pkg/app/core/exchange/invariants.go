package exchange

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrInvariantBroken = errors.New("exchange: invariant broken")

// CheckInvariants verifies every pair's share and reserve bookkeeping and that
// custody holds at least the pooled reserves plus escrowed offers of each
// token. Results are only exact while no operation is in flight.
func (e *Engine) CheckInvariants() error {
	var broken []error
	owed := make(map[common.Address]*uint256.Int)
	owe := func(token common.Address, amt *uint256.Int) {
		if owed[token] == nil {
			owed[token] = new(uint256.Int)
		}
		owed[token].Add(owed[token], amt)
	}

	for _, p := range e.registry.Pairs() {
		st, err := e.registry.Get(p.ID)
		if err != nil {
			return err
		}

		sum := new(uint256.Int)
		for _, pos := range st.Positions() {
			if pos.HasPosition != !pos.Shares.IsZero() {
				broken = append(broken, fmt.Errorf("pair %d: position %s has %s shares but hasPosition=%t",
					p.ID, pos.Owner.Hex(), pos.Shares.Dec(), pos.HasPosition))
			}
			sum.Add(sum, pos.Shares)
		}
		if !sum.Eq(p.TotalShares) {
			broken = append(broken, fmt.Errorf("pair %d: positions hold %s shares, total is %s",
				p.ID, sum.Dec(), p.TotalShares.Dec()))
		}

		if p.Initialized {
			drained := p.ReserveLow.IsZero() && p.ReserveHigh.IsZero() && p.TotalShares.IsZero()
			funded := !p.ReserveLow.IsZero() && !p.ReserveHigh.IsZero()
			if !drained && !funded {
				broken = append(broken, fmt.Errorf("pair %d: reserves %s/%s with %s shares",
					p.ID, p.ReserveLow.Dec(), p.ReserveHigh.Dec(), p.TotalShares.Dec()))
			}
		}

		owe(p.TokenLow, p.ReserveLow)
		owe(p.TokenHigh, p.ReserveHigh)
		for _, o := range st.Orders(true) {
			owe(o.OfferToken, o.OfferAmount)
		}
	}

	for token, amt := range owed {
		if bal := e.adapter.CustodyBalance(token); bal.Lt(amt) {
			broken = append(broken, fmt.Errorf("token %s: custody holds %s, owes %s", token.Hex(), bal.Dec(), amt.Dec()))
		}
	}

	if len(broken) > 0 {
		return fmt.Errorf("%w: %w", ErrInvariantBroken, errors.Join(broken...))
	}
	return nil
}
