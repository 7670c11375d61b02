package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type step struct {
	incoming bool
	token    common.Address
	party    common.Address
	amount   *uint256.Int
}

// Session journals the transfers of one exchange operation so they can be
// unwound if the operation fails before it commits.
type Session struct {
	a     *Adapter
	steps []step
	done  bool
}

// Begin starts an empty journal
func (a *Adapter) Begin() *Session {
	return &Session{a: a}
}

func (s *Session) In(ctx context.Context, token, from common.Address, amount *uint256.Int) (*uint256.Int, error) {
	received, err := s.a.TransferIn(ctx, token, from, amount)
	if err != nil {
		return nil, err
	}
	if !received.IsZero() {
		s.steps = append(s.steps, step{incoming: true, token: token, party: from, amount: new(uint256.Int).Set(received)})
	}
	return received, nil
}

func (s *Session) Out(ctx context.Context, token, to common.Address, amount *uint256.Int) error {
	if err := s.a.TransferOut(ctx, token, to, amount); err != nil {
		return err
	}
	if !amount.IsZero() {
		s.steps = append(s.steps, step{token: token, party: to, amount: new(uint256.Int).Set(amount)})
	}
	return nil
}

// Len returns the number of journaled transfers
func (s *Session) Len() int { return len(s.steps) }

// Commit forgets the journal; a later Rollback is a no-op
func (s *Session) Commit() {
	s.done = true
	s.steps = nil
}

// UnwindError reports a rollback that could not reverse every transfer.
// Short holds, per token, how much less custody has than before the session
// began.
type UnwindError struct {
	Errs  []error
	Short map[common.Address]*uint256.Int
}

func (e *UnwindError) Error() string { return errors.Join(e.Errs...).Error() }

func (e *UnwindError) Unwrap() []error { return e.Errs }

// Shortfall returns how much of token left custody for good
func (e *UnwindError) Shortfall(token common.Address) *uint256.Int {
	if amt, ok := e.Short[token]; ok {
		return new(uint256.Int).Set(amt)
	}
	return new(uint256.Int)
}

// Rollback reverses every journaled transfer, newest first. Payouts are pulled
// back, which only works while the recipient's allowance covers them. A payout
// that stays out is charged against the earlier refunds of the same token, so
// custody never pays a refund out of tokens it still owes. Every failure is
// logged and returned as an *UnwindError.
func (s *Session) Rollback(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true

	// unwinding must finish even if the caller gave up
	ctx = context.WithoutCancel(ctx)

	var errs []error
	short := make(map[common.Address]*uint256.Int)
	fail := func(st step, err error) {
		s.a.log.Errorw("transfer_unwind_failed",
			"token", st.token.Hex(),
			"party", st.party.Hex(),
			"amount", st.amount.Dec(),
			"incoming", st.incoming,
			"err", err)
		errs = append(errs, fmt.Errorf("unwind %s: %w", st.token.Hex(), err))
	}

	for i := len(s.steps) - 1; i >= 0; i-- {
		st := s.steps[i]
		if !st.incoming {
			if err := s.a.reclaim(ctx, st.token, st.party, st.amount); err != nil {
				fail(st, err)
				if short[st.token] == nil {
					short[st.token] = new(uint256.Int)
				}
				short[st.token].Add(short[st.token], st.amount)
			}
			continue
		}

		refund := new(uint256.Int).Set(st.amount)
		if lost := short[st.token]; lost != nil && !lost.IsZero() {
			held := new(uint256.Int).Set(refund)
			if lost.Lt(held) {
				held.Set(lost)
			}
			lost.Sub(lost, held)
			refund.Sub(refund, held)
			s.a.log.Warnw("transfer_refund_withheld",
				"token", st.token.Hex(),
				"party", st.party.Hex(),
				"withheld", held.Dec(),
				"refunded", refund.Dec())
			errs = append(errs, fmt.Errorf("refund of %s %s to %s withheld", held.Dec(), st.token.Hex(), st.party.Hex()))
		}
		if refund.IsZero() {
			continue
		}
		if err := s.a.TransferOut(ctx, st.token, st.party, refund); err != nil {
			fail(st, err)
		}
	}
	s.steps = nil

	if len(errs) == 0 {
		return nil
	}
	for token, amt := range short {
		if amt.IsZero() {
			delete(short, token)
		}
	}
	return &UnwindError{Errs: errs, Short: short}
}
