package dex

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// FeederConfig controls signed traffic generation on a devnet
type FeederConfig struct {
	Interval    time.Duration // How often to submit a batch
	BatchSize   int           // Requests per batch
	NumAccounts int           // Simulated traders
	Seed        int64         // 0 seeds from the clock
}

func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		Interval:    100 * time.Millisecond,
		BatchSize:   10,
		NumAccounts: 20,
	}
}

type FeederStats struct {
	Submitted uint64
	Accepted  uint64
	Rejected  uint64
}

// Feeder drives random swaps, liquidity moves and limit orders through
// App.Apply, signing every request like a wallet would. Traders are funded
// from the faucet.
type Feeder struct {
	app     *App
	cfg     FeederConfig
	rng     *rand.Rand
	traders []*crypto.Signer
	nonces  map[common.Address]uint64
	log     *zap.SugaredLogger

	submitted, accepted, rejected atomic.Uint64
	warnedIdle                    bool
}

func NewFeeder(app *App, cfg FeederConfig, log *zap.SugaredLogger) (*Feeder, error) {
	if app.faucet == nil || app.faucet.IsZero() {
		return nil, ErrFaucetDisabled
	}
	if cfg.NumAccounts <= 0 || cfg.BatchSize <= 0 || cfg.Interval <= 0 {
		return nil, errors.New("dex: feeder needs accounts, batch size and interval")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	traders := make([]*crypto.Signer, cfg.NumAccounts)
	for i := range traders {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		traders[i] = s
	}
	return &Feeder{
		app:     app,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		traders: traders,
		nonces:  make(map[common.Address]uint64),
		log:     log,
	}, nil
}

func (f *Feeder) Stats() FeederStats {
	return FeederStats{
		Submitted: f.submitted.Load(),
		Accepted:  f.accepted.Load(),
		Rejected:  f.rejected.Load(),
	}
}

// Run submits a batch every interval until ctx is done
func (f *Feeder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	report := time.NewTicker(10 * time.Second)
	defer report.Stop()

	start := time.Now()
	f.log.Infow("txgen_started",
		"batch", f.cfg.BatchSize,
		"interval_ms", f.cfg.Interval.Milliseconds(),
		"accounts", len(f.traders))

	for {
		select {
		case <-ctx.Done():
			st := f.Stats()
			f.log.Infow("txgen_stopped",
				"submitted", st.Submitted,
				"accepted", st.Accepted,
				"rejected", st.Rejected,
				"elapsed", time.Since(start).Round(time.Second).String())
			return
		case <-report.C:
			st := f.Stats()
			f.log.Infow("txgen_stats",
				"submitted", st.Submitted,
				"accepted", st.Accepted,
				"rejected", st.Rejected,
				"rate", float64(st.Submitted)/time.Since(start).Seconds())
		case <-ticker.C:
			f.Step(ctx)
		}
	}
}

// Step submits one batch. It seeds a pair from the first two registered
// tokens when none exists.
func (f *Feeder) Step(ctx context.Context) {
	pairs := f.app.engine.Pairs()
	if len(pairs) == 0 {
		if !f.seedPair(ctx) {
			return
		}
		pairs = f.app.engine.Pairs()
	}

	for i := 0; i < f.cfg.BatchSize; i++ {
		if ctx.Err() != nil {
			return
		}
		trader := f.traders[f.rng.Intn(len(f.traders))]
		p := pairs[f.rng.Intn(len(pairs))]
		if !f.fund(ctx, trader, p.TokenLow, p.TokenHigh) {
			continue
		}
		if req, ok := f.nextRequest(trader, p); ok {
			f.submit(ctx, trader, req)
		}
	}
}

func (f *Feeder) seedPair(ctx context.Context) bool {
	tokens := f.app.ledger.Tokens()
	if len(tokens) < 2 {
		if !f.warnedIdle {
			f.log.Warn("txgen_idle - register two tokens or create a pair")
			f.warnedIdle = true
		}
		return false
	}
	creator := f.traders[0]
	a, b := tokens[0].Address, tokens[1].Address
	if !f.fund(ctx, creator, a, b) {
		return false
	}
	deposit := new(uint256.Int).Div(f.app.faucet, uint256.NewInt(4))
	return f.submit(ctx, creator, transaction.Request{
		Action:  transaction.ActionCreatePair,
		TokenA:  a,
		TokenB:  b,
		AmountA: deposit,
		AmountB: new(uint256.Int).Set(deposit),
	})
}

// fund tops up trader from the faucet when low and approves custody once
func (f *Feeder) fund(ctx context.Context, trader *crypto.Signer, tokens ...common.Address) bool {
	addr := trader.Address()
	custody := f.app.engine.Adapter().Custody()
	floor := new(uint256.Int).Div(f.app.faucet, uint256.NewInt(10))
	for _, tok := range tokens {
		if f.app.ledger.BalanceOf(tok, addr).Lt(floor) {
			if _, err := f.app.Faucet(tok, addr); err != nil {
				f.log.Warnw("txgen_faucet_failed", "token", tok.Hex(), "err", err)
				return false
			}
		}
		if f.app.ledger.Allowance(tok, addr, custody).Lt(floor) {
			if !f.submit(ctx, trader, transaction.Request{Action: transaction.ActionApprove, TokenA: tok, AmountA: new(uint256.Int).SetAllOne()}) {
				return false
			}
		}
	}
	return true
}

// nextRequest picks an action: mostly swaps, then orders and liquidity
func (f *Feeder) nextRequest(trader *crypto.Signer, p *pair.Pair) (transaction.Request, bool) {
	req := transaction.Request{PairID: p.ID}
	roll := f.rng.Intn(100)
	switch {
	case roll < 55:
		tokenIn := p.TokenLow
		if f.rng.Intn(2) == 1 {
			tokenIn = p.TokenHigh
		}
		reserveIn, _ := p.Reserves(tokenIn)
		req.Action = transaction.ActionSwap
		req.TokenA = tokenIn
		req.AmountA = f.fraction(reserveIn, 200)

	case roll < 70:
		offer := p.TokenLow
		if f.rng.Intn(2) == 1 {
			offer = p.TokenHigh
		}
		reserveIn, _ := p.Reserves(offer)
		amount := f.fraction(reserveIn, 500)
		quote, err := f.app.engine.QuoteSwap(p.ID, offer, amount)
		if err != nil {
			return req, false
		}
		// ask 2-20% above the pool
		markup := uint256.NewInt(uint64(102 + f.rng.Intn(19)))
		desired := new(uint256.Int).Mul(quote, markup)
		desired.Div(desired, uint256.NewInt(100)).AddUint64(desired, 1)
		req.Action = transaction.ActionPlaceLimitOrder
		req.TokenA = offer
		req.AmountA = amount
		req.AmountB = desired

	case roll < 82:
		order := f.pickOrder(p.ID, func(o *pair.LimitOrder) bool { return o.Maker != trader.Address() })
		if order == nil {
			return req, false
		}
		amount := new(uint256.Int).Div(order.DesiredAmount, uint256.NewInt(2))
		if amount.IsZero() {
			amount.Set(order.DesiredAmount)
		}
		req.Action = transaction.ActionFillLimitOrder
		req.OrderID = order.ID
		req.AmountA = amount

	case roll < 90:
		order := f.pickOrder(p.ID, func(o *pair.LimitOrder) bool { return o.Maker == trader.Address() })
		if order == nil {
			return req, false
		}
		req.Action = transaction.ActionCancelLimitOrder
		req.OrderID = order.ID

	case roll < 96:
		req.Action = transaction.ActionAddLiquidity
		req.AmountA = f.fraction(p.ReserveLow, 1000)

	default:
		pos, err := f.app.engine.Position(p.ID, trader.Address())
		if err != nil || pos.Shares == nil || pos.Shares.IsZero() {
			return req, false
		}
		shares := new(uint256.Int).Div(pos.Shares, uint256.NewInt(4))
		if shares.IsZero() {
			shares.Set(pos.Shares)
		}
		req.Action = transaction.ActionRemoveLiquidity
		req.AmountA = shares
	}
	return req, true
}

// fraction returns a random amount up to reserve/div, at least 1
func (f *Feeder) fraction(reserve *uint256.Int, div uint64) *uint256.Int {
	limit := new(uint256.Int).Div(reserve, uint256.NewInt(div))
	if limit.IsZero() {
		return uint256.NewInt(1)
	}
	pct := uint256.NewInt(uint64(10 + f.rng.Intn(91)))
	out := new(uint256.Int).Mul(limit, pct)
	out.Div(out, uint256.NewInt(100))
	if out.IsZero() {
		out.SetOne()
	}
	return out
}

func (f *Feeder) pickOrder(id pair.ID, keep func(*pair.LimitOrder) bool) *pair.LimitOrder {
	orders, err := f.app.engine.Orders(id, true)
	if err != nil {
		return nil
	}
	var candidates []*pair.LimitOrder
	for _, o := range orders {
		if keep(o) {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[f.rng.Intn(len(candidates))]
}

func (f *Feeder) submit(ctx context.Context, trader *crypto.Signer, req transaction.Request) bool {
	addr := trader.Address()
	f.nonces[addr]++
	req.Nonce = f.nonces[addr]

	tx, err := transaction.Sign(f.app.domain, trader, &req)
	if err != nil {
		f.log.Errorw("txgen_sign_failed", "err", err)
		return false
	}
	f.submitted.Add(1)
	if _, err := f.app.Apply(ctx, tx); err != nil {
		f.rejected.Add(1)
		f.log.Debugw("txgen_rejected", "action", req.Action, "owner", addr.Hex(), "err", err)
		return false
	}
	f.accepted.Add(1)
	return true
}
