package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

var (
	ErrInsufficientBalance   = errors.New("ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	ErrTransferRejected      = errors.New("ledger: transfer rejected")
	ErrInvalidAddress        = errors.New("ledger: invalid address")
	ErrInvalidFee            = errors.New("ledger: fee exceeds 10000 bps")
	ErrSupplyOverflow        = errors.New("ledger: supply overflow")
)

const bpsDenominator = 10_000

// Movement describes a single transfer as seen by a token hook
type Movement struct {
	Token   common.Address
	Spender common.Address
	From    common.Address
	To      common.Address
	Amount  *uint256.Int
}

// Hook runs before a token moves. It receives the caller's context, so a hook
// that calls back into the exchange is seen as the same call chain. A non-nil
// error rejects the transfer.
type Hook func(ctx context.Context, m Movement) error

// Store persists ledger records. Implementations must apply a call atomically.
type Store interface {
	SaveToken(t Token) error
	SaveHoldings(balances []Balance, allowances []Allowance) error
}

type holding struct {
	token  common.Address
	holder common.Address
}

type approval struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// Ledger keeps fungible token balances and allowances in memory, backed by an
// optional Store. Tokens may charge a transfer fee, reject transfers or run a
// hook before every movement.
type Ledger struct {
	mu         sync.RWMutex
	tokens     map[common.Address]*Token
	supply     map[common.Address]*uint256.Int
	balances   map[holding]*uint256.Int
	allowances map[approval]*uint256.Int
	hooks      map[common.Address]Hook

	store Store
	log   *zap.SugaredLogger
}

// New creates an empty ledger. store and log may be nil.
func New(store Store, log *zap.SugaredLogger) *Ledger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Ledger{
		tokens:     make(map[common.Address]*Token),
		supply:     make(map[common.Address]*uint256.Int),
		balances:   make(map[holding]*uint256.Int),
		allowances: make(map[approval]*uint256.Int),
		hooks:      make(map[common.Address]Hook),
		store:      store,
		log:        log,
	}
}

// Restore loads persisted records. Supplies are recomputed from balances.
func (l *Ledger) Restore(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, t := range snap.Tokens {
		tok := t
		l.tokens[t.Address] = &tok
	}
	for _, b := range snap.Balances {
		l.balances[holding{b.Token, b.Holder}] = new(uint256.Int).Set(b.Amount)
		s := l.supplyLocked(b.Token)
		s.Add(s, b.Amount)
	}
	for _, a := range snap.Allowances {
		l.allowances[approval{a.Token, a.Owner, a.Spender}] = new(uint256.Int).Set(a.Amount)
	}
	l.log.Infow("ledger_restored",
		"tokens", len(snap.Tokens),
		"balances", len(snap.Balances),
		"allowances", len(snap.Allowances))
}

// RegisterToken adds or updates a token definition
func (l *Ledger) RegisterToken(t Token) error {
	if t.Address == (common.Address{}) {
		return ErrInvalidAddress
	}
	if t.FeeBps > bpsDenominator {
		return ErrInvalidFee
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store != nil {
		if err := l.store.SaveToken(t); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}
	}
	tok := t
	l.tokens[t.Address] = &tok
	l.log.Infow("token_registered", "token", t.Address.Hex(), "symbol", t.Symbol, "fee_bps", t.FeeBps, "rejecting", t.Rejecting)
	return nil
}

// Token returns the definition of addr. Unregistered tokens behave as plain
// tokens with no fee.
func (l *Ledger) Token(addr common.Address) (Token, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tokens[addr]
	if !ok {
		return Token{Address: addr}, false
	}
	return *t, true
}

func (l *Ledger) Tokens() []Token {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Token, 0, len(l.tokens))
	for _, t := range l.tokens {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Cmp(out[j].Address) < 0 })
	return out
}

// SetHook installs h for token, replacing any previous hook. A nil h removes it.
func (l *Ledger) SetHook(token common.Address, h Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h == nil {
		delete(l.hooks, token)
		return
	}
	l.hooks[token] = h
}

func (l *Ledger) BalanceOf(token, holder common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[holding{token, holder}]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (l *Ledger) Allowance(token, owner, spender common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if a, ok := l.allowances[approval{token, owner, spender}]; ok {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int)
}

func (l *Ledger) TotalSupply(token common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.supply[token]; ok {
		return new(uint256.Int).Set(s)
	}
	return new(uint256.Int)
}

// Approve sets the amount spender may move out of owner's balance
func (l *Ledger) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	if token == (common.Address{}) || owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrInvalidAddress
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := approval{token, owner, spender}
	prev := l.allowances[key]
	l.allowances[key] = new(uint256.Int).Set(amount)
	if err := l.persistLocked(nil, []approval{key}); err != nil {
		restore(l.allowances, key, prev)
		return err
	}
	return nil
}

// Mint credits amount of token to holder and grows the supply
func (l *Ledger) Mint(token, to common.Address, amount *uint256.Int) error {
	if token == (common.Address{}) || to == (common.Address{}) {
		return ErrInvalidAddress
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	supply := l.supplyLocked(token)
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return ErrSupplyOverflow
	}

	key := holding{token, to}
	prev := l.balances[key]
	l.balances[key] = new(uint256.Int).Add(l.balanceLocked(key), amount)
	if err := l.persistLocked([]holding{key}, nil); err != nil {
		restore(l.balances, key, prev)
		return err
	}
	supply.Set(newSupply)

	l.log.Infow("token_minted", "token", token.Hex(), "to", to.Hex(), "amount", amount.Dec())
	return nil
}

// Transfer moves amount from its owner. The recipient is credited with the
// amount net of the token fee.
func (l *Ledger) Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error {
	return l.move(ctx, Movement{Token: token, Spender: from, From: from, To: to, Amount: amount})
}

// TransferFrom moves amount on behalf of from, consuming spender's allowance
// unless spender is from itself
func (l *Ledger) TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *uint256.Int) error {
	return l.move(ctx, Movement{Token: token, Spender: spender, From: from, To: to, Amount: amount})
}

func (l *Ledger) move(ctx context.Context, m Movement) error {
	if m.Token == (common.Address{}) || m.From == (common.Address{}) || m.To == (common.Address{}) {
		return ErrInvalidAddress
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.RLock()
	hook := l.hooks[m.Token]
	l.mu.RUnlock()

	// hooks run outside the lock so they may read balances or call other contracts
	if hook != nil {
		if err := hook(ctx, m); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferRejected, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tok := l.tokens[m.Token]
	if tok != nil && tok.Rejecting {
		return fmt.Errorf("%w: token %s refuses transfers", ErrTransferRejected, m.Token.Hex())
	}

	var allowanceKey *approval
	if m.Spender != m.From {
		key := approval{m.Token, m.From, m.Spender}
		allowed := l.allowances[key]
		if allowed == nil || allowed.Lt(m.Amount) {
			return fmt.Errorf("%w: spender %s", ErrInsufficientAllowance, m.Spender.Hex())
		}
		allowanceKey = &key
	}

	fromKey := holding{m.Token, m.From}
	if l.balanceLocked(fromKey).Lt(m.Amount) {
		return fmt.Errorf("%w: holder %s", ErrInsufficientBalance, m.From.Hex())
	}

	fee := new(uint256.Int)
	if tok != nil && tok.FeeBps > 0 {
		fee.Mul(m.Amount, uint256.NewInt(tok.FeeBps))
		fee.Div(fee, uint256.NewInt(bpsDenominator))
	}
	credit := new(uint256.Int).Sub(m.Amount, fee)

	toKey := holding{m.Token, m.To}
	touched := []holding{fromKey, toKey}
	var feeKey holding
	collectFee := !fee.IsZero() && tok.FeeRecipient != (common.Address{})
	if collectFee {
		feeKey = holding{m.Token, tok.FeeRecipient}
		touched = append(touched, feeKey)
	}

	prevBalances := make(map[holding]*uint256.Int, len(touched))
	for _, k := range touched {
		if _, seen := prevBalances[k]; !seen {
			prevBalances[k] = l.balances[k]
		}
	}
	var prevAllowance *uint256.Int
	var approvals []approval
	if allowanceKey != nil {
		prevAllowance = l.allowances[*allowanceKey]
		l.allowances[*allowanceKey] = new(uint256.Int).Sub(prevAllowance, m.Amount)
		approvals = append(approvals, *allowanceKey)
	}

	l.balances[fromKey] = new(uint256.Int).Sub(l.balanceLocked(fromKey), m.Amount)
	l.balances[toKey] = new(uint256.Int).Add(l.balanceLocked(toKey), credit)
	if collectFee {
		l.balances[feeKey] = new(uint256.Int).Add(l.balanceLocked(feeKey), fee)
	}

	if err := l.persistLocked(touched, approvals); err != nil {
		for k, v := range prevBalances {
			restore(l.balances, k, v)
		}
		if allowanceKey != nil {
			restore(l.allowances, *allowanceKey, prevAllowance)
		}
		return err
	}

	if !fee.IsZero() && !collectFee {
		s := l.supplyLocked(m.Token)
		s.Sub(s, fee)
	}
	return nil
}

func (l *Ledger) balanceLocked(k holding) *uint256.Int {
	if b, ok := l.balances[k]; ok {
		return b
	}
	return new(uint256.Int)
}

func (l *Ledger) supplyLocked(token common.Address) *uint256.Int {
	s, ok := l.supply[token]
	if !ok {
		s = new(uint256.Int)
		l.supply[token] = s
	}
	return s
}

func (l *Ledger) persistLocked(holdings []holding, approvals []approval) error {
	if l.store == nil {
		return nil
	}
	balances := make([]Balance, 0, len(holdings))
	for _, k := range holdings {
		balances = append(balances, Balance{Token: k.token, Holder: k.holder, Amount: new(uint256.Int).Set(l.balanceLocked(k))})
	}
	allowances := make([]Allowance, 0, len(approvals))
	for _, k := range approvals {
		amt := l.allowances[k]
		if amt == nil {
			amt = new(uint256.Int)
		}
		allowances = append(allowances, Allowance{Token: k.token, Owner: k.owner, Spender: k.spender, Amount: new(uint256.Int).Set(amt)})
	}
	if err := l.store.SaveHoldings(balances, allowances); err != nil {
		return fmt.Errorf("failed to save holdings: %w", err)
	}
	return nil
}

func restore[K comparable](m map[K]*uint256.Int, k K, prev *uint256.Int) {
	if prev == nil {
		delete(m, k)
		return
	}
	m[k] = prev
}
