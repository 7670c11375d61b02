// Package dex is the application layer in front of the exchange engine. It
// authenticates signed requests, enforces per-account nonces and dispatches
// to the engine and the token ledger.
package dex

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperswap/pkg/app/core/guard"
	"github.com/uhyunpark/hyperswap/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var (
	ErrNonceTooLow    = errors.New("dex: nonce already used")
	ErrFaucetDisabled = errors.New("dex: faucet disabled")
)

// NonceStore persists the last accepted nonce of every account
type NonceStore interface {
	SaveNonce(addr common.Address, nonce uint64) error
	LoadNonce(addr common.Address) (uint64, bool, error)
}

// Persistence is what Restore reads at startup
type Persistence interface {
	LoadLedger() (ledger.Snapshot, error)
	LoadPairs() ([]pair.Changes, error)
	LastEventSeq() (uint64, error)
}

type Config struct {
	Domain crypto.EIP712Domain
	// FaucetAmount is minted per faucet call; nil disables the faucet
	FaucetAmount *uint256.Int
	Nonces       NonceStore
	Logger       *zap.SugaredLogger
}

type App struct {
	engine   *exchange.Engine
	ledger   *ledger.Ledger
	verifier *transaction.Verifier
	domain   crypto.EIP712Domain

	accounts *guard.Keyed[common.Address]
	mu       sync.Mutex
	nonces   map[common.Address]uint64
	store    NonceStore

	faucet *uint256.Int
	log    *zap.SugaredLogger
}

func New(engine *exchange.Engine, l *ledger.Ledger, cfg Config) *App {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Domain.ChainID == nil {
		cfg.Domain = crypto.DefaultDomain()
	}
	return &App{
		engine:   engine,
		ledger:   l,
		verifier: transaction.NewVerifier(cfg.Domain),
		domain:   cfg.Domain,
		accounts: guard.NewKeyed[common.Address](),
		nonces:   make(map[common.Address]uint64),
		store:    cfg.Nonces,
		faucet:   cfg.FaucetAmount,
		log:      log,
	}
}

func (a *App) Engine() *exchange.Engine    { return a.engine }
func (a *App) Ledger() *ledger.Ledger      { return a.ledger }
func (a *App) Domain() crypto.EIP712Domain { return a.domain }

// Restore loads balances, pairs and the event sequence. Call before serving.
func (a *App) Restore(p Persistence) error {
	snap, err := p.LoadLedger()
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	a.ledger.Restore(snap)

	pairs, err := p.LoadPairs()
	if err != nil {
		return fmt.Errorf("failed to load pairs: %w", err)
	}
	if err := a.engine.Restore(pairs); err != nil {
		return err
	}

	seq, err := p.LastEventSeq()
	if err != nil {
		return fmt.Errorf("failed to load event sequence: %w", err)
	}
	a.engine.Bus().Resume(seq)

	if err := a.engine.CheckInvariants(); err != nil {
		return fmt.Errorf("restored state is inconsistent: %w", err)
	}
	a.log.Infow("state_restored",
		"tokens", len(snap.Tokens),
		"balances", len(snap.Balances),
		"pairs", len(pairs),
		"event_seq", seq,
	)
	return nil
}

// Nonce returns the last accepted nonce of addr, 0 if none
func (a *App) Nonce(addr common.Address) (uint64, error) {
	a.mu.Lock()
	n, ok := a.nonces[addr]
	a.mu.Unlock()
	if ok || a.store == nil {
		return n, nil
	}

	n, _, err := a.store.LoadNonce(addr)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	a.nonces[addr] = n
	a.mu.Unlock()
	return n, nil
}

// useNonce consumes nonce for addr. Callers hold addr's account guard.
func (a *App) useNonce(addr common.Address, nonce uint64) error {
	last, err := a.Nonce(addr)
	if err != nil {
		return err
	}
	if nonce <= last {
		return fmt.Errorf("%w: got %d, last %d", ErrNonceTooLow, nonce, last)
	}
	if a.store != nil {
		if err := a.store.SaveNonce(addr, nonce); err != nil {
			return err
		}
	}
	a.mu.Lock()
	a.nonces[addr] = nonce
	a.mu.Unlock()
	return nil
}

// Faucet mints the configured amount of token to addr (development only)
func (a *App) Faucet(token, to common.Address) (*uint256.Int, error) {
	if a.faucet == nil || a.faucet.IsZero() {
		return nil, ErrFaucetDisabled
	}
	if token == (common.Address{}) || to == (common.Address{}) {
		return nil, exchange.ErrInvalidToken
	}
	if err := a.ledger.Mint(token, to, a.faucet); err != nil {
		return nil, err
	}
	a.log.Infow("faucet_minted", "token", token.Hex(), "to", to.Hex(), "amount", a.faucet.Dec())
	return new(uint256.Int).Set(a.faucet), nil
}
