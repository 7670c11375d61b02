package main

import (
	"context"
	"encoding/hex"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/api"
	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperswap/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transfer"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
	"github.com/uhyunpark/hyperswap/pkg/p2p"
	"github.com/uhyunpark/hyperswap/pkg/storage"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func run(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	custody, err := crypto.ParseAddress(cfg.Node.Custody)
	if err != nil {
		return err
	}
	m := metrics.Default()
	bus := events.NewBus(nil, sugar.Named("events"))

	// ---- Storage ----
	var (
		store   *storage.PebbleStore
		lstore  ledger.Store
		estore  exchange.Store
		nonces  dex.NonceStore
		journal api.EventSource
	)
	if cfg.Node.Persist {
		store, err = storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "db"))
		if err != nil {
			return err
		}
		defer store.Close()
		lstore, estore, nonces, journal = store, store, store, store

		wal, err := storage.NewFileWAL(filepath.Join(cfg.Node.DataDir, "events.wal"), sugar.Named("wal"))
		if err != nil {
			return err
		}
		defer wal.Close()
		bus.Subscribe(storage.Journal{Store: store, Log: sugar.Named("journal")})
		bus.Subscribe(wal)
		sugar.Infow("storage_opened", "data_dir", cfg.Node.DataDir)
	} else {
		sugar.Warn("persistence_disabled - state is lost on exit")
	}

	// ---- Exchange ----
	l := ledger.New(lstore, sugar.Named("ledger"))
	adapter := transfer.NewAdapter(l, custody, sugar.Named("transfer"))
	engine := exchange.New(adapter, exchange.Options{
		MinimumShares: uint256.NewInt(cfg.Exchange.MinimumShares),
		Store:         estore,
		Bus:           bus,
		Observer:      m,
		Logger:        sugar.Named("exchange"),
	})

	var faucet *uint256.Int
	if cfg.Exchange.FaucetEnabled {
		if faucet, err = uint256.FromDecimal(cfg.Exchange.FaucetAmount); err != nil {
			return err
		}
	}
	app := dex.New(engine, l, dex.Config{
		Domain:       crypto.DomainForChain(cfg.Node.ChainID),
		FaucetAmount: faucet,
		Nonces:       nonces,
		Logger:       sugar.Named("dex"),
	})
	if store != nil {
		if err := app.Restore(store); err != nil {
			return err
		}
		m.PairsTotal.Set(float64(len(engine.Pairs())))
	}

	for _, spec := range cfg.Exchange.Tokens {
		addr, err := crypto.ParseAddress(spec.Address)
		if err != nil {
			return err
		}
		if err := l.RegisterToken(ledger.Token{Address: addr, Symbol: spec.Symbol, FeeBps: spec.FeeBps}); err != nil {
			return err
		}
	}

	// Sinks run in order on the publishing goroutine; journal first
	bus.Subscribe(events.LogSink{Log: sugar.Named("event")})
	bus.Subscribe(m)

	// ---- P2P ----
	if cfg.P2P.Enabled {
		gossip, err := startGossip(ctx, cfg.P2P, journal, sugar.Named("p2p"))
		if err != nil {
			return err
		}
		defer gossip.Close()
		bus.Subscribe(gossip)
	}

	// ---- Transaction generator (optional) ----
	if cfg.TxGen.Enabled {
		feeder, err := dex.NewFeeder(app, dex.FeederConfig{
			Interval:    cfg.TxGen.Interval,
			BatchSize:   cfg.TxGen.BatchSize,
			NumAccounts: cfg.TxGen.Accounts,
		}, sugar.Named("txgen"))
		if err != nil {
			return err
		}
		go feeder.Run(ctx)
	} else {
		sugar.Info("txgen_disabled")
	}

	// ---- API Server ----
	server := api.NewServer(app, api.Options{
		CORSOrigins: cfg.API.CORSOrigins,
		Metrics:     m,
		Events:      journal,
		Logger:      sugar.Named("api"),
	})
	bus.Subscribe(server.Hub())

	sugar.Infow("node_starting",
		"chain_id", cfg.Node.ChainID,
		"custody", custody.Hex(),
		"pairs", len(engine.Pairs()),
		"event_seq", bus.Seq(),
		"faucet", faucet != nil,
		"p2p", cfg.P2P.Enabled)

	return server.Start(ctx, cfg.API.Addr)
}

func startGossip(ctx context.Context, cfg params.P2P, history api.EventSource, sugar *zap.SugaredLogger) (*p2p.Gossip, error) {
	signer, err := crypto.NewBLSSignerFromSeed([]byte(cfg.BLSSeed))
	if err != nil {
		return nil, err
	}
	var trusted [][]byte
	for _, pk := range cfg.Trusted {
		b, err := hex.DecodeString(strings.TrimPrefix(pk, "0x"))
		if err != nil {
			return nil, err
		}
		trusted = append(trusted, b)
	}

	g, err := p2p.NewGossip(ctx, p2p.Config{
		ListenAddr: cfg.Listen,
		Bootstrap:  cfg.Bootstrap,
		Signer:     signer,
		Trusted:    trusted,
		History:    history,
		Logger:     sugar,
	})
	if err != nil {
		return nil, err
	}
	g.OnEvent(func(r p2p.Received) {
		sugar.Infow("peer_event",
			"peer", r.From.String(),
			"seq", r.Envelope.Seq,
			"kind", r.Envelope.Kind,
			"pair_id", r.Envelope.PairID)
	})
	sugar.Infow("gossip_started",
		"addrs", g.Addrs(),
		"bls_pubkey", hex.EncodeToString(signer.PubkeyBytes()),
		"peers", len(g.Host().Network().Peers()))
	return g, nil
}
