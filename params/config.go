package params

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Node struct {
	DataDir  string
	LogFile  string
	LogLevel string
	// Persist stores pairs, balances, nonces and the event journal in pebble
	// under DataDir. Off keeps everything in memory.
	Persist bool
	ChainID int64
	// Custody is the ledger account holding every pair's reserves
	Custody string
}

type API struct {
	Addr        string
	CORSOrigins []string
}

type P2P struct {
	Enabled   bool
	Listen    string
	Bootstrap []string
	// BLSSeed derives the key that attests gossiped events
	BLSSeed string
	// Trusted lists hex BLS public keys whose events are accepted; empty
	// accepts any correctly signed event
	Trusted []string
}

type Exchange struct {
	MinimumShares uint64
	FaucetEnabled bool
	// FaucetAmount is a decimal token amount
	FaucetAmount string
	Tokens       []TokenSpec
}

// TokenSpec registers a token at startup, written SYMBOL:ADDRESS[:FEE_BPS]
type TokenSpec struct {
	Symbol  string
	Address string
	FeeBps  uint64
}

// TxGen drives random signed traffic through the node (devnet only)
type TxGen struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
	Accounts  int
}

type Config struct {
	Node     Node
	API      API
	P2P      P2P
	Exchange Exchange
	TxGen    TxGen
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:  "data/hyperswap",
			LogFile:  "data/node.log",
			LogLevel: "info",
			Persist:  true,
			ChainID:  1337,
			Custody:  "0x000000000000000000000000000000000000c057",
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		P2P: P2P{
			Enabled: false,
			Listen:  "/ip4/0.0.0.0/tcp/9000",
			BLSSeed: "hyperswap-devnet",
		},
		Exchange: Exchange{
			MinimumShares: 1000,
			FaucetEnabled: true,
			FaucetAmount:  "1000000000000000000000", // 1000 tokens at 18 decimals
		},
		TxGen: TxGen{
			Interval:  100 * time.Millisecond,
			BatchSize: 10,
			Accounts:  20,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// godotenv never overrides variables already set in the environment
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.Persist = getBool("PERSIST", cfg.Node.Persist)
	cfg.Node.Custody = getEnv("CUSTODY_ADDRESS", cfg.Node.Custody)
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Node.ChainID = id
		}
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if v := splitList(os.Getenv("CORS_ORIGINS")); len(v) > 0 {
		cfg.API.CORSOrigins = v
	}

	cfg.P2P.Enabled = getBool("P2P_ENABLED", cfg.P2P.Enabled)
	cfg.P2P.Listen = getEnv("P2P_LISTEN", cfg.P2P.Listen)
	cfg.P2P.BLSSeed = getEnv("NODE_BLS_SEED", cfg.P2P.BLSSeed)
	if v := splitList(os.Getenv("P2P_BOOTSTRAP")); len(v) > 0 {
		cfg.P2P.Bootstrap = v
	}
	if v := splitList(os.Getenv("P2P_TRUSTED")); len(v) > 0 {
		cfg.P2P.Trusted = v
	}

	if v := os.Getenv("MINIMUM_SHARES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Exchange.MinimumShares = n
		}
	}
	cfg.Exchange.FaucetEnabled = getBool("FAUCET_ENABLED", cfg.Exchange.FaucetEnabled)
	cfg.Exchange.FaucetAmount = getEnv("FAUCET_AMOUNT", cfg.Exchange.FaucetAmount)

	cfg.TxGen.Enabled = getBool("ENABLE_TXGEN", cfg.TxGen.Enabled)
	if v := os.Getenv("TXGEN_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.TxGen.Interval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("TXGEN_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TxGen.BatchSize = n
		}
	}
	if v := os.Getenv("TXGEN_ACCOUNTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TxGen.Accounts = n
		}
	}

	// Example: "USDC:0x00..01,FOT:0x00..02:50"
	for _, item := range splitList(os.Getenv("TOKENS")) {
		if spec, err := ParseTokenSpec(item); err == nil {
			cfg.Exchange.Tokens = append(cfg.Exchange.Tokens, spec)
		}
	}

	return cfg
}

// Validate rejects settings the node cannot start with
func (c Config) Validate() error {
	var errs []error
	if c.Node.Persist && c.Node.DataDir == "" {
		errs = append(errs, errors.New("DATA_DIR is required when PERSIST is on"))
	}
	if c.Node.ChainID <= 0 {
		errs = append(errs, fmt.Errorf("CHAIN_ID must be positive, got %d", c.Node.ChainID))
	}
	if c.Exchange.MinimumShares == 0 {
		errs = append(errs, errors.New("MINIMUM_SHARES must be positive"))
	}
	if c.P2P.Enabled && c.P2P.BLSSeed == "" {
		errs = append(errs, errors.New("NODE_BLS_SEED is required when P2P_ENABLED is on"))
	}
	if c.TxGen.Enabled && !c.Exchange.FaucetEnabled {
		errs = append(errs, errors.New("ENABLE_TXGEN requires FAUCET_ENABLED"))
	}
	return errors.Join(errs...)
}

func ParseTokenSpec(s string) (TokenSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return TokenSpec{}, fmt.Errorf("invalid token spec %q", s)
	}
	spec := TokenSpec{Symbol: parts[0], Address: parts[1]}
	if len(parts) == 3 {
		fee, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return TokenSpec{}, fmt.Errorf("invalid fee in token spec %q: %w", s, err)
		}
		spec.FeeBps = fee
	}
	return spec, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
