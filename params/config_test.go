package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromEnvPriority(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"API_ADDR=:9090\nCHAIN_ID=31337\nMINIMUM_SHARES=500\nP2P_ENABLED=true\n"), 0o644))

	// the process environment wins over the file
	t.Setenv("API_ADDR", ":7070")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TOKENS", "USDC:0x0000000000000000000000000000000000000001,FOT:0x0000000000000000000000000000000000000002:50,broken")
	t.Setenv("FAUCET_ENABLED", "false")
	t.Setenv("TXGEN_INTERVAL_MS", "250")
	t.Setenv("P2P_BOOTSTRAP", "/ip4/10.0.0.1/tcp/9000/p2p/QmPeer")

	cfg := LoadFromEnv(envFile)
	t.Cleanup(func() {
		for _, k := range []string{"CHAIN_ID", "MINIMUM_SHARES", "P2P_ENABLED"} {
			os.Unsetenv(k)
		}
	})

	require.Equal(t, ":7070", cfg.API.Addr)
	require.Equal(t, int64(31337), cfg.Node.ChainID)
	require.Equal(t, uint64(500), cfg.Exchange.MinimumShares)
	require.True(t, cfg.P2P.Enabled)
	require.False(t, cfg.Exchange.FaucetEnabled)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.CORSOrigins)
	require.Equal(t, []string{"/ip4/10.0.0.1/tcp/9000/p2p/QmPeer"}, cfg.P2P.Bootstrap)
	require.Equal(t, []TokenSpec{
		{Symbol: "USDC", Address: "0x0000000000000000000000000000000000000001"},
		{Symbol: "FOT", Address: "0x0000000000000000000000000000000000000002", FeeBps: 50},
	}, cfg.Exchange.Tokens)
	require.Equal(t, 250*time.Millisecond, cfg.TxGen.Interval)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Node.ChainID = 0
	cfg.Exchange.MinimumShares = 0
	cfg.P2P.Enabled = true
	cfg.P2P.BLSSeed = ""
	cfg.TxGen.Enabled = true
	cfg.Exchange.FaucetEnabled = false
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "CHAIN_ID")
	require.Contains(t, err.Error(), "MINIMUM_SHARES")
	require.Contains(t, err.Error(), "NODE_BLS_SEED")
	require.Contains(t, err.Error(), "ENABLE_TXGEN")
}

func TestParseTokenSpec(t *testing.T) {
	_, err := ParseTokenSpec("USDC")
	require.Error(t, err)
	_, err = ParseTokenSpec("FOT:0x02:abc")
	require.Error(t, err)
	spec, err := ParseTokenSpec("FOT:0x02:25")
	require.NoError(t, err)
	require.Equal(t, uint64(25), spec.FeeBps)
}
