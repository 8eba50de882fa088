// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
rpc_endpoint: "https://rpc.example.com"
websocket_url: "wss://rpc.example.com"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxPositions)
	assert.Equal(t, 80.0, cfg.MinLiquiditySol)
	assert.Equal(t, 20.0, cfg.MaxDevHoldingsPct)
	assert.Equal(t, SafetyLocal, cfg.Safety.Strategy)
	assert.Equal(t, 50.0, cfg.Safety.MaxHolderPct)
	assert.Equal(t, ExitTargetProgress, cfg.Exit.Regime)
	assert.Equal(t, 8*time.Second, cfg.Exit.AutoSellDelay)
	assert.Equal(t, 5, cfg.Exit.MaxSellAttempts)
	assert.Equal(t, uint64(10), cfg.Exit.RescueFeeFactor)
	assert.Len(t, cfg.Relay.BlockEngineURLs, 4)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
rpc_endpoint: "https://rpc.example.com"
websocket_url: "wss://rpc.example.com"
max_positions: 2
min_liquidity_sol: 120
exit:
  regime: blind_delay
  auto_sell_delay: 3s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxPositions)
	assert.Equal(t, 120.0, cfg.MinLiquiditySol)
	assert.Equal(t, ExitBlindDelay, cfg.Exit.Regime)
	assert.Equal(t, 3*time.Second, cfg.Exit.AutoSellDelay)
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{
			name: "zero max positions",
			body: "rpc_endpoint: x\nwebsocket_url: y\nmax_positions: 0\n",
		},
		{
			name: "slippage out of range",
			body: "rpc_endpoint: x\nwebsocket_url: y\nslippage_percent: 150\n",
		},
		{
			name: "unknown safety strategy",
			body: "rpc_endpoint: x\nwebsocket_url: y\nsafety:\n  strategy: oracle\n",
		},
		{
			name: "external strategy without api url",
			body: "rpc_endpoint: x\nwebsocket_url: y\nsafety:\n  strategy: external\n",
		},
		{
			name: "unknown exit regime",
			body: "rpc_endpoint: x\nwebsocket_url: y\nexit:\n  regime: vibes\n",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
