// internal/config/config.go
// Package config loads and validates the sniper configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Safety gate strategies.
const (
	SafetyLocal    = "local"
	SafetyExternal = "external"
)

// Exit trigger regimes. Exactly one is active per run.
const (
	ExitBlindDelay     = "blind_delay"
	ExitTargetProgress = "target_progress"
	ExitMaxHold        = "max_hold"
)

// Config defines the full application configuration.
type Config struct {
	RPCEndpoint  string `mapstructure:"rpc_endpoint"`
	WebSocketURL string `mapstructure:"websocket_url"`
	WalletsFile  string `mapstructure:"wallets_file"`
	WalletName   string `mapstructure:"wallet_name"`

	MaxPositions    int     `mapstructure:"max_positions"`
	BuyAmountSol    float64 `mapstructure:"buy_amount_sol"`
	SlippagePercent float64 `mapstructure:"slippage_percent"`

	ComputeUnits     uint32 `mapstructure:"compute_units"`
	PriorityFeeMicro uint64 `mapstructure:"priority_fee_microlamports"`

	MinLiquiditySol   float64 `mapstructure:"min_liquidity_sol"`
	MaxDevHoldingsPct float64 `mapstructure:"max_dev_holdings_pct"`
	BlacklistFile     string  `mapstructure:"blacklist_file"`
	TradesFile        string  `mapstructure:"trades_file"`

	Safety SafetyConfig `mapstructure:"safety"`
	Exit   ExitConfig   `mapstructure:"exit"`
	Relay  RelayConfig  `mapstructure:"relay"`
	Log    LogConfig    `mapstructure:"log"`
}

// SafetyConfig controls the pre-entry token checks. The allow_* flags
// waive individual local checks for operators willing to take the risk.
type SafetyConfig struct {
	Strategy             string  `mapstructure:"strategy"`
	MaxHolderPct         float64 `mapstructure:"max_holder_pct"`
	AllowMintAuthority   bool    `mapstructure:"allow_mint_authority"`
	AllowFreezeAuthority bool    `mapstructure:"allow_freeze_authority"`
	AllowMutable         bool    `mapstructure:"allow_mutable"`
	APIBaseURL           string  `mapstructure:"api_base_url"`
	APIBudget            int     `mapstructure:"api_budget_seconds"`
	APIRetries           int     `mapstructure:"api_max_retries"`
}

// ExitConfig controls the exit trigger regime and sell escalation.
type ExitConfig struct {
	Regime            string        `mapstructure:"regime"`
	AutoSellDelay     time.Duration `mapstructure:"auto_sell_delay"`
	MaxHold           time.Duration `mapstructure:"max_hold"`
	StopLossPercent   float64       `mapstructure:"stop_loss_percent"`
	SpikeThresholdSol float64       `mapstructure:"spike_threshold_sol"`
	MonitorInterval   time.Duration `mapstructure:"monitor_interval"`
	MaxSellAttempts   int           `mapstructure:"max_sell_attempts"`
	RescueFeeFactor   uint64        `mapstructure:"rescue_fee_factor"`
}

// RelayConfig lists the block engines used for bundle submission.
type RelayConfig struct {
	BlockEngineURLs []string      `mapstructure:"block_engine_urls"`
	TipLamports     uint64        `mapstructure:"tip_lamports"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// LogConfig controls logging output.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Debug      bool   `mapstructure:"debug"`
}

var defaults = map[string]interface{}{
	"rpc_endpoint":                  "https://api.mainnet-beta.solana.com",
	"websocket_url":                 "wss://api.mainnet-beta.solana.com",
	"wallets_file":                  "wallets.yaml",
	"wallet_name":                   "main",
	"max_positions":                 5,
	"buy_amount_sol":                0.1,
	"slippage_percent":              25.0,
	"compute_units":                 400_000,
	"priority_fee_microlamports":    100_000,
	"min_liquidity_sol":             80.0,
	"max_dev_holdings_pct":          20.0,
	"blacklist_file":                "",
	"trades_file":                   "trades.csv",
	"safety.strategy":               SafetyLocal,
	"safety.max_holder_pct":         50.0,
	"safety.allow_mint_authority":   false,
	"safety.allow_freeze_authority": false,
	"safety.allow_mutable":          false,
	"safety.api_budget_seconds":     20,
	"safety.api_max_retries":        10,
	"exit.regime":                   ExitTargetProgress,
	"exit.auto_sell_delay":          "8s",
	"exit.max_hold":                 "10m",
	"exit.stop_loss_percent":        30.0,
	"exit.spike_threshold_sol":      40.0,
	"exit.monitor_interval":         "1s",
	"exit.max_sell_attempts":        5,
	"exit.rescue_fee_factor":        10,
	"relay.tip_lamports":            1_000_000,
	"relay.timeout":                 "5s",
	"relay.block_engine_urls": []string{
		"https://mainnet.block-engine.jito.wtf/api/v1",
		"https://amsterdam.mainnet.block-engine.jito.wtf/api/v1",
		"https://frankfurt.mainnet.block-engine.jito.wtf/api/v1",
		"https://ny.mainnet.block-engine.jito.wtf/api/v1",
	},
	"log.file":         "logs/sniper.log",
	"log.max_size_mb":  50,
	"log.max_backups":  3,
	"log.max_age_days": 7,
	"log.debug":        false,
}

// Load reads configuration from the given file, applying defaults and
// SNIPER_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("SNIPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.RPCEndpoint == "" {
		return fmt.Errorf("rpc_endpoint is required")
	}
	if cfg.WebSocketURL == "" {
		return fmt.Errorf("websocket_url is required")
	}
	if cfg.MaxPositions <= 0 {
		return fmt.Errorf("max_positions must be positive, got %d", cfg.MaxPositions)
	}
	if cfg.BuyAmountSol <= 0 {
		return fmt.Errorf("buy_amount_sol must be positive, got %f", cfg.BuyAmountSol)
	}
	if cfg.SlippagePercent < 0 || cfg.SlippagePercent > 100 {
		return fmt.Errorf("slippage_percent out of range (0-100): %f", cfg.SlippagePercent)
	}
	switch cfg.Safety.Strategy {
	case SafetyLocal:
	case SafetyExternal:
		if cfg.Safety.APIBaseURL == "" {
			return fmt.Errorf("safety.api_base_url is required for the external strategy")
		}
	default:
		return fmt.Errorf("unknown safety strategy %q", cfg.Safety.Strategy)
	}
	switch cfg.Exit.Regime {
	case ExitBlindDelay, ExitTargetProgress, ExitMaxHold:
	default:
		return fmt.Errorf("unknown exit regime %q", cfg.Exit.Regime)
	}
	if cfg.Exit.MaxSellAttempts <= 0 {
		return fmt.Errorf("exit.max_sell_attempts must be positive")
	}
	if cfg.Exit.RescueFeeFactor == 0 {
		return fmt.Errorf("exit.rescue_fee_factor must be positive")
	}
	if len(cfg.Relay.BlockEngineURLs) == 0 {
		return fmt.Errorf("relay.block_engine_urls is empty")
	}
	return nil
}
