package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"github.com/vitos/crypto_rebalancer/internal/infrastructure/exchange"
	"github.com/vitos/crypto_rebalancer/internal/infrastructure/weights"
	"github.com/vitos/crypto_rebalancer/internal/usecase"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrivateKey    = "HYPERLIQUID_PRIVATE_KEY"
	EnvAddress       = "HYPERLIQUID_ADDRESS"
	EnvWeightsAPIKey = "WEIGHTS_API_KEY"
)

type Config struct {
	Venue struct {
		Mainnet      bool          `yaml:"mainnet"`
		BaseURL      string        `yaml:"base_url"`
		WSURL        string        `yaml:"ws_url"`
		Address      string        `yaml:"address"`
		VaultAddress string        `yaml:"vault_address"`
		PrivateKey   string        `yaml:"-"`
		Slippage     float64       `yaml:"slippage"`
		MaxRetries   uint          `yaml:"max_retries"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"venue"`
	// Aliases maps canonical tokens to venue names, e.g. BTC: UBTC.
	Aliases map[string]string `yaml:"aliases"`
	Risk    struct {
		MaxLeverage      float64  `yaml:"max_leverage"`
		TradeBuffer      float64  `yaml:"trade_buffer"`
		MaxWeightAbs     float64  `yaml:"max_weight_abs"`
		NominalCash      *float64 `yaml:"nominal_cash"`
		BaseCurrency     string   `yaml:"base_currency"`
		AssetPermissions string   `yaml:"asset_permissions"`
		RebalanceMode    string   `yaml:"rebalance_mode"`
		PostOnly         bool     `yaml:"post_only"`
	} `yaml:"risk"`
	Orders struct {
		UnfilledOrderTimeout    time.Duration `yaml:"unfilled_order_timeout"`
		SwitchToMarketOnTimeout *bool         `yaml:"switch_to_market_on_timeout"`
		StatusCheckInterval     time.Duration `yaml:"status_check_interval"`
		MinOrderValue           float64       `yaml:"min_order_value"`
	} `yaml:"orders"`
	Rebalance struct {
		KillOpenOrders bool   `yaml:"kill_open_orders"`
		DryRun         bool   `yaml:"dry_run"`
		Schedule       string `yaml:"schedule"`
	} `yaml:"rebalance"`
	Weights struct {
		URL        string             `yaml:"url"`
		APIKey     string             `yaml:"-"`
		MaxRetries uint               `yaml:"max_retries"`
		Timeout    time.Duration      `yaml:"timeout"`
		Static     map[string]float64 `yaml:"static"`
	} `yaml:"weights"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
}

// Load reads the YAML file at path, overlays secrets from .env and the
// environment, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Venue.PrivateKey = strings.TrimSpace(os.Getenv(EnvPrivateKey))
	if v := strings.TrimSpace(os.Getenv(EnvAddress)); v != "" {
		c.Venue.Address = v
	}
	c.Weights.APIKey = strings.TrimSpace(os.Getenv(EnvWeightsAPIKey))
}

func (c *Config) applyDefaults() {
	if c.Venue.Slippage <= 0 {
		c.Venue.Slippage = 0.05
	}
	if c.Venue.MaxRetries == 0 {
		c.Venue.MaxRetries = 3
	}
	if c.Venue.Timeout <= 0 {
		c.Venue.Timeout = 10 * time.Second
	}
	if c.Risk.AssetPermissions == "" {
		c.Risk.AssetPermissions = "long_spot_and_perp"
	}
	if c.Risk.RebalanceMode == "" {
		c.Risk.RebalanceMode = "center"
	}
	defaults := domain.DefaultOrderManagementSettings()
	if c.Orders.UnfilledOrderTimeout <= 0 {
		c.Orders.UnfilledOrderTimeout = defaults.UnfilledOrderTimeout
	}
	if c.Orders.StatusCheckInterval <= 0 {
		c.Orders.StatusCheckInterval = defaults.StatusCheckInterval
	}
	if c.Orders.SwitchToMarketOnTimeout == nil {
		v := defaults.SwitchToMarketOnTimeout
		c.Orders.SwitchToMarketOnTimeout = &v
	}
	if c.Orders.MinOrderValue <= 0 {
		c.Orders.MinOrderValue = 10
	}
	if c.Weights.MaxRetries == 0 {
		c.Weights.MaxRetries = 3
	}
	if c.Weights.Timeout <= 0 {
		c.Weights.Timeout = 30 * time.Second
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "rebalancer.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

// Validate reports the first missing or invalid setting as a
// *domain.ConfigError.
func (c *Config) Validate() error {
	if c.Risk.BaseCurrency == "" {
		return &domain.ConfigError{Field: "risk.base_currency", Reason: "is required"}
	}
	if c.Risk.MaxLeverage <= 0 {
		return &domain.ConfigError{Field: "risk.max_leverage", Reason: "must be positive"}
	}
	if c.Risk.TradeBuffer < 0 {
		return &domain.ConfigError{Field: "risk.trade_buffer", Reason: "must not be negative"}
	}
	if c.Risk.MaxWeightAbs < 0 {
		return &domain.ConfigError{Field: "risk.max_weight_abs", Reason: "must not be negative"}
	}
	if _, err := domain.ParseRebalanceMode(c.Risk.RebalanceMode); err != nil {
		return &domain.ConfigError{Field: "risk.rebalance_mode", Reason: err.Error()}
	}
	if _, err := domain.ParseAssetPermissions(c.Risk.AssetPermissions); err != nil {
		return &domain.ConfigError{Field: "risk.asset_permissions", Reason: err.Error()}
	}
	if !c.Rebalance.DryRun {
		if c.Venue.PrivateKey == "" {
			return &domain.ConfigError{Field: EnvPrivateKey, Reason: "is required unless dry_run is set"}
		}
	}
	if c.Venue.Address == "" && c.Venue.PrivateKey == "" {
		return &domain.ConfigError{Field: "venue.address", Reason: "is required without a private key"}
	}
	if c.Weights.URL == "" && len(c.Weights.Static) == 0 {
		return &domain.ConfigError{Field: "weights", Reason: "either url or static weights are required"}
	}
	return nil
}

func (c *Config) ToRiskConfig() domain.RiskConfig {
	// Validate has already accepted both names.
	mode, _ := domain.ParseRebalanceMode(c.Risk.RebalanceMode)
	perms, _ := domain.ParseAssetPermissions(c.Risk.AssetPermissions)
	r := domain.RiskConfig{
		MaxLeverage:      decimal.NewFromFloat(c.Risk.MaxLeverage),
		TradeBuffer:      decimal.NewFromFloat(c.Risk.TradeBuffer),
		MaxWeightAbs:     decimal.NewFromFloat(c.Risk.MaxWeightAbs),
		BaseCurrency:     c.Risk.BaseCurrency,
		AssetPermissions: perms,
		RebalanceMode:    mode,
		PostOnly:         c.Risk.PostOnly,
	}
	if c.Risk.NominalCash != nil {
		r.NominalCash = decimal.NewNullDecimal(decimal.NewFromFloat(*c.Risk.NominalCash))
	}
	return r
}

func (c *Config) ToOrderSettings() domain.OrderManagementSettings {
	return domain.OrderManagementSettings{
		UnfilledOrderTimeout:    c.Orders.UnfilledOrderTimeout,
		SwitchToMarketOnTimeout: c.Orders.SwitchToMarketOnTimeout != nil && *c.Orders.SwitchToMarketOnTimeout,
		StatusCheckInterval:     c.Orders.StatusCheckInterval,
	}
}

func (c *Config) ToRebalanceConfig() usecase.RebalanceConfig {
	return usecase.RebalanceConfig{
		Risk:           c.ToRiskConfig(),
		Orders:         c.ToOrderSettings(),
		KillOpenOrders: c.Rebalance.KillOpenOrders,
		DryRun:         c.Rebalance.DryRun,
	}
}

func (c *Config) MinOrderValue() decimal.Decimal {
	return decimal.NewFromFloat(c.Orders.MinOrderValue)
}

func (c *Config) TickerAliases() *domain.TickerAliases {
	return domain.NewTickerAliases(c.Aliases)
}

func (c *Config) StaticWeights() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c.Weights.Static))
	for ticker, w := range c.Weights.Static {
		out[ticker] = decimal.NewFromFloat(w)
	}
	return out
}

func (c *Config) VenueConfig() exchange.HyperliquidConfig {
	return exchange.HyperliquidConfig{
		BaseURL:      c.Venue.BaseURL,
		WSURL:        c.Venue.WSURL,
		Address:      c.Venue.Address,
		VaultAddress: c.Venue.VaultAddress,
		Mainnet:      c.Venue.Mainnet,
		Slippage:     decimal.NewFromFloat(c.Venue.Slippage),
		MaxRetries:   c.Venue.MaxRetries,
		Timeout:      c.Venue.Timeout,
	}
}

// Signer returns nil without a private key, which gives a read-only venue.
func (c *Config) Signer() (*exchange.Signer, error) {
	if c.Venue.PrivateKey == "" {
		return nil, nil
	}
	return exchange.NewSigner(c.Venue.PrivateKey, c.Venue.Mainnet)
}

// WeightSource prefers the feed when a URL is set.
func (c *Config) WeightSource(logger *zap.Logger) domain.WeightSource {
	if c.Weights.URL != "" {
		return weights.NewHTTPSource(weights.HTTPConfig{
			URL:        c.Weights.URL,
			APIKey:     c.Weights.APIKey,
			MaxRetries: c.Weights.MaxRetries,
			Timeout:    c.Weights.Timeout,
		}, logger)
	}
	return weights.NewStaticSource(c.StaticWeights())
}
