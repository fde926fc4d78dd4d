package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/camarigor/sentinel/internal/logging"
)

// ObserverURLs maps each supported P2Pool sidechain to its observer base URL.
var ObserverURLs = map[string]string{
	"main": "https://p2pool.observer",
	"mini": "https://mini.p2pool.observer",
	"nano": "https://nano.p2pool.observer",
}

// Config materialises application configuration.
type Config struct {
	DBPath        string         `mapstructure:"db_path"`
	DeviceName    string         `mapstructure:"device_name"`
	RetentionDays int            `mapstructure:"retention_days"`
	Miner         MinerConfig    `mapstructure:"miner"`
	P2Pool        P2PoolConfig   `mapstructure:"p2pool"`
	Scan          ScanConfig     `mapstructure:"scan"`
	Serve         ServeConfig    `mapstructure:"serve"`
	Alerts        AlertsConfig   `mapstructure:"alerts"`
	Pricing       PricingConfig  `mapstructure:"pricing"`
	Logging       logging.Config `mapstructure:"log"`
}

// MinerConfig points at one XMRig HTTP API.
type MinerConfig struct {
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// P2PoolConfig selects the observer sidechain and the wallet to track.
// ObserverURL, when set, points at a self-hosted observer instance and
// overrides the public endpoint for the chosen network.
type P2PoolConfig struct {
	Address     string        `mapstructure:"address"`
	Network     string        `mapstructure:"network"`
	ObserverURL string        `mapstructure:"observer_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	WindowSize  uint64        `mapstructure:"window_size"`
}

// ScanConfig governs network-range discovery.
type ScanConfig struct {
	CIDR        string `mapstructure:"cidr"`
	Concurrency int    `mapstructure:"concurrency"`
}

// ServeConfig configures the read-only dashboard API.
type ServeConfig struct {
	Listen  string        `mapstructure:"listen"`
	Refresh time.Duration `mapstructure:"refresh"`
}

// AlertsConfig defines notification thresholds and routing.
type AlertsConfig struct {
	WebhookURL      string        `mapstructure:"webhook_url"`
	HashrateDropPct float64       `mapstructure:"hashrate_drop_pct"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
}

// PricingConfig controls fiat conversion of payout figures.
type PricingConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Currency string        `mapstructure:"currency"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sentinel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "sentinel"))
		}
		v.AddConfigPath("/etc/sentinel")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "sentinel.db")
	v.SetDefault("device_name", "")
	v.SetDefault("retention_days", 30)

	v.SetDefault("miner.host", "127.0.0.1")
	v.SetDefault("miner.port", 8000)
	v.SetDefault("miner.token", "")
	v.SetDefault("miner.timeout", "2s")

	v.SetDefault("p2pool.address", "")
	v.SetDefault("p2pool.network", "mini")
	v.SetDefault("p2pool.observer_url", "")
	v.SetDefault("p2pool.timeout", "5s")
	v.SetDefault("p2pool.window_size", 2160)

	v.SetDefault("scan.cidr", "")
	v.SetDefault("scan.concurrency", 64)

	v.SetDefault("serve.listen", ":8787")
	v.SetDefault("serve.refresh", "10s")

	v.SetDefault("alerts.webhook_url", "")
	v.SetDefault("alerts.hashrate_drop_pct", 50.0)
	v.SetDefault("alerts.cooldown", "15m")

	v.SetDefault("pricing.enabled", false)
	v.SetDefault("pricing.currency", "usd")
	v.SetDefault("pricing.ttl", "5m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be greater than zero")
	}
	if c.Miner.Port < 1 || c.Miner.Port > 65535 {
		return fmt.Errorf("miner.port must be between 1 and 65535")
	}
	if c.Miner.Timeout <= 0 {
		return fmt.Errorf("miner.timeout must be greater than zero")
	}
	if _, ok := ObserverURLs[c.P2Pool.Network]; !ok {
		return fmt.Errorf("p2pool.network must be one of main, mini, nano")
	}
	if c.P2Pool.Timeout <= 0 {
		return fmt.Errorf("p2pool.timeout must be greater than zero")
	}
	if c.P2Pool.WindowSize == 0 {
		return fmt.Errorf("p2pool.window_size must be greater than zero")
	}
	if c.Scan.Concurrency <= 0 {
		return fmt.Errorf("scan.concurrency must be greater than zero")
	}
	if c.Alerts.HashrateDropPct < 0 || c.Alerts.HashrateDropPct > 100 {
		return fmt.Errorf("alerts.hashrate_drop_pct must be between 0 and 100")
	}
	if c.Pricing.Enabled && c.Pricing.Currency == "" {
		return fmt.Errorf("pricing.currency must be set when pricing is enabled")
	}
	return nil
}

// ObserverBaseURL returns the observer endpoint for the configured network,
// or the self-hosted override when one is set.
func (c *Config) ObserverBaseURL() string {
	if c.P2Pool.ObserverURL != "" {
		return c.P2Pool.ObserverURL
	}
	return ObserverURLs[c.P2Pool.Network]
}

// ResolveIdentity returns the stable identity this device's rows are keyed
// by. Loopback targets map to the configured device name so one rig keeps a
// single row no matter how the poll target was spelled.
func (c *Config) ResolveIdentity() (string, error) {
	if !IsLoopback(c.Miner.Host) {
		return c.Miner.Host, nil
	}
	if c.DeviceName != "" {
		return c.DeviceName, nil
	}
	name, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("resolve device name: %w", err)
	}
	return name, nil
}

// IsLoopback reports whether host names the local machine.
func IsLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
