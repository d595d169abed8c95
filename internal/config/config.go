package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General  GeneralConfig            `toml:"general"`
	Pocketd  PocketdConfig            `toml:"pocketd"`
	Keyring  KeyringConfig            `toml:"keyring"`
	Batch    BatchConfig              `toml:"batch"`
	Cleanup  CleanupConfig            `toml:"cleanup"`
	Web      WebConfig                `toml:"web"`
	Networks map[string]NetworkConfig `toml:"networks"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DataDir       string `toml:"data_dir"`
	HistoryDBPath string `toml:"history_db_path"`
}

// PocketdConfig holds settings for invoking the pocketd binary
type PocketdConfig struct {
	BinPath          string        `toml:"bin_path"`
	ExtraPath        string        `toml:"extra_path"`
	Timeout          time.Duration `toml:"timeout"`
	BroadcastTimeout time.Duration `toml:"broadcast_timeout"`
	GasAdjustment    float64       `toml:"gas_adjustment"`
	GasPrices        string        `toml:"gas_prices"`
}

// KeyringConfig holds keyring defaults
type KeyringConfig struct {
	HomeDir          string `toml:"home_dir"`
	Backend          string `toml:"backend"`
	FallbackIdentity string `toml:"fallback_identity"`
}

// BatchConfig holds batch orchestration settings
type BatchConfig struct {
	InterTxDelay time.Duration `toml:"inter_tx_delay"`
	MaxAttempts  int           `toml:"max_attempts"`
	RetryBackoff time.Duration `toml:"retry_backoff"`
}

// CleanupConfig controls the orphaned temp-file sweep
type CleanupConfig struct {
	Cron   string        `toml:"cron"`
	MaxAge time.Duration `toml:"max_age"`
}

// WebConfig holds HTTP API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// NetworkConfig describes one allowed target network
type NetworkConfig struct {
	ChainID string `toml:"chain_id"`
	NodeURL string `toml:"node_url"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DataDir:       filepath.Join(home, ".shannon-orch", "data"),
			HistoryDBPath: filepath.Join(home, ".shannon-orch", "history.db"),
		},
		Pocketd: PocketdConfig{
			BinPath:          "pocketd",
			Timeout:          60 * time.Second,
			BroadcastTimeout: 120 * time.Second,
			GasAdjustment:    1.5,
			GasPrices:        "1upokt",
		},
		Keyring: KeyringConfig{
			HomeDir:          filepath.Join(home, ".pocket"),
			Backend:          "test",
			FallbackIdentity: "alice",
		},
		Batch: BatchConfig{
			InterTxDelay: 30 * time.Second,
			MaxAttempts:  3,
			RetryBackoff: 30 * time.Second,
		},
		Cleanup: CleanupConfig{
			Cron:   "0 * * * *",
			MaxAge: 24 * time.Hour,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Networks: map[string]NetworkConfig{
			"main":  {ChainID: "pocket", NodeURL: "https://shannon-grove-rpc.mainnet.poktroll.com"},
			"beta":  {ChainID: "pocket-beta", NodeURL: "https://shannon-testnet-grove-rpc.beta.poktroll.com"},
			"alpha": {ChainID: "pocket-alpha", NodeURL: "https://shannon-testnet-grove-rpc.alpha.poktroll.com"},
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.HistoryDBPath = ExpandPath(cfg.General.HistoryDBPath)
	cfg.Keyring.HomeDir = ExpandPath(cfg.Keyring.HomeDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.Pocketd.GasAdjustment <= 0 || c.Pocketd.GasAdjustment > 10 {
		return fmt.Errorf("gas_adjustment %v out of range (0, 10]", c.Pocketd.GasAdjustment)
	}
	if c.Batch.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	for name, n := range c.Networks {
		if n.ChainID == "" {
			return fmt.Errorf("network %q missing chain_id", name)
		}
	}
	return nil
}

// Network resolves a network selector against the allow-list
func (c *Config) Network(name string) (NetworkConfig, error) {
	n, ok := c.Networks[name]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unknown network %q", name)
	}
	return n, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "shannon-orch", "config.toml")
}
