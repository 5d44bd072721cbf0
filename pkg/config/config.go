package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yourusername/votesphere/pkg/retry"
)

// Config holds all configuration for the votesphere client and CLI
type Config struct {
	Ledger   LedgerConfig   `yaml:"ledger"`
	Polling  PollingConfig  `yaml:"polling"`
	Retry    RetryConfig    `yaml:"retry"`
	Cache    CacheConfig    `yaml:"cache"`
	Session  SessionConfig  `yaml:"session"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

// LedgerConfig contains ledger endpoint settings
type LedgerConfig struct {
	RPCURL            string  `yaml:"rpc_url"`
	WSURL             string  `yaml:"ws_url"` // Empty disables push confirmation
	ProgramID         string  `yaml:"program_id"`
	Commitment        string  `yaml:"commitment"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// PollingConfig contains confirmation polling settings
type PollingConfig struct {
	IntervalMS     int `yaml:"interval_ms"`
	MaxWaitSeconds int `yaml:"max_wait_seconds"`
}

// RetryConfig contains backoff settings for network failures
type RetryConfig struct {
	MaxRetries       int `yaml:"max_retries"`
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms"`
}

// CacheConfig contains read cache settings
type CacheConfig struct {
	StaleAfterMS int `yaml:"stale_after_ms"`
}

// SessionConfig describes the app to the wallet and how long a session lasts
type SessionConfig struct {
	TTLSeconds   int    `yaml:"ttl_seconds"`
	IdentityName string `yaml:"identity_name"`
	IdentityURI  string `yaml:"identity_uri"`
	IdentityIcon string `yaml:"identity_icon"`
	Cluster      string `yaml:"cluster"`
}

// WalletConfig contains local keypair settings
type WalletConfig struct {
	KeypairPath string `yaml:"keypair_path"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".votesphere")

	return &Config{
		Ledger: LedgerConfig{
			RPCURL:            "https://api.devnet.solana.com",
			WSURL:             "wss://api.devnet.solana.com",
			ProgramID:         "Ar2FG8HLgS71AgzTs7nHWB5wQPi6sTh3EHJyfRsbHp2y",
			Commitment:        "confirmed",
			RequestsPerSecond: 10,
		},
		Polling: PollingConfig{
			IntervalMS:     2000,
			MaxWaitSeconds: 60,
		},
		Retry: RetryConfig{
			MaxRetries:       3,
			InitialBackoffMS: 200,
			MaxBackoffMS:     5000,
		},
		Cache: CacheConfig{
			StaleAfterMS: 30000,
		},
		Session: SessionConfig{
			TTLSeconds:   3600,
			IdentityName: "votesphere",
			IdentityURI:  "https://votesphere.app",
			IdentityIcon: "/icon.png",
			Cluster:      "solana:devnet",
		},
		Wallet: WalletConfig{
			KeypairPath: filepath.Join(dataDir, "id.json"),
		},
		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, "votesphere.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadDotEnv loads environment variables from the given .env files, skipping
// files that do not exist. Variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from file or environment variables
func LoadConfig(cfgFile string) (*Config, error) {
	cfg := DefaultConfig()

	// If config file specified, merge it over the defaults
	if cfgFile != "" {
		data, err := os.ReadFile(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables
	if val := os.Getenv("VOTESPHERE_RPC_URL"); val != "" {
		cfg.Ledger.RPCURL = val
	}
	if val := os.Getenv("VOTESPHERE_WS_URL"); val != "" {
		cfg.Ledger.WSURL = val
	}
	if val := os.Getenv("VOTESPHERE_PROGRAM_ID"); val != "" {
		cfg.Ledger.ProgramID = val
	}
	if val := os.Getenv("VOTESPHERE_COMMITMENT"); val != "" {
		cfg.Ledger.Commitment = val
	}
	if val := os.Getenv("VOTESPHERE_KEYPAIR"); val != "" {
		cfg.Wallet.KeypairPath = val
	}
	if val := os.Getenv("VOTESPHERE_DB_PATH"); val != "" {
		cfg.Database.Path = val
	}
	if val := os.Getenv("VOTESPHERE_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("VOTESPHERE_MAX_WAIT_SECONDS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid VOTESPHERE_MAX_WAIT_SECONDS: %w", err)
		}
		cfg.Polling.MaxWaitSeconds = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime
func (c *Config) Validate() error {
	if c.Ledger.RPCURL == "" {
		return errors.New("ledger.rpc_url is required")
	}
	if c.Ledger.ProgramID == "" {
		return errors.New("ledger.program_id is required")
	}
	switch c.Ledger.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("ledger.commitment must be processed, confirmed or finalized, got %q", c.Ledger.Commitment)
	}
	if c.Polling.IntervalMS <= 0 || c.Polling.MaxWaitSeconds <= 0 {
		return errors.New("polling.interval_ms and polling.max_wait_seconds must be positive")
	}
	if c.Session.TTLSeconds <= 0 {
		return errors.New("session.ttl_seconds must be positive")
	}
	return nil
}

// EnsureDataDirs creates the directories holding the database and keypair
func (c *Config) EnsureDataDirs() error {
	if err := os.MkdirAll(filepath.Dir(c.Database.Path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.Wallet.KeypairPath), 0700); err != nil { // Keys dir should be more restrictive
		return fmt.Errorf("failed to create keys directory: %w", err)
	}
	return nil
}

// PollInterval returns the confirmation polling interval
func (p PollingConfig) PollInterval() time.Duration {
	return time.Duration(p.IntervalMS) * time.Millisecond
}

// MaxWait returns the longest confirmation wait
func (p PollingConfig) MaxWait() time.Duration {
	return time.Duration(p.MaxWaitSeconds) * time.Second
}

// Policy converts the settings to a retry policy
func (r RetryConfig) Policy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = r.MaxRetries
	if r.InitialBackoffMS > 0 {
		p.InitialBackoff = time.Duration(r.InitialBackoffMS) * time.Millisecond
	}
	if r.MaxBackoffMS > 0 {
		p.MaxBackoff = time.Duration(r.MaxBackoffMS) * time.Millisecond
	}
	return p
}

// StaleAfter returns the cache staleness window
func (c CacheConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMS) * time.Millisecond
}

// TTL returns the session length
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}
