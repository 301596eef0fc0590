package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config carries every tunable the orchestrator and its collaborators need.
// It is built once at startup and passed into constructors; nothing reads
// globals at runtime.
type Config struct {
	// Run behavior.
	Unattended            bool          `mapstructure:"unattended"`
	TunnelEnabled         bool          `mapstructure:"tunnel_enabled"`
	MaxAttemptsPerAccount int           `mapstructure:"max_attempts_per_account"`
	Parallelism           int           `mapstructure:"parallelism"`
	AccountTimeout        time.Duration `mapstructure:"account_timeout"`
	DelayMin              time.Duration `mapstructure:"delay_min"`
	DelayMax              time.Duration `mapstructure:"delay_max"`

	// Challenge solving.
	SolverURL    string        `mapstructure:"solver_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SolveTimeout time.Duration `mapstructure:"solve_timeout"`
	TargetURL    string        `mapstructure:"target_url"`
	SiteKey      string        `mapstructure:"site_key"`

	// Login flow.
	ExchangeBaseURL  string        `mapstructure:"exchange_base_url"`
	SessionCookie    string        `mapstructure:"session_cookie"`
	VerificationWait time.Duration `mapstructure:"verification_wait"`
	WebDriverURL     string        `mapstructure:"webdriver_url"`

	// Inputs and state.
	AccountsFile string `mapstructure:"accounts_file"`
	ProxiesFile  string `mapstructure:"proxies_file"`
	LedgerFile   string `mapstructure:"ledger_file"`

	// Tunnel control.
	TorControlAddr     string `mapstructure:"tor_control_addr"`
	TorControlPassword string `mapstructure:"tor_control_password"`

	LogLevel string `mapstructure:"log_level"`
}

// minPollInterval is the floor for the solver poll loop. Callers must never
// poll the solving service tighter than this.
const minPollInterval = time.Second

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Unattended:            true,
		TunnelEnabled:         false,
		MaxAttemptsPerAccount: 3,
		Parallelism:           1,
		AccountTimeout:        8 * time.Minute,
		DelayMin:              15 * time.Second,
		DelayMax:              45 * time.Second,
		SolverURL:             "http://localhost:8080",
		PollInterval:          2 * time.Second,
		SolveTimeout:          2 * time.Minute,
		TargetURL:             "https://backend.wplace.live",
		SiteKey:               "0x4AAAAAABpHqZ-6i7uL0nmG",
		SessionCookie:         "j",
		ExchangeBaseURL:       "https://backend.wplace.live",
		VerificationWait:      3 * time.Minute,
		WebDriverURL:          "http://localhost:4444",
		AccountsFile:          "emails.txt",
		ProxiesFile:           "proxies.txt",
		LedgerFile:            "data.json",
		TorControlAddr:        "127.0.0.1:9051",
		LogLevel:              "info",
	}
}

// Load builds the configuration in precedence order: built-in defaults, then
// the YAML file at path (optional when path is empty), then AUTOLOGIN_*
// environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("autologin")
	v.AutomaticEnv()

	defaults := Default()
	v.SetDefault("unattended", defaults.Unattended)
	v.SetDefault("tunnel_enabled", defaults.TunnelEnabled)
	v.SetDefault("max_attempts_per_account", defaults.MaxAttemptsPerAccount)
	v.SetDefault("parallelism", defaults.Parallelism)
	v.SetDefault("account_timeout", defaults.AccountTimeout)
	v.SetDefault("delay_min", defaults.DelayMin)
	v.SetDefault("delay_max", defaults.DelayMax)
	v.SetDefault("solver_url", defaults.SolverURL)
	v.SetDefault("poll_interval", defaults.PollInterval)
	v.SetDefault("solve_timeout", defaults.SolveTimeout)
	v.SetDefault("target_url", defaults.TargetURL)
	v.SetDefault("site_key", defaults.SiteKey)
	v.SetDefault("exchange_base_url", defaults.ExchangeBaseURL)
	v.SetDefault("session_cookie", defaults.SessionCookie)
	v.SetDefault("verification_wait", defaults.VerificationWait)
	v.SetDefault("webdriver_url", defaults.WebDriverURL)
	v.SetDefault("accounts_file", defaults.AccountsFile)
	v.SetDefault("proxies_file", defaults.ProxiesFile)
	v.SetDefault("ledger_file", defaults.LedgerFile)
	v.SetDefault("tor_control_addr", defaults.TorControlAddr)
	v.SetDefault("tor_control_password", defaults.TorControlPassword)
	v.SetDefault("log_level", defaults.LogLevel)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(path); statErr == nil {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
			return Config{}, fmt.Errorf("config file not found: %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.PollInterval < minPollInterval {
		c.PollInterval = minPollInterval
	}
	if c.Parallelism < 1 {
		c.Parallelism = 1
	}
}

// Validate rejects configurations the run controller cannot honor.
func (c *Config) Validate() error {
	if c.DelayMin < 0 || c.DelayMax < c.DelayMin {
		return fmt.Errorf("invalid inter-account delay range [%s, %s]", c.DelayMin, c.DelayMax)
	}
	if c.SolveTimeout <= 0 {
		return fmt.Errorf("solve_timeout must be positive, got %s", c.SolveTimeout)
	}
	if c.AccountTimeout <= 0 {
		return fmt.Errorf("account_timeout must be positive, got %s", c.AccountTimeout)
	}
	if c.MaxAttemptsPerAccount < 0 {
		return fmt.Errorf("max_attempts_per_account must be >= 0, got %d", c.MaxAttemptsPerAccount)
	}
	if c.LedgerFile == "" {
		return fmt.Errorf("ledger_file is required")
	}
	if c.SolverURL == "" {
		return fmt.Errorf("solver_url is required")
	}
	// Without these every account would fail the same way at submit time;
	// reject the run before it starts.
	if c.TargetURL == "" {
		return fmt.Errorf("target_url is required")
	}
	if c.SiteKey == "" {
		return fmt.Errorf("site_key is required")
	}
	return nil
}
