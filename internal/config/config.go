// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Components depend on it rather than on *Config so tests can hand in fakes.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	App() AppConfig
	Auth() AuthConfig
	State() StateConfig
	Engine() EngineConfig
	Events() EventsConfig
	Database() DatabaseConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	NetworkCfg  NetworkConfig  `mapstructure:"network" yaml:"network"`
	AppCfg      AppConfig      `mapstructure:"app" yaml:"app"`
	AuthCfg     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	StateCfg    StateConfig    `mapstructure:"state" yaml:"state"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	EventsCfg   EventsConfig   `mapstructure:"events" yaml:"events"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig   { return c.NetworkCfg }
func (c *Config) App() AppConfig           { return c.AppCfg }
func (c *Config) Auth() AuthConfig         { return c.AuthCfg }
func (c *Config) State() StateConfig       { return c.StateCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Events() EventsConfig     { return c.EventsCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }

// --- Setters used by CLI flag overrides ---

func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = b }
func (c *Config) SetAuthAccount(name string)       { c.AuthCfg.Account = name }
func (c *Config) SetEngineWorkerConcurrency(w int) { c.EngineCfg.WorkerConcurrency = w }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the automated browser.
type BrowserConfig struct {
	Headless    bool           `mapstructure:"headless" yaml:"headless"`
	Args        []string       `mapstructure:"args" yaml:"args"`
	Viewport    map[string]int `mapstructure:"viewport" yaml:"viewport"`
	UserAgent   string         `mapstructure:"user_agent" yaml:"user_agent"`
	RecordVideo bool           `mapstructure:"record_video" yaml:"record_video"`
	Trace       bool           `mapstructure:"trace" yaml:"trace"`
	// FFmpegPath is the encoder used to turn screencast frames into video.webm.
	FFmpegPath string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
}

// NetworkConfig holds the default page timeouts.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// AppConfig describes the target web application.
type AppConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// AuthConfig holds the account whose stored session is reused, plus the
// credentials used when the session has to be re-established.
type AuthConfig struct {
	Account  string `mapstructure:"account" yaml:"account"`
	Username string `mapstructure:"username" yaml:"-"`
	Password string `mapstructure:"password" yaml:"-"`
}

// HasCredentials reports whether both username and password are set.
func (a AuthConfig) HasCredentials() bool {
	return a.Username != "" && a.Password != ""
}

// StateConfig holds the on-disk locations for artifacts and auth state.
type StateConfig struct {
	ArtifactDir string `mapstructure:"artifact_dir" yaml:"artifact_dir"`
	AuthDir     string `mapstructure:"auth_dir" yaml:"auth_dir"`
	RunsDir     string `mapstructure:"runs_dir" yaml:"runs_dir"`
}

// AuthStatePath returns the storage state file for the named account.
func (s StateConfig) AuthStatePath(account string) string {
	return filepath.Join(s.AuthDir, account+".json")
}

// EngineConfig configures the batch execution engine.
type EngineConfig struct {
	QueueSize          int           `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency  int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout" yaml:"default_task_timeout"`
}

// EventsConfig configures the best-effort event log.
type EventsConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey       string        `mapstructure:"api_key" yaml:"-"`
	RateLimit    float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FallbackFile string        `mapstructure:"fallback_file" yaml:"fallback_file"`
	// QueueSize bounds the events waiting for remote delivery.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

// DatabaseConfig holds the database connection details. An empty URL disables report sync.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "skillrunner")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.viewport", map[string]int{"width": 1440, "height": 900})
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.record_video", true)
	v.SetDefault("browser.trace", true)
	v.SetDefault("browser.ffmpeg_path", "ffmpeg")

	// -- Network --
	v.SetDefault("network.navigation_timeout", "30s")
	v.SetDefault("network.action_timeout", "8s")

	// -- App --
	v.SetDefault("app.base_url", "https://app.envoice.eu")

	// -- Auth --
	v.SetDefault("auth.account", "default")

	// -- State --
	v.SetDefault("state.artifact_dir", ".state/artifacts")
	v.SetDefault("state.auth_dir", ".state/auth")
	v.SetDefault("state.runs_dir", ".state/runs")

	// -- Engine --
	v.SetDefault("engine.queue_size", 100)
	v.SetDefault("engine.worker_concurrency", 2)
	v.SetDefault("engine.default_task_timeout", "10m")

	// -- Events --
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.rate_limit", 20.0)
	v.SetDefault("events.timeout", "5s")
	v.SetDefault("events.fallback_file", ".state/events.jsonl")
	v.SetDefault("events.queue_size", 256)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("auth.username", "SKILLRUNNER_AUTH_USERNAME", "ENVOICE_USERNAME")
	v.BindEnv("auth.password", "SKILLRUNNER_AUTH_PASSWORD", "ENVOICE_PASSWORD")
	v.BindEnv("events.api_key", "SKILLRUNNER_EVENTS_API_KEY", "SUPABASE_SERVICE_ROLE_KEY")
	v.BindEnv("events.endpoint", "SKILLRUNNER_EVENTS_ENDPOINT", "SUPABASE_URL")
	v.BindEnv("database.url", "SKILLRUNNER_DATABASE_URL", "DATABASE_URL")
	v.BindEnv("app.base_url", "SKILLRUNNER_APP_BASE_URL", "ENVOICE_BASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading "~" in every state and file path.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.StateCfg.ArtifactDir,
		&c.StateCfg.AuthDir,
		&c.StateCfg.RunsDir,
		&c.EventsCfg.FallbackFile,
		&c.LoggerCfg.LogFile,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path '%s': %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.EngineCfg.QueueSize < 0 {
		return fmt.Errorf("engine.queue_size must not be negative")
	}
	if c.NetworkCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if c.StateCfg.ArtifactDir == "" {
		return fmt.Errorf("state.artifact_dir is a required configuration field")
	}
	if c.StateCfg.AuthDir == "" {
		return fmt.Errorf("state.auth_dir is a required configuration field")
	}
	if c.AuthCfg.Account == "" {
		return fmt.Errorf("auth.account is a required configuration field")
	}
	if err := c.EventsCfg.Validate(); err != nil {
		return fmt.Errorf("events configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the events configuration.
func (e *EventsConfig) Validate() error {
	if !e.Enabled {
		return nil
	}
	if e.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be greater than 0")
	}
	if e.Endpoint == "" && e.FallbackFile == "" {
		return fmt.Errorf("either endpoint or fallback_file is required when events are enabled")
	}
	return nil
}

// EnsureStateDirs creates the artifact and auth directories.
func (c *Config) EnsureStateDirs() error {
	for _, dir := range []string{c.StateCfg.ArtifactDir, c.StateCfg.AuthDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory '%s': %w", dir, err)
		}
	}
	return nil
}
