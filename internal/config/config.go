// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Sweep() SweepConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	SweepCfg    SweepConfig    `mapstructure:"sweep" yaml:"sweep"`
}

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Sweep() SweepConfig       { return c.SweepCfg }

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

// DatabaseConfig points at the optional sweep ledger. An empty URL disables it.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// SweepConfig locates the external collaborators and tunes how they are driven.
type SweepConfig struct {
	// Python is the interpreter the scripts are run with. Empty runs them directly.
	Python     string `mapstructure:"python" yaml:"python"`
	Trainer    string `mapstructure:"trainer" yaml:"trainer"`
	Parser     string `mapstructure:"parser" yaml:"parser"`
	Aggregator string `mapstructure:"aggregator" yaml:"aggregator"`
	// WorkDir is the directory the collaborators are launched from, usually the recipe folder.
	WorkDir              string        `mapstructure:"work_dir" yaml:"work_dir"`
	FailurePolicy        string        `mapstructure:"failure_policy" yaml:"failure_policy"`
	CaptureTrainerOutput bool          `mapstructure:"capture_trainer_output" yaml:"capture_trainer_output"`
	MinLaunchInterval    time.Duration `mapstructure:"min_launch_interval" yaml:"min_launch_interval"`
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
	v.SetDefault("logger.service_name", "eegsweep")
	v.SetDefault("logger.log_file", "eegsweep.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Database --
	v.SetDefault("database.url", "")

	// -- Sweep --
	v.SetDefault("sweep.python", "python")
	v.SetDefault("sweep.trainer", "train.py")
	v.SetDefault("sweep.parser", "parse_results.py")
	v.SetDefault("sweep.aggregator", "aggregate_results.py")
	v.SetDefault("sweep.work_dir", "")
	v.SetDefault("sweep.failure_policy", "continue")
	v.SetDefault("sweep.capture_trainer_output", false)
	v.SetDefault("sweep.min_launch_interval", "0s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The ledger DSN usually carries a password; keep it out of config files.
	if err := v.BindEnv("database.url", "EEGSWEEP_DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("error binding database url: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.SweepCfg.Validate(); err != nil {
		return fmt.Errorf("sweep configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the Sweep configuration.
func (s *SweepConfig) Validate() error {
	if s.Trainer == "" || s.Parser == "" || s.Aggregator == "" {
		return fmt.Errorf("sweep.trainer, sweep.parser, and sweep.aggregator are required")
	}
	switch strings.ToLower(s.FailurePolicy) {
	case "", "continue", "abort":
	default:
		return fmt.Errorf("failure_policy must be 'continue' or 'abort', got %q", s.FailurePolicy)
	}
	if s.MinLaunchInterval < 0 {
		return fmt.Errorf("min_launch_interval must not be negative")
	}
	return nil
}
