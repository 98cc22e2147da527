package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Dedup strategy names accepted by the pipeline.
const (
	DedupLocation = "location"
	DedupContent  = "content"
	DedupBoth     = "both"
	DedupDisabled = "disabled"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Engine     EngineConfig     `mapstructure:"engine" yaml:"engine"`
	Scanners   ScannersConfig   `mapstructure:"scanners" yaml:"scanners"`
	Dedup      DedupConfig      `mapstructure:"dedup" yaml:"dedup"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment" yaml:"enrichment"`
	Scoring    ScoringConfig    `mapstructure:"scoring" yaml:"scoring"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`

	// Scan gets its marching orders from CLI flags, not the config file.
	Scan ScanConfig `mapstructure:"-" yaml:"-"`
}

// LoggerConfig controls the zap logger and optional rotating log file.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// EngineConfig controls the parallel scan executor.
type EngineConfig struct {
	// Workers bounds how many scanners run concurrently per target.
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// ScannersConfig enables and tunes the individual scanner adapters.
type ScannersConfig struct {
	Bandit  ScannerConfig `mapstructure:"bandit" yaml:"bandit"`
	Semgrep ScannerConfig `mapstructure:"semgrep" yaml:"semgrep"`
	Trivy   ScannerConfig `mapstructure:"trivy" yaml:"trivy"`
}

// ScannerConfig holds the per-tool settings.
type ScannerConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Timeout applies to a single tool invocation; zero means no limit
	// beyond the caller's context.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// ExcludeDirs are skipped during directory scans.
	ExcludeDirs []string `mapstructure:"exclude_dirs" yaml:"exclude_dirs"`
}

// DedupConfig selects the deduplication strategy.
type DedupConfig struct {
	Strategy string `mapstructure:"strategy" yaml:"strategy"`
}

// EnrichmentConfig toggles the enrichment oracles.
type EnrichmentConfig struct {
	KEVEnabled          bool   `mapstructure:"kev_enabled" yaml:"kev_enabled"`
	KEVCacheFile        string `mapstructure:"kev_cache_file" yaml:"kev_cache_file"`
	FPDetectionEnabled  bool   `mapstructure:"fp_detection_enabled" yaml:"fp_detection_enabled"`
	ReachabilityEnabled bool   `mapstructure:"reachability_enabled" yaml:"reachability_enabled"`
}

// ScoringConfig selects between the learned-model scorer and the rule-based
// fallback.
type ScoringConfig struct {
	ModelEnabled bool `mapstructure:"model_enabled" yaml:"model_enabled"`
	// ModelRef is an opaque reference handed to the model scorer plugin.
	ModelRef string `mapstructure:"model_ref" yaml:"model_ref"`
}

// DatabaseConfig holds the optional PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ScanConfig centralizes runtime settings for the current scan invocation.
type ScanConfig struct {
	Targets []string
	Output  string
	Format  string
	TopN    int
	Persist bool
}

// EnabledScanners returns the names of the scanners switched on.
func (c *ScannersConfig) EnabledScanners() []string {
	var names []string
	if c.Bandit.Enabled {
		names = append(names, "bandit")
	}
	if c.Semgrep.Enabled {
		names = append(names, "semgrep")
	}
	if c.Trivy.Enabled {
		names = append(names, "trivy")
	}
	return names
}

// Validate checks invariants that would otherwise surface deep inside the
// pipeline.
func (c *Config) Validate() error {
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be >= 1, got %d", c.Engine.Workers)
	}
	switch c.Dedup.Strategy {
	case DedupLocation, DedupContent, DedupBoth, DedupDisabled:
	default:
		return fmt.Errorf("dedup.strategy must be one of location/content/both/disabled, got %q", c.Dedup.Strategy)
	}
	if len(c.Scanners.EnabledScanners()) == 0 {
		return fmt.Errorf("no scanners enabled")
	}
	return nil
}

// SetDefaults registers the default values with viper. Called before the
// config file and environment are read so explicit settings win.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "aegiscan")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("engine.workers", 3)

	v.SetDefault("scanners.bandit.enabled", true)
	v.SetDefault("scanners.semgrep.enabled", true)
	v.SetDefault("scanners.trivy.enabled", true)

	v.SetDefault("dedup.strategy", DedupLocation)

	v.SetDefault("enrichment.kev_enabled", true)
	v.SetDefault("enrichment.kev_cache_file", ".cache/kev_catalog.json")
	v.SetDefault("enrichment.fp_detection_enabled", true)
	v.SetDefault("enrichment.reachability_enabled", true)

	v.SetDefault("scoring.model_enabled", false)
}

// Load reads the config file (if any), applies environment overrides with the
// AEGISCAN prefix, and unmarshals into a validated Config.
func Load(cfgFile string) (*Config, error) {
	v := viper.GetViper()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("AEGISCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
