package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/filesearch/fsearch"

	"github.com/spf13/viper"
)

// Strategy names accepted by index.strategy
const (
	StrategyAuto    = "auto"
	StrategyWalk    = "walk"
	StrategyJournal = "journal"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Searcher SearcherConfig `mapstructure:"searcher"`
	Index    IndexConfig    `mapstructure:"index"`
	Log      LogConfig      `mapstructure:"log"`
}

// SearcherConfig stores the query side settings.
type SearcherConfig struct {
	BatchSize  int `mapstructure:"batchSize"`
	DebounceMs int `mapstructure:"debounceMs"`
}

// IndexConfig stores where and how volumes are indexed.
type IndexConfig struct {
	Dir               string   `mapstructure:"dir"`
	StateFile         string   `mapstructure:"stateFile"`
	Roots             []string `mapstructure:"roots"`
	Strategy          string   `mapstructure:"strategy"`
	Exclude           []string `mapstructure:"exclude"`
	IgnoreFile        string   `mapstructure:"ignoreFile"`
	SkipHidden        bool     `mapstructure:"skipHidden"`
	ShallowRoots      []string `mapstructure:"shallowRoots"`
	Watch             bool     `mapstructure:"watch"`
	Workers           int      `mapstructure:"workers"`
	MaxParallelBuilds int      `mapstructure:"maxParallelBuilds"`
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// LoadConfig reads configuration from file or environment variables.
// An empty configPath searches the working directory and the default config directory.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(strings.ToUpper(internal.DefaultAppName))
	v.AutomaticEnv()                                   // Read in environment variables that match
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // e.g. index.strategy becomes FSEARCH_INDEX_STRATEGY

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	cfg.Index.Dir = expandHome(cfg.Index.Dir)
	cfg.Index.StateFile = expandHome(cfg.Index.StateFile)
	for i, root := range cfg.Index.Roots {
		cfg.Index.Roots[i] = expandHome(root)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults are plain values, decoding them cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("searcher.batchSize", internal.DefaultBatchSize)
	v.SetDefault("searcher.debounceMs", 120)

	v.SetDefault("index.dir", internal.DefaultIndexDir)
	v.SetDefault("index.stateFile", internal.DefaultStateFile)
	v.SetDefault("index.roots", internal.DefaultRoots())
	v.SetDefault("index.strategy", StrategyAuto)
	v.SetDefault("index.exclude", []string{})
	v.SetDefault("index.ignoreFile", internal.DefaultIgnoreFileName)
	v.SetDefault("index.skipHidden", true)
	v.SetDefault("index.shallowRoots", []string{"/Applications"})
	v.SetDefault("index.watch", true)
	v.SetDefault("index.workers", 0)
	v.SetDefault("index.maxParallelBuilds", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// Validate checks value ranges that the searcher relies on.
func (c *Config) Validate() error {
	if c.Searcher.BatchSize < 1 || c.Searcher.BatchSize > 255 {
		return fmt.Errorf("searcher.batchSize must be between 1 and 255, got %d", c.Searcher.BatchSize)
	}
	if c.Searcher.DebounceMs < 0 {
		return fmt.Errorf("searcher.debounceMs cannot be negative")
	}

	switch c.Index.Strategy {
	case StrategyAuto, StrategyWalk, StrategyJournal:
	default:
		return fmt.Errorf("index.strategy must be one of %q, %q, %q, got %q",
			StrategyAuto, StrategyWalk, StrategyJournal, c.Index.Strategy)
	}

	if strings.TrimSpace(c.Index.Dir) == "" {
		return fmt.Errorf("index.dir cannot be empty")
	}
	if c.Index.Workers < 0 || c.Index.MaxParallelBuilds < 0 {
		return fmt.Errorf("index.workers and index.maxParallelBuilds cannot be negative")
	}

	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home := internal.DefaultRoots()[0]
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
