// Package config loads metafs settings from defaults, a YAML config file,
// a .env file, METAFS_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/metafs/internal/digest"
	"github.com/roach88/metafs/internal/filer"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "METAFS"

// DefaultConfigName is the config file searched for when none is given.
const DefaultConfigName = "metafs"

// ErrInvalid marks a configuration value that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full metafs configuration.
type Config struct {
	DB     DBConfig     `mapstructure:"db" yaml:"db"`
	Scan   ScanConfig   `mapstructure:"scan" yaml:"scan"`
	Detect DetectConfig `mapstructure:"detect" yaml:"detect"`
	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// DBConfig locates the SQLite database.
type DBConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	Driver string `mapstructure:"driver" yaml:"driver"`
}

// ScanConfig controls how update walks and hashes.
type ScanConfig struct {
	MaxParseSize int64    `mapstructure:"max_parse_size" yaml:"max_parse_size"`
	Hash         string   `mapstructure:"hash" yaml:"hash"`
	CaseFold     bool     `mapstructure:"case_fold" yaml:"case_fold"`
	Workers      int      `mapstructure:"workers" yaml:"workers"`
	Ignore       []string `mapstructure:"ignore" yaml:"ignore"`
}

// DetectConfig configures the type detector.
type DetectConfig struct {
	MagicFile string `mapstructure:"magic_file" yaml:"magic_file"`
}

// StoreConfig tunes the metadata store.
type StoreConfig struct {
	ResolverCache int `mapstructure:"resolver_cache" yaml:"resolver_cache"`
}

// LogConfig configures logging. See logging.Options.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"db":             "db.path",
	"driver":         "db.driver",
	"max-parse-size": "scan.max_parse_size",
	"hash":           "scan.hash",
	"case-fold":      "scan.case_fold",
	"workers":        "scan.workers",
	"ignore":         "scan.ignore",
	"magic-file":     "detect.magic_file",
	"resolver-cache": "store.resolver_cache",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"log-file":       "log.file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.path", "metafs.db")
	v.SetDefault("db.driver", "sqlite3")
	v.SetDefault("scan.max_parse_size", 100_000_000)
	v.SetDefault("scan.hash", digest.DefaultAlgorithm)
	v.SetDefault("scan.case_fold", filer.DefaultCaseFold())
	v.SetDefault("scan.workers", 1)
	v.SetDefault("scan.ignore", []string{})
	v.SetDefault("detect.magic_file", "")
	v.SetDefault("store.resolver_cache", 4096)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 128)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 16)
	v.SetDefault("log.compress", false)
}

// LoadOptions says where Load looks for settings.
type LoadOptions struct {
	// ConfigFile is an explicit config file. When empty, metafs.yaml is
	// searched for in the working directory and $HOME/.config/metafs.
	ConfigFile string

	// EnvFile is loaded into the environment when it exists. Defaults to
	// ".env". Variables already set are not overridden.
	EnvFile string

	// Flags, when set, override every other source for the flags the user
	// changed.
	Flags *pflag.FlagSet
}

// Load reads and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "metafs"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for name, key := range flagKeys {
			f := opts.Flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every value that has a fixed domain.
func (c *Config) Validate() error {
	if c.DB.Path == "" {
		return fmt.Errorf("%w: db.path is empty", ErrInvalid)
	}
	switch c.DB.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("%w: db.driver %q must be sqlite3 or sqlite", ErrInvalid, c.DB.Driver)
	}
	if c.Scan.MaxParseSize <= 0 {
		return fmt.Errorf("%w: scan.max_parse_size must be positive, got %d", ErrInvalid, c.Scan.MaxParseSize)
	}
	if _, err := digest.New(c.Scan.Hash); err != nil {
		return fmt.Errorf("%w: scan.hash: %v", ErrInvalid, err)
	}
	if c.Scan.Workers < 1 {
		return fmt.Errorf("%w: scan.workers must be at least 1, got %d", ErrInvalid, c.Scan.Workers)
	}
	if c.Store.ResolverCache < 0 {
		return fmt.Errorf("%w: store.resolver_cache must not be negative", ErrInvalid)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q must be text or json", ErrInvalid, c.Log.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log.level %q must be debug, info, warn or error", ErrInvalid, c.Log.Level)
	}
	return nil
}
