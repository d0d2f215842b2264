package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rpattn/shiprecon/internal/db"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
	"github.com/rpattn/shiprecon/internal/logging"
)

// EnvPrefix is prepended to every environment override, e.g.
// SHIPRECON_DATABASE_HOST or SHIPRECON_ORACLE_API_KEY.
const EnvPrefix = "SHIPRECON"

// Config is the full runtime configuration.
type Config struct {
	Database   db.Config        `mapstructure:"database"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Dictionary DictionaryConfig `mapstructure:"dictionary"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Improve    ImproveConfig    `mapstructure:"improve"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
}

// OracleConfig configures the classification oracle client.
type OracleConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseBackoff       time.Duration `mapstructure:"base_backoff"`
	Deadline          time.Duration `mapstructure:"deadline"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// DictionaryConfig points at the canonical dictionary document.
type DictionaryConfig struct {
	Path string `mapstructure:"path"`
}

// PipelineConfig tunes batch processing.
type PipelineConfig struct {
	ChunkSize         int `mapstructure:"chunk_size"`
	Workers           int `mapstructure:"workers"`
	RowLimit          int `mapstructure:"row_limit"`
	StalenessDays     int `mapstructure:"staleness_days"`
	CustomsHoldDays   int `mapstructure:"customs_hold_days"`
	MinIdentityLength int `mapstructure:"min_identity_length"`
}

// ImproveConfig tunes the improvement loop.
type ImproveConfig struct {
	RunDir         string  `mapstructure:"run_dir"`
	MaxIterations  int     `mapstructure:"max_iterations"`
	TargetCoverage float64 `mapstructure:"target_coverage"`
	TargetScore    float64 `mapstructure:"target_score"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ServerConfig configures the batch status HTTP surface.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggerConfig converts the logging section into a logging.Config.
func (c LoggingConfig) LoggerConfig() *logging.Config {
	cfg := logging.DefaultConfig()
	if c.Level != "" {
		cfg.Level = c.Level
	}
	if c.Format != "" {
		cfg.Format = c.Format
	}
	if c.Output != "" {
		cfg.Output = c.Output
	}
	return cfg
}

// Default returns the configuration used when no file or environment is set.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Oracle: OracleConfig{
			Enabled:           false,
			Model:             "gemini-2.5-flash",
			Timeout:           20 * time.Second,
			MaxAttempts:       3,
			BaseBackoff:       500 * time.Millisecond,
			Deadline:          45 * time.Second,
			RequestsPerSecond: 2,
		},
		Dictionary: DictionaryConfig{Path: "dictionary.yaml"},
		Pipeline: PipelineConfig{
			ChunkSize:         200,
			Workers:           4,
			StalenessDays:     30,
			CustomsHoldDays:   5,
			MinIdentityLength: 4,
		},
		Improve: ImproveConfig{
			RunDir:         "runs",
			MaxIterations:  5,
			TargetCoverage: 0.95,
			TargetScore:    0.9,
		},
		Logging: LoggingConfig{Level: "info", Format: "auto", Output: "stderr"},
		Server:  ServerConfig{Addr: ":8080", AllowedOrigins: []string{"*"}},
	}
}

// Load reads config.yaml from configPath (when present), a .env file from the
// working directory (when present) and SHIPRECON_* environment overrides.
func Load(configPath string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, apperrors.NewConfigError("env", "failed to read .env", err)
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	log := logging.Default()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, apperrors.NewConfigError("config", "failed to read config.yaml", err)
		}
		log.Debug().Msg("No config.yaml found, using defaults and env vars")
	} else {
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("Loaded config.yaml")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, apperrors.NewConfigError("config", "failed to decode configuration", err)
	}

	// Provider-native variable, the way the genai SDK documents it.
	if cfg.Oracle.APIKey == "" {
		cfg.Oracle.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	return cfg, nil
}

// LoadDBConfig returns only the database section.
func LoadDBConfig(configPath string) (db.Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return db.Config{}, err
	}
	return cfg.Database, nil
}

// Validate checks the settings a pipeline run cannot recover from.
func (c Config) Validate() error {
	if c.Dictionary.Path == "" {
		return apperrors.NewConfigError("dictionary", "dictionary path is empty", nil)
	}
	if c.Oracle.Enabled && c.Oracle.APIKey == "" {
		return apperrors.NewConfigError("oracle", "oracle enabled without api_key (set SHIPRECON_ORACLE_API_KEY or GEMINI_API_KEY)", nil)
	}
	if c.Pipeline.ChunkSize <= 0 {
		return apperrors.NewConfigError("pipeline", fmt.Sprintf("chunk_size must be positive, got %d", c.Pipeline.ChunkSize), nil)
	}
	return nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.max_conns", d.Database.MaxConns)

	v.SetDefault("oracle.enabled", d.Oracle.Enabled)
	v.SetDefault("oracle.model", d.Oracle.Model)
	v.SetDefault("oracle.api_key", d.Oracle.APIKey)
	v.SetDefault("oracle.timeout", d.Oracle.Timeout)
	v.SetDefault("oracle.max_attempts", d.Oracle.MaxAttempts)
	v.SetDefault("oracle.base_backoff", d.Oracle.BaseBackoff)
	v.SetDefault("oracle.deadline", d.Oracle.Deadline)
	v.SetDefault("oracle.requests_per_second", d.Oracle.RequestsPerSecond)

	v.SetDefault("dictionary.path", d.Dictionary.Path)

	v.SetDefault("pipeline.chunk_size", d.Pipeline.ChunkSize)
	v.SetDefault("pipeline.workers", d.Pipeline.Workers)
	v.SetDefault("pipeline.row_limit", d.Pipeline.RowLimit)
	v.SetDefault("pipeline.staleness_days", d.Pipeline.StalenessDays)
	v.SetDefault("pipeline.customs_hold_days", d.Pipeline.CustomsHoldDays)
	v.SetDefault("pipeline.min_identity_length", d.Pipeline.MinIdentityLength)

	v.SetDefault("improve.run_dir", d.Improve.RunDir)
	v.SetDefault("improve.max_iterations", d.Improve.MaxIterations)
	v.SetDefault("improve.target_coverage", d.Improve.TargetCoverage)
	v.SetDefault("improve.target_score", d.Improve.TargetScore)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
}
