package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Window     WindowConfig     `mapstructure:"window"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the HTTP/websocket endpoint and broadcast cadence
type ServerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// SimulationConfig holds the seed source and fleet churn parameters
type SimulationConfig struct {
	SeedFile             string        `mapstructure:"seed_file"` // path or http(s) URL
	SeedFetchTimeout     time.Duration `mapstructure:"seed_fetch_timeout"`
	RandomSeed           uint64        `mapstructure:"random_seed"` // 0 = time based
	InitialPopulation    int           `mapstructure:"initial_population"`
	AcceptProbability    float64       `mapstructure:"accept_probability"`
	GrowthProbability    float64       `mapstructure:"growth_probability"`
	GrowthMin            int           `mapstructure:"growth_min"`
	GrowthMax            int           `mapstructure:"growth_max"`
	AttritionProbability float64       `mapstructure:"attrition_probability"`
	AttritionMax         int           `mapstructure:"attrition_max"`
	PopulationFloor      int           `mapstructure:"population_floor"`
	CheckpointInterval   int           `mapstructure:"checkpoint_interval"` // ticks; 0 = only on shutdown
}

// WindowConfig holds sliding window, aggregate and trend settings
type WindowConfig struct {
	Horizon            time.Duration   `mapstructure:"horizon"`
	MaxCapacity        int             `mapstructure:"max_capacity"`
	TrendMetric        string          `mapstructure:"trend_metric"`
	TrendHorizons      []time.Duration `mapstructure:"trend_horizons"`
	SlowMax            float64         `mapstructure:"slow_max"`
	ModerateMax        float64         `mapstructure:"moderate_max"`
	QuantileSampleSize int             `mapstructure:"quantile_sample_size"`
}

// StorageConfig holds SQLite persistence configuration
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// TelegramConfig holds Telegram digest configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	DigestEvery    int           `mapstructure:"digest_every"` // ticks
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path uses defaults and environment variables only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable override, e.g. AIS_STREAM_SERVER_LISTEN_ADDR
	v.SetEnvPrefix("AIS_STREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen_addr", ":8000")
	v.SetDefault("server.tick_interval", "10s")
	v.SetDefault("server.send_timeout", "2s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Simulation defaults
	v.SetDefault("simulation.seed_file", "./data/ais_data.json")
	v.SetDefault("simulation.seed_fetch_timeout", "30s")
	v.SetDefault("simulation.random_seed", 0)
	v.SetDefault("simulation.initial_population", 20)
	v.SetDefault("simulation.accept_probability", 0.7)
	v.SetDefault("simulation.growth_probability", 0.2)
	v.SetDefault("simulation.growth_min", 1)
	v.SetDefault("simulation.growth_max", 3)
	v.SetDefault("simulation.attrition_probability", 0.1)
	v.SetDefault("simulation.attrition_max", 2)
	v.SetDefault("simulation.population_floor", 10)
	v.SetDefault("simulation.checkpoint_interval", 30)

	// Window defaults
	v.SetDefault("window.horizon", "5m")
	v.SetDefault("window.max_capacity", 10000)
	v.SetDefault("window.trend_metric", "speed")
	v.SetDefault("window.trend_horizons", []string{"1m", "5m", "15m"})
	v.SetDefault("window.slow_max", 5.0)
	v.SetDefault("window.moderate_max", 15.0)
	v.SetDefault("window.quantile_sample_size", 4096)

	// Storage defaults
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", "./data/aisstream.db")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.digest_every", 30)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Server config
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.TickInterval <= 0 {
		return fmt.Errorf("server.tick_interval must be positive")
	}
	if c.Server.SendTimeout <= 0 {
		return fmt.Errorf("server.send_timeout must be positive")
	}

	// Validate Simulation config
	s := c.Simulation
	if s.SeedFile == "" {
		return fmt.Errorf("simulation.seed_file is required")
	}
	for name, p := range map[string]float64{
		"accept_probability":    s.AcceptProbability,
		"growth_probability":    s.GrowthProbability,
		"attrition_probability": s.AttritionProbability,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("simulation.%s must be between 0.0 and 1.0", name)
		}
	}
	if s.InitialPopulation < 0 {
		return fmt.Errorf("simulation.initial_population must not be negative")
	}
	if s.GrowthMin < 0 || s.GrowthMin > s.GrowthMax {
		return fmt.Errorf("simulation.growth_min must be between 0 and growth_max")
	}
	if s.AttritionMax < 0 {
		return fmt.Errorf("simulation.attrition_max must not be negative")
	}
	if s.PopulationFloor < 0 {
		return fmt.Errorf("simulation.population_floor must not be negative")
	}
	if s.CheckpointInterval < 0 {
		return fmt.Errorf("simulation.checkpoint_interval must not be negative")
	}

	// Validate Window config
	w := c.Window
	if w.Horizon <= 0 {
		return fmt.Errorf("window.horizon must be positive")
	}
	if w.MaxCapacity < 1 {
		return fmt.Errorf("window.max_capacity must be at least 1")
	}
	if len(w.TrendHorizons) == 0 {
		return fmt.Errorf("window.trend_horizons must contain at least one horizon")
	}
	for _, h := range w.TrendHorizons {
		if h <= 0 {
			return fmt.Errorf("window.trend_horizons must be positive, got %v", h)
		}
	}
	validMetrics := map[string]bool{"speed": true, "sog": true, "course": true, "cog": true}
	if !validMetrics[strings.ToLower(w.TrendMetric)] {
		return fmt.Errorf("window.trend_metric must be one of: speed, course")
	}
	if w.SlowMax <= 0 || w.SlowMax >= w.ModerateMax {
		return fmt.Errorf("window.slow_max must be positive and below window.moderate_max")
	}
	if w.QuantileSampleSize < 1 {
		return fmt.Errorf("window.quantile_sample_size must be at least 1")
	}

	// Validate Storage config
	if c.Storage.Enabled && c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required when storage is enabled")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.DigestEvery < 1 {
			return fmt.Errorf("telegram.digest_every must be at least 1")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
