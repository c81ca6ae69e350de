package asyncfsm

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
)

// DefaultChannelSize is the event queue capacity used when none is configured
const DefaultChannelSize = 100

// ErrParsingConfig is returned when environment variables cannot be parsed into Config
var ErrParsingConfig = errors.New("asyncfsm: failed to parse configuration")

// Config holds process-wide defaults read from the environment.
type Config struct {
	ChannelSize      int    `env:"ASYNCFSM_CHANNEL_SIZE" envDefault:"100"`
	LogLevel         string `env:"ASYNCFSM_LOG_LEVEL" envDefault:"info"`
	MetricsNamespace string `env:"ASYNCFSM_METRICS_NAMESPACE" envDefault:"asyncfsm"`
}

// DefaultConfig returns the configuration used when the environment is empty
func DefaultConfig() Config {
	return Config{
		ChannelSize:      DefaultChannelSize,
		LogLevel:         "info",
		MetricsNamespace: "asyncfsm",
	}
}

// LoadConfig parses Config from environment variables.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	if cfg.ChannelSize < 1 {
		return Config{}, errors.Join(ErrParsingConfig, fmt.Errorf("ASYNCFSM_CHANNEL_SIZE must be at least 1, got %d", cfg.ChannelSize))
	}
	if _, err := cfg.Level(); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// Level converts LogLevel to a slog level
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
