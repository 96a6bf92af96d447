package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the node configuration. Environment variables are read first;
// a JSON file, when given, overrides them field by field.
type Config struct {
	// DataPath is the pebble directory. Empty keeps state in memory.
	DataPath       string `json:"data_path" env:"KITTIES_DATA_PATH"`
	SocketPath     string `json:"socket_path" env:"KITTIES_SOCKET_PATH" envDefault:"/tmp/kittyd.sock"`
	QUICAddr       string `json:"quic_addr" env:"KITTIES_QUIC_ADDR"`
	NodeKeySeed    string `json:"node_key_seed" env:"KITTIES_NODE_KEY_SEED"`
	RandomnessMode string `json:"randomness_mode" env:"KITTIES_RANDOMNESS_MODE" envDefault:"hashchain"`
	RandomSeed     string `json:"random_seed" env:"KITTIES_RANDOM_SEED"`
	MetricsAddr    string `json:"metrics_addr" env:"KITTIES_METRICS_ADDR"`
	LogLevel       string `json:"log_level" env:"KITTIES_LOG_LEVEL" envDefault:"info"`
	LogFormat      string `json:"log_format" env:"KITTIES_LOG_FORMAT" envDefault:"text"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the environment, then overlays the JSON file at configPath if set.
func Load(configPath string) (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	if configPath != "" {
		configData, err := os.ReadFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(configData, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.RandomnessMode {
	case "fixed", "hashchain":
	default:
		return fmt.Errorf("randomness mode must be fixed or hashchain, got %q", c.RandomnessMode)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.LogFormat)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Seed(); err != nil {
		return err
	}
	if c.NodeKeySeed != "" {
		if _, err := DecodeHex32(c.NodeKeySeed); err != nil {
			return fmt.Errorf("node key seed: %w", err)
		}
	}
	if c.SocketPath == "" && c.QUICAddr == "" {
		return fmt.Errorf("at least one of socket path or QUIC address is required")
	}
	return nil
}

func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// Seed is the fixed randomness seed; empty means all zeroes.
func (c Config) Seed() ([32]byte, error) {
	if c.RandomSeed == "" {
		return [32]byte{}, nil
	}
	seed, err := DecodeHex32(c.RandomSeed)
	if err != nil {
		return [32]byte{}, fmt.Errorf("random seed: %w", err)
	}
	return seed, nil
}

// NodeKey derives the node's ed25519 key from NodeKeySeed, or generates a
// fresh one when no seed is configured.
func (c Config) NodeKey() (ed25519.PrivateKey, error) {
	if c.NodeKeySeed == "" {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate node key: %w", err)
		}
		return key, nil
	}
	seed, err := DecodeHex32(c.NodeKeySeed)
	if err != nil {
		return nil, fmt.Errorf("node key seed: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed[:]), nil
}

// NewLogger builds the process logger described by the config.
func (c Config) NewLogger() (*slog.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

// DecodeHex32 decodes exactly 32 bytes of hex, with or without a 0x prefix.
func DecodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
