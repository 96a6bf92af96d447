package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/tmp/kittyd.sock", cfg.SocketPath)
	require.Equal(t, "hashchain", cfg.RandomnessMode)
	require.Equal(t, "info", cfg.LogLevel)
	require.Empty(t, cfg.DataPath)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvThenFile(t *testing.T) {
	t.Setenv("KITTIES_DATA_PATH", "/var/lib/kitties")
	t.Setenv("KITTIES_LOG_LEVEL", "debug")

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log_level":"warn","randomness_mode":"fixed"}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/kitties", cfg.DataPath)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, "fixed", cfg.RandomnessMode)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
	_, err = Load(path)
	require.Error(t, err)
}

func TestParseEnvError(t *testing.T) {
	var cfg struct {
		Port int `env:"KITTIES_TEST_PORT"`
	}
	t.Setenv("KITTIES_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "parse env:"))
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	for name, mutate := range map[string]func(*Config){
		"randomness mode": func(c *Config) { c.RandomnessMode = "dice" },
		"log format":      func(c *Config) { c.LogFormat = "xml" },
		"log level":       func(c *Config) { c.LogLevel = "loud" },
		"seed":            func(c *Config) { c.RandomSeed = "abcd" },
		"node key":        func(c *Config) { c.NodeKeySeed = "zz" },
		"no listener": func(c *Config) {
			c.SocketPath = ""
			c.QUICAddr = ""
		},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestNodeKeyIsDeterministic(t *testing.T) {
	cfg := Config{NodeKeySeed: "0x" + strings.Repeat("07", 32)}
	a, err := cfg.NodeKey()
	require.NoError(t, err)
	b, err := cfg.NodeKey()
	require.NoError(t, err)
	require.Equal(t, a, b)

	random, err := Config{}.NodeKey()
	require.NoError(t, err)
	require.NotEqual(t, a, random)
}

func TestSeed(t *testing.T) {
	seed, err := Config{RandomSeed: strings.Repeat("ab", 32)}.Seed()
	require.NoError(t, err)
	require.Equal(t, byte(0xab), seed[31])

	zero, err := Config{}.Seed()
	require.NoError(t, err)
	require.Equal(t, [32]byte{}, zero)
}
