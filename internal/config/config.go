// Package config loads the miner's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/djkazic/cpuminer-go/internal/tuning"
)

// Config is the complete miner configuration. Durations are strings in Go
// duration syntax ("30s", "5m").
type Config struct {
	Pool    PoolConfig    `toml:"pool"`
	CPU     CPUConfig     `toml:"cpu"`
	Network NetworkConfig `toml:"network"`
	Report  ReportConfig  `toml:"report"`
	Metrics MetricsConfig `toml:"metrics"`
	DataDir string        `toml:"data_dir" comment:"Directory for the machine id and the thread layout store"`
}

type PoolConfig struct {
	Address string `toml:"address" comment:"host:port or a multiaddr such as /dns4/pool.example.com/tcp/3333"`
	Login   string `toml:"login" comment:"Wallet address or pool login"`
	Pass    string `toml:"pass"`
	Agent   string `toml:"agent"`
}

type CPUConfig struct {
	Kernel            string                `toml:"kernel" comment:"sha256d, blake2b or argon2id"`
	Argon2MemoryKB    uint32                `toml:"argon2_memory_kb"`
	TolerateLowMemory bool                  `toml:"tolerate_low_memory" comment:"Fall back to one lane per worker when memory is short"`
	PollInterval      string                `toml:"poll_interval"`
	NonceChunk        uint32                `toml:"nonce_chunk"`
	Threads           []tuning.ThreadConfig `toml:"threads,omitempty"`
}

type NetworkConfig struct {
	CallTimeout string `toml:"call_timeout"`
	NetRetry    string `toml:"net_retry" comment:"Wait after the first failed connect; doubles per failure"`
	MaxBackoff  string `toml:"max_backoff"`
	GiveUpLimit int    `toml:"giveup_limit" comment:"Stop after this many failed connects in a row, 0 retries forever"`
}

type ReportConfig struct {
	Verbose   int    `toml:"verbose" comment:"4 or more prints the hashrate report every autohash period"`
	Autohash  string `toml:"autohash"`
	PrintMotd bool   `toml:"print_motd"`
}

type MetricsConfig struct {
	Listen string `toml:"listen" comment:"HTTP address for /metrics and /report, empty disables"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			Agent: "cpuminer-go/1.0",
			Pass:  "x",
		},
		CPU: CPUConfig{
			Kernel:         "sha256d",
			Argon2MemoryKB: 2048,
			PollInterval:   "100ms",
			NonceChunk:     4096,
		},
		Network: NetworkConfig{
			CallTimeout: "10s",
			NetRetry:    "30s",
			MaxBackoff:  "5m",
		},
		Report: ReportConfig{
			Verbose:   3,
			Autohash:  "60s",
			PrintMotd: true,
		},
		DataDir: "./data",
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.Pool.Address == "" {
		return errors.New("pool address is required")
	}
	if c.Pool.Login == "" {
		return errors.New("pool login is required")
	}
	for i, t := range c.CPU.Threads {
		if t.BatchFactor < 1 || t.BatchFactor > 5 {
			return fmt.Errorf("cpu thread %d: batch %d outside 1..5", i, t.BatchFactor)
		}
		if t.Affinity < -1 {
			return fmt.Errorf("cpu thread %d: affinity %d, use -1 for none", i, t.Affinity)
		}
	}

	durations := []struct {
		name  string
		value string
	}{
		{"cpu.poll_interval", c.CPU.PollInterval},
		{"network.call_timeout", c.Network.CallTimeout},
		{"network.net_retry", c.Network.NetRetry},
		{"network.max_backoff", c.Network.MaxBackoff},
		{"report.autohash", c.Report.Autohash},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	if c.Network.GiveUpLimit < 0 {
		return errors.New("network.giveup_limit must not be negative")
	}
	return nil
}

func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// The accessors below assume Validate passed.

func (c *Config) PollInterval() time.Duration { return mustDuration(c.CPU.PollInterval) }
func (c *Config) CallTimeout() time.Duration  { return mustDuration(c.Network.CallTimeout) }
func (c *Config) NetRetry() time.Duration     { return mustDuration(c.Network.NetRetry) }
func (c *Config) MaxBackoff() time.Duration   { return mustDuration(c.Network.MaxBackoff) }
func (c *Config) Autohash() time.Duration     { return mustDuration(c.Report.Autohash) }

// ExampleTOML renders the defaults as a commented config file.
func ExampleTOML() ([]byte, error) {
	cfg := Default()
	cfg.Pool.Address = "pool.example.com:3333"
	cfg.Pool.Login = "YOUR_WALLET_ADDRESS"
	cfg.Metrics.Listen = "127.0.0.1:9100"
	data, err := toml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("encode example config: %w", err)
	}
	return append([]byte("# cpuminer-go example configuration\n\n"), data...), nil
}
