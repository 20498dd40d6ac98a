// Package config loads agent configuration: built-in defaults, then an
// optional YAML file, then ABILITY_ environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/roach88/ability/internal/agent"
)

// EnvPrefix prefixes every environment override:
// ABILITY_RUNTIME_PING_INTERVAL -> runtime.ping_interval.
const EnvPrefix = "ABILITY_"

// Config is the configuration of one agent process.
type Config struct {
	Agent   AgentConfig   `koanf:"agent"`
	Store   StoreConfig   `koanf:"store"`
	Log     LogConfig     `koanf:"log"`
	Runtime RuntimeConfig `koanf:"runtime"`
}

// AgentConfig names the ability to run and where its peers listen.
type AgentConfig struct {
	Name      string            `koanf:"name"`
	Listen    string            `koanf:"listen"`    // host:port of the websocket endpoint
	Advertise string            `koanf:"advertise"` // ws:// URL sent to peers on registration
	Peers     map[string]string `koanf:"peers"`     // agent name -> ws:// URL
}

// StoreConfig locates the SQLite journal.
type StoreConfig struct {
	Path string `koanf:"path"` // empty disables the journal
}

// LogConfig selects the slog handler and level.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// RuntimeConfig tunes timers and queues of the agent runtime.
type RuntimeConfig struct {
	PollInterval    time.Duration `koanf:"poll_interval"`
	PingInterval    time.Duration `koanf:"ping_interval"` // 0 disables pings
	PingMisses      int           `koanf:"ping_misses"`
	QueueSize       int           `koanf:"queue_size"`
	EnforceInterval time.Duration `koanf:"enforce_interval"`
}

// Load builds a Config. An empty path skips the file layer; a path that
// does not exist is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]any{
		"agent.listen":             ":7400",
		"log.level":                "info",
		"log.format":               "text",
		"runtime.poll_interval":    "100ms",
		"runtime.ping_interval":    "1s",
		"runtime.ping_misses":      agent.DefaultPingMisses,
		"runtime.queue_size":       agent.DefaultQueueSize,
		"runtime.enforce_interval": agent.DefaultEnforceInterval.String(),
	}
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("config default %s: %w", key, err)
		}
	}

	// 1. Load from file
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	// 2. Load from ENV (ABILITY_AGENT_NAME -> agent.name)
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envValue maps ABILITY_SECTION_SOME_KEY to section.some_key. Only the
// first underscore after the prefix separates the section, so keys keep
// their own underscores. ABILITY_AGENT_PEERS takes name=url pairs
// separated by commas.
func envValue(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.Replace(key, "_", ".", 1)
	if key != "agent.peers" {
		return key, value
	}
	peers := make(map[string]any)
	for _, pair := range strings.Split(value, ",") {
		name, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && name != "" {
			peers[name] = url
		}
	}
	return key, peers
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Runtime.PingMisses < 0 || c.Runtime.QueueSize < 0 {
		return fmt.Errorf("runtime.ping_misses and runtime.queue_size cannot be negative")
	}
	if c.Runtime.PollInterval < 0 || c.Runtime.PingInterval < 0 || c.Runtime.EnforceInterval < 0 {
		return fmt.Errorf("runtime intervals cannot be negative")
	}
	for name, url := range c.Agent.Peers {
		if url == "" {
			return fmt.Errorf("agent.peers.%s: empty address", name)
		}
	}
	return nil
}

// AgentConfig converts the agent and runtime sections for agent.New.
func (c *Config) AgentConfig() agent.Config {
	return agent.Config{
		Name:            c.Agent.Name,
		Address:         c.Agent.AdvertiseURL(),
		QueueSize:       c.Runtime.QueueSize,
		PingInterval:    c.Runtime.PingInterval,
		PingMisses:      c.Runtime.PingMisses,
		EnforceInterval: c.Runtime.EnforceInterval,
	}
}

// AdvertiseURL is the address peers dial back: Advertise when set,
// otherwise a ws:// URL on the listen port, localhost for an empty host.
func (a AgentConfig) AdvertiseURL() string {
	if a.Advertise != "" {
		return a.Advertise
	}
	host, port, err := net.SplitHostPort(a.Listen)
	if err != nil {
		return ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "ws://" + net.JoinHostPort(host, port)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// NewLogger builds the process logger. verbose forces debug level.
func (l LogConfig) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level, err := ParseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
