// Package config manages leachd daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete leachd configuration: one shared network
// schedule plus a declarative list of simulated nodes.
type Config struct {
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Network NetworkConfig `koanf:"network"`
	Nodes   []NodeConfig  `koanf:"nodes"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// NetworkConfig holds the round schedule and election parameters
// shared by every node in the simulated network.
type NetworkConfig struct {
	// RoundInterval is T_round, the period between successive
	// cluster-head elections.
	RoundInterval time.Duration `koanf:"round_interval"`

	// AdvertiseInterval is T_adv, how long a round's SETUP_ADVERTISE
	// phase lasts; members send their join replies when it closes.
	AdvertiseInterval time.Duration `koanf:"advertise_interval"`

	// ReplyInterval is T_rep, how long a round's SETUP_REPLY phase
	// lasts before heads must have assigned TDMA slots.
	ReplyInterval time.Duration `koanf:"reply_interval"`

	// ElectionProb is P, the target fraction of nodes elected
	// cluster-head per round.
	ElectionProb float64 `koanf:"election_prob"`

	// MaxQueueLen bounds the deferred-packet queue per node.
	MaxQueueLen int `koanf:"max_queue_len"`

	// MaxQueueTime is the maximum age a deferred packet may reach
	// before it is dropped as expired.
	MaxQueueTime time.Duration `koanf:"max_queue_time"`

	// SinkAddr is the address of the network's single sink node.
	SinkAddr string `koanf:"sink_addr"`

	// BroadcastAddr is the subnet broadcast address AD packets fan
	// out on. Every node socket is bound to the same broadcast
	// domain, matching the single-subnet model this simulator runs.
	BroadcastAddr string `koanf:"broadcast_addr"`

	// IfName is the network interface shared by every node socket
	// for SO_BINDTODEVICE. Empty when nodes are distinguished only
	// by IP alias on a single interface (e.g. loopback or one
	// bridged veth), the common case for a single-process simulation.
	IfName string `koanf:"ifname"`
}

// NodeConfig describes one simulated sensor node.
type NodeConfig struct {
	// Addr is the node's IPv4 address.
	Addr string `koanf:"addr"`

	// PositionX, PositionY are the node's fixed coordinates in
	// metres, read once at agent initialization.
	PositionX float64 `koanf:"position_x"`
	PositionY float64 `koanf:"position_y"`
}

// IPAddr parses Addr as a netip.Addr.
func (nc NodeConfig) IPAddr() (netip.Addr, error) {
	if nc.Addr == "" {
		return netip.Addr{}, fmt.Errorf("node addr: %w", ErrInvalidNodeAddr)
	}
	addr, err := netip.ParseAddr(nc.Addr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse node addr %q: %w: %w", nc.Addr, ErrInvalidNodeAddr, err)
	}
	return addr, nil
}

// SinkIPAddr parses NetworkConfig.SinkAddr as a netip.Addr.
func (nw NetworkConfig) SinkIPAddr() (netip.Addr, error) {
	if nw.SinkAddr == "" {
		return netip.Addr{}, fmt.Errorf("network sink_addr: %w", ErrInvalidSinkAddr)
	}
	addr, err := netip.ParseAddr(nw.SinkAddr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse sink_addr %q: %w: %w", nw.SinkAddr, ErrInvalidSinkAddr, err)
	}
	return addr, nil
}

// BroadcastIPAddr parses NetworkConfig.BroadcastAddr as a netip.Addr.
// Returns the zero Addr when unset; callers should fall back to a
// sensible default (e.g. the sink's /24 broadcast) in that case.
func (nw NetworkConfig) BroadcastIPAddr() (netip.Addr, error) {
	if nw.BroadcastAddr == "" {
		return netip.Addr{}, nil
	}
	addr, err := netip.ParseAddr(nw.BroadcastAddr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse broadcast_addr %q: %w", nw.BroadcastAddr, err)
	}
	return addr, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Network: NetworkConfig{
			RoundInterval:     3 * time.Second,
			AdvertiseInterval: 250 * time.Millisecond,
			ReplyInterval:     1 * time.Second,
			ElectionProb:      0.05,
			MaxQueueLen:       64,
			MaxQueueTime:      30 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for leachd configuration.
// Variables are named LEACHD_<section>_<key>, e.g., LEACHD_NETWORK_ROUND_INTERVAL.
const envPrefix = "LEACHD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (LEACHD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	LEACHD_METRICS_ADDR          -> metrics.addr
//	LEACHD_METRICS_PATH          -> metrics.path
//	LEACHD_LOG_LEVEL             -> log.level
//	LEACHD_LOG_FORMAT            -> log.format
//	LEACHD_NETWORK_ROUND_INTERVAL -> network.round_interval
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms LEACHD_NETWORK_ROUND_INTERVAL -> network.round_interval.
// Strips the LEACHD_ prefix, lowercases, and replaces the first _ (the
// section separator) with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"metrics.addr":               defaults.Metrics.Addr,
		"metrics.path":               defaults.Metrics.Path,
		"log.level":                  defaults.Log.Level,
		"log.format":                 defaults.Log.Format,
		"network.round_interval":     defaults.Network.RoundInterval.String(),
		"network.advertise_interval": defaults.Network.AdvertiseInterval.String(),
		"network.reply_interval":     defaults.Network.ReplyInterval.String(),
		"network.election_prob":      defaults.Network.ElectionProb,
		"network.max_queue_len":      defaults.Network.MaxQueueLen,
		"network.max_queue_time":     defaults.Network.MaxQueueTime.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")

	// ErrInvalidElectionProb indicates network.election_prob is out of (0,1].
	ErrInvalidElectionProb = errors.New("network.election_prob must be in (0, 1]")

	// ErrInvalidRoundInterval indicates network.round_interval is not positive.
	ErrInvalidRoundInterval = errors.New("network.round_interval must be > 0")

	// ErrInvalidAdvertiseInterval indicates network.advertise_interval is not positive.
	ErrInvalidAdvertiseInterval = errors.New("network.advertise_interval must be > 0")

	// ErrInvalidReplyInterval indicates network.reply_interval is not positive.
	ErrInvalidReplyInterval = errors.New("network.reply_interval must be > 0")

	// ErrRoundTooShort indicates T_adv + T_rep does not leave room for a TDMA frame.
	ErrRoundTooShort = errors.New("network.round_interval must exceed advertise_interval + reply_interval")

	// ErrInvalidMaxQueueLen indicates network.max_queue_len is not positive.
	ErrInvalidMaxQueueLen = errors.New("network.max_queue_len must be > 0")

	// ErrInvalidSinkAddr indicates network.sink_addr is invalid or missing.
	ErrInvalidSinkAddr = errors.New("network.sink_addr is invalid")

	// ErrInvalidNodeAddr indicates a node entry has an invalid address.
	ErrInvalidNodeAddr = errors.New("node addr is invalid")

	// ErrDuplicateNodeAddr indicates two nodes share the same address.
	ErrDuplicateNodeAddr = errors.New("duplicate node addr")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	if cfg.Network.ElectionProb <= 0 || cfg.Network.ElectionProb > 1 {
		return ErrInvalidElectionProb
	}

	if cfg.Network.RoundInterval <= 0 {
		return ErrInvalidRoundInterval
	}

	if cfg.Network.AdvertiseInterval <= 0 {
		return ErrInvalidAdvertiseInterval
	}

	if cfg.Network.ReplyInterval <= 0 {
		return ErrInvalidReplyInterval
	}

	if cfg.Network.RoundInterval <= cfg.Network.AdvertiseInterval+cfg.Network.ReplyInterval {
		return ErrRoundTooShort
	}

	if cfg.Network.MaxQueueLen <= 0 {
		return ErrInvalidMaxQueueLen
	}

	if _, err := cfg.Network.SinkIPAddr(); err != nil {
		return err
	}

	if err := validateNodes(cfg.Nodes); err != nil {
		return err
	}

	return nil
}

// validateNodes checks each declarative node entry for correctness.
func validateNodes(nodes []NodeConfig) error {
	seen := make(map[string]struct{}, len(nodes))

	for i, nc := range nodes {
		if _, err := nc.IPAddr(); err != nil {
			return fmt.Errorf("nodes[%d]: %w", i, err)
		}

		if _, dup := seen[nc.Addr]; dup {
			return fmt.Errorf("nodes[%d] addr %q: %w", i, nc.Addr, ErrDuplicateNodeAddr)
		}
		seen[nc.Addr] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
