// Package config provides the scheduler's layered configuration schema and
// loader: a YAML file as the base layer, with OS environment variables
// overriding individual keys, plus a hot-reload watcher for the file layer.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the scheduler instance's root configuration.
type Config struct {
	InstanceID string     `koanf:"instance_id"`
	LogLevel   string     `koanf:"log_level"`
	Redis      RedisConfig `koanf:"redis"`
	Server     ServerConfig `koanf:"server"`
	Registry   RegistryConfig `koanf:"registry"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
	Routing    RoutingConfig `koanf:"routing"`
	Session    SessionConfig `koanf:"session"`
}

// RedisConfig addresses the shared Redis deployment backing the routing
// runtime.
type RedisConfig struct {
	Addrs    []string `koanf:"addrs"`
	Username string   `koanf:"username"`
	Password string   `koanf:"password"`
	DB       int      `koanf:"db"`
}

// ServerConfig holds the scheduler's listen addresses.
type ServerConfig struct {
	SessionListenAddr string `koanf:"session_listen_addr"`
	NodeListenAddr    string `koanf:"node_listen_addr"`
	AdminListenAddr   string `koanf:"admin_listen_addr"` // healthz/readyz/metrics
}

// RegistryConfig mirrors registry.Config on the wire.
type RegistryConfig struct {
	HealthCheckCount  int           `koanf:"health_check_count"`
	WarmupTimeout     time.Duration `koanf:"warmup_timeout"`
	HeartbeatTimeout  time.Duration `koanf:"heartbeat_timeout"`
	RemoveStaleAfter  time.Duration `koanf:"remove_stale_after"`
	ResourceThreshold float64       `koanf:"resource_threshold"`
}

// DispatcherConfig mirrors dispatcher.Config on the wire.
type DispatcherConfig struct {
	RequestLockTTL time.Duration `koanf:"request_lock_ttl"`
	BindingLease   time.Duration `koanf:"binding_lease"`
	ReservationTTL time.Duration `koanf:"reservation_ttl"`
	SpreadWindow   time.Duration `koanf:"spread_window"`
	SendCancel     bool          `koanf:"send_cancel"`
	PendingTimeout time.Duration `koanf:"pending_timeout"`
	JobTimeout     time.Duration `koanf:"job_timeout"`
	FailoverMax    int           `koanf:"failover_max"`
	ScanInterval   time.Duration `koanf:"scan_interval"`
}

// RoutingConfig mirrors routing.Config on the wire (InstanceID is filled in
// from the top-level Config.InstanceID, not duplicated here).
type RoutingConfig struct {
	KeyPrefix        string        `koanf:"key_prefix"`
	HeartbeatPeriod  time.Duration `koanf:"heartbeat_period"`
	OwnerTTL         time.Duration `koanf:"owner_ttl"`
	RefreshInterval  time.Duration `koanf:"refresh_interval"`
	StaleSweepMaxN   int           `koanf:"stale_sweep_max_n"`
	DLQScanInterval  time.Duration `koanf:"dlq_scan_interval"`
	DLQScanCount     int64         `koanf:"dlq_scan_count"`
	DLQMaxDeliveries int64         `koanf:"dlq_max_deliveries"`
	DLQMinIdle       time.Duration `koanf:"dlq_min_idle"`
	StreamBlock      time.Duration `koanf:"stream_block"`
	StreamCount      int64         `koanf:"stream_count"`
	ReclaimIdle      time.Duration `koanf:"reclaim_idle"`
}

// SessionConfig mirrors session.Config on the wire.
type SessionConfig struct {
	PauseMs                int64         `koanf:"pause_ms"`
	MaxDurationMs          int64         `koanf:"max_duration_ms"`
	HangoverManualMs       time.Duration `koanf:"hangover_manual_ms"`
	HangoverAutoMs         time.Duration `koanf:"hangover_auto_ms"`
	PaddingManualMs        int           `koanf:"padding_manual_ms"`
	PaddingAutoMs          int           `koanf:"padding_auto_ms"`
	MaxPendingEvents       int           `koanf:"max_pending_events"`
	ExceptionBufferBytes   int           `koanf:"exception_buffer_bytes"`
	MaxDurationAffinityTTL time.Duration `koanf:"max_duration_affinity_ttl"`
}

// Default returns the scheduler's built-in defaults, used as the base layer
// before the YAML file and environment overrides are applied.
func Default() Config {
	return Config{
		LogLevel: "info",
		Redis:    RedisConfig{Addrs: []string{"127.0.0.1:6379"}},
		Server: ServerConfig{
			SessionListenAddr: ":8081",
			NodeListenAddr:    ":8082",
			AdminListenAddr:   ":8080",
		},
		Registry: RegistryConfig{
			HealthCheckCount:  3,
			WarmupTimeout:     30 * time.Second,
			HeartbeatTimeout:  15 * time.Second,
			RemoveStaleAfter:  5 * time.Minute,
			ResourceThreshold: 0.9,
		},
		Dispatcher: DispatcherConfig{
			RequestLockTTL: 1500 * time.Millisecond,
			BindingLease:   30 * time.Second,
			ReservationTTL: 20 * time.Second,
			SpreadWindow:   2 * time.Second,
			SendCancel:     true,
			PendingTimeout: 5 * time.Second,
			JobTimeout:     30 * time.Second,
			FailoverMax:    2,
			ScanInterval:   time.Second,
		},
		Routing: RoutingConfig{
			KeyPrefix:        "v1",
			HeartbeatPeriod:  5 * time.Second,
			OwnerTTL:         30 * time.Second,
			RefreshInterval:  2 * time.Second,
			StaleSweepMaxN:   50,
			DLQScanInterval:  5 * time.Second,
			DLQScanCount:     100,
			DLQMaxDeliveries: 5,
			DLQMinIdle:       30 * time.Second,
			StreamBlock:      2 * time.Second,
			StreamCount:      50,
			ReclaimIdle:      5 * time.Second,
		},
		Session: SessionConfig{
			PauseMs:                700,
			MaxDurationMs:          15_000,
			HangoverManualMs:       150 * time.Millisecond,
			HangoverAutoMs:         400 * time.Millisecond,
			PaddingManualMs:        80,
			PaddingAutoMs:          200,
			MaxPendingEvents:       200,
			ExceptionBufferBytes:   500 * 1024,
			MaxDurationAffinityTTL: 5 * time.Minute,
		},
	}
}

// koanfDelim is the key path delimiter used by the YAML layer and env key
// mapping alike.
const koanfDelim = "."

// envPrefix is stripped from environment variable names before they're
// folded into the config tree.
const envPrefix = "SCHED_"

// Load reads path as the YAML layer, applies SCHED_-prefixed environment
// variable overrides on top, and fills in anything neither layer set from
// [Default]. Pass an empty path to load from the environment and defaults
// alone (useful in tests).
func Load(path string) (Config, error) {
	k := koanf.New(koanfDelim)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, err
		}
	}

	if err := k.Load(env.Provider(envPrefix, koanfDelim, envKeyMap), nil); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKeyMap converts an environment variable name (e.g.
// SCHED_SERVER__SESSION_LISTEN_ADDR) into a dotted config key
// (server.session_listen_addr). Environment variables can't contain dots,
// so nested keys are addressed with a double underscore between path
// segments and a single underscore within a segment's words:
// SCHED_REGISTRY__HEALTH_CHECK_COUNT -> registry.health_check_count.
func envKeyMap(key string) string {
	key = strings.TrimPrefix(key, envPrefix)
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "__", koanfDelim)
	return key
}
