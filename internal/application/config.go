// Package application loads the service configuration and wires the full
// issuance stack: ledger, reserve feeds, gate, guard, the optional journal,
// mirror and event backends, and the HTTP server.
package application

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stablemint/reservegate/internal/gate"
)

// Feed adapter kinds accepted in the feeds section.
const (
	FeedKindStatic = "static"
	FeedKindHTTP   = "http"
)

// Config is the full service configuration. Every section has a working
// default; postgres, redis, and nats stay disabled until given an address.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Gate     GateConfig     `yaml:"gate"`
	Asset    AssetConfig    `yaml:"asset"`
	Feeds    []FeedConfig   `yaml:"feeds"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener. An empty admin token disables
// the admin routes entirely: no request can ever authenticate as the gate
// administrator over HTTP.
type ServerConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	AdminToken          string `yaml:"admin_token"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int    `yaml:"idle_timeout_seconds"`
}

func (c ServerConfig) ReadTimeout() time.Duration  { return secondsOr(c.ReadTimeoutSeconds, 10*time.Second) }
func (c ServerConfig) WriteTimeout() time.Duration { return secondsOr(c.WriteTimeoutSeconds, 10*time.Second) }
func (c ServerConfig) IdleTimeout() time.Duration  { return secondsOr(c.IdleTimeoutSeconds, 60*time.Second) }

// GateConfig names the gate administrator and the gate's startup state.
// Feed and heartbeat are applied through the normal admin path at boot, so
// they land in the audit trail like any other change.
type GateConfig struct {
	Admin            string `yaml:"admin"`
	MaxAgeSeconds    int64  `yaml:"max_age_seconds"`
	Feed             string `yaml:"feed"`
	HeartbeatSeconds int64  `yaml:"heartbeat_seconds"`
}

// MaxAge converts the configured window; zero selects the gate default.
func (g GateConfig) MaxAge() time.Duration { return time.Duration(g.MaxAgeSeconds) * time.Second }

func (g GateConfig) Heartbeat() time.Duration { return time.Duration(g.HeartbeatSeconds) * time.Second }

// AssetConfig describes the token whose issuance the gate fronts.
type AssetConfig struct {
	Name     string `yaml:"name"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// FeedConfig declares one reserve feed. HTTP feeds poll an attestation
// endpoint; static feeds hold a manually set reading and may be seeded with
// an initial value in whole reserve units.
type FeedConfig struct {
	Name              string `yaml:"name"`
	Kind              string `yaml:"kind"`
	Decimals          uint8  `yaml:"decimals"`
	URL               string `yaml:"url"`
	AuthToken         string `yaml:"auth_token"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	Value             string `yaml:"value"`
}

func (f FeedConfig) Timeout() time.Duration { return time.Duration(f.TimeoutSeconds) * time.Second }

// PostgresConfig enables the decision journal and gate-change audit when a
// DSN is set.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (p PostgresConfig) Timeout() time.Duration { return secondsOr(p.TimeoutSeconds, 5*time.Second) }

// RedisConfig enables the status mirror when an address is set.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// TTL of mirrored entries; zero keeps them until overwritten.
func (r RedisConfig) TTL() time.Duration { return time.Duration(r.TTLSeconds) * time.Second }

// NATSConfig enables event publishing when a URL is set.
type NATSConfig struct {
	URL string `yaml:"url"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DefaultConfig returns a runnable local configuration: loopback server, no
// feeds, no external backends. The gate starts unset, so issuance passes
// through until an administrator configures a feed.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "127.0.0.1",
			Port:                8080,
			ReadTimeoutSeconds:  10,
			WriteTimeoutSeconds: 10,
			IdleTimeoutSeconds:  60,
		},
		Gate: GateConfig{
			Admin:         "admin",
			MaxAgeSeconds: int64(gate.DefaultMaxAge / time.Second),
		},
		Asset: AssetConfig{
			Name:     "Reserve Dollar",
			Symbol:   "RSVD",
			Decimals: 6,
		},
		Postgres: PostgresConfig{TimeoutSeconds: 5},
		Redis:    RedisConfig{TTLSeconds: 300},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads and validates the configuration at path. Values start
// from DefaultConfig, the file overrides them, and environment variables
// override both: DATABASE_URL, REDIS_ADDR, NATS_URL, RESERVEGATE_ADMIN_TOKEN.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigOrDefault loads path when it exists and falls back to the
// defaults plus environment overrides when it does not.
func LoadConfigOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
		cfg := DefaultConfig()
		cfg.applyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadConfig(path)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("RESERVEGATE_ADMIN_TOKEN"); v != "" {
		c.Server.AdminToken = v
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Gate.Admin == "" {
		return fmt.Errorf("gate admin must not be empty")
	}
	if c.Gate.MaxAgeSeconds < 0 {
		return fmt.Errorf("gate max_age_seconds must not be negative")
	}
	maxAge := c.Gate.MaxAgeSeconds
	if maxAge == 0 {
		maxAge = int64(gate.DefaultMaxAge / time.Second)
	}
	if c.Gate.HeartbeatSeconds < 0 {
		return fmt.Errorf("gate heartbeat_seconds must not be negative")
	}
	if c.Gate.HeartbeatSeconds > maxAge {
		return fmt.Errorf("gate heartbeat_seconds %d exceeds max_age_seconds %d", c.Gate.HeartbeatSeconds, maxAge)
	}
	if c.Asset.Symbol == "" {
		return fmt.Errorf("asset symbol must not be empty")
	}

	names := make(map[string]bool, len(c.Feeds))
	for i, feed := range c.Feeds {
		if feed.Name == "" {
			return fmt.Errorf("feed %d: name must not be empty", i)
		}
		if names[feed.Name] {
			return fmt.Errorf("feed %s declared twice", feed.Name)
		}
		names[feed.Name] = true

		switch feed.Kind {
		case FeedKindStatic:
		case FeedKindHTTP:
			if feed.URL == "" {
				return fmt.Errorf("feed %s: http feeds need a url", feed.Name)
			}
		default:
			return fmt.Errorf("feed %s: unknown kind %q", feed.Name, feed.Kind)
		}
	}

	if c.Gate.Feed != "" && !names[c.Gate.Feed] {
		return fmt.Errorf("gate feed %q is not declared in feeds", c.Gate.Feed)
	}
	return nil
}

func secondsOr(s int, fallback time.Duration) time.Duration {
	if s <= 0 {
		return fallback
	}
	return time.Duration(s) * time.Second
}
