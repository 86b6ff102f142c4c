package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/genc-murat/routepool/internal/pool"
	"github.com/genc-murat/routepool/internal/route"
	"github.com/genc-murat/routepool/internal/transport"
	"github.com/genc-murat/routepool/pkg/protocol"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Environment string          `yaml:"environment"`
	Pool        PoolConfig      `yaml:"pool"`
	Transport   TransportConfig `yaml:"transport"`
	Client      ClientConfig    `yaml:"client"`
	Admin       AdminConfig     `yaml:"admin"`
	Metrics     MetricsConfig   `yaml:"metrics"`
	Logging     LoggingConfig   `yaml:"logging"`
}

type PoolConfig struct {
	MaxTotal           int `yaml:"max_total"`
	DefaultMaxPerRoute int `yaml:"default_max_per_route"`
	// Routes overrides the per-route limit, keyed by route string
	// ("http://host:port", optionally "... via proxy:port").
	Routes                  map[string]int `yaml:"routes,omitempty"`
	LeaseTimeout            time.Duration  `yaml:"lease_timeout"`
	MaxIdleTime             time.Duration  `yaml:"max_idle_time"`
	TimeToLive              time.Duration  `yaml:"time_to_live"`
	ValidateAfterInactivity time.Duration  `yaml:"validate_after_inactivity"`
	EvictInterval           time.Duration  `yaml:"evict_interval"`
}

type TransportConfig struct {
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	KeepAlive          time.Duration `yaml:"keep_alive"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	StaleProbe         bool          `yaml:"stale_probe"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

type ClientConfig struct {
	// FallbackVersion is assumed for responses that carry no version.
	FallbackVersion *protocol.Version `yaml:"fallback_version"`
	// KeepAliveDefault bounds reuse of connections whose response sent no
	// Keep-Alive timeout. Zero leaves them to the pool's own expiry.
	KeepAliveDefault time.Duration `yaml:"keep_alive_default"`
	Proxy            string        `yaml:"proxy,omitempty"`
}

type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Runtime   bool   `yaml:"runtime"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Environment: "development",
		Pool: PoolConfig{
			MaxTotal:                pool.DefaultMaxTotal,
			DefaultMaxPerRoute:      pool.DefaultMaxPerRouteLimit,
			LeaseTimeout:            30 * time.Second,
			MaxIdleTime:             time.Minute,
			ValidateAfterInactivity: pool.DefaultValidateInactivity,
			EvictInterval:           10 * time.Second,
		},
		Transport: TransportConfig{
			DialTimeout:      transport.DefaultDialTimeout,
			KeepAlive:        transport.DefaultKeepAlive,
			HandshakeTimeout: transport.DefaultHandshakeTimeout,
			StaleProbe:       true,
		},
		Client: ClientConfig{
			FallbackVersion: protocol.HTTP11,
		},
		Admin: AdminConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9090",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "routepool",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, "config")); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no config directory above the working directory: %w", fs.ErrNotExist)
		}
		dir = parent
	}
}

// LoadConfig reads config/<env>.yaml (or .yml) from the nearest ancestor of
// the working directory that has a config directory.
func LoadConfig(env string) (*Config, error) {
	root, err := findProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("error finding project root: %w", err)
	}

	path := filepath.Join(root, "config", env+".yaml")
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(root, "config", env+".yml")
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Environment = env
	return cfg, nil
}

// LoadFile reads a config file under a shared lock. Values missing from
// the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	// flock would create a missing file.
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	lock := flock.New(path)
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("error locking config file: %w", err)
	}
	data, err := os.ReadFile(path)
	lock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := Default()
	// The decoder writes through non-nil pointers; keep the shared
	// HTTP/1.1 instance out of its reach.
	cfg.Client.FallbackVersion = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path under an exclusive lock.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lock := flock.New(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("error locking config file: %w", err)
	}
	defer lock.Unlock()
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) Validate() error {
	p := c.Pool
	if p.MaxTotal < 0 || p.DefaultMaxPerRoute < 0 {
		return fmt.Errorf("%w: pool limits must not be negative", ErrInvalidConfig)
	}
	if _, err := c.RouteLimits(); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}
	switch v := c.Client.FallbackVersion; {
	case v == nil:
		c.Client.FallbackVersion = protocol.HTTP11
	case v.Protocol() == protocol.HTTPProtocol:
		c.Client.FallbackVersion, _ = protocol.HTTP(v.Major(), v.Minor())
	}
	return nil
}

// RouteLimits parses the per-route overrides.
func (c *Config) RouteLimits() (map[route.Route]int, error) {
	limits := make(map[route.Route]int, len(c.Pool.Routes))
	for key, n := range c.Pool.Routes {
		r, err := route.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("%w: pool.routes %q: %v", ErrInvalidConfig, key, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: pool.routes %q: negative limit", ErrInvalidConfig, key)
		}
		limits[r] = n
	}
	return limits, nil
}

func (c *Config) PoolConfig() pool.Config {
	return pool.Config{
		MaxTotal:                c.Pool.MaxTotal,
		DefaultMaxPerRoute:      c.Pool.DefaultMaxPerRoute,
		LeaseTimeout:            c.Pool.LeaseTimeout,
		TimeToLive:              c.Pool.TimeToLive,
		ValidateAfterInactivity: c.Pool.ValidateAfterInactivity,
		EvictInterval:           c.Pool.EvictInterval,
		MaxIdleTime:             c.Pool.MaxIdleTime,
	}
}

func (c *Config) Dialer() *transport.Dialer {
	d := &transport.Dialer{
		Timeout:          c.Transport.DialTimeout,
		KeepAlive:        c.Transport.KeepAlive,
		HandshakeTimeout: c.Transport.HandshakeTimeout,
		StaleProbe:       c.Transport.StaleProbe,
	}
	if c.Transport.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return d
}
