package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Relay struct {
		Address      string        `yaml:"address"`
		PublicHost   string        `yaml:"public_host"`
		PublicPort   int           `yaml:"public_port"`
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
	} `yaml:"relay"`

	Mirror struct {
		BinaryPath    string        `yaml:"binary_path"`
		BasePort      int           `yaml:"base_port"`
		PortPoolSize  int           `yaml:"port_pool_size"`
		PortStrategy  string        `yaml:"port_strategy"`  // "hash" or "bind"
		ReadinessMode string        `yaml:"readiness_mode"` // "delay" or "port"
		SettleDelay   time.Duration `yaml:"settle_delay"`
		ReadyTimeout  time.Duration `yaml:"ready_timeout"`
		StopGrace     time.Duration `yaml:"stop_grace"`
		AspectRatio   float64       `yaml:"aspect_ratio"`
	} `yaml:"mirror"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Relay
	if c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty")
	}
	if c.Relay.PublicHost == "" {
		return fmt.Errorf("relay.public_host must not be empty")
	}
	if c.Relay.PublicPort <= 0 {
		return fmt.Errorf("relay.public_port must be > 0")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= 0 {
		return fmt.Errorf("relay.pong_timeout must be > 0")
	}

	// Mirror
	if c.Mirror.BinaryPath == "" {
		return fmt.Errorf("mirror.binary_path must not be empty")
	}
	if c.Mirror.BasePort <= 0 || c.Mirror.BasePort > 65535 {
		return fmt.Errorf("mirror.base_port must be in (0, 65535]")
	}
	if c.Mirror.PortPoolSize <= 0 {
		return fmt.Errorf("mirror.port_pool_size must be > 0")
	}
	if c.Mirror.BasePort+c.Mirror.PortPoolSize > 65536 {
		return fmt.Errorf("mirror.base_port + mirror.port_pool_size must not exceed 65536")
	}
	switch c.Mirror.PortStrategy {
	case "hash", "bind":
	default:
		return fmt.Errorf("mirror.port_strategy must be \"hash\" or \"bind\"")
	}
	switch c.Mirror.ReadinessMode {
	case "delay", "port":
	default:
		return fmt.Errorf("mirror.readiness_mode must be \"delay\" or \"port\"")
	}
	if c.Mirror.SettleDelay < 0 {
		return fmt.Errorf("mirror.settle_delay must be >= 0")
	}
	if c.Mirror.ReadyTimeout <= 0 {
		return fmt.Errorf("mirror.ready_timeout must be > 0")
	}
	if c.Mirror.StopGrace <= 0 {
		return fmt.Errorf("mirror.stop_grace must be > 0")
	}
	if c.Mirror.AspectRatio <= 0 {
		return fmt.Errorf("mirror.aspect_ratio must be > 0")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults. Env overrides still
	// apply and still have to pass validation.
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Relay.Address = ":8081"
	cfg.Relay.PublicHost = "localhost"
	cfg.Relay.PublicPort = 8081
	cfg.Relay.PingInterval = 30 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second

	cfg.Mirror.BinaryPath = "scrcpy"
	cfg.Mirror.BasePort = 27183
	cfg.Mirror.PortPoolSize = 100
	cfg.Mirror.PortStrategy = "hash"
	cfg.Mirror.ReadinessMode = "delay"
	cfg.Mirror.SettleDelay = 2 * time.Second
	cfg.Mirror.ReadyTimeout = 10 * time.Second
	cfg.Mirror.StopGrace = 5 * time.Second
	cfg.Mirror.AspectRatio = 16.0 / 9.0

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 120
	cfg.RateLimiting.WebSocket.Burst = 240

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("MIRRORCTL_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if addr := os.Getenv("MIRRORCTL_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
	if host := os.Getenv("MIRRORCTL_RELAY_PUBLIC_HOST"); host != "" {
		c.Relay.PublicHost = host
	}
	if port := os.Getenv("MIRRORCTL_RELAY_PUBLIC_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Relay.PublicPort = p
		}
	}
	if path := os.Getenv("MIRRORCTL_MIRROR_BINARY"); path != "" {
		c.Mirror.BinaryPath = path
	}
	if level := os.Getenv("MIRRORCTL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
