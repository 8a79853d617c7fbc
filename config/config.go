package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// TrackingConfig holds the occupancy accounting parameters.
type TrackingConfig struct {
	ThresholdMinutes int64 `yaml:"threshold_minutes"`
}

// SchedulerConfig holds the cadences of the reconciliation jobs.
type SchedulerConfig struct {
	SweepIntervalSeconds int           `yaml:"sweep_interval_seconds"`
	SweepInterval        time.Duration `yaml:"-"` // Ignored by YAML parser
	InactivityWindowMin  int           `yaml:"inactivity_window_minutes"`
	InactivityWindow     time.Duration `yaml:"-"`
	DailyExitHour        int           `yaml:"daily_exit_hour"`
	Timezone             string        `yaml:"timezone"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// WebSocketConfig holds the broadcast hub configuration.
type WebSocketConfig struct {
	HeartbeatSeconds    int           `yaml:"heartbeat_seconds"`
	Heartbeat           time.Duration `yaml:"-"`
	WriteTimeoutSeconds int           `yaml:"write_timeout_seconds"`
	WriteTimeout        time.Duration `yaml:"-"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Tracking.ThresholdMinutes <= 0 {
		cfg.Tracking.ThresholdMinutes = 9600
	}

	if cfg.Scheduler.SweepIntervalSeconds <= 0 {
		cfg.Scheduler.SweepIntervalSeconds = 60
	}
	cfg.Scheduler.SweepInterval = time.Duration(cfg.Scheduler.SweepIntervalSeconds) * time.Second

	if cfg.Scheduler.InactivityWindowMin <= 0 {
		cfg.Scheduler.InactivityWindowMin = 10
	}
	cfg.Scheduler.InactivityWindow = time.Duration(cfg.Scheduler.InactivityWindowMin) * time.Minute

	if cfg.Scheduler.DailyExitHour <= 0 || cfg.Scheduler.DailyExitHour > 23 {
		cfg.Scheduler.DailyExitHour = 4
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.WebSocket.HeartbeatSeconds <= 0 {
		cfg.WebSocket.HeartbeatSeconds = 30
	}
	cfg.WebSocket.Heartbeat = time.Duration(cfg.WebSocket.HeartbeatSeconds) * time.Second

	if cfg.WebSocket.WriteTimeoutSeconds <= 0 {
		cfg.WebSocket.WriteTimeoutSeconds = 5
	}
	cfg.WebSocket.WriteTimeout = time.Duration(cfg.WebSocket.WriteTimeoutSeconds) * time.Second

	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}

	return &cfg, nil
}
