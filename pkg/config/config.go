package config

import (
	"os"
	"strconv"
	"time"
)

// DBConfig PostgreSQL connection settings for the Record Store.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// MQConfig RabbitMQ settings for the change feed.
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig Redis settings for the sync channel.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig session signing settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// ServerConfig HTTP listener settings.
type ServerConfig struct {
	Port    string `yaml:"port"`
	BaseURL string `yaml:"base_url"`
}

// SyncConfig tunes the client-side sync core.
type SyncConfig struct {
	KeyPrefix         string        `yaml:"key_prefix"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	DegradedAfter     int           `yaml:"degraded_after"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	PruneInterval     time.Duration `yaml:"prune_interval"`
	MaxAge            time.Duration `yaml:"max_age"`
	DedupWindow       time.Duration `yaml:"dedup_window"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	FeedEnabled       bool          `yaml:"feed_enabled"`
}

// Config is the full application configuration.
type Config struct {
	DB     DBConfig     `yaml:"db"`
	MQ     MQConfig     `yaml:"mq"`
	Redis  RedisConfig  `yaml:"redis"`
	JWT    JWTConfig    `yaml:"jwt"`
	Server ServerConfig `yaml:"server"`
	Sync   SyncConfig   `yaml:"sync"`
}

// DefaultSyncConfig returns the intervals used when the config file leaves them empty.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		KeyPrefix:         "tasksync:",
		HeartbeatInterval: 5 * time.Second,
		DegradedAfter:     3,
		PollInterval:      time.Second,
		PruneInterval:     time.Minute,
		MaxAge:            5 * time.Minute,
		DedupWindow:       30 * time.Second,
		ReconcileInterval: 10 * time.Second,
		FeedEnabled:       true,
	}
}

// WithDefaults fills zero values from DefaultSyncConfig.
func (c SyncConfig) WithDefaults() SyncConfig {
	d := DefaultSyncConfig()
	if c.KeyPrefix == "" {
		c.KeyPrefix = d.KeyPrefix
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.DegradedAfter <= 0 {
		c.DegradedAfter = d.DegradedAfter
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = d.PruneInterval
	}
	if c.MaxAge <= 0 {
		c.MaxAge = d.MaxAge
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = d.DedupWindow
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = d.ReconcileInterval
	}
	return c
}

// OverrideDBFromEnv applies DB_* environment overrides.
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv applies MQ_URL.
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv applies REDIS_* environment overrides.
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.DB = n
		}
	}
}

// OverrideJWTFromEnv applies JWT_SECRET and JWT_TTL.
func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
	if ttl := os.Getenv("JWT_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.TTL = d
		}
	}
}

// OverrideServerFromEnv applies SERVER_PORT and SERVER_BASE_URL.
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if base := os.Getenv("SERVER_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
}

// OverrideSyncFromEnv applies SYNC_* overrides.
func OverrideSyncFromEnv(cfg *SyncConfig) {
	if prefix := os.Getenv("SYNC_KEY_PREFIX"); prefix != "" {
		cfg.KeyPrefix = prefix
	}
	if v := os.Getenv("SYNC_RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReconcileInterval = d
		}
	}
	if v := os.Getenv("SYNC_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("SYNC_FEED_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.FeedEnabled = b
		}
	}
}
