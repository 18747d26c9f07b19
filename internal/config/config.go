package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Friend request duplicate policies.
const (
	FriendPolicyAutoAccept      = "auto_accept"
	FriendPolicyRejectDuplicate = "reject_duplicate"
)

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Format string `yaml:"format"` // "json" or "text"
	Level  string `yaml:"level"`
}

type LimitsConfig struct {
	MaxRolesPerUser  int `yaml:"max_roles_per_user"`
	MaxMessageLength int `yaml:"max_message_length"`
	RoleNameMax      int `yaml:"role_name_max"`
}

type FriendRequestConfig struct {
	Policy string `yaml:"policy"`
}

type PermissionConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"` // 0 disables the cache
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

type MetricsConfig struct {
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	Retention        time.Duration `yaml:"retention"`
}

type ServerConfig struct {
	Name           string              `yaml:"name"`
	Description    string              `yaml:"description"`
	Port           string              `yaml:"port,omitempty"` // e.g. ":8080"
	Database       DatabaseConfig      `yaml:"database"`
	Log            LogConfig           `yaml:"log"`
	Limits         LimitsConfig        `yaml:"limits"`
	FriendRequests FriendRequestConfig `yaml:"friend_requests"`
	Permissions    PermissionConfig    `yaml:"permissions"`
	RateLimit      RateLimitConfig     `yaml:"rate_limit"`
	Metrics        MetricsConfig       `yaml:"metrics"`
}

// Default returns a config with every default applied.
func Default() ServerConfig {
	var c ServerConfig
	c.applyDefaults()
	return c
}

func (c *ServerConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = "guild-server"
	}
	if c.Port == "" {
		c.Port = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/guild.db"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Limits.MaxRolesPerUser == 0 {
		c.Limits.MaxRolesPerUser = 16
	}
	if c.Limits.MaxMessageLength == 0 {
		c.Limits.MaxMessageLength = 4000
	}
	if c.Limits.RoleNameMax == 0 {
		c.Limits.RoleNameMax = 32
	}
	if c.FriendRequests.Policy == "" {
		c.FriendRequests.Policy = FriendPolicyAutoAccept
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 120
	}
	if c.Metrics.SnapshotInterval == 0 {
		c.Metrics.SnapshotInterval = time.Minute
	}
	if c.Metrics.Retention == 0 {
		c.Metrics.Retention = 7 * 24 * time.Hour
	}
}

// Validate rejects values the services cannot run with.
func (c ServerConfig) Validate() error {
	switch c.FriendRequests.Policy {
	case FriendPolicyAutoAccept, FriendPolicyRejectDuplicate:
	default:
		return fmt.Errorf("friend_requests.policy: unknown policy %q", c.FriendRequests.Policy)
	}
	if c.Limits.MaxRolesPerUser < 0 || c.Limits.MaxMessageLength < 0 || c.Limits.RoleNameMax < 0 {
		return errors.New("limits must not be negative")
	}
	if c.Permissions.CacheTTL < 0 {
		return errors.New("permissions.cache_ttl must not be negative")
	}
	return nil
}

// LoadConfig reads the YAML file at path. A missing file yields the defaults.
func LoadConfig(path string) (ServerConfig, error) {
	var c ServerConfig
	f, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(f, &c); err != nil {
			return c, fmt.Errorf("parse config: %w", err)
		}
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// SaveConfig writes c to path.
func SaveConfig(path string, c ServerConfig) error {
	data, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
