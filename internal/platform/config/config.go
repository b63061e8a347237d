// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"strings"
)

// Config holds the server configuration.
type Config struct {
	// Mode is the operating mode: prod or dev.
	Mode string `toml:"mode"`

	// ListenAddr is the address to listen on.
	// Example: ":9300"
	ListenAddr string `toml:"listen_addr"`

	// Server holds server-level settings.
	Server ServerConfig `toml:"server"`

	// Cache configuration (pairing claim store).
	Cache CacheConfig `toml:"cache"`

	// Store configuration (device/screen registry).
	Store StoreConfig `toml:"store"`

	// Fanout configuration for cross-process event delivery.
	Fanout FanoutConfig `toml:"fanout"`

	// Realtime configuration for the socket gateway.
	Realtime RealtimeConfig `toml:"realtime"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig holds server-level settings.
type ServerConfig struct {
	// BootstrapAdmin seeds an admin user at startup when both fields
	// are set. Intended for first-run provisioning.
	BootstrapAdmin BootstrapAdminConfig `toml:"bootstrap_admin"`
}

// BootstrapAdminConfig holds the seeded admin credentials.
type BootstrapAdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	// Driver is the cache driver name: "memory" (default) or "redis".
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration.
	// Example: [cache.drivers.redis] addr = "localhost:6379"
	Drivers map[string]map[string]any `toml:"drivers"`
}

// DriverOptions returns the options map for the configured driver.
func (c *CacheConfig) DriverOptions() map[string]any {
	if c.Drivers == nil {
		return nil
	}
	return c.Drivers[c.Driver]
}

// StoreConfig holds registry settings.
type StoreConfig struct {
	// Driver is the store driver name: "sqlite" (default) or "memory".
	Driver string `toml:"driver"`

	// DataDir is where file-backed drivers keep their data.
	DataDir string `toml:"data_dir"`
}

// FanoutConfig holds cross-process broadcast settings. When disabled,
// events stay within the local process.
type FanoutConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

// RealtimeConfig holds socket gateway settings.
type RealtimeConfig struct {
	// OfflineGraceMS is how long a device serial may be absent before
	// it is marked offline. Quick reconnects inside the window do not
	// flip the status.
	OfflineGraceMS int `toml:"offline_grace_ms"`

	// ClaimTTLMinutes bounds how long an unconfirmed pairing claim
	// stays resumable.
	ClaimTTLMinutes int `toml:"claim_ttl_minutes"`

	// SessionTTLHours is the user session lifetime.
	SessionTTLHours int `toml:"session_ttl_hours"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	// Default: info in prod mode, debug in dev mode.
	Level string `toml:"level"`

	// AllowSensitive permits logging of sensitive values (tokens, secrets).
	// Default: false. Use only for debugging.
	AllowSensitive bool `toml:"allow_sensitive"`
}

// Redacted returns a string representation of the config with secrets redacted.
func (c *Config) Redacted() string {
	var sb strings.Builder
	sb.WriteString("Config{\n")
	sb.WriteString(fmt.Sprintf("  Mode: %q,\n", c.Mode))
	sb.WriteString(fmt.Sprintf("  ListenAddr: %q,\n", c.ListenAddr))
	sb.WriteString("  Server: {\n")
	sb.WriteString("    BootstrapAdmin: {\n")
	sb.WriteString(fmt.Sprintf("      Username: %q,\n", c.Server.BootstrapAdmin.Username))
	sb.WriteString("      Password: [REDACTED],\n")
	sb.WriteString("    },\n")
	sb.WriteString("  },\n")
	sb.WriteString("  Cache: {\n")
	sb.WriteString(fmt.Sprintf("    Driver: %q,\n", c.Cache.Driver))
	sb.WriteString("  },\n")
	sb.WriteString("  Store: {\n")
	sb.WriteString(fmt.Sprintf("    Driver: %q,\n", c.Store.Driver))
	sb.WriteString(fmt.Sprintf("    DataDir: %q,\n", c.Store.DataDir))
	sb.WriteString("  },\n")
	sb.WriteString("  Fanout: {\n")
	sb.WriteString(fmt.Sprintf("    Enabled: %v,\n", c.Fanout.Enabled))
	sb.WriteString(fmt.Sprintf("    Addr: %q,\n", c.Fanout.Addr))
	sb.WriteString("    Password: [REDACTED],\n")
	sb.WriteString(fmt.Sprintf("    DB: %d,\n", c.Fanout.DB))
	sb.WriteString(fmt.Sprintf("    Channel: %q,\n", c.Fanout.Channel))
	sb.WriteString("  },\n")
	sb.WriteString("  Realtime: {\n")
	sb.WriteString(fmt.Sprintf("    OfflineGraceMS: %d,\n", c.Realtime.OfflineGraceMS))
	sb.WriteString(fmt.Sprintf("    ClaimTTLMinutes: %d,\n", c.Realtime.ClaimTTLMinutes))
	sb.WriteString(fmt.Sprintf("    SessionTTLHours: %d,\n", c.Realtime.SessionTTLHours))
	sb.WriteString("  },\n")
	sb.WriteString("  Logging: {\n")
	sb.WriteString(fmt.Sprintf("    Level: %q,\n", c.Logging.Level))
	sb.WriteString(fmt.Sprintf("    AllowSensitive: %v,\n", c.Logging.AllowSensitive))
	sb.WriteString("  },\n")
	sb.WriteString("}")
	return sb.String()
}
