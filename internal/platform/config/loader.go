package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Mode represents the server operating mode.
type Mode string

const (
	ModeProd Mode = "prod"
	ModeDev  Mode = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "":
		return ModeProd, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of prod, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr    *string
	CacheDriver   *string
	StoreDriver   *string
	StoreDataDir  *string
	FanoutAddr    *string
	AdminUsername *string
	AdminPassword *string
	LoggingLevel  *string
}

// fileConfig mirrors Config but with pointer sections to detect presence.
type fileConfig struct {
	Mode       string `toml:"mode"`
	ListenAddr string `toml:"listen_addr"`

	Server   *ServerConfig   `toml:"server"`
	Cache    *CacheConfig    `toml:"cache"`
	Store    *StoreConfig    `toml:"store"`
	Fanout   *FanoutConfig   `toml:"fanout"`
	Realtime *RealtimeConfig `toml:"realtime"`
	Logging  *LoggingConfig  `toml:"logging"`
}

// Load resolves the effective configuration: mode preset, then TOML
// file, then CLI flags, each layer overriding the previous one.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var fc fileConfig

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
	}

	modeStr := fc.Mode
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}
	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)

	if opts.ConfigPath != "" {
		overlayFileConfig(cfg, &fc)
	}
	overlayFlags(cfg, opts.FlagOverrides)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// presetForMode returns the base config for a given mode.
func presetForMode(mode Mode) *Config {
	switch mode {
	case ModeDev:
		return DevConfig()
	default:
		return ProdConfig()
	}
}

// ProdConfig returns production-safe defaults.
func ProdConfig() *Config {
	return &Config{
		Mode:       string(ModeProd),
		ListenAddr: ":9300",
		Cache: CacheConfig{
			Driver: "redis",
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: ".vitrin/data",
		},
		Fanout: FanoutConfig{
			Enabled: true,
			Addr:    "localhost:6379",
			Channel: "vitrin:broadcast",
		},
		Realtime: RealtimeConfig{
			OfflineGraceMS:  10000,
			ClaimTTLMinutes: 100,
			SessionTTLHours: 72,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DevConfig returns single-process developer defaults: everything in
// memory, no external services.
func DevConfig() *Config {
	cfg := ProdConfig()
	cfg.Mode = string(ModeDev)
	cfg.Cache.Driver = "memory"
	cfg.Store.Driver = "memory"
	cfg.Fanout.Enabled = false
	cfg.Logging.Level = "debug"
	return cfg
}

func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.Mode != "" {
		cfg.Mode = fc.Mode
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.Server != nil {
		if fc.Server.BootstrapAdmin.Username != "" {
			cfg.Server.BootstrapAdmin.Username = fc.Server.BootstrapAdmin.Username
		}
		if fc.Server.BootstrapAdmin.Password != "" {
			cfg.Server.BootstrapAdmin.Password = fc.Server.BootstrapAdmin.Password
		}
	}
	if fc.Cache != nil {
		if fc.Cache.Driver != "" {
			cfg.Cache.Driver = fc.Cache.Driver
		}
		if fc.Cache.Drivers != nil {
			cfg.Cache.Drivers = fc.Cache.Drivers
		}
	}
	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
		if fc.Store.DataDir != "" {
			cfg.Store.DataDir = fc.Store.DataDir
		}
	}
	if fc.Fanout != nil {
		cfg.Fanout.Enabled = fc.Fanout.Enabled
		if fc.Fanout.Addr != "" {
			cfg.Fanout.Addr = fc.Fanout.Addr
		}
		if fc.Fanout.Password != "" {
			cfg.Fanout.Password = fc.Fanout.Password
		}
		if fc.Fanout.DB != 0 {
			cfg.Fanout.DB = fc.Fanout.DB
		}
		if fc.Fanout.Channel != "" {
			cfg.Fanout.Channel = fc.Fanout.Channel
		}
	}
	if fc.Realtime != nil {
		if fc.Realtime.OfflineGraceMS != 0 {
			cfg.Realtime.OfflineGraceMS = fc.Realtime.OfflineGraceMS
		}
		if fc.Realtime.ClaimTTLMinutes != 0 {
			cfg.Realtime.ClaimTTLMinutes = fc.Realtime.ClaimTTLMinutes
		}
		if fc.Realtime.SessionTTLHours != 0 {
			cfg.Realtime.SessionTTLHours = fc.Realtime.SessionTTLHours
		}
	}
	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.Logging.Level = fc.Logging.Level
		}
		cfg.Logging.AllowSensitive = fc.Logging.AllowSensitive
	}
}

func overlayFlags(cfg *Config, flags FlagOverrides) {
	if flags.ListenAddr != nil && *flags.ListenAddr != "" {
		cfg.ListenAddr = *flags.ListenAddr
	}
	if flags.CacheDriver != nil && *flags.CacheDriver != "" {
		cfg.Cache.Driver = *flags.CacheDriver
	}
	if flags.StoreDriver != nil && *flags.StoreDriver != "" {
		cfg.Store.Driver = *flags.StoreDriver
	}
	if flags.StoreDataDir != nil && *flags.StoreDataDir != "" {
		cfg.Store.DataDir = *flags.StoreDataDir
	}
	if flags.FanoutAddr != nil && *flags.FanoutAddr != "" {
		cfg.Fanout.Addr = *flags.FanoutAddr
	}
	if flags.AdminUsername != nil && *flags.AdminUsername != "" {
		cfg.Server.BootstrapAdmin.Username = *flags.AdminUsername
	}
	if flags.AdminPassword != nil && *flags.AdminPassword != "" {
		cfg.Server.BootstrapAdmin.Password = *flags.AdminPassword
	}
	if flags.LoggingLevel != nil && *flags.LoggingLevel != "" {
		cfg.Logging.Level = *flags.LoggingLevel
	}
}

func validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of debug, info, warn, error", cfg.Logging.Level)
	}

	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen_addr %q: %w", cfg.ListenAddr, err)
	}

	if cfg.Fanout.Enabled && cfg.Fanout.Addr == "" {
		return fmt.Errorf("fanout.addr must be set when fanout is enabled")
	}

	if cfg.Realtime.OfflineGraceMS < 0 {
		return fmt.Errorf("realtime.offline_grace_ms must not be negative")
	}
	return nil
}
