// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr     *string
	DatabaseDriver *string
	DataDir        *string
	AuthSecret     *string
	LogLevel       *string
}

// fileConfig mirrors Config but with pointer sections to detect presence.
type fileConfig struct {
	ListenAddr string `toml:"listen_addr"`

	Database *DatabaseConfig `toml:"database"`
	Auth     *AuthConfig     `toml:"auth"`
	Guest    *GuestConfig    `toml:"guest"`
	Sharing  *SharingConfig  `toml:"sharing"`
	Logging  *LoggingConfig  `toml:"logging"`
}

// Load loads configuration with the following precedence:
//  1. Start from defaults
//  2. Overlay TOML config file values
//  3. Overlay CLI flags
//  4. Validate
//
// If ConfigPath is provided but the file is missing, unreadable, or
// invalid TOML, Load returns an error (fail fast). Unknown TOML keys
// produce a warning but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultConfig()

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		var fc fileConfig
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
		overlayFileConfig(cfg, &fc)
	}

	overlayFlags(cfg, opts.FlagOverrides)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayFileConfig applies TOML file values onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.Database != nil {
		if fc.Database.Driver != "" {
			cfg.Database.Driver = fc.Database.Driver
		}
		if fc.Database.DataDir != "" {
			cfg.Database.DataDir = fc.Database.DataDir
		}
	}
	if fc.Auth != nil {
		if fc.Auth.Secret != "" {
			cfg.Auth.Secret = fc.Auth.Secret
		}
		if fc.Auth.AccessTTLMinutes != 0 {
			cfg.Auth.AccessTTLMinutes = fc.Auth.AccessTTLMinutes
		}
		if fc.Auth.RefreshTTLDays != 0 {
			cfg.Auth.RefreshTTLDays = fc.Auth.RefreshTTLDays
		}
	}
	if fc.Guest != nil && fc.Guest.RetentionDays != 0 {
		cfg.Guest.RetentionDays = fc.Guest.RetentionDays
	}
	if fc.Sharing != nil && fc.Sharing.InviteTTLDays != 0 {
		cfg.Sharing.InviteTTLDays = fc.Sharing.InviteTTLDays
	}
	if fc.Logging != nil && fc.Logging.Level != "" {
		cfg.Logging.Level = fc.Logging.Level
	}
}

// overlayFlags applies CLI flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) {
	if f.ListenAddr != nil && *f.ListenAddr != "" {
		cfg.ListenAddr = *f.ListenAddr
	}
	if f.DatabaseDriver != nil && *f.DatabaseDriver != "" {
		cfg.Database.Driver = *f.DatabaseDriver
	}
	if f.DataDir != nil && *f.DataDir != "" {
		cfg.Database.DataDir = *f.DataDir
	}
	if f.AuthSecret != nil && *f.AuthSecret != "" {
		cfg.Auth.Secret = *f.AuthSecret
	}
	if f.LogLevel != nil && *f.LogLevel != "" {
		cfg.Logging.Level = *f.LogLevel
	}
}

// validate checks required fields and enum values.
func validate(cfg *Config) error {
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required: set it in the config file or with --auth-secret")
	}
	if cfg.Auth.AccessTTLMinutes <= 0 {
		return fmt.Errorf("auth.access_ttl_minutes must be positive, got %d", cfg.Auth.AccessTTLMinutes)
	}
	if cfg.Auth.RefreshTTLDays <= 0 {
		return fmt.Errorf("auth.refresh_ttl_days must be positive, got %d", cfg.Auth.RefreshTTLDays)
	}
	if cfg.Guest.RetentionDays <= 0 {
		return fmt.Errorf("guest.retention_days must be positive, got %d", cfg.Guest.RetentionDays)
	}
	if cfg.Sharing.InviteTTLDays <= 0 {
		return fmt.Errorf("sharing.invite_ttl_days must be positive, got %d", cfg.Sharing.InviteTTLDays)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of debug, info, warn, error", cfg.Logging.Level)
	}
	return nil
}

// ParseLogLevel maps a config level string to a slog level.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
