// Package config provides configuration loading and validation.
package config

// Config holds the server configuration.
type Config struct {
	// ListenAddr is the address to listen on.
	// Example: ":8000"
	ListenAddr string `json:"listen_addr" toml:"listen_addr"`

	// Database holds storage driver settings.
	Database DatabaseConfig `json:"database" toml:"database"`

	// Auth holds token signing settings.
	Auth AuthConfig `json:"auth" toml:"auth"`

	// Guest holds anonymous-project settings.
	Guest GuestConfig `json:"guest" toml:"guest"`

	// Sharing holds collaboration settings.
	Sharing SharingConfig `json:"sharing" toml:"sharing"`

	// Logging holds log output settings.
	Logging LoggingConfig `json:"logging" toml:"logging"`
}

// DatabaseConfig selects and configures the storage driver.
type DatabaseConfig struct {
	// Driver names a registered storage driver. Example: "sqlite"
	Driver string `json:"driver" toml:"driver"`

	// DataDir is where file-backed drivers keep their data.
	DataDir string `json:"data_dir" toml:"data_dir"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	// Secret signs access and refresh tokens. Required; there is no
	// usable default.
	Secret string `json:"secret" toml:"secret"`

	// AccessTTLMinutes is the access token lifetime.
	AccessTTLMinutes int `json:"access_ttl_minutes" toml:"access_ttl_minutes"`

	// RefreshTTLDays is the refresh token lifetime.
	RefreshTTLDays int `json:"refresh_ttl_days" toml:"refresh_ttl_days"`
}

// GuestConfig holds settings for anonymous guest projects.
type GuestConfig struct {
	// RetentionDays is how long an unclaimed guest project is kept.
	RetentionDays int `json:"retention_days" toml:"retention_days"`
}

// SharingConfig holds settings for shares and invites.
type SharingConfig struct {
	// InviteTTLDays is how long an email invite stays redeemable.
	InviteTTLDays int `json:"invite_ttl_days" toml:"invite_ttl_days"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error
	Level string `json:"level" toml:"level"`
}

// DefaultConfig returns a Config with sensible defaults for local
// development. Auth.Secret is intentionally left empty and must be set.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8000",
		Database: DatabaseConfig{
			Driver:  "sqlite",
			DataDir: ".canvasd",
		},
		Auth: AuthConfig{
			AccessTTLMinutes: 30,
			RefreshTTLDays:   7,
		},
		Guest: GuestConfig{
			RetentionDays: 30,
		},
		Sharing: SharingConfig{
			InviteTTLDays: 7,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
