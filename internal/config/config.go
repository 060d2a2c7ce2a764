// Package config loads both binaries' configuration from the environment and
// an optional .env file using Viper. Required values fail fast.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EmailProviderSendgrid = "sendgrid"
	EmailProviderConsole  = "console"

	BackendModeRemote   = "remote"
	BackendModeEmbedded = "embedded"
)

// Server is the mis-backend configuration.
type Server struct {
	Port         int           `mapstructure:"PORT"`
	MasterSecret string        `mapstructure:"MASTER_SECRET"`
	PublicKey    string        `mapstructure:"PUBLIC_KEY"`
	GinMode      string        `mapstructure:"GIN_MODE"`
	TLSCertFile  string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile   string        `mapstructure:"TLS_KEY_FILE"`
	TokenExpiry  time.Duration `mapstructure:"TOKEN_EXPIRY"`
	LogLevel     string        `mapstructure:"LOG_LEVEL"`

	// DatabaseURL selects the Postgres table store; empty keeps rows in memory.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// StateFile persists the in-memory store between restarts when set.
	StateFile string `mapstructure:"STATE_FILE"`
	// PolicyFile replaces the built-in row-level Rego policy.
	PolicyFile string `mapstructure:"POLICY_FILE"`

	// RedisAddr enables cross-instance relay of realtime change events.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisChannel  string `mapstructure:"REDIS_CHANNEL"`

	EmailProvider  string `mapstructure:"EMAIL_PROVIDER"`
	SendgridAPIKey string `mapstructure:"SENDGRID_API_KEY"`
	EmailFrom      string `mapstructure:"EMAIL_FROM"`
	EmailFromName  string `mapstructure:"EMAIL_FROM_NAME"`
	AppName        string `mapstructure:"APP_NAME"`

	AuthRateLimit        int  `mapstructure:"AUTH_RATE_LIMIT"`
	ProfileAutoProvision bool `mapstructure:"PROFILE_AUTO_PROVISION"`

	// AdminEmail and AdminPassword seed a first admin account on startup.
	AdminEmail    string `mapstructure:"ADMIN_EMAIL"`
	AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
}

// Client is the misctl configuration.
type Client struct {
	BackendMode          string        `mapstructure:"BACKEND_MODE"`
	BackendURL           string        `mapstructure:"BACKEND_URL"`
	BackendPublicKey     string        `mapstructure:"BACKEND_PUBLIC_KEY"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SessionFile          string        `mapstructure:"SESSION_FILE"`
	ProfileAutoProvision bool          `mapstructure:"PROFILE_AUTO_PROVISION"`
	WatchTables          string        `mapstructure:"WATCH_TABLES"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`

	// EmbeddedStateFile persists rows of the in-process backend in embedded mode.
	EmbeddedStateFile string `mapstructure:"EMBEDDED_STATE_FILE"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine
	v.AutomaticEnv()
	return v
}

// LoadServer reads .env (if present) and the environment.
func LoadServer() (Server, error) {
	return LoadServerFrom(newViper())
}

func LoadServerFrom(v *viper.Viper) (Server, error) {
	v.SetDefault("PORT", 3000)
	v.SetDefault("MASTER_SECRET", "")
	v.SetDefault("PUBLIC_KEY", "")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("TLS_CERT_FILE", "")
	v.SetDefault("TLS_KEY_FILE", "")
	v.SetDefault("TOKEN_EXPIRY", "168h")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("STATE_FILE", "")
	v.SetDefault("POLICY_FILE", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_CHANNEL", "mis:changes")
	v.SetDefault("EMAIL_PROVIDER", EmailProviderSendgrid)
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("EMAIL_FROM", "no-reply@youth-mis.local")
	v.SetDefault("EMAIL_FROM_NAME", "Youth MIS")
	v.SetDefault("APP_NAME", "Youth MIS")
	v.SetDefault("AUTH_RATE_LIMIT", 10)
	v.SetDefault("PROFILE_AUTO_PROVISION", true)
	v.SetDefault("ADMIN_EMAIL", "")
	v.SetDefault("ADMIN_PASSWORD", "")

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return Server{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func (c Server) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("config: invalid PORT")
	}
	if c.MasterSecret == "" {
		return errors.New("config: MASTER_SECRET is required")
	}
	if c.PublicKey == "" {
		return errors.New("config: PUBLIC_KEY is required")
	}
	if c.TokenExpiry <= 0 {
		return errors.New("config: invalid TOKEN_EXPIRY")
	}
	switch c.EmailProvider {
	case EmailProviderSendgrid:
		if c.SendgridAPIKey == "" {
			return errors.New("config: SENDGRID_API_KEY is required when EMAIL_PROVIDER=sendgrid")
		}
	case EmailProviderConsole:
	default:
		return fmt.Errorf("config: unknown EMAIL_PROVIDER %q", c.EmailProvider)
	}
	if c.AuthRateLimit <= 0 {
		return errors.New("config: invalid AUTH_RATE_LIMIT")
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return errors.New("config: ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	return nil
}

// LoadClient reads .env (if present) and the environment.
func LoadClient() (Client, error) {
	return LoadClientFrom(newViper())
}

func LoadClientFrom(v *viper.Viper) (Client, error) {
	v.SetDefault("BACKEND_MODE", BackendModeRemote)
	v.SetDefault("BACKEND_URL", "")
	v.SetDefault("BACKEND_PUBLIC_KEY", "")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SESSION_FILE", "")
	v.SetDefault("PROFILE_AUTO_PROVISION", true)
	v.SetDefault("WATCH_TABLES", "")
	v.SetDefault("LOG_LEVEL", "warn")
	v.SetDefault("EMBEDDED_STATE_FILE", "")

	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return Client{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

func (c Client) Validate() error {
	switch c.BackendMode {
	case BackendModeRemote:
		if c.BackendURL == "" {
			return errors.New("config: BACKEND_URL is required")
		}
		if !strings.HasPrefix(c.BackendURL, "http://") && !strings.HasPrefix(c.BackendURL, "https://") {
			return errors.New("config: BACKEND_URL must be an http(s) URL")
		}
		if c.BackendPublicKey == "" {
			return errors.New("config: BACKEND_PUBLIC_KEY is required")
		}
	case BackendModeEmbedded:
	default:
		return fmt.Errorf("config: unknown BACKEND_MODE %q", c.BackendMode)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("config: invalid REQUEST_TIMEOUT")
	}
	return nil
}

// SessionPath is where the access token is persisted between runs.
func (c Client) SessionPath() string {
	if c.SessionFile != "" {
		return c.SessionFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".youth-mis", "session.json")
	}
	return filepath.Join(home, ".youth-mis", "session.json")
}

// WatchedTables parses WATCH_TABLES; nil means every table.
func (c Client) WatchedTables() []string {
	if strings.TrimSpace(c.WatchTables) == "" {
		return nil
	}
	parts := strings.Split(c.WatchTables, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
