package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Store backends.
const (
	BackendFS       = "fs"
	BackendGit      = "git"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Store  StoreConfig       `yaml:"store"`
	Sync   SyncConfig        `yaml:"sync"`
	Ledger LedgerConfig      `yaml:"ledger"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig selects the versioned store holding the ledger. Only the
// subsection of the selected backend is read.
type StoreConfig struct {
	Backend  string         `yaml:"backend"`
	FS       FSConfig       `yaml:"fs"`
	Git      GitConfig      `yaml:"git"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = BackendFS
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required,
			validation.In(BackendFS, BackendGit, BackendRedis, BackendPostgres)),
	); err != nil {
		return err
	}
	switch c.Backend {
	case BackendFS:
		return c.FS.Validate()
	case BackendGit:
		return c.Git.Validate()
	case BackendRedis:
		return c.Redis.Validate()
	default:
		return c.Postgres.Validate()
	}
}

// FSConfig holds the directory of the fs backend.
type FSConfig struct {
	Dir string `yaml:"dir"`
}

// Validate validates the fs backend configuration.
func (c *FSConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// GitConfig holds the repository settings of the git backend.
type GitConfig struct {
	Dir         string `yaml:"dir"`
	Branch      string `yaml:"branch"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// Validate validates the git backend configuration.
func (c *GitConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.AuthorEmail, is.EmailFormat),
	)
}

// RedisConfig holds the connection settings of the redis backend.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// Validate validates the redis backend configuration.
func (c *RedisConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required),
	)
}

// PostgresConfig holds the connection settings of the postgres backend.
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// Validate validates the postgres backend configuration.
func (c *PostgresConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required),
	)
}

// SyncConfig bounds the optimistic-concurrency retry loop.
type SyncConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	CallTimeout time.Duration `yaml:"call_timeout"`

	// PollInterval re-reads the ledger to refresh the index when the
	// backend cannot be watched on disk. Zero disables polling.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1), validation.Max(20)),
		validation.Field(&c.BaseBackoff, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxBackoff, validation.Min(c.BaseBackoff)),
		validation.Field(&c.CallTimeout, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.PollInterval, validation.Min(time.Duration(0))),
	)
}

// LedgerConfig names the ledger document and how commits are attributed.
type LedgerConfig struct {
	Path   string `yaml:"path"`
	Title  string `yaml:"title"`
	Author string `yaml:"author"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required, validation.Length(1, 255)),
		validation.Field(&c.Title, validation.Required, validation.Length(1, 200)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Backend: BackendFS,
			FS:      FSConfig{Dir: "./data"},
			Git:     GitConfig{Dir: "./ledger-repo", Branch: "main"},
			Redis:   RedisConfig{Prefix: "linkledger:"},
		},
		Sync: SyncConfig{
			MaxAttempts:  5,
			BaseBackoff:  50 * time.Millisecond,
			MaxBackoff:   time.Second,
			CallTimeout:  10 * time.Second,
			PollInterval: 30 * time.Second,
		},
		Ledger: LedgerConfig{
			Path:   "links.md",
			Title:  "Useful Links",
			Author: "linkledger",
		},
		SQLite: SQLiteConfig{
			Path: "./linkledger.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
