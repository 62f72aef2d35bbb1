package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/waymark/internal/placement"
	"github.com/starford/waymark/internal/workspace"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Workspace WorkspaceConfig   `yaml:"workspace"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Anchors   AnchorsConfig     `yaml:"anchors"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Workspace.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.Anchors.Validate()
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

// WorkspaceConfig holds the directory of workspace documents and the
// workspace CLI commands act on when none is given.
type WorkspaceConfig struct {
	Dir     string `yaml:"dir"`
	Default string `yaml:"default"`
}

// Validate validates the workspace configuration.
func (c *WorkspaceConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.Default, validation.Required),
	); err != nil {
		return err
	}
	return workspace.ValidateName(c.Default)
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

// AnchorsConfig holds placement behaviour shared by every workspace.
//
// MaxRebindDistance bounds nearest-plane rebinding in metres; 0 means
// unlimited.
type AnchorsConfig struct {
	Policy            string        `yaml:"policy"`
	MaxRebindDistance float64       `yaml:"max_rebind_distance"`
	StatusDuration    time.Duration `yaml:"status_duration"`
	AsyncSave         bool          `yaml:"async_save"`
}

// Validate validates the anchors configuration.
func (c *AnchorsConfig) Validate() error {
	if c.Policy == "" {
		c.Policy = string(placement.PolicyPerReference)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Policy, validation.In(string(placement.PolicyPerReference), string(placement.PolicySingleLock))),
		validation.Field(&c.MaxRebindDistance, validation.Min(0.0)),
		validation.Field(&c.StatusDuration, validation.Min(time.Duration(0))),
	)
}

// Settings converts the section into workspace service settings.
func (c *AnchorsConfig) Settings() (workspace.Settings, error) {
	policy, err := placement.ParsePolicy(c.Policy)
	if err != nil {
		return workspace.Settings{}, err
	}
	return workspace.Settings{
		Policy:            policy,
		MaxRebindDistance: c.MaxRebindDistance,
		StatusDuration:    c.StatusDuration,
		AsyncSave:         c.AsyncSave,
	}, nil
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
		Workspace: WorkspaceConfig{
			Dir:     "./workspaces",
			Default: "default",
		},
		SQLite: SQLiteConfig{
			Path: "./waymark.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Anchors: AnchorsConfig{
			Policy:         string(placement.PolicyPerReference),
			StatusDuration: 3 * time.Second,
		},
	}
}
