// Package config decodes the agent's layered Viper configuration into typed
// settings.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ViperConfig wraps a Viper instance.
type ViperConfig struct {
	v *viper.Viper
}

// New creates a Config backed by the given Viper instance.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

// Viper returns the underlying Viper instance for direct access.
func (c *ViperConfig) Viper() *viper.Viper {
	return c.v
}

// Settings decodes and validates the full configuration.
func (c *ViperConfig) Settings() (*Settings, error) {
	var s Settings
	if err := c.v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Settings is the typed form of the configuration keys.
type Settings struct {
	Server    Server    `mapstructure:"server"`
	Logging   Logging   `mapstructure:"logging"`
	Database  Database  `mapstructure:"database"`
	Auth      Auth      `mapstructure:"auth"`
	Policy    Policy    `mapstructure:"policy"`
	Update    Update    `mapstructure:"update"`
	WPCLI     WPCLI     `mapstructure:"wpcli"`
	RateLimit RateLimit `mapstructure:"ratelimit"`
}

// Server holds the listener configuration.
type Server struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	DataDir string `mapstructure:"data_dir"`
	DevMode bool   `mapstructure:"dev_mode"`
}

// Addr returns the listen address as host:port.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Database struct {
	Path string `mapstructure:"path"`
}

// Auth configures request authentication. Token and Passphrase are secrets
// and must never be logged.
type Auth struct {
	Token      string        `mapstructure:"token"`
	Passphrase string        `mapstructure:"passphrase"`
	MaxSkew    time.Duration `mapstructure:"max_skew"`
}

type Policy struct {
	DisallowFileMods bool `mapstructure:"disallow_file_mods"`
}

type Update struct {
	Concurrency   int           `mapstructure:"concurrency"`
	TargetTimeout time.Duration `mapstructure:"target_timeout"`
}

type WPCLI struct {
	Binary    string `mapstructure:"binary"`
	Path      string `mapstructure:"path"`
	AllowRoot bool   `mapstructure:"allow_root"`
}

type RateLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// DatabasePath returns database.path, or nozier.db inside the data
// directory when unset.
func (s *Settings) DatabasePath() string {
	if s.Database.Path != "" {
		return s.Database.Path
	}
	return filepath.Join(s.Server.DataDir, "nozier.db")
}

// Validate reports every invalid setting at once.
func (s *Settings) Validate() error {
	var errs []error
	if s.Server.Port < 0 || s.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", s.Server.Port))
	}
	if s.Auth.MaxSkew <= 0 {
		errs = append(errs, fmt.Errorf("auth.max_skew must be positive, got %s", s.Auth.MaxSkew))
	}
	if s.Update.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("update.concurrency must be at least 1, got %d", s.Update.Concurrency))
	}
	if s.Update.TargetTimeout <= 0 {
		errs = append(errs, fmt.Errorf("update.target_timeout must be positive, got %s", s.Update.TargetTimeout))
	}
	if s.RateLimit.RPS < 0 || s.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("ratelimit.rps and ratelimit.burst must not be negative"))
	}
	if s.Server.DataDir == "" && s.Database.Path == "" {
		errs = append(errs, errors.New("one of server.data_dir or database.path is required"))
	}
	return errors.Join(errs...)
}
