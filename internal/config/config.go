// Package config loads manager settings from defaults, a settings file and
// DCCMCP_* environment variables, in that order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/go-homedir"

	"github.com/rendis/dccmcp/internal/actions"
	"github.com/rendis/dccmcp/internal/logging"
	"github.com/rendis/dccmcp/internal/manager"
	"github.com/rendis/dccmcp/internal/middleware"
	"github.com/rendis/dccmcp/internal/scheduler"
)

// EnvPrefix prefixes every configuration environment variable.
const EnvPrefix = "DCCMCP_"

// Duration is a time.Duration written as "30s" in JSON and env values.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config holds the settings of one manager process.
type Config struct {
	Scope           string   `json:"scope" env:"SCOPE"`
	Name            string   `json:"name" env:"NAME"`
	ActionPaths     []string `json:"action_paths" env:"ACTION_PATHS" envSeparator:","`
	DuplicatePolicy string   `json:"duplicate_policy" env:"DUPLICATE_POLICY"`
	MaxWorkers      int      `json:"max_workers" env:"MAX_WORKERS"`
	RefreshInterval Duration `json:"refresh_interval" env:"REFRESH_INTERVAL"`
	RefreshSchedule string   `json:"refresh_schedule" env:"REFRESH_SCHEDULE"`
	// Middleware lists built-in middleware installed in order.
	Middleware []string `json:"middleware" env:"MIDDLEWARE" envSeparator:","`
	// SlowThreshold is the performance middleware threshold in seconds.
	SlowThreshold float64 `json:"slow_threshold" env:"SLOW_THRESHOLD"`
	LogLevel      string  `json:"log_level" env:"LOG_LEVEL"`
	LogFormat     string  `json:"log_format" env:"LOG_FORMAT"`
	// JournalPath enables the execution journal when set.
	JournalPath string `json:"journal_path" env:"JOURNAL_PATH"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		DuplicatePolicy: string(actions.PolicyReplace),
		SlowThreshold:   middleware.DefaultSlowThreshold.Seconds(),
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Dir returns the per-user configuration directory.
func Dir() string {
	dir, err := homedir.Expand("~/.dccmcp")
	if err != nil {
		return ".dccmcp"
	}
	return dir
}

// SettingsPath returns the default settings file path.
func SettingsPath() string {
	return filepath.Join(Dir(), "settings.json")
}

// Load reads the default settings file and the process environment.
func Load() (Config, error) {
	return LoadFrom(SettingsPath(), nil)
}

// LoadFrom reads the settings file at path (a missing file is ignored)
// and then the environment. A nil environ means the process environment.
func LoadFrom(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read settings: %w", err)
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse settings %s: %w", path, err)
			}
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := actions.ParseDuplicatePolicy(c.DuplicatePolicy); err != nil {
		errs = append(errs, err)
	}
	if c.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("max_workers must not be negative"))
	}
	if c.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("refresh_interval must not be negative"))
	}
	if c.RefreshSchedule != "" {
		if c.RefreshInterval > 0 {
			errs = append(errs, fmt.Errorf("refresh_interval and refresh_schedule are mutually exclusive"))
		}
		if _, err := scheduler.Parse(c.RefreshSchedule); err != nil {
			errs = append(errs, err)
		}
	}
	if c.SlowThreshold < 0 {
		errs = append(errs, fmt.Errorf("slow_threshold must not be negative"))
	}
	known := []string{middleware.NameLogging, middleware.NamePerformance}
	for _, name := range c.Middleware {
		if !slices.Contains(known, name) {
			errs = append(errs, fmt.Errorf("unknown middleware %q (available: %s)", name, strings.Join(known, ", ")))
		}
	}
	if _, err := logging.NewLogger(c.LogLevel, c.LogFormat, io.Discard); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Logger builds the process logger writing to w.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	return logging.NewLogger(c.LogLevel, c.LogFormat, w)
}

// ManagerOptions maps the settings onto manager options.
func (c Config) ManagerOptions(logger *slog.Logger) manager.Options {
	return manager.Options{
		Name:            c.Name,
		Scope:           c.Scope,
		DuplicatePolicy: actions.DuplicatePolicy(c.DuplicatePolicy),
		ActionPaths:     slices.Clone(c.ActionPaths),
		MaxWorkers:      c.MaxWorkers,
		Logger:          logger,
	}
}

// Apply installs the configured middleware on m and starts auto-refresh
// when an interval or schedule is set.
func (c Config) Apply(m *manager.Manager) error {
	for _, name := range c.Middleware {
		var opts map[string]any
		if name == middleware.NamePerformance {
			opts = map[string]any{"threshold": c.SlowThreshold}
		}
		if err := m.UseBuiltin(name, opts); err != nil {
			return err
		}
	}
	switch {
	case c.RefreshSchedule != "":
		if _, err := m.StartAutoRefreshSchedule(c.RefreshSchedule); err != nil {
			return err
		}
	case c.RefreshInterval > 0:
		if _, err := m.StartAutoRefresh(time.Duration(c.RefreshInterval)); err != nil {
			return err
		}
	}
	return nil
}
