package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/deskvisor/internal/env"
	"github.com/loykin/deskvisor/internal/lifecycle"
	"github.com/loykin/deskvisor/internal/logger"
	"github.com/loykin/deskvisor/internal/readiness"
	"github.com/loykin/deskvisor/internal/supervisor"
)

// EnvPrefix is prepended to every environment override, e.g. DESKVISOR_SERVICE_BINARY.
const EnvPrefix = "DESKVISOR"

var (
	// ErrNoBinary means production mode has no service binary configured.
	ErrNoBinary = errors.New("service.binary is required in production mode")
	// ErrInvalidMode means mode is neither production nor development.
	ErrInvalidMode = errors.New("invalid mode")
)

// Config represents the top-level TOML structure.
type Config struct {
	Mode      string          `toml:"mode" mapstructure:"mode"`
	DevURL    string          `toml:"dev_url" mapstructure:"dev_url"`
	StateDir  string          `toml:"state_dir" mapstructure:"state_dir"`
	Service   ServiceConfig   `toml:"service" mapstructure:"service"`
	Readiness ReadinessConfig `toml:"readiness" mapstructure:"readiness"`
	Shutdown  ShutdownConfig  `toml:"shutdown" mapstructure:"shutdown"`
	Log       logger.Config   `toml:"log" mapstructure:"log"`
	Ops       OpsConfig       `toml:"ops" mapstructure:"ops"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`
	Window    WindowConfig    `toml:"window" mapstructure:"window"`
}

type ServiceConfig struct {
	Name        string   `toml:"name" mapstructure:"name"`
	Binary      string   `toml:"binary" mapstructure:"binary"`
	ResourceDir string   `toml:"resource_dir" mapstructure:"resource_dir"`
	WorkDir     string   `toml:"workdir" mapstructure:"workdir"`
	Args        []string `toml:"args" mapstructure:"args"`
	Env         []string `toml:"env" mapstructure:"env"`
	EnvFiles    []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv    bool     `toml:"use_os_env" mapstructure:"use_os_env"`
}

type ReadinessConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
	Attempts int           `toml:"attempts" mapstructure:"attempts"`
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type ShutdownConfig struct {
	Grace time.Duration `toml:"grace" mapstructure:"grace"`
}

// OpsConfig enables the local operations endpoint when Listen is set.
type OpsConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
	Base   string `toml:"base" mapstructure:"base"`
}

// HistoryConfig enables the SQLite lifecycle history when SQLite is set.
type HistoryConfig struct {
	SQLite string `toml:"sqlite" mapstructure:"sqlite"`
}

type WindowConfig struct {
	Title       string `toml:"title" mapstructure:"title"`
	Listen      string `toml:"listen" mapstructure:"listen"`
	OpenBrowser bool   `toml:"open_browser" mapstructure:"open_browser"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(lifecycle.ModeProduction))
	v.SetDefault("dev_url", lifecycle.DefaultDevURL)
	v.SetDefault("state_dir", "")
	v.SetDefault("service.name", "backend")
	v.SetDefault("service.binary", "")
	v.SetDefault("service.resource_dir", "")
	v.SetDefault("service.workdir", "")
	v.SetDefault("service.args", []string{})
	v.SetDefault("service.env", []string{})
	v.SetDefault("service.env_files", []string{})
	v.SetDefault("service.use_os_env", true)
	v.SetDefault("readiness.interval", readiness.DefaultInterval)
	v.SetDefault("readiness.attempts", readiness.DefaultMaxAttempts)
	v.SetDefault("readiness.timeout", readiness.DefaultTimeout)
	v.SetDefault("shutdown.grace", supervisor.DefaultGraceDelay)
	v.SetDefault("log.slog.level", logger.LevelInfo)
	v.SetDefault("log.slog.format", logger.FormatText)
	v.SetDefault("log.slog.color", false)
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.slog.file", "")
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.stdout", "")
	v.SetDefault("log.file.stderr", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)
	v.SetDefault("ops.listen", "")
	v.SetDefault("ops.base", "")
	v.SetDefault("history.sqlite", "")
	v.SetDefault("window.title", "deskvisor")
	v.SetDefault("window.listen", "")
	v.SetDefault("window.open_browser", true)
}

// Load reads path (TOML; empty means defaults only) and applies DESKVISOR_*
// environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// ModeValue returns the parsed mode.
func (c *Config) ModeValue() lifecycle.Mode { return lifecycle.ParseMode(c.Mode) }

// Validate checks values that defaults cannot fix.
func (c *Config) Validate() error {
	switch c.Mode {
	case "production", "development", "dev":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}
	if c.ModeValue() == lifecycle.ModeProduction && strings.TrimSpace(c.Service.Binary) == "" {
		return ErrNoBinary
	}
	if c.Readiness.Attempts < 0 {
		return fmt.Errorf("readiness.attempts must be >= 0, got %d", c.Readiness.Attempts)
	}
	if c.Readiness.Interval < 0 || c.Readiness.Timeout < 0 {
		return errors.New("readiness durations must not be negative")
	}
	if c.Shutdown.Grace < 0 {
		return fmt.Errorf("shutdown.grace must not be negative, got %s", c.Shutdown.Grace)
	}
	return nil
}

// ResolveBinary returns the absolute service binary path. Relative paths are
// taken from service.resource_dir, which defaults to the directory of the
// running executable (the application bundle).
func (c *Config) ResolveBinary() (string, error) {
	bin := strings.TrimSpace(c.Service.Binary)
	if bin == "" {
		return "", ErrNoBinary
	}
	if runtime.GOOS == "windows" && filepath.Ext(bin) == "" {
		bin += ".exe"
	}
	if filepath.IsAbs(bin) {
		return filepath.Clean(bin), nil
	}
	dir := c.Service.ResourceDir
	if dir == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("locate executable: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		dir = filepath.Dir(exe)
	}
	return filepath.Join(dir, bin), nil
}

// ServiceEnv composes the backend environment: OS env (when use_os_env),
// then env_files in order, then the env list. It also reports whether
// VERBOSE is truthy in the result.
func (c *Config) ServiceEnv() ([]string, bool, error) {
	e := env.New()
	if c.Service.UseOSEnv {
		e.FromOS()
	} else {
		e.WithBase(nil)
	}
	for _, p := range c.Service.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, false, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, v := range pairs {
			e.Set(k, v)
		}
	}
	for _, kv := range c.Service.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
	return e.Merge(nil), e.Verbose(), nil
}

// SupervisorConfig builds the supervisor configuration.
func (c *Config) SupervisorConfig() (supervisor.Config, error) {
	bin, err := c.ResolveBinary()
	if err != nil {
		return supervisor.Config{}, err
	}
	envList, verbose, err := c.ServiceEnv()
	if err != nil {
		return supervisor.Config{}, err
	}
	return supervisor.Config{
		Name:       c.Service.Name,
		Binary:     bin,
		Args:       c.Service.Args,
		Verbose:    verbose,
		WorkDir:    c.Service.WorkDir,
		Env:        envList,
		Log:        c.Log.File,
		GraceDelay: c.Shutdown.Grace,
	}, nil
}

// ProbeConfig returns the probe tuning.
func (c *Config) ProbeConfig() readiness.Config {
	return readiness.Config{
		Interval:    c.Readiness.Interval,
		MaxAttempts: c.Readiness.Attempts,
		Timeout:     c.Readiness.Timeout,
	}
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
