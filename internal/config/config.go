// Package config handles loading and validating mailmirror configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wesm/mailmirror/internal/labels"
	"github.com/wesm/mailmirror/internal/query"
	"github.com/wesm/mailmirror/internal/scheduler"
)

// Config represents the mailmirror configuration.
type Config struct {
	Data   DataConfig   `toml:"data"`
	Auth   AuthConfig   `toml:"auth"`
	Sync   SyncConfig   `toml:"sync"`
	Query  QueryConfig  `toml:"query"`
	Server ServerConfig `toml:"server"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	configPath string
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir      string `toml:"data_dir"`
	DatabaseFile string `toml:"database_file"`
}

// AuthConfig holds credential configuration.
type AuthConfig struct {
	TokenEndpoint  string `toml:"token_endpoint"`  // GET returns {"accessToken": "..."}
	KeyringDir     string `toml:"keyring_dir"`     // file keyring location
	KeyringBackend string `toml:"keyring_backend"` // "auto" or "file"
}

// SyncConfig holds sync-related configuration.
type SyncConfig struct {
	PollInterval        string   `toml:"poll_interval"`
	PageSize            int64    `toml:"page_size"`
	Buckets             []string `toml:"buckets"`
	FetchConcurrency    int      `toml:"fetch_concurrency"`
	PrefetchConcurrency int      `toml:"prefetch_concurrency"`
	PrefetchQueue       int      `toml:"prefetch_queue"`
	QuotaUnitsPerSecond float64  `toml:"quota_units_per_second"`
	ResyncSchedule      string   `toml:"resync_schedule"` // cron expression, empty disables
}

// QueryConfig holds read-side configuration.
type QueryConfig struct {
	DefaultPageSize int    `toml:"default_page_size"`
	TodayBasis      string `toml:"today_basis"` // internal_date or date_header
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort     int      `toml:"api_port"`
	BindAddr    string   `toml:"bind_addr"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// DefaultHome returns the default mailmirror home directory.
// Respects MAILMIRROR_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MAILMIRROR_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailmirror"
	}
	return filepath.Join(home, ".mailmirror")
}

// NewDefaultConfig returns a configuration with every default applied and
// no file loaded.
func NewDefaultConfig() *Config {
	return defaults(DefaultHome())
}

func defaults(homeDir string) *Config {
	return &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir:      homeDir,
			DatabaseFile: "mailmirror.sqlite3",
		},
		Auth: AuthConfig{
			TokenEndpoint:  "http://localhost:3001/auth/token",
			KeyringBackend: "auto",
		},
		Sync: SyncConfig{
			PollInterval:        "20s",
			PageSize:            100,
			FetchConcurrency:    8,
			PrefetchConcurrency: 4,
			PrefetchQueue:       256,
			QuotaUnitsPerSecond: 250,
		},
		Query: QueryConfig{
			DefaultPageSize: query.DefaultPageSize,
			TodayBasis:      string(query.BasisInternalDate),
		},
		Server: ServerConfig{
			APIPort:  8710,
			BindAddr: "127.0.0.1",
		},
	}
}

// Load reads the configuration from the specified file.
//
// With an empty path, <home>/config.toml is read if it exists, where home
// is homeDir or DefaultHome(). An explicit path must exist; its directory
// becomes the home, and relative paths in it resolve against that directory.
func Load(path, homeDir string) (*Config, error) {
	explicit := path != ""
	if explicit {
		path = expandPath(path)
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		path = abs
		homeDir = filepath.Dir(path)
	} else {
		if homeDir == "" {
			homeDir = DefaultHome()
		}
		homeDir = expandPath(homeDir)
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := defaults(homeDir)
	cfg.configPath = path

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		// Config file is optional - use defaults if not present
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, decodeError(err)
	}

	cfg.Data.DataDir = resolvePath(cfg.Data.DataDir, homeDir)
	cfg.Auth.KeyringDir = resolvePath(cfg.Auth.KeyringDir, homeDir)
	return cfg, nil
}

// decodeError adds a hint for the most common TOML mistake: Windows paths
// in double-quoted strings, where backslashes start escapes.
func decodeError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "invalid escape") || strings.Contains(msg, "hexadecimal digits") {
		return fmt.Errorf("decode config: %w\nhint: use forward slashes (C:/Users/me) or single quotes ('C:\\Users\\me') for paths", err)
	}
	return fmt.Errorf("decode config: %w", err)
}

// ConfigFilePath returns the path the configuration was (or would be)
// loaded from.
func (c *Config) ConfigFilePath() string {
	if c.configPath != "" {
		return c.configPath
	}
	return filepath.Join(c.HomeDir, "config.toml")
}

// DatabasePath returns the path to the SQLite cache.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, c.Data.DatabaseFile)
}

// KeyringDir returns the directory of the file keyring backend.
func (c *Config) KeyringDir() string {
	if c.Auth.KeyringDir != "" {
		return c.Auth.KeyringDir
	}
	return filepath.Join(c.Data.DataDir, "keyring")
}

// PollInterval returns the parsed background tick interval.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Sync.PollInterval)
	if err != nil || d <= 0 {
		return 20 * time.Second
	}
	return d
}

// Buckets returns the configured bootstrap buckets, or the standard set.
func (c *Config) Buckets() []labels.Label {
	if len(c.Sync.Buckets) == 0 {
		return labels.Buckets()
	}
	out := make([]labels.Label, 0, len(c.Sync.Buckets))
	for _, b := range c.Sync.Buckets {
		if strings.TrimSpace(b) == "" {
			continue
		}
		out = append(out, labels.Parse(b))
	}
	return out
}

// TodayBasis returns the parsed today basis. Validate rejects unknown values.
func (c *Config) TodayBasis() query.TodayBasis {
	b, err := query.ParseTodayBasis(c.Query.TodayBasis)
	if err != nil {
		return query.BasisInternalDate
	}
	return b
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.BindAddr, fmt.Sprint(c.Server.APIPort))
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if d, err := time.ParseDuration(c.Sync.PollInterval); err != nil {
		errs = append(errs, fmt.Errorf("sync.poll_interval: %w", err))
	} else if d < time.Second {
		errs = append(errs, fmt.Errorf("sync.poll_interval: %s is below 1s", d))
	}
	if c.Sync.PageSize <= 0 || c.Sync.PageSize > 500 {
		errs = append(errs, fmt.Errorf("sync.page_size: %d is outside 1..500", c.Sync.PageSize))
	}
	if c.Sync.FetchConcurrency <= 0 {
		errs = append(errs, errors.New("sync.fetch_concurrency must be positive"))
	}
	if c.Sync.PrefetchConcurrency <= 0 {
		errs = append(errs, errors.New("sync.prefetch_concurrency must be positive"))
	}
	if c.Sync.PrefetchQueue <= 0 {
		errs = append(errs, errors.New("sync.prefetch_queue must be positive"))
	}
	if c.Sync.QuotaUnitsPerSecond < 0 {
		errs = append(errs, errors.New("sync.quota_units_per_second must not be negative"))
	}
	if c.Sync.ResyncSchedule != "" {
		if err := scheduler.ValidateCronExpr(c.Sync.ResyncSchedule); err != nil {
			errs = append(errs, fmt.Errorf("sync.resync_schedule: %w", err))
		}
	}
	if _, err := query.ParseTodayBasis(c.Query.TodayBasis); err != nil {
		errs = append(errs, fmt.Errorf("query.today_basis: %w", err))
	}
	if c.Query.DefaultPageSize <= 0 {
		errs = append(errs, errors.New("query.default_page_size must be positive"))
	}
	if c.Server.APIPort <= 0 || c.Server.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("server.api_port: %d is not a valid port", c.Server.APIPort))
	}
	if !IsLoopback(c.Server.BindAddr) && c.Server.APIKey == "" {
		errs = append(errs, fmt.Errorf("server.api_key is required when binding to %q", c.Server.BindAddr))
	}
	switch c.Auth.KeyringBackend {
	case "", "auto", "file":
	default:
		errs = append(errs, fmt.Errorf("auth.keyring_backend: unknown backend %q", c.Auth.KeyringBackend))
	}

	return errors.Join(errs...)
}

// IsLoopback reports whether addr only accepts local connections.
func IsLoopback(addr string) bool {
	if addr == "localhost" {
		return true
	}
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// resolvePath expands ~ and makes a relative path absolute against base.
func resolvePath(path, base string) string {
	path = expandPath(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
