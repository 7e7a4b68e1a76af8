// Package config loads server settings from an optional YAML file, an
// optional .env file and the process environment, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/queue"
)

// Store drivers.
const (
	DriverMemory      = "memory"
	DriverSQLite      = "sqlite"
	DriverPostgres    = "postgres"
	DriverBunPostgres = "bun-postgres"
	DriverRedis       = "redis"
	DriverMongo       = "mongo"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the fully resolved server configuration.
type Config struct {
	HTTP      HTTPConfig
	Store     StoreConfig
	Engine    conductor.Config
	Admission queue.AdmissionConfig
	Log       LogConfig
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string
	DSN    string
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  slog.Level
	Format string
	// Audit logs a structured audit record for every job and delivery
	// lifecycle event.
	Audit bool
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		HTTP:      HTTPConfig{Addr: ":8080"},
		Store:     StoreConfig{Driver: DriverSQLite, DSN: "conductor.db"},
		Engine:    conductor.DefaultConfig(),
		Admission: queue.AdmissionConfig{Burst: 1},
		Log:       LogConfig{Level: slog.LevelInfo, Format: FormatText},
	}
}

type loadOptions struct {
	envFiles []string
	lookup   func(string) (string, bool)
}

// Option configures Load.
type Option func(*loadOptions)

// WithEnvFiles sets the dotenv files to read. The default is ".env".
// Missing files are skipped.
func WithEnvFiles(files ...string) Option {
	return func(o *loadOptions) { o.envFiles = files }
}

// WithLookup replaces os.LookupEnv.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(o *loadOptions) { o.lookup = fn }
}

// Load builds a Config. path names an optional YAML file; empty skips it.
// Values from dotenv files apply over the file, and real environment
// variables apply over both. Invalid values fail with a
// *conductor.ValidationError.
func Load(path string, opts ...Option) (*Config, error) {
	o := loadOptions{envFiles: []string{".env"}, lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	var raw fileConfig
	if path != "" {
		if err := readFile(path, &raw); err != nil {
			return nil, err
		}
	}

	dotenv := map[string]string{}
	for _, f := range o.envFiles {
		vals, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("conductor/config: read %s: %w", f, err)
		}
		for k, v := range vals {
			dotenv[k] = v
		}
	}

	env := func(key string) (string, bool) {
		if v, ok := o.lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := raw.overlayEnv(env); err != nil {
		return nil, err
	}

	return raw.resolve()
}

// Logger builds the slog logger described by c.
func (c *Config) Logger() *slog.Logger {
	hopts := &slog.HandlerOptions{Level: c.Log.Level}
	if c.Log.Format == FormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, hopts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, hopts))
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, conductor.Invalid("log.level", fmt.Sprintf("unknown level %q", s))
	}
	return lvl, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, conductor.Invalid(field, fmt.Sprintf("invalid duration %q", raw))
	}
	if d < 0 {
		return 0, conductor.Invalid(field, "must not be negative")
	}
	return d, nil
}
