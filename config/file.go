package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/xraph/conductor"
)

// fileConfig mirrors the YAML layout. Durations are Go duration strings
// ("500ms", "10s", "1m"); nil pointers and empty strings keep defaults.
type fileConfig struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Store struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`

	Workers struct {
		Concurrency *int `yaml:"concurrency"`
	} `yaml:"workers"`

	Jobs struct {
		MaxAttempts *int   `yaml:"max_attempts"`
		Timeout     string `yaml:"timeout"`
		RetryDelay  string `yaml:"retry_delay"`
	} `yaml:"jobs"`

	Webhook struct {
		URL         *string  `yaml:"url"`
		MaxAttempts *int     `yaml:"max_attempts"`
		BaseDelay   string   `yaml:"base_delay"`
		MaxDelay    string   `yaml:"max_delay"`
		Jitter      *float64 `yaml:"jitter"`
		Timeout     string   `yaml:"timeout"`
	} `yaml:"webhook"`

	Admission struct {
		Rate       *float64 `yaml:"rate"`
		Burst      *int     `yaml:"burst"`
		MaxPending *int     `yaml:"max_pending"`
	} `yaml:"admission"`

	Shutdown struct {
		Grace string `yaml:"grace"`
	} `yaml:"shutdown"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Audit  *bool  `yaml:"audit"`
	} `yaml:"log"`
}

// readFile strictly decodes the YAML file at path into raw.
func readFile(path string, raw *fileConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("conductor/config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(raw); err != nil && !errors.Is(err, io.EOF) {
		return conductor.Invalid("file", fmt.Sprintf("%s: %v", path, err))
	}
	return nil
}

// overlayEnv applies environment variables over the file values.
func (f *fileConfig) overlayEnv(env func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := env(k); ok {
				*dst = v
				return
			}
		}
	}
	strPtr := func(dst **string, keys ...string) {
		for _, k := range keys {
			if v, ok := env(k); ok {
				*dst = &v
				return
			}
		}
	}
	integer := func(dst **int, field, key string) error {
		v, ok := env(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return conductor.Invalid(field, fmt.Sprintf("%s: not an integer: %q", key, v))
		}
		*dst = &n
		return nil
	}
	boolean := func(dst **bool, field, key string) error {
		v, ok := env(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return conductor.Invalid(field, fmt.Sprintf("%s: not a boolean: %q", key, v))
		}
		*dst = &b
		return nil
	}
	float := func(dst **float64, field, key string) error {
		v, ok := env(key)
		if !ok {
			return nil
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return conductor.Invalid(field, fmt.Sprintf("%s: not a number: %q", key, v))
		}
		*dst = &n
		return nil
	}

	str(&f.HTTP.Addr, "CONDUCTOR_HTTP_ADDR")
	str(&f.Store.Driver, "CONDUCTOR_STORE_DRIVER")
	str(&f.Store.DSN, "CONDUCTOR_STORE_DSN")
	str(&f.Jobs.Timeout, "CONDUCTOR_JOB_TIMEOUT")
	str(&f.Jobs.RetryDelay, "CONDUCTOR_RETRY_DELAY")
	strPtr(&f.Webhook.URL, "CONDUCTOR_WEBHOOK_URL", "WEBHOOK_URL")
	str(&f.Webhook.BaseDelay, "CONDUCTOR_WEBHOOK_BASE_DELAY")
	str(&f.Webhook.MaxDelay, "CONDUCTOR_WEBHOOK_MAX_DELAY")
	str(&f.Webhook.Timeout, "CONDUCTOR_WEBHOOK_TIMEOUT")
	str(&f.Shutdown.Grace, "CONDUCTOR_SHUTDOWN_GRACE")
	str(&f.Log.Level, "CONDUCTOR_LOG_LEVEL")
	str(&f.Log.Format, "CONDUCTOR_LOG_FORMAT")

	return errors.Join(
		integer(&f.Workers.Concurrency, "workers.concurrency", "CONDUCTOR_WORKERS"),
		integer(&f.Jobs.MaxAttempts, "jobs.max_attempts", "CONDUCTOR_MAX_ATTEMPTS"),
		integer(&f.Webhook.MaxAttempts, "webhook.max_attempts", "CONDUCTOR_WEBHOOK_MAX_ATTEMPTS"),
		float(&f.Webhook.Jitter, "webhook.jitter", "CONDUCTOR_WEBHOOK_JITTER"),
		float(&f.Admission.Rate, "admission.rate", "CONDUCTOR_ADMISSION_RATE"),
		integer(&f.Admission.Burst, "admission.burst", "CONDUCTOR_ADMISSION_BURST"),
		integer(&f.Admission.MaxPending, "admission.max_pending", "CONDUCTOR_ADMISSION_MAX_PENDING"),
		boolean(&f.Log.Audit, "log.audit", "CONDUCTOR_LOG_AUDIT"),
	)
}

// resolve applies f over the defaults and validates the result.
func (f *fileConfig) resolve() (*Config, error) {
	cfg := Default()
	var errs []error

	duration := func(dst *time.Duration, field, raw string) {
		if strings.TrimSpace(raw) == "" {
			return
		}
		d, err := parseDuration(field, raw)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = d
	}

	if f.HTTP.Addr != "" {
		cfg.HTTP.Addr = f.HTTP.Addr
	}

	if f.Store.Driver != "" {
		cfg.Store.Driver = strings.ToLower(strings.TrimSpace(f.Store.Driver))
	}
	if f.Store.DSN != "" {
		cfg.Store.DSN = f.Store.DSN
	}
	switch cfg.Store.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres, DriverBunPostgres, DriverRedis, DriverMongo:
		if f.Store.DSN == "" {
			errs = append(errs, conductor.Invalid("store.dsn", "required for driver "+cfg.Store.Driver))
		}
	default:
		errs = append(errs, conductor.Invalid("store.driver", fmt.Sprintf("unknown driver %q", cfg.Store.Driver)))
	}

	e := &cfg.Engine
	if f.Workers.Concurrency != nil {
		e.Concurrency = *f.Workers.Concurrency
	}
	if f.Jobs.MaxAttempts != nil {
		e.MaxAttempts = *f.Jobs.MaxAttempts
	}
	duration(&e.JobTimeout, "jobs.timeout", f.Jobs.Timeout)
	duration(&e.RetryDelay, "jobs.retry_delay", f.Jobs.RetryDelay)
	if f.Webhook.URL != nil {
		e.WebhookURL = strings.TrimSpace(*f.Webhook.URL)
	}
	if f.Webhook.MaxAttempts != nil {
		e.WebhookMaxAttempts = *f.Webhook.MaxAttempts
	}
	duration(&e.WebhookBaseDelay, "webhook.base_delay", f.Webhook.BaseDelay)
	duration(&e.WebhookMaxDelay, "webhook.max_delay", f.Webhook.MaxDelay)
	if f.Webhook.Jitter != nil {
		e.WebhookJitter = *f.Webhook.Jitter
	}
	duration(&e.WebhookTimeout, "webhook.timeout", f.Webhook.Timeout)
	duration(&e.ShutdownTimeout, "shutdown.grace", f.Shutdown.Grace)

	if e.Concurrency < 1 {
		errs = append(errs, conductor.Invalid("workers.concurrency", "must be at least 1"))
	}
	if e.MaxAttempts < 1 {
		errs = append(errs, conductor.Invalid("jobs.max_attempts", "must be at least 1"))
	}
	if e.WebhookMaxAttempts < 1 {
		errs = append(errs, conductor.Invalid("webhook.max_attempts", "must be at least 1"))
	}
	if e.WebhookJitter < 0 || e.WebhookJitter > 1 {
		errs = append(errs, conductor.Invalid("webhook.jitter", "must be within [0, 1]"))
	}
	if e.WebhookMaxDelay < e.WebhookBaseDelay {
		errs = append(errs, conductor.Invalid("webhook.max_delay", "must not be below base_delay"))
	}

	if f.Admission.Rate != nil {
		cfg.Admission.Rate = *f.Admission.Rate
	}
	if f.Admission.Burst != nil {
		cfg.Admission.Burst = *f.Admission.Burst
	}
	if f.Admission.MaxPending != nil {
		cfg.Admission.MaxPending = *f.Admission.MaxPending
	}
	if cfg.Admission.Rate < 0 || cfg.Admission.Burst < 0 || cfg.Admission.MaxPending < 0 {
		errs = append(errs, conductor.Invalid("admission", "values must not be negative"))
	}

	if f.Log.Level != "" {
		lvl, err := parseLevel(f.Log.Level)
		if err != nil {
			errs = append(errs, err)
		}
		cfg.Log.Level = lvl
	}
	if f.Log.Format != "" {
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(f.Log.Format))
	}
	if f.Log.Audit != nil {
		cfg.Log.Audit = *f.Log.Audit
	}
	if cfg.Log.Format != FormatText && cfg.Log.Format != FormatJSON {
		errs = append(errs, conductor.Invalid("log.format", fmt.Sprintf("unknown format %q", cfg.Log.Format)))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}
