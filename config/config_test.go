package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/config"
)

func lookup(env map[string]string) config.Option {
	return config.WithLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
}

func noDotenv() config.Option { return config.WithEnvFiles() }

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("", noDotenv(), lookup(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTP.Addr != ":8080" || cfg.Store.Driver != config.DriverSQLite {
		t.Errorf("http/store = %+v %+v", cfg.HTTP, cfg.Store)
	}
	if cfg.Engine != conductor.DefaultConfig() {
		t.Errorf("engine = %+v, want defaults", cfg.Engine)
	}
	if cfg.Engine.WebhookURL != "" {
		t.Error("webhook must be disabled by default")
	}
	if cfg.Log.Level != slog.LevelInfo || cfg.Log.Format != config.FormatText {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "conductor.yaml", `
http:
  addr: ":9090"
store:
  driver: postgres
  dsn: postgres://localhost/conductor
workers:
  concurrency: 16
jobs:
  max_attempts: 5
  timeout: 90s
  retry_delay: 2s
webhook:
  url: https://hooks.example.com/jobs
  max_attempts: 4
  base_delay: 500ms
  max_delay: 30s
  jitter: 0.1
  timeout: 3s
admission:
  rate: 50
  burst: 10
  max_pending: 1000
shutdown:
  grace: 45s
log:
  level: debug
  format: json
  audit: true
`)

	cfg, err := config.Load(path, noDotenv(), lookup(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	e := cfg.Engine
	checks := []struct {
		name string
		ok   bool
	}{
		{"addr", cfg.HTTP.Addr == ":9090"},
		{"driver", cfg.Store.Driver == config.DriverPostgres},
		{"dsn", cfg.Store.DSN == "postgres://localhost/conductor"},
		{"concurrency", e.Concurrency == 16},
		{"max attempts", e.MaxAttempts == 5},
		{"timeout", e.JobTimeout == 90*time.Second},
		{"retry delay", e.RetryDelay == 2*time.Second},
		{"webhook url", e.WebhookURL == "https://hooks.example.com/jobs"},
		{"webhook attempts", e.WebhookMaxAttempts == 4},
		{"base delay", e.WebhookBaseDelay == 500*time.Millisecond},
		{"max delay", e.WebhookMaxDelay == 30*time.Second},
		{"jitter", e.WebhookJitter == 0.1},
		{"webhook timeout", e.WebhookTimeout == 3*time.Second},
		{"admission", cfg.Admission.Rate == 50 && cfg.Admission.Burst == 10 && cfg.Admission.MaxPending == 1000},
		{"grace", e.ShutdownTimeout == 45*time.Second},
		{"log", cfg.Log.Level == slog.LevelDebug && cfg.Log.Format == config.FormatJSON},
		{"audit", cfg.Log.Audit},
	}
	for _, c := range checks {
		if !c.ok {
			t.Errorf("%s not applied: %+v", c.name, cfg)
		}
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "conductor.yaml", "workers:\n  concurrency: 2\nwebhook:\n  url: https://file.example.com\n")

	cfg, err := config.Load(path, noDotenv(), lookup(map[string]string{
		"CONDUCTOR_WORKERS":      "8",
		"CONDUCTOR_WEBHOOK_URL":  "https://env.example.com",
		"CONDUCTOR_JOB_TIMEOUT":  "10s",
		"CONDUCTOR_STORE_DRIVER": "memory",
		"CONDUCTOR_LOG_AUDIT":    "true",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Concurrency != 8 || cfg.Engine.WebhookURL != "https://env.example.com" {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.JobTimeout != 10*time.Second || cfg.Store.Driver != config.DriverMemory {
		t.Errorf("timeout/driver = %v %s", cfg.Engine.JobTimeout, cfg.Store.Driver)
	}
	if !cfg.Log.Audit {
		t.Error("CONDUCTOR_LOG_AUDIT not applied")
	}
}

func TestPlainWebhookURLVariable(t *testing.T) {
	cfg, err := config.Load("", noDotenv(), lookup(map[string]string{"WEBHOOK_URL": "https://plain.example.com"}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.WebhookURL != "https://plain.example.com" {
		t.Errorf("webhook url = %q", cfg.Engine.WebhookURL)
	}

	cfg, err = config.Load("", noDotenv(), lookup(map[string]string{
		"WEBHOOK_URL":           "https://plain.example.com",
		"CONDUCTOR_WEBHOOK_URL": "https://prefixed.example.com",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.WebhookURL != "https://prefixed.example.com" {
		t.Errorf("prefixed variable must win, got %q", cfg.Engine.WebhookURL)
	}
}

func TestDotenv(t *testing.T) {
	envFile := writeFile(t, ".env", "WEBHOOK_URL=https://dotenv.example.com\nCONDUCTOR_WORKERS=3\n")

	cfg, err := config.Load("", config.WithEnvFiles(envFile), lookup(map[string]string{"CONDUCTOR_WORKERS": "6"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.WebhookURL != "https://dotenv.example.com" {
		t.Errorf("webhook url = %q", cfg.Engine.WebhookURL)
	}
	if cfg.Engine.Concurrency != 6 {
		t.Errorf("process env must override dotenv, got %d", cfg.Engine.Concurrency)
	}

	if _, err := config.Load("", config.WithEnvFiles(filepath.Join(t.TempDir(), "missing.env")), lookup(nil)); err != nil {
		t.Errorf("missing dotenv file must be ignored: %v", err)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"zero concurrency", map[string]string{"CONDUCTOR_WORKERS": "0"}, "workers.concurrency"},
		{"non-numeric concurrency", map[string]string{"CONDUCTOR_WORKERS": "many"}, "workers.concurrency"},
		{"unknown driver", map[string]string{"CONDUCTOR_STORE_DRIVER": "cassandra"}, "store.driver"},
		{"redis without dsn", map[string]string{"CONDUCTOR_STORE_DRIVER": "redis"}, "store.dsn"},
		{"postgres without dsn", map[string]string{"CONDUCTOR_STORE_DRIVER": "postgres"}, "store.dsn"},
		{"bad duration", map[string]string{"CONDUCTOR_JOB_TIMEOUT": "soon"}, "jobs.timeout"},
		{"negative duration", map[string]string{"CONDUCTOR_RETRY_DELAY": "-1s"}, "jobs.retry_delay"},
		{"zero max attempts", map[string]string{"CONDUCTOR_MAX_ATTEMPTS": "0"}, "jobs.max_attempts"},
		{"jitter out of range", map[string]string{"CONDUCTOR_WEBHOOK_JITTER": "2"}, "webhook.jitter"},
		{"unknown log level", map[string]string{"CONDUCTOR_LOG_LEVEL": "loud"}, "log.level"},
		{"unknown log format", map[string]string{"CONDUCTOR_LOG_FORMAT": "xml"}, "log.format"},
		{"non-boolean audit", map[string]string{"CONDUCTOR_LOG_AUDIT": "sometimes"}, "log.audit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load("", noDotenv(), lookup(tt.env))
			if !errors.Is(err, conductor.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
			var ve *conductor.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("field = %v, want %s", ve, tt.field)
			}
		})
	}
}

func TestLoadRejectsUnknownYAMLKeys(t *testing.T) {
	path := writeFile(t, "conductor.yaml", "workers:\n  concurency: 4\n")
	_, err := config.Load(path, noDotenv(), lookup(nil))
	if !errors.Is(err, conductor.ErrValidation) || !strings.Contains(err.Error(), "concurency") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), noDotenv(), lookup(nil))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not-exist", err)
	}
}
