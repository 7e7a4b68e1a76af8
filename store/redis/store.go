package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/webhook"
)

// Compile-time interface checks.
var (
	_ job.Store     = (*Store)(nil)
	_ webhook.Store = (*Store)(nil)
	_ store.Store   = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix sets the key prefix. The default is DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.keys = keys{prefix: prefix} }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client goredis.Cmdable
	closer func() error
	keys   keys
	logger *slog.Logger
}

// New creates a Redis-backed store over a caller-owned client. Close does
// not close the client.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		keys:   keys{prefix: DefaultPrefix},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open connects to the Redis server at url, e.g.
// "redis://:password@localhost:6379/0". The store owns the client and
// closes it on Close.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	ropts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: parse url: %w", err)
	}
	client := goredis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("conductor/redis: connect: %w", err)
	}
	s := New(client, opts...)
	s.closer = client.Close
	return s, nil
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx).Err())
}

// Close closes the client if the store opened it.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// ── helpers ──

// wrap annotates err with the operation name. A closed client maps to
// conductor.ErrStoreClosed.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, goredis.ErrClosed) {
		return conductor.ErrStoreClosed
	}
	return fmt.Errorf("conductor/redis: %s: %w", op, err)
}

// scoreArg orders sorted-set members by time. Microseconds keep the score
// inside float64's exact integer range.
func scoreArg(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
	return t
}

func parseTimePtr(v string) *time.Time {
	if v == "" {
		return nil
	}
	t := parseTime(v)
	return &t
}

func atoi(v string) int {
	n, _ := strconv.Atoi(v) //nolint:errcheck // best-effort parse from trusted Redis data
	return n
}

// flatten turns ordered field/value pairs into script arguments.
func flatten(args []any, pairs [][2]string) []any {
	for _, p := range pairs {
		args = append(args, p[0], p[1])
	}
	return args
}

// pairsToMap converts an HGETALL reply array into a field map.
func pairsToMap(reply []any) map[string]string {
	m := make(map[string]string, len(reply)/2)
	for i := 0; i+1 < len(reply); i += 2 {
		k, _ := reply[i].(string)
		v, _ := reply[i+1].(string)
		m[k] = v
	}
	return m
}

// hgetAll loads several hashes in one round trip. Missing keys are skipped.
func (s *Store) hgetAll(ctx context.Context, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0, len(keys))
	for _, c := range cmds {
		if m := c.Val(); len(m) > 0 {
			out = append(out, m)
		}
	}
	return out, nil
}
