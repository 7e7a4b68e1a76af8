package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/api"
	"github.com/xraph/conductor/client"
	"github.com/xraph/conductor/engine"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/stream"
	"github.com/xraph/conductor/webhook"
)

// ── Test Helpers ──────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupClientTest runs a started engine behind an httptest API server and
// returns a client pointed at it.
func setupClientTest(t *testing.T, apiOpts ...api.Option) (*client.Client, *engine.Engine, *memory.Store, *httptest.Server) {
	t.Helper()

	s := memory.New()
	reg := job.NewRegistry()
	reg.RegisterFunc("echo", func(_ context.Context, p json.RawMessage) (json.RawMessage, error) {
		return p, nil
	})

	eng, err := engine.New(s, reg,
		engine.WithConcurrency(2),
		engine.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	apiOpts = append([]api.Option{api.WithLogger(testLogger())}, apiOpts...)
	ts := httptest.NewServer(api.New(eng, apiOpts...).Handler())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
		ts.Close()
	})

	return client.New(ts.URL, client.WithLogger(testLogger())), eng, s, ts
}

func waitFor(t *testing.T, c *client.Client, jobID id.JobID, want job.Status) *job.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := c.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if j.Status == want {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return nil
}

// ── Tests ─────────────────────────────────────────────

func TestClient_SubmitAndGet(t *testing.T) {
	c, _, _, _ := setupClientTest(t)
	ctx := context.Background()

	jobID, err := c.Submit(ctx, job.Submission{
		TaskName: "echo",
		Priority: job.PriorityHigh,
		Payload:  json.RawMessage(`{"to":"a@example.com"}`),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID.IsNil() {
		t.Fatal("Submit returned a nil id")
	}

	j := waitFor(t, c, jobID, job.StatusCompleted)
	if string(j.Result) != `{"to":"a@example.com"}` {
		t.Errorf("result = %s", j.Result)
	}
}

func TestClient_ErrorsMatchSentinels(t *testing.T) {
	c, _, _, _ := setupClientTest(t)
	ctx := context.Background()

	_, err := c.Submit(ctx, job.Submission{TaskName: ""})
	if !errors.Is(err, conductor.ErrValidation) {
		t.Errorf("empty task name err = %v, want ErrValidation", err)
	}

	_, err = c.Get(ctx, id.NewJobID())
	if !errors.Is(err, conductor.ErrJobNotFound) {
		t.Errorf("unknown job err = %v, want ErrJobNotFound", err)
	}

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Message == "" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestClient_ListAndCancel(t *testing.T) {
	c, _, _, _ := setupClientTest(t)
	ctx := context.Background()

	done, err := c.Submit(ctx, job.Submission{TaskName: "echo"})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, c, done, job.StatusCompleted)

	_, err = c.Cancel(ctx, done)
	if !errors.Is(err, conductor.ErrConflict) {
		t.Errorf("cancel completed job err = %v, want ErrConflict", err)
	}

	list, err := c.List(ctx, client.ListOptions{Status: job.StatusCompleted})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list.Total != 1 || len(list.Jobs) != 1 || list.Jobs[0].ID.String() != done.String() {
		t.Errorf("list = %+v", list)
	}

	list, err = c.List(ctx, client.ListOptions{Status: job.StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if list.Total != 0 || len(list.Jobs) != 0 {
		t.Errorf("pending list = %+v", list)
	}
}

func TestClient_DeliveriesAndReplay(t *testing.T) {
	c, _, s, _ := setupClientTest(t)
	ctx := context.Background()

	d := &webhook.Delivery{
		Entity:      conductor.NewEntity(),
		ID:          id.NewDeliveryID(),
		JobID:       id.NewJobID(),
		JobAttempt:  1,
		Status:      webhook.StatusDeadLettered,
		Attempt:     8,
		MaxAttempts: 8,
		Body:        json.RawMessage(`{}`),
	}
	if err := s.CreateDelivery(ctx, d); err != nil {
		t.Fatal(err)
	}

	dead, err := c.Deliveries(ctx, webhook.Filter{Status: webhook.StatusDeadLettered})
	if err != nil {
		t.Fatalf("Deliveries: %v", err)
	}
	if len(dead) != 1 || dead[0].ID.String() != d.ID.String() {
		t.Fatalf("dead-lettered = %+v", dead)
	}

	replayed, err := c.Replay(ctx, d.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.Status != webhook.StatusPending || replayed.Attempt != 0 {
		t.Errorf("replayed = %+v", replayed)
	}

	got, err := c.Delivery(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status == webhook.StatusDeadLettered {
		t.Error("replay did not persist")
	}
}

func TestClient_StatsAndHealth(t *testing.T) {
	c, _, _, _ := setupClientTest(t)
	ctx := context.Background()

	if err := c.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}
	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Workers.Concurrency != 2 {
		t.Errorf("workers = %+v", st.Workers)
	}
}

func TestClient_Header(t *testing.T) {
	got := make(chan string, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("X-Tenant")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jobs":[],"total":0}`))
	}))
	defer ts.Close()

	c := client.New(ts.URL, client.WithHeader("X-Tenant", "acme"))
	if _, err := c.List(context.Background(), client.ListOptions{}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if v := <-got; v != "acme" {
		t.Errorf("X-Tenant = %q, want acme", v)
	}
}

func TestClient_Watch(t *testing.T) {
	c, eng, _, _ := setupClientTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, err := c.Watch(ctx, stream.TopicJobs)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	deadline := time.Now().Add(2 * time.Second)
	for eng.Broker().Stats().SubscriberCount == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	jobID, err := c.Submit(ctx, job.Submission{TaskName: "echo"})
	if err != nil {
		t.Fatal(err)
	}

	seen := map[stream.EventType]bool{}
	for !seen[stream.EventJobCompleted] {
		select {
		case evt, ok := <-w.Events():
			if !ok {
				t.Fatal("event stream closed early")
			}
			if evt.JobID == jobID.String() {
				seen[evt.Type] = true
			}
		case <-ctx.Done():
			t.Fatalf("timed out; saw %v", seen)
		}
	}
	if !seen[stream.EventJobSubmitted] || !seen[stream.EventJobStarted] {
		t.Errorf("missing events: %v", seen)
	}
}

func TestClient_WatchEndsOnShutdown(t *testing.T) {
	c, eng, _, _ := setupClientTest(t)
	ctx := context.Background()

	w, err := c.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	deadline := time.Now().Add(2 * time.Second)
	for eng.Broker().Stats().SubscriberCount == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := eng.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case _, ok := <-w.Events():
		for ok {
			_, ok = <-w.Events()
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher not closed after engine shutdown")
	}
}
