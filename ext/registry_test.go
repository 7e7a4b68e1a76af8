package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/webhook"
)

// allHooksExt implements every lifecycle hook.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) record(name string) error {
	e.calls = append(e.calls, name)
	return nil
}

func (e *allHooksExt) OnJobSubmitted(context.Context, *job.Job) error {
	return e.record("OnJobSubmitted")
}

func (e *allHooksExt) OnJobStarted(context.Context, *job.Job) error {
	return e.record("OnJobStarted")
}

func (e *allHooksExt) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	return e.record("OnJobCompleted")
}

func (e *allHooksExt) OnJobFailed(context.Context, *job.Job, error) error {
	return e.record("OnJobFailed")
}

func (e *allHooksExt) OnJobRetrying(context.Context, *job.Job, error, time.Duration) error {
	return e.record("OnJobRetrying")
}

func (e *allHooksExt) OnJobCancelled(context.Context, *job.Job) error {
	return e.record("OnJobCancelled")
}

func (e *allHooksExt) OnJobRecovered(context.Context, *job.Job) error {
	return e.record("OnJobRecovered")
}

func (e *allHooksExt) OnDeliveryDelivered(context.Context, *webhook.Delivery) error {
	return e.record("OnDeliveryDelivered")
}

func (e *allHooksExt) OnDeliveryDeadLettered(context.Context, *webhook.Delivery) error {
	return e.record("OnDeliveryDeadLettered")
}

func (e *allHooksExt) OnShutdown(context.Context) error {
	return e.record("OnShutdown")
}

// completedOnly opts into a single hook.
type completedOnly struct {
	count int
}

func (e *completedOnly) Name() string { return "completed-only" }

func (e *completedOnly) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	e.count++
	return nil
}

// failingExt returns an error from its hook.
type failingExt struct{}

func (failingExt) Name() string { return "failing" }

func (failingExt) OnJobStarted(context.Context, *job.Job) error {
	return errors.New("hook exploded")
}

func testJob() *job.Job {
	return &job.Job{ID: id.NewJobID(), TaskName: "t", Status: job.StatusPending, Attempt: 1}
}

func TestRegistry_EmitsEveryHook(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	e := &allHooksExt{}
	r.Register(e)

	ctx := context.Background()
	j := testJob()
	d := &webhook.Delivery{ID: id.NewDeliveryID(), JobID: j.ID}

	r.EmitJobSubmitted(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("x"))
	r.EmitJobRetrying(ctx, j, errors.New("x"), time.Second)
	r.EmitJobCancelled(ctx, j)
	r.EmitJobRecovered(ctx, j)
	r.EmitDeliveryDelivered(ctx, d)
	r.EmitDeliveryDeadLettered(ctx, d)
	r.EmitShutdown(ctx)

	want := []string{
		"OnJobSubmitted", "OnJobStarted", "OnJobCompleted", "OnJobFailed",
		"OnJobRetrying", "OnJobCancelled", "OnJobRecovered",
		"OnDeliveryDelivered", "OnDeliveryDeadLettered", "OnShutdown",
	}
	if strings.Join(e.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v\nwant    %v", e.calls, want)
	}
}

func TestRegistry_OptInHooks(t *testing.T) {
	r := ext.NewRegistry(nil)
	e := &completedOnly{}
	r.Register(e)

	ctx := context.Background()
	r.EmitJobStarted(ctx, testJob())
	r.EmitJobCompleted(ctx, testJob(), 0)
	r.EmitJobCompleted(ctx, testJob(), 0)

	if e.count != 2 {
		t.Errorf("count = %d, want 2", e.count)
	}
	if len(r.Extensions()) != 1 {
		t.Errorf("Extensions = %d", len(r.Extensions()))
	}
}

func TestRegistry_HookErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := ext.NewRegistry(logger)
	r.Register(failingExt{})
	after := &allHooksExt{}
	r.Register(after)

	r.EmitJobStarted(context.Background(), testJob())

	out := buf.String()
	if !strings.Contains(out, "hook exploded") || !strings.Contains(out, "extension=failing") {
		t.Errorf("log = %q", out)
	}
	if len(after.calls) != 1 {
		t.Error("later extensions must still be notified")
	}
}
