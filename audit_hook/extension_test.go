package audithook_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/conductor/audit_hook"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/webhook"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestJob() *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		TaskName:    "send-email",
		Priority:    job.PriorityHigh,
		Status:      job.StatusRunning,
		Attempt:     2,
		MaxAttempts: 3,
	}
}

func newTestDelivery(j *job.Job) *webhook.Delivery {
	return &webhook.Delivery{
		ID:             id.NewDeliveryID(),
		JobID:          j.ID,
		Status:         webhook.StatusDeadLettered,
		Attempt:        5,
		MaxAttempts:    5,
		LastError:      "unexpected status 502",
		LastStatusCode: 502,
	}
}

func emitAll(r *ext.Registry, j *job.Job, d *webhook.Delivery) {
	ctx := context.Background()
	r.EmitJobSubmitted(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, 1500*time.Millisecond)
	r.EmitJobFailed(ctx, j, errors.New("disk full"))
	r.EmitJobRetrying(ctx, j, errors.New("timeout"), 2*time.Second)
	r.EmitJobCancelled(ctx, j)
	r.EmitJobRecovered(ctx, j)
	r.EmitDeliveryDelivered(ctx, d)
	r.EmitDeliveryDeadLettered(ctx, d)
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	e := ah.New(&mockRecorder{})
	if e.Name() != "audit-hook" {
		t.Errorf("Name = %q", e.Name())
	}
}

func TestExtension_EmitsEveryAction(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(nil)
	reg.Register(ah.New(rec))

	j := newTestJob()
	emitAll(reg, j, newTestDelivery(j))

	if rec.count() != len(ah.AllActions()) {
		t.Fatalf("recorded %d events, want %d", rec.count(), len(ah.AllActions()))
	}
	for _, action := range ah.AllActions() {
		if rec.findByAction(action) == nil {
			t.Errorf("missing action %s", action)
		}
	}
}

func TestExtension_JobEventFields(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()
	ctx := context.Background()

	_ = e.OnJobSubmitted(ctx, j)
	_ = e.OnJobCompleted(ctx, j, 1500*time.Millisecond)
	_ = e.OnJobFailed(ctx, j, errors.New("disk full"))
	_ = e.OnJobRetrying(ctx, j, errors.New("timeout"), 2*time.Second)

	sub := rec.findByAction(ah.ActionJobSubmitted)
	if sub.Resource != ah.ResourceJob || sub.Category != ah.CategoryJob {
		t.Errorf("submitted = %+v", sub)
	}
	if sub.ResourceID != j.ID.String() {
		t.Errorf("ResourceID = %q, want %q", sub.ResourceID, j.ID.String())
	}
	if sub.Metadata["task_name"] != "send-email" || sub.Metadata["priority"] != "High" {
		t.Errorf("submitted metadata = %v", sub.Metadata)
	}
	if sub.Severity != ah.SeverityInfo || sub.Outcome != ah.OutcomeSuccess {
		t.Errorf("submitted severity/outcome = %s/%s", sub.Severity, sub.Outcome)
	}

	done := rec.findByAction(ah.ActionJobCompleted)
	if done.Metadata["elapsed_ms"] != int64(1500) {
		t.Errorf("elapsed_ms = %v", done.Metadata["elapsed_ms"])
	}

	failed := rec.findByAction(ah.ActionJobFailed)
	if failed.Severity != ah.SeverityCritical || failed.Outcome != ah.OutcomeFailure {
		t.Errorf("failed severity/outcome = %s/%s", failed.Severity, failed.Outcome)
	}
	if failed.Reason != "disk full" || failed.Metadata["error"] != "disk full" {
		t.Errorf("failed reason = %q, meta = %v", failed.Reason, failed.Metadata)
	}

	retry := rec.findByAction(ah.ActionJobRetrying)
	if retry.Severity != ah.SeverityWarning {
		t.Errorf("retrying severity = %s", retry.Severity)
	}
	if retry.Metadata["delay_ms"] != int64(2000) || retry.Metadata["next_attempt"] != 2 {
		t.Errorf("retrying metadata = %v", retry.Metadata)
	}
}

func TestExtension_DeliveryEventFields(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()
	d := newTestDelivery(j)

	_ = e.OnDeliveryDeadLettered(context.Background(), d)

	evt := rec.findByAction(ah.ActionDeliveryDeadLettered)
	if evt == nil {
		t.Fatal("no dead-letter event")
	}
	if evt.Resource != ah.ResourceDelivery || evt.Category != ah.CategoryDelivery {
		t.Errorf("event = %+v", evt)
	}
	if evt.ResourceID != d.ID.String() || evt.Metadata["job_id"] != j.ID.String() {
		t.Errorf("ids = %q / %v", evt.ResourceID, evt.Metadata["job_id"])
	}
	if evt.Reason != "unexpected status 502" || evt.Metadata["last_status_code"] != 502 {
		t.Errorf("reason = %q, meta = %v", evt.Reason, evt.Metadata)
	}
}

func TestExtension_WithActionsFilters(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(nil)
	reg.Register(ah.New(rec, ah.WithActions(ah.ActionJobFailed, ah.ActionDeliveryDeadLettered)))

	j := newTestJob()
	emitAll(reg, j, newTestDelivery(j))

	if rec.count() != 2 {
		t.Fatalf("recorded %d events, want 2", rec.count())
	}
	if rec.findByAction(ah.ActionJobStarted) != nil {
		t.Error("filtered action was recorded")
	}
}

func TestExtension_RecorderErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	failing := ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("backend down")
	})
	e := ah.New(failing, ah.WithLogger(logger))

	if err := e.OnJobStarted(context.Background(), newTestJob()); err != nil {
		t.Fatalf("hook must swallow recorder errors, got %v", err)
	}
	if !strings.Contains(buf.String(), "backend down") {
		t.Errorf("log = %q", buf.String())
	}
}

func TestLogRecorder_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := ah.New(ah.NewLogRecorder(logger))
	j := newTestJob()
	ctx := context.Background()

	_ = e.OnJobStarted(ctx, j)
	_ = e.OnJobRecovered(ctx, j)
	_ = e.OnJobFailed(ctx, j, errors.New("disk full"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	for i, want := range []string{"level=INFO", "level=WARN", "level=ERROR"} {
		if !strings.Contains(lines[i], want) {
			t.Errorf("line %d = %q, want %s", i, lines[i], want)
		}
	}
	if !strings.Contains(lines[0], "component=audit") || !strings.Contains(lines[0], "meta.task_name=send-email") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[2], `reason="disk full"`) {
		t.Errorf("line 2 = %q", lines[2])
	}
}
