// Package storetest is the shared contract suite every store backend must
// pass. Backend tests call [Run] with a constructor for a fresh, migrated
// store.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/webhook"
)

// Factory returns a fresh, migrated, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"PutAndGetJob", testPutAndGetJob},
		{"PutDuplicateJob", testPutDuplicateJob},
		{"GetMissingJob", testGetMissingJob},
		{"UpdateStatusCAS", testUpdateStatusCAS},
		{"UpdateStatusConflict", testUpdateStatusConflict},
		{"UpdateStatusMissing", testUpdateStatusMissing},
		{"ConcurrentClaimHasOneWinner", testConcurrentClaim},
		{"ListAndCountJobs", testListAndCountJobs},
		{"DeliveryRoundTrip", testDeliveryRoundTrip},
		{"ListDueDeliveries", testListDueDeliveries},
		{"ListDeliveriesFilter", testListDeliveriesFilter},
		{"CountDeliveries", testCountDeliveries},
		{"Ping", testPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// NewJob returns a Pending job with deterministic timestamps offset by seq.
func NewJob(taskName string, p job.Priority, seq int) *job.Job {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second)
	return &job.Job{
		Entity:      conductor.Entity{CreatedAt: at, UpdatedAt: at},
		ID:          id.NewJobID(),
		TaskName:    taskName,
		Payload:     json.RawMessage(`{"n":1}`),
		Priority:    p,
		Status:      job.StatusPending,
		Attempt:     1,
		MaxAttempts: 3,
		Timeout:     30 * time.Second,
	}
}

// NewDelivery returns a Pending delivery for j due at at.
func NewDelivery(j *job.Job, at time.Time) *webhook.Delivery {
	return &webhook.Delivery{
		Entity:        conductor.Entity{CreatedAt: at, UpdatedAt: at},
		ID:            id.NewDeliveryID(),
		JobID:         j.ID,
		JobAttempt:    j.Attempt,
		Status:        webhook.StatusPending,
		MaxAttempts:   8,
		NextAttemptAt: at,
		Body:          json.RawMessage(`{"jobId":"` + j.ID.String() + `"}`),
	}
}

func testPutAndGetJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("resize", job.PriorityHigh, 0)
	if err := s.PutJob(ctx, j); err != nil {
		t.Fatalf("PutJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID.String() != j.ID.String() {
		t.Errorf("ID = %s, want %s", got.ID, j.ID)
	}
	if got.TaskName != "resize" || got.Priority != job.PriorityHigh || got.Status != job.StatusPending {
		t.Errorf("job = %+v", got)
	}
	if got.Attempt != 1 || got.MaxAttempts != 3 || got.Timeout != 30*time.Second {
		t.Errorf("attempts/timeout = %d/%d/%s", got.Attempt, got.MaxAttempts, got.Timeout)
	}
	assertJSONEqual(t, got.Payload, j.Payload)
	if !got.CreatedAt.Equal(j.CreatedAt) {
		t.Errorf("CreatedAt = %s, want %s", got.CreatedAt, j.CreatedAt)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("timestamps should be unset")
	}
}

func testPutDuplicateJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("x", job.PriorityLow, 0)
	if err := s.PutJob(ctx, j); err != nil {
		t.Fatalf("PutJob: %v", err)
	}
	if err := s.PutJob(ctx, j); !errors.Is(err, conductor.ErrJobAlreadyExists) {
		t.Fatalf("duplicate PutJob = %v, want ErrJobAlreadyExists", err)
	}
}

func testGetMissingJob(t *testing.T, s store.Store) {
	if _, err := s.GetJob(context.Background(), id.NewJobID()); !errors.Is(err, conductor.ErrJobNotFound) {
		t.Fatalf("GetJob = %v, want ErrJobNotFound", err)
	}
}

func testUpdateStatusCAS(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("x", job.PriorityMedium, 0)
	_ = s.PutJob(ctx, j)

	started := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	got, err := s.UpdateStatus(ctx, j.ID, job.StatusPending, job.StatusRunning, job.Update{At: started, StartedAt: &started})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.Status != job.StatusRunning || got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("after claim = %+v", got)
	}

	done := started.Add(time.Second)
	result := json.RawMessage(`{"ok":true}`)
	got, err = s.UpdateStatus(ctx, j.ID, job.StatusRunning, job.StatusCompleted, job.Update{At: done, CompletedAt: &done, Result: result})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != job.StatusCompleted || got.CompletedAt == nil {
		t.Errorf("after complete = %+v", got)
	}

	reread, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if reread.Status != job.StatusCompleted || !reread.UpdatedAt.Equal(done) {
		t.Errorf("persisted = %+v", reread)
	}
	if reread.StartedAt == nil || !reread.StartedAt.Equal(started) {
		t.Error("StartedAt lost across updates")
	}
	assertJSONEqual(t, reread.Result, result)

	// Retry edge keeps error and bumps attempt.
	j2 := NewJob("y", job.PriorityMedium, 1)
	_ = s.PutJob(ctx, j2)
	_, _ = s.UpdateStatus(ctx, j2.ID, job.StatusPending, job.StatusRunning, job.Update{At: started})
	attempt := 2
	msg := "boom"
	got, err = s.UpdateStatus(ctx, j2.ID, job.StatusRunning, job.StatusPending, job.Update{At: done, Attempt: &attempt, Error: &msg})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.Status != job.StatusPending || got.Attempt != 2 || got.Error != "boom" {
		t.Errorf("after retry = %+v", got)
	}
}

func testUpdateStatusConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("x", job.PriorityLow, 0)
	_ = s.PutJob(ctx, j)

	_, err := s.UpdateStatus(ctx, j.ID, job.StatusRunning, job.StatusCompleted, job.Update{At: time.Now().UTC()})
	if !errors.Is(err, conductor.ErrConflict) {
		t.Fatalf("UpdateStatus = %v, want ErrConflict", err)
	}
	var ce *conductor.ConflictError
	if !errors.As(err, &ce) || ce.Actual != string(job.StatusPending) {
		t.Errorf("conflict = %#v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusPending {
		t.Errorf("status changed on conflict: %s", got.Status)
	}
}

func testUpdateStatusMissing(t *testing.T, s store.Store) {
	_, err := s.UpdateStatus(context.Background(), id.NewJobID(), job.StatusPending, job.StatusRunning, job.Update{At: time.Now().UTC()})
	if !errors.Is(err, conductor.ErrJobNotFound) {
		t.Fatalf("UpdateStatus = %v, want ErrJobNotFound", err)
	}
}

func testConcurrentClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("x", job.PriorityHigh, 0)
	_ = s.PutJob(ctx, j)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := time.Now().UTC()
			_, err := s.UpdateStatus(ctx, j.ID, job.StatusPending, job.StatusRunning, job.Update{At: now, StartedAt: &now})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, conductor.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("winners = %d, want 1", wins.Load())
	}
	if conflicts.Load() != 7 {
		t.Errorf("conflicts = %d, want 7", conflicts.Load())
	}
}

func testListAndCountJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobs := []*job.Job{
		NewJob("a", job.PriorityLow, 3),
		NewJob("b", job.PriorityHigh, 1),
		NewJob("c", job.PriorityHigh, 2),
	}
	for _, j := range jobs {
		if err := s.PutJob(ctx, j); err != nil {
			t.Fatalf("PutJob: %v", err)
		}
	}
	now := time.Now().UTC()
	_, _ = s.UpdateStatus(ctx, jobs[2].ID, job.StatusPending, job.StatusRunning, job.Update{At: now})

	all, err := s.ListJobs(ctx, job.Filter{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i, want := range []string{"b", "c", "a"} {
		if all[i].TaskName != want {
			t.Errorf("all[%d] = %s, want %s", i, all[i].TaskName, want)
		}
	}

	high, _ := s.ListJobs(ctx, job.Filter{Priority: job.PriorityHigh})
	if len(high) != 2 {
		t.Errorf("high = %d, want 2", len(high))
	}
	pendingHigh, _ := s.ListJobs(ctx, job.Filter{Priority: job.PriorityHigh, Status: job.StatusPending})
	if len(pendingHigh) != 1 || pendingHigh[0].TaskName != "b" {
		t.Errorf("pending high = %v", pendingHigh)
	}
	limited, _ := s.ListJobs(ctx, job.Filter{Limit: 1, Offset: 1})
	if len(limited) != 1 || limited[0].TaskName != "c" {
		t.Errorf("paged = %v", limited)
	}

	n, err := s.CountJobs(ctx, job.Filter{Status: job.StatusPending})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 2 {
		t.Errorf("pending count = %d, want 2", n)
	}
	empty, _ := s.ListJobs(ctx, job.Filter{Status: job.StatusFailed})
	if len(empty) != 0 {
		t.Errorf("failed = %d, want 0", len(empty))
	}

	pendingPage, _ := s.ListJobs(ctx, job.Filter{Status: job.StatusPending, Offset: 1, Limit: 1})
	if len(pendingPage) != 1 || pendingPage[0].TaskName != "a" {
		t.Errorf("paged pending = %v", pendingPage)
	}
	highPage, _ := s.ListJobs(ctx, job.Filter{Priority: job.PriorityHigh, Limit: 1})
	if len(highPage) != 1 || highPage[0].TaskName != "b" {
		t.Errorf("paged high = %v", highPage)
	}
	for _, tc := range []struct {
		f    job.Filter
		want int64
	}{
		{job.Filter{}, 3},
		{job.Filter{Status: job.StatusRunning}, 1},
		{job.Filter{Priority: job.PriorityHigh}, 2},
		{job.Filter{Priority: job.PriorityHigh, Status: job.StatusPending}, 1},
		{job.Filter{Priority: job.PriorityLow, Status: job.StatusRunning}, 0},
	} {
		n, err := s.CountJobs(ctx, tc.f)
		if err != nil {
			t.Fatalf("CountJobs(%+v): %v", tc.f, err)
		}
		if n != tc.want {
			t.Errorf("CountJobs(%+v) = %d, want %d", tc.f, n, tc.want)
		}
	}
}

func testDeliveryRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("x", job.PriorityLow, 0)
	_ = s.PutJob(ctx, j)

	at := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	d := NewDelivery(j, at)
	if err := s.CreateDelivery(ctx, d); err != nil {
		t.Fatalf("CreateDelivery: %v", err)
	}
	if err := s.CreateDelivery(ctx, d); !errors.Is(err, conductor.ErrDeliveryAlreadyExists) {
		t.Fatalf("duplicate CreateDelivery = %v", err)
	}

	d.Attempt = 1
	d.Status = webhook.StatusDelivered
	d.LastStatusCode = 204
	delivered := at.Add(time.Second)
	d.DeliveredAt = &delivered
	d.UpdatedAt = delivered
	if err := s.UpdateDelivery(ctx, d); err != nil {
		t.Fatalf("UpdateDelivery: %v", err)
	}

	got, err := s.GetDelivery(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDelivery: %v", err)
	}
	if got.Status != webhook.StatusDelivered || got.Attempt != 1 || got.LastStatusCode != 204 {
		t.Errorf("delivery = %+v", got)
	}
	if got.JobID.String() != j.ID.String() || got.JobAttempt != 1 {
		t.Errorf("job ref = %s/%d", got.JobID, got.JobAttempt)
	}
	if got.DeliveredAt == nil || !got.DeliveredAt.Equal(delivered) {
		t.Errorf("DeliveredAt = %v", got.DeliveredAt)
	}
	assertJSONEqual(t, got.Body, d.Body)

	if _, err := s.GetDelivery(ctx, id.NewDeliveryID()); !errors.Is(err, conductor.ErrDeliveryNotFound) {
		t.Errorf("GetDelivery missing = %v", err)
	}
	missing := NewDelivery(j, at)
	if err := s.UpdateDelivery(ctx, missing); !errors.Is(err, conductor.ErrDeliveryNotFound) {
		t.Errorf("UpdateDelivery missing = %v", err)
	}
}

func testListDueDeliveries(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("x", job.PriorityLow, 0)
	_ = s.PutJob(ctx, j)

	now := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	past := NewDelivery(j, now.Add(-time.Minute))
	due := NewDelivery(j, now)
	future := NewDelivery(j, now.Add(time.Minute))
	done := NewDelivery(j, now.Add(-time.Hour))
	done.Status = webhook.StatusDelivered
	for _, d := range []*webhook.Delivery{past, due, future, done} {
		if err := s.CreateDelivery(ctx, d); err != nil {
			t.Fatalf("CreateDelivery: %v", err)
		}
	}

	got, err := s.ListDueDeliveries(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDueDeliveries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("due = %d, want 2", len(got))
	}
	if got[0].ID.String() != past.ID.String() || got[1].ID.String() != due.ID.String() {
		t.Errorf("order = %s, %s", got[0].ID, got[1].ID)
	}

	one, _ := s.ListDueDeliveries(ctx, now, 1)
	if len(one) != 1 {
		t.Errorf("limit ignored: %d", len(one))
	}
}

func testListDeliveriesFilter(t *testing.T, s store.Store) {
	ctx := context.Background()
	j1 := NewJob("x", job.PriorityLow, 0)
	j2 := NewJob("y", job.PriorityLow, 1)
	_ = s.PutJob(ctx, j1)
	_ = s.PutJob(ctx, j2)

	at := time.Date(2026, 1, 1, 4, 0, 0, 0, time.UTC)
	d1 := NewDelivery(j1, at)
	d2 := NewDelivery(j2, at.Add(time.Second))
	d2.Status = webhook.StatusDeadLettered
	_ = s.CreateDelivery(ctx, d1)
	_ = s.CreateDelivery(ctx, d2)

	all, _ := s.ListDeliveries(ctx, webhook.Filter{})
	if len(all) != 2 {
		t.Fatalf("all = %d", len(all))
	}
	dead, _ := s.ListDeliveries(ctx, webhook.Filter{Status: webhook.StatusDeadLettered})
	if len(dead) != 1 || dead[0].ID.String() != d2.ID.String() {
		t.Errorf("dead = %v", dead)
	}
	forJob, _ := s.ListDeliveries(ctx, webhook.Filter{JobID: j1.ID})
	if len(forJob) != 1 || forJob[0].ID.String() != d1.ID.String() {
		t.Errorf("for job = %v", forJob)
	}
}

func testCountDeliveries(t *testing.T, s store.Store) {
	ctx := context.Background()
	j1 := NewJob("x", job.PriorityLow, 0)
	j2 := NewJob("y", job.PriorityLow, 1)
	_ = s.PutJob(ctx, j1)
	_ = s.PutJob(ctx, j2)

	at := time.Date(2026, 1, 1, 5, 0, 0, 0, time.UTC)
	d1 := NewDelivery(j1, at)
	d2 := NewDelivery(j1, at.Add(time.Second))
	d3 := NewDelivery(j2, at.Add(2*time.Second))
	for _, d := range []*webhook.Delivery{d1, d2, d3} {
		if err := s.CreateDelivery(ctx, d); err != nil {
			t.Fatalf("CreateDelivery: %v", err)
		}
	}

	d2.Status = webhook.StatusDeadLettered
	d2.Attempt = 8
	if err := s.UpdateDelivery(ctx, d2); err != nil {
		t.Fatalf("UpdateDelivery: %v", err)
	}

	for _, tc := range []struct {
		f    webhook.Filter
		want int64
	}{
		{webhook.Filter{}, 3},
		{webhook.Filter{Status: webhook.StatusPending}, 2},
		{webhook.Filter{Status: webhook.StatusDeadLettered}, 1},
		{webhook.Filter{Status: webhook.StatusDelivered}, 0},
		{webhook.Filter{JobID: j1.ID}, 2},
		{webhook.Filter{JobID: j1.ID, Status: webhook.StatusPending}, 1},
	} {
		n, err := s.CountDeliveries(ctx, tc.f)
		if err != nil {
			t.Fatalf("CountDeliveries(%+v): %v", tc.f, err)
		}
		if n != tc.want {
			t.Errorf("CountDeliveries(%+v) = %d, want %d", tc.f, n, tc.want)
		}
	}

	dead, _ := s.ListDeliveries(ctx, webhook.Filter{JobID: j1.ID, Status: webhook.StatusDeadLettered})
	if len(dead) != 1 || dead[0].ID.String() != d2.ID.String() {
		t.Errorf("dead for job = %v", dead)
	}
}

func testPing(t *testing.T, s store.Store) {
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func assertJSONEqual(t *testing.T, got, want json.RawMessage) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("unmarshal got %q: %v", got, err)
	}
	if err := json.Unmarshal(want, &w); err != nil {
		t.Fatalf("unmarshal want %q: %v", want, err)
	}
	gb, _ := json.Marshal(g)
	wb, _ := json.Marshal(w)
	if string(gb) != string(wb) {
		t.Errorf("json = %s, want %s", gb, wb)
	}
}
