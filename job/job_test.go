package job_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to job.Status
		want     bool
	}{
		{job.StatusPending, job.StatusRunning, true},
		{job.StatusPending, job.StatusCancelled, true},
		{job.StatusRunning, job.StatusCompleted, true},
		{job.StatusRunning, job.StatusFailed, true},
		{job.StatusRunning, job.StatusPending, true},
		{job.StatusRunning, job.StatusCancelled, false},
		{job.StatusPending, job.StatusCompleted, false},
		{job.StatusCompleted, job.StatusPending, false},
		{job.StatusFailed, job.StatusRunning, false},
		{job.StatusCancelled, job.StatusPending, false},
	}
	for _, tt := range tests {
		if got := job.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range job.Statuses {
		want := s == job.StatusCompleted || s == job.StatusFailed || s == job.StatusCancelled
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v", s, s.Terminal())
		}
	}
}

func TestParseStatusAndPriority(t *testing.T) {
	if s, ok := job.ParseStatus("running"); !ok || s != job.StatusRunning {
		t.Errorf("ParseStatus(running) = %q, %v", s, ok)
	}
	if _, ok := job.ParseStatus("done"); ok {
		t.Error("ParseStatus(done) should fail")
	}
	if p, ok := job.ParsePriority(" HIGH "); !ok || p != job.PriorityHigh {
		t.Errorf("ParsePriority(HIGH) = %q, %v", p, ok)
	}
	if _, ok := job.ParsePriority("urgent"); ok {
		t.Error("ParsePriority(urgent) should fail")
	}
	if job.PriorityHigh.Rank() <= job.PriorityMedium.Rank() || job.PriorityMedium.Rank() <= job.PriorityLow.Rank() {
		t.Error("priority ranks are not ordered")
	}
}

func TestSubmission_Normalize(t *testing.T) {
	sub, err := job.Submission{TaskName: "  resize  ", Priority: "high"}.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.TaskName != "resize" {
		t.Errorf("TaskName = %q", sub.TaskName)
	}
	if sub.Priority != job.PriorityHigh {
		t.Errorf("Priority = %q", sub.Priority)
	}
	if string(sub.Payload) != `{}` {
		t.Errorf("Payload = %s", sub.Payload)
	}

	sub, err = job.Submission{TaskName: "x"}.Normalize()
	if err != nil || sub.Priority != job.PriorityMedium {
		t.Errorf("default priority = %q, err = %v", sub.Priority, err)
	}
}

func TestSubmission_NormalizeRejects(t *testing.T) {
	tests := []struct {
		name  string
		sub   job.Submission
		field string
	}{
		{"empty task", job.Submission{TaskName: "   "}, "taskName"},
		{"bad priority", job.Submission{TaskName: "x", Priority: "Urgent"}, "priority"},
		{"array payload", job.Submission{TaskName: "x", Payload: json.RawMessage(`[1]`)}, "payload"},
		{"broken payload", job.Submission{TaskName: "x", Payload: json.RawMessage(`{"a":`)}, "payload"},
		{"negative attempts", job.Submission{TaskName: "x", MaxAttempts: -1}, "maxAttempts"},
		{"negative timeout", job.Submission{TaskName: "x", TimeoutSeconds: -5}, "timeoutSeconds"},
		{"timeout overflows duration", job.Submission{TaskName: "x", TimeoutSeconds: math.MaxInt64/int(time.Second) + 1}, "timeoutSeconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.sub.Normalize()
			if !errors.Is(err, conductor.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			var ve *conductor.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("field = %v, want %q", err, tt.field)
			}
		})
	}
}

func TestSubmission_LargestTimeout(t *testing.T) {
	secs := math.MaxInt64 / int(time.Second)
	sub, err := job.Submission{TaskName: "x", TimeoutSeconds: secs}.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Timeout() <= 0 {
		t.Errorf("Timeout = %v, want positive", sub.Timeout())
	}
}

func TestJob_Summary(t *testing.T) {
	done := time.Now().UTC()
	j := &job.Job{
		ID:          id.NewJobID(),
		TaskName:    "resize",
		Payload:     json.RawMessage(`{"url":"x"}`),
		Priority:    job.PriorityHigh,
		Status:      job.StatusCompleted,
		Attempt:     2,
		MaxAttempts: 3,
		Result:      json.RawMessage(`{"ok":true}`),
		CompletedAt: &done,
	}
	s := j.Summary()
	if s.ID != j.ID || s.TaskName != "resize" || s.Status != job.StatusCompleted || s.Attempt != 2 {
		t.Errorf("summary = %+v", s)
	}
	if s.CompletedAt == nil || !s.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v", s.CompletedAt)
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"payload", "result"} {
		if _, ok := fields[k]; ok {
			t.Errorf("summary carries %q", k)
		}
	}
}

func TestUpdate_Apply(t *testing.T) {
	now := time.Now().UTC()
	j := &job.Job{ID: id.NewJobID(), Status: job.StatusRunning, Attempt: 1}
	attempt := 2
	msg := "boom"
	job.Update{At: now, Attempt: &attempt, Error: &msg}.Apply(j, job.StatusPending)

	if j.Status != job.StatusPending || j.Attempt != 2 || j.Error != "boom" || !j.UpdatedAt.Equal(now) {
		t.Errorf("job after apply = %+v", j)
	}
	if j.CompletedAt != nil {
		t.Error("CompletedAt should stay nil")
	}
}

func TestJob_CloneIsDeep(t *testing.T) {
	now := time.Now()
	j := &job.Job{Payload: json.RawMessage(`{"a":1}`), StartedAt: &now}
	cp := j.Clone()
	cp.Payload[2] = 'b'
	*cp.StartedAt = now.Add(time.Hour)

	if string(j.Payload) != `{"a":1}` {
		t.Errorf("original payload mutated: %s", j.Payload)
	}
	if !j.StartedAt.Equal(now) {
		t.Error("original StartedAt mutated")
	}
}

func TestFilter_Matches(t *testing.T) {
	j := &job.Job{Status: job.StatusPending, Priority: job.PriorityLow}
	if !(job.Filter{}).Matches(j) {
		t.Error("empty filter should match")
	}
	if !(job.Filter{Status: job.StatusPending, Priority: job.PriorityLow}).Matches(j) {
		t.Error("exact filter should match")
	}
	if (job.Filter{Priority: job.PriorityHigh}).Matches(j) {
		t.Error("priority filter should not match")
	}
}
