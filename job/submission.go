package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/xraph/conductor"
)

// maxTimeoutSeconds is the largest timeout representable as a time.Duration.
const maxTimeoutSeconds = math.MaxInt64 / int64(time.Second)

// Submission is a client request to create a job.
type Submission struct {
	TaskName string          `json:"taskName"`
	Priority Priority        `json:"priority"`
	Payload  json.RawMessage `json:"payload"`

	// MaxAttempts overrides the configured attempt budget when positive.
	MaxAttempts int `json:"maxAttempts,omitempty"`

	// TimeoutSeconds overrides the configured execution timeout when positive.
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`
}

// Normalize validates s and returns a copy with defaults applied: trimmed
// task name, canonical priority (Medium when empty) and an empty object for
// an absent payload.
func (s Submission) Normalize() (Submission, error) {
	s.TaskName = strings.TrimSpace(s.TaskName)
	if s.TaskName == "" {
		return s, conductor.Invalid("taskName", "must not be empty")
	}

	if s.Priority == "" {
		s.Priority = PriorityMedium
	} else {
		p, ok := ParsePriority(string(s.Priority))
		if !ok {
			return s, conductor.Invalid("priority", "must be one of Low, Medium, High")
		}
		s.Priority = p
	}

	payload := bytes.TrimSpace(s.Payload)
	switch {
	case len(payload) == 0, bytes.Equal(payload, []byte("null")):
		s.Payload = json.RawMessage(`{}`)
	case payload[0] != '{' || !json.Valid(payload):
		return s, conductor.Invalid("payload", "must be a JSON object")
	default:
		s.Payload = cloneRaw(payload)
	}

	if s.MaxAttempts < 0 {
		return s, conductor.Invalid("maxAttempts", "must not be negative")
	}
	if s.TimeoutSeconds < 0 {
		return s, conductor.Invalid("timeoutSeconds", "must not be negative")
	}
	if int64(s.TimeoutSeconds) > maxTimeoutSeconds {
		return s, conductor.Invalid("timeoutSeconds", fmt.Sprintf("must not exceed %d", maxTimeoutSeconds))
	}
	return s, nil
}

// Timeout returns the requested timeout, or zero when unset.
func (s Submission) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}
