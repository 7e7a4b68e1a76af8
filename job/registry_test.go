package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/job"
)

type resizePayload struct {
	URL   string `json:"url"`
	Width int    `json:"width"`
}

type resizeResult struct {
	Thumbnail string `json:"thumbnail"`
}

func TestRegistry_RegisterAndExecute(t *testing.T) {
	r := job.NewRegistry()

	var got resizePayload
	job.Register(r, job.NewDefinition("resize-image", func(_ context.Context, p resizePayload) (resizeResult, error) {
		got = p
		return resizeResult{Thumbnail: p.URL + "?w=64"}, nil
	}))

	payload, _ := json.Marshal(resizePayload{URL: "https://img/1.png", Width: 64})
	out, err := r.Execute(context.Background(), "resize-image", payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.URL != "https://img/1.png" || got.Width != 64 {
		t.Errorf("payload = %+v", got)
	}

	var res resizeResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Thumbnail != "https://img/1.png?w=64" {
		t.Errorf("Thumbnail = %q", res.Thumbnail)
	}
}

func TestRegistry_UnknownTask(t *testing.T) {
	r := job.NewRegistry()
	_, err := r.Execute(context.Background(), "nonexistent", json.RawMessage(`{}`))
	if !errors.Is(err, conductor.ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	r := job.NewRegistry()
	boom := errors.New("boom")
	job.Register(r, job.NewDefinition("fail", func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, boom
	}))

	_, err := r.Execute(context.Background(), "fail", json.RawMessage(`{}`))
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestRegistry_BadPayload(t *testing.T) {
	r := job.NewRegistry()
	job.Register(r, job.NewDefinition("typed", func(_ context.Context, p resizePayload) (struct{}, error) {
		return struct{}{}, nil
	}))

	if _, err := r.Execute(context.Background(), "typed", json.RawMessage(`{"width":"wide"}`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRegistry_Fallback(t *testing.T) {
	r := job.NewRegistry()
	r.SetFallback(func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	})

	out, err := r.Execute(context.Background(), "anything", json.RawMessage(`{"a":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"a":1}` {
		t.Errorf("out = %s", out)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := job.NewRegistry()
	noop := func(context.Context, json.RawMessage) (json.RawMessage, error) { return nil, nil }
	r.RegisterFunc("b", noop)
	r.RegisterFunc("a", noop)

	names := r.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names = %v", names)
	}
}
