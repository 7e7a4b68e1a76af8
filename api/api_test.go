package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/api"
	"github.com/xraph/conductor/engine"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/queue"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/stream"
	"github.com/xraph/conductor/webhook"
)

// ── Test Helpers ──────────────────────────────────────

type harness struct {
	srv   *httptest.Server
	eng   *engine.Engine
	store *memory.Store
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setup builds an engine that is never started, so submitted jobs stay
// Pending and cancellable.
func setup(t *testing.T, engOpts []engine.Option, apiOpts ...api.Option) *harness {
	t.Helper()
	s := memory.New()
	reg := job.NewRegistry()
	reg.RegisterFunc("echo", func(_ context.Context, p json.RawMessage) (json.RawMessage, error) {
		return p, nil
	})

	opts := append([]engine.Option{engine.WithLogger(testLogger())}, engOpts...)
	eng, err := engine.New(s, reg, opts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	apiOpts = append([]api.Option{api.WithLogger(testLogger())}, apiOpts...)
	srv := httptest.NewServer(api.New(eng, apiOpts...).Handler())
	t.Cleanup(srv.Close)

	return &harness{srv: srv, eng: eng, store: s}
}

func (h *harness) do(t *testing.T, method, path, body string, headers ...string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func (h *harness) submit(t *testing.T, body string) id.JobID {
	t.Helper()
	code, data := h.do(t, http.MethodPost, "/jobs", body)
	if code != http.StatusCreated {
		t.Fatalf("POST /jobs = %d: %s", code, data)
	}
	var resp api.SubmitResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	return resp.ID
}

func errorBody(t *testing.T, data []byte) string {
	t.Helper()
	var e api.ErrorResponse
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("error body %q: %v", data, err)
	}
	return e.Error
}

// ── Jobs ──────────────────────────────────────────────

func TestSubmitAndGet(t *testing.T) {
	h := setup(t, nil)

	jobID := h.submit(t, `{"taskName":"echo","priority":"High","payload":{"n":1}}`)

	code, data := h.do(t, http.MethodGet, "/jobs/"+jobID.String(), "")
	if code != http.StatusOK {
		t.Fatalf("GET = %d: %s", code, data)
	}
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		t.Fatal(err)
	}
	if j.Status != job.StatusPending || j.Priority != job.PriorityHigh || j.Attempt != 1 {
		t.Errorf("job = %+v", j)
	}
	if !bytes.Equal(j.Payload, []byte(`{"n":1}`)) {
		t.Errorf("payload = %s", j.Payload)
	}
}

func TestSubmitValidation(t *testing.T) {
	h := setup(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"taskName":`},
		{"missing task name", `{"priority":"Low","payload":{}}`},
		{"blank task name", `{"taskName":"   "}`},
		{"unknown priority", `{"taskName":"echo","priority":"Urgent"}`},
		{"payload not an object", `{"taskName":"echo","payload":[1,2]}`},
		{"trailing data", `{"taskName":"echo","priority":"High","payload":{}} this is not json`},
		{"second object", `{"taskName":"echo"}{"taskName":"echo"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, data := h.do(t, http.MethodPost, "/jobs", tt.body)
			if code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", code, data)
			}
			if errorBody(t, data) == "" {
				t.Error("error message must not be empty")
			}
		})
	}

	n, _ := h.store.CountJobs(context.Background(), job.Filter{})
	if n != 0 {
		t.Errorf("rejected submissions stored %d jobs", n)
	}
}

func TestGetUnknownJob(t *testing.T) {
	h := setup(t, nil)

	for _, path := range []string{"/jobs/" + id.NewJobID().String(), "/jobs/not-an-id"} {
		code, _ := h.do(t, http.MethodGet, path, "")
		if code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, code)
		}
	}
}

func TestListJobsFilters(t *testing.T) {
	h := setup(t, nil)

	h.submit(t, `{"taskName":"echo","priority":"High"}`)
	h.submit(t, `{"taskName":"echo","priority":"Low"}`)
	cancelled := h.submit(t, `{"taskName":"echo","priority":"Low"}`)
	if code, data := h.do(t, http.MethodPost, "/jobs/"+cancelled.String()+"/cancel", ""); code != http.StatusOK {
		t.Fatalf("cancel = %d: %s", code, data)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?status=All&priority=All", 3},
		{"?status=Pending", 2},
		{"?status=cancelled", 1},
		{"?priority=Low", 2},
		{"?status=Pending&priority=Low", 1},
		{"?limit=1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			code, data := h.do(t, http.MethodGet, "/jobs"+tt.query, "")
			if code != http.StatusOK {
				t.Fatalf("status = %d: %s", code, data)
			}
			var resp api.ListJobsResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				t.Fatal(err)
			}
			if len(resp.Jobs) != tt.want {
				t.Errorf("jobs = %d, want %d", len(resp.Jobs), tt.want)
			}
		})
	}

	code, _ := h.do(t, http.MethodGet, "/jobs?status=Bogus", "")
	if code != http.StatusBadRequest {
		t.Errorf("bad status filter = %d, want 400", code)
	}
}

func TestListJobsOrderedByCreation(t *testing.T) {
	h := setup(t, nil)

	var want []string
	for range 3 {
		want = append(want, h.submit(t, `{"taskName":"echo"}`).String())
	}

	_, data := h.do(t, http.MethodGet, "/jobs", "")
	var resp api.ListJobsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, j := range resp.Jobs {
		got = append(got, j.ID.String())
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestListJobsSummaries(t *testing.T) {
	h := setup(t, nil)
	jobID := h.submit(t, `{"taskName":"echo","payload":{"url":"x"}}`)

	_, data := h.do(t, http.MethodGet, "/jobs", "")
	var raw struct {
		Jobs []map[string]json.RawMessage `json:"jobs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if len(raw.Jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(raw.Jobs))
	}
	if _, ok := raw.Jobs[0]["payload"]; ok {
		t.Error("list entries must not carry the payload")
	}

	_, data = h.do(t, http.MethodGet, "/jobs/"+jobID.String(), "")
	var detail job.Job
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatal(err)
	}
	if string(detail.Payload) != `{"url":"x"}` {
		t.Errorf("detail payload = %s", detail.Payload)
	}
}

func TestCancel(t *testing.T) {
	h := setup(t, nil)
	jobID := h.submit(t, `{"taskName":"echo"}`)

	code, data := h.do(t, http.MethodPost, "/jobs/"+jobID.String()+"/cancel", "")
	if code != http.StatusOK {
		t.Fatalf("cancel = %d: %s", code, data)
	}
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		t.Fatal(err)
	}
	if j.Status != job.StatusCancelled {
		t.Errorf("status = %s", j.Status)
	}

	code, _ = h.do(t, http.MethodPost, "/jobs/"+jobID.String()+"/cancel", "")
	if code != http.StatusConflict {
		t.Errorf("second cancel = %d, want 409", code)
	}
	code, _ = h.do(t, http.MethodPost, "/jobs/"+id.NewJobID().String()+"/cancel", "")
	if code != http.StatusNotFound {
		t.Errorf("cancel unknown = %d, want 404", code)
	}
}

func TestSubmitAdmissionDenied(t *testing.T) {
	h := setup(t, []engine.Option{engine.WithAdmission(queue.AdmissionConfig{MaxPending: 1})})

	h.submit(t, `{"taskName":"echo"}`)
	code, data := h.do(t, http.MethodPost, "/jobs", `{"taskName":"echo"}`)
	if code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429: %s", code, data)
	}
}

func TestSubmitWhileShuttingDown(t *testing.T) {
	h := setup(t, nil)
	if err := h.eng.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	code, _ := h.do(t, http.MethodPost, "/jobs", `{"taskName":"echo"}`)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

// ── Deliveries ────────────────────────────────────────

func seedDelivery(t *testing.T, s *memory.Store, jobID id.JobID, status webhook.Status) *webhook.Delivery {
	t.Helper()
	d := &webhook.Delivery{
		Entity:      conductor.NewEntity(),
		ID:          id.NewDeliveryID(),
		JobID:       jobID,
		JobAttempt:  1,
		Status:      status,
		Attempt:     3,
		MaxAttempts: 3,
		LastError:   "connection refused",
		Body:        json.RawMessage(`{}`),
	}
	if err := s.CreateDelivery(context.Background(), d); err != nil {
		t.Fatalf("CreateDelivery: %v", err)
	}
	return d
}

func TestJobDeliveries(t *testing.T) {
	h := setup(t, nil)
	jobID := h.submit(t, `{"taskName":"echo"}`)
	h.do(t, http.MethodPost, "/jobs/"+jobID.String()+"/cancel", "")

	code, data := h.do(t, http.MethodGet, "/jobs/"+jobID.String()+"/deliveries", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d: %s", code, data)
	}
	var resp api.ListDeliveriesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Deliveries) != 1 || resp.Deliveries[0].JobID.String() != jobID.String() {
		t.Fatalf("deliveries = %+v", resp.Deliveries)
	}

	var ev webhook.Event
	if err := json.Unmarshal(resp.Deliveries[0].Body, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Status != string(job.StatusCancelled) || ev.TaskName != "echo" {
		t.Errorf("frozen body = %+v", ev)
	}

	code, _ = h.do(t, http.MethodGet, "/jobs/"+id.NewJobID().String()+"/deliveries", "")
	if code != http.StatusNotFound {
		t.Errorf("deliveries of unknown job = %d, want 404", code)
	}
}

func TestListDeliveriesAndReplay(t *testing.T) {
	h := setup(t, nil)
	jobID := id.NewJobID()
	dead := seedDelivery(t, h.store, jobID, webhook.StatusDeadLettered)
	seedDelivery(t, h.store, jobID, webhook.StatusDelivered)

	code, data := h.do(t, http.MethodGet, "/deliveries?status=DeadLettered", "")
	if code != http.StatusOK {
		t.Fatalf("list = %d: %s", code, data)
	}
	var resp api.ListDeliveriesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Deliveries) != 1 || resp.Deliveries[0].ID.String() != dead.ID.String() {
		t.Fatalf("dead-lettered = %+v", resp.Deliveries)
	}

	code, data = h.do(t, http.MethodPost, "/deliveries/"+dead.ID.String()+"/replay", "")
	if code != http.StatusOK {
		t.Fatalf("replay = %d: %s", code, data)
	}
	var replayed webhook.Delivery
	if err := json.Unmarshal(data, &replayed); err != nil {
		t.Fatal(err)
	}
	if replayed.Status != webhook.StatusPending || replayed.Attempt != 0 {
		t.Errorf("replayed = %+v", replayed)
	}

	code, _ = h.do(t, http.MethodPost, "/deliveries/"+dead.ID.String()+"/replay", "")
	if code != http.StatusConflict {
		t.Errorf("replay of pending delivery = %d, want 409", code)
	}
	code, _ = h.do(t, http.MethodGet, "/deliveries/"+id.NewDeliveryID().String(), "")
	if code != http.StatusNotFound {
		t.Errorf("unknown delivery = %d, want 404", code)
	}
	code, _ = h.do(t, http.MethodGet, "/deliveries?jobId=garbage", "")
	if code != http.StatusBadRequest {
		t.Errorf("bad jobId filter = %d, want 400", code)
	}
}

// ── Stats and health ──────────────────────────────────

func TestStats(t *testing.T) {
	h := setup(t, nil)
	h.submit(t, `{"taskName":"echo","priority":"High"}`)

	code, data := h.do(t, http.MethodGet, "/stats", "")
	if code != http.StatusOK {
		t.Fatalf("stats = %d: %s", code, data)
	}
	var st engine.Stats
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	if st.Jobs[job.StatusPending] != 1 || st.Queue[job.PriorityHigh] != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestHealth(t *testing.T) {
	h := setup(t, nil)

	if code, _ := h.do(t, http.MethodGet, "/healthz", ""); code != http.StatusOK {
		t.Errorf("healthy = %d, want 200", code)
	}
	_ = h.store.Close()
	code, data := h.do(t, http.MethodGet, "/healthz", "")
	if code != http.StatusServiceUnavailable {
		t.Errorf("degraded = %d, want 503", code)
	}
	if !strings.Contains(string(data), "degraded") {
		t.Errorf("body = %s", data)
	}
}

// ── Event stream ──────────────────────────────────────

func TestEventStream(t *testing.T) {
	h := setup(t, nil)

	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/events?topic=jobs"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered after the upgrade completes.
	deadline := time.Now().Add(2 * time.Second)
	for h.eng.Broker().Stats().SubscriberCount == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	jobID := h.submit(t, `{"taskName":"echo"}`)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt stream.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != stream.EventJobSubmitted || evt.JobID != jobID.String() || evt.Status != string(job.StatusPending) {
		t.Errorf("event = %+v", evt)
	}
}

func TestEventStreamRejectsUnknownTopic(t *testing.T) {
	h := setup(t, nil)
	code, _ := h.do(t, http.MethodGet, "/events?topic=workflows", "")
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}
