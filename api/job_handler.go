package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/webhook"
)

// maxSubmissionBytes bounds a POST /jobs body.
const maxSubmissionBytes = 1 << 20

// SubmitResponse is returned by POST /jobs.
type SubmitResponse struct {
	ID     id.JobID   `json:"id"`
	Status job.Status `json:"status"`
}

// ListJobsResponse is returned by GET /jobs. Payload and result are left
// to GET /jobs/{id}.
type ListJobsResponse struct {
	Jobs  []job.Summary `json:"jobs"`
	Total int64         `json:"total"`
}

func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	var sub job.Submission
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmissionBytes))
	if err := dec.Decode(&sub); err != nil {
		a.writeError(w, r, conductor.Invalid("body", fmt.Sprintf("invalid JSON: %v", err)))
		return
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		a.writeError(w, r, conductor.Invalid("body", "unexpected data after JSON object"))
		return
	}

	j, err := a.eng.Submit(r.Context(), sub)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/jobs/"+j.ID.String())
	writeJSON(w, http.StatusCreated, SubmitResponse{ID: j.ID, Status: j.Status})
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	f, err := jobFilter(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	jobs, err := a.eng.List(r.Context(), f)
	if err != nil {
		a.writeError(w, r, fmt.Errorf("list jobs: %w", err))
		return
	}
	total, err := a.eng.Count(r.Context(), job.Filter{Status: f.Status, Priority: f.Priority})
	if err != nil {
		a.writeError(w, r, fmt.Errorf("count jobs: %w", err))
		return
	}
	summaries := make([]job.Summary, 0, len(jobs))
	for _, j := range jobs {
		summaries = append(summaries, j.Summary())
	}

	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: summaries, Total: total})
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	j, err := a.eng.Get(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	j, err := a.eng.Cancel(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) jobDeliveries(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if _, err := a.eng.Get(r.Context(), jobID); err != nil {
		a.writeError(w, r, err)
		return
	}

	ds, err := a.eng.Deliveries(r.Context(), webhook.Filter{JobID: jobID})
	if err != nil {
		a.writeError(w, r, fmt.Errorf("list deliveries: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, ListDeliveriesResponse{Deliveries: nonNil(ds)})
}

// jobFilter reads ?status=&priority=&limit=&offset=. Empty or "All" means
// no filter.
func jobFilter(r *http.Request) (job.Filter, error) {
	var f job.Filter
	q := r.URL.Query()

	if s := q.Get("status"); s != "" && s != "All" {
		st, ok := job.ParseStatus(s)
		if !ok {
			return f, conductor.Invalid("status", fmt.Sprintf("unknown status %q", s))
		}
		f.Status = st
	}
	if p := q.Get("priority"); p != "" && p != "All" {
		pr, ok := job.ParsePriority(p)
		if !ok {
			return f, conductor.Invalid("priority", fmt.Sprintf("unknown priority %q", p))
		}
		f.Priority = pr
	}

	var err error
	if f.Limit, err = intParam(r, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(r, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func jobIDParam(r *http.Request) (id.JobID, error) {
	raw := chi.URLParam(r, "jobId")
	jobID, err := id.ParseJobID(raw)
	if err != nil {
		// An unparsable id cannot name a stored job.
		return jobID, fmt.Errorf("job %q: %w", raw, conductor.ErrJobNotFound)
	}
	return jobID, nil
}
