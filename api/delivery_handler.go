package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/webhook"
)

// ListDeliveriesResponse is returned by the delivery list routes.
type ListDeliveriesResponse struct {
	Deliveries []*webhook.Delivery `json:"deliveries"`
}

func (a *API) listDeliveries(w http.ResponseWriter, r *http.Request) {
	var f webhook.Filter
	q := r.URL.Query()

	if s := q.Get("status"); s != "" && s != "All" {
		st, ok := webhook.ParseStatus(s)
		if !ok {
			a.writeError(w, r, conductor.Invalid("status", fmt.Sprintf("unknown delivery status %q", s)))
			return
		}
		f.Status = st
	}
	if raw := q.Get("jobId"); raw != "" {
		jobID, err := id.ParseJobID(raw)
		if err != nil {
			a.writeError(w, r, conductor.Invalid("jobId", err.Error()))
			return
		}
		f.JobID = jobID
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	f.Limit = limit

	ds, err := a.eng.Deliveries(r.Context(), f)
	if err != nil {
		a.writeError(w, r, fmt.Errorf("list deliveries: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, ListDeliveriesResponse{Deliveries: nonNil(ds)})
}

func (a *API) getDelivery(w http.ResponseWriter, r *http.Request) {
	deliveryID, err := deliveryIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	d, err := a.eng.Delivery(r.Context(), deliveryID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) replayDelivery(w http.ResponseWriter, r *http.Request) {
	deliveryID, err := deliveryIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	d, err := a.eng.Replay(r.Context(), deliveryID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func deliveryIDParam(r *http.Request) (id.DeliveryID, error) {
	raw := chi.URLParam(r, "deliveryId")
	deliveryID, err := id.ParseDeliveryID(raw)
	if err != nil {
		return deliveryID, fmt.Errorf("delivery %q: %w", raw, conductor.ErrDeliveryNotFound)
	}
	return deliveryID, nil
}

func nonNil(ds []*webhook.Delivery) []*webhook.Delivery {
	if ds == nil {
		return []*webhook.Delivery{}
	}
	return ds
}
