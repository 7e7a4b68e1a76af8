package redis

import (
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/webhook"
)

// Key layout, relative to the store prefix:
//
//	job:{id}                  Hash   job fields
//	jobs                      ZSet   job IDs scored by created_at
//	jobs:status:{status}      ZSet   job IDs in each status scored by created_at
//	jobs:priority:{priority}  ZSet   job IDs in each lane scored by created_at
//	delivery:{id}             Hash   delivery fields
//	deliveries                ZSet   delivery IDs scored by created_at
//	deliveries:status:{s}     ZSet   delivery IDs in each status scored by created_at
//	deliveries:due            ZSet   Pending delivery IDs scored by next_attempt_at
//	deliveries:job:{jobID}    ZSet   delivery IDs of one job scored by created_at
//
// Every filterable index shares the created_at score, so a filtered list
// is a ZRANGE over one index, or a ZINTER of two, already in list order.

// DefaultPrefix is prepended to every key unless WithPrefix overrides it.
const DefaultPrefix = "conductor:"

type keys struct{ prefix string }

func (k keys) job(id string) string { return k.prefix + "job:" + id }
func (k keys) jobs() string { return k.prefix + "jobs" }
func (k keys) jobStatus(status string) string {
	return k.prefix + "jobs:status:" + status
}
func (k keys) jobPriority(priority string) string {
	return k.prefix + "jobs:priority:" + priority
}

func (k keys) delivery(id string) string { return k.prefix + "delivery:" + id }
func (k keys) deliveries() string { return k.prefix + "deliveries" }
func (k keys) due() string { return k.prefix + "deliveries:due" }
func (k keys) deliveryStatus(status string) string {
	return k.prefix + "deliveries:status:" + status
}
func (k keys) jobDeliveries(jobID string) string {
	return k.prefix + "deliveries:job:" + jobID
}

// jobIndex returns the index holding every job matching f, or the two
// indexes to intersect when both fields are set.
func (k keys) jobIndex(f job.Filter) []string {
	var idx []string
	if f.Status != "" {
		idx = append(idx, k.jobStatus(string(f.Status)))
	}
	if f.Priority != "" {
		idx = append(idx, k.jobPriority(string(f.Priority)))
	}
	if len(idx) == 0 {
		idx = append(idx, k.jobs())
	}
	return idx
}

// deliveryIndex is jobIndex for deliveries.
func (k keys) deliveryIndex(f webhook.Filter) []string {
	var idx []string
	if f.Status != "" {
		idx = append(idx, k.deliveryStatus(string(f.Status)))
	}
	if !f.JobID.IsNil() {
		idx = append(idx, k.jobDeliveries(f.JobID.String()))
	}
	if len(idx) == 0 {
		idx = append(idx, k.deliveries())
	}
	return idx
}

// deliveryStatusKeys lists the status indexes with next first.
func (k keys) deliveryStatusKeys(next webhook.Status) []string {
	out := []string{k.deliveryStatus(string(next))}
	for _, s := range webhook.Statuses {
		if s != next {
			out = append(out, k.deliveryStatus(string(s)))
		}
	}
	return out
}
