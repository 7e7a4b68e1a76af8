// Package conductor provides a durable, concurrent job scheduler. It accepts
// job submissions, queues them in priority lanes, executes them on a bounded
// worker pool, tracks every status transition in a durable store, and
// notifies an external webhook endpoint on completion with at-least-once
// delivery.
//
// # Quick Start
//
//	s := memory.New()
//	reg := job.NewRegistry()
//	job.Register(reg, job.NewDefinition("resize-image", resize))
//
//	eng, err := engine.New(s, reg,
//	    engine.WithConcurrency(8),
//	    engine.WithWebhookURL("https://hooks.example.com/jobs"),
//	)
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
//	j, err := eng.Submit(ctx, job.Submission{TaskName: "resize-image", ...})
//
// # Architecture
//
// The Store is the single source of truth. The lifecycle Manager is the only
// component allowed to change a job's status, and it does so exclusively
// through the Store's compare-and-swap update. The Queue holds job IDs only,
// never job data. Workers claim a job by winning the Pending→Running CAS;
// losing it (for example to a concurrent cancel) means the job is skipped.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package conductor
