// Package engine wires the scheduler subsystems together and provides the
// application-level API for submitting and inspecting work.
//
// # Building an Engine
//
//	reg := job.NewRegistry()
//	job.Register(reg, job.NewDefinition("send-email", sendEmail))
//
//	eng, err := engine.New(store, reg,
//	    engine.WithConcurrency(8),
//	    engine.WithWebhookURL("https://hooks.example.com/jobs"),
//	    engine.WithExtension(myExtension),
//	)
//
// # Lifecycle
//
// Start migrates the store, recovers jobs left Running by an unclean
// shutdown, re-hydrates the queue from Pending jobs and launches the worker
// pool and the webhook notifier. Stop rejects new submissions, closes the
// queue and drains in-flight jobs and due deliveries within the context's
// deadline. An Engine cannot be restarted after Stop.
//
// # Options
//
//   - [WithConfig] — apply a full conductor.Config
//   - [WithConcurrency] — set the worker pool size
//   - [WithWebhookURL] — set the completion webhook endpoint
//   - [WithAdmission] — bound submission rate and queue depth
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
