// Package audithook is a conductor extension that turns lifecycle events
// into structured audit records.
//
// Every job and webhook delivery hook emits an [AuditEvent] through the
// [Recorder] interface. The extension assigns severities (info for normal
// operations, warning for retries and recoveries, critical for terminal
// failures and dead letters) and metadata such as task name, attempt and
// elapsed time.
//
// # Logging recorder
//
//	eng, _ := engine.New(s, reg,
//	    engine.WithExtension(audithook.New(audithook.NewLogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionDeliveryDeadLettered,
//	    ),
//	)
package audithook
