// Package eventconsumer dispatches bus deliveries to registered handlers.
//
// Every delivery passes the idempotency guard before its handler runs.
// Handlers return an explicit result: Ok completes the guard record,
// BusinessRejected releases it and acknowledges the message, and
// TransientFailure is retried in process and then captured to the dead
// letter store. Dead-letter reprocessing re-enters through Reprocess, so
// replayed messages are guarded exactly like live traffic.
package eventconsumer
