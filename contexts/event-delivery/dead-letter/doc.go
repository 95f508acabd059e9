// Package deadletter captures consumer messages that could not be processed
// and lets operators search and reprocess them.
//
// Captured records are keyed by the original channel, partition and offset so
// a redelivered raw message is stored once. Reprocessing resubmits the stored
// payload through the live consumption path, including the idempotency guard.
package deadletter
