// Package idempotencyguard records which events each consumer has started or
// finished so redelivered events are not processed twice.
package idempotencyguard
