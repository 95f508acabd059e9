// Package outboxrelay moves events from the transactional outbox table to the
// message bus.
//
// Producers persist outbox rows in the same database transaction as their
// business writes. The relay claims eligible rows, publishes them to the
// channel chosen by the topic resolver and records the outcome on each row.
// Delivery is at-least-once; consumers deduplicate by event id.
package outboxrelay
