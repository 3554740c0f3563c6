// Package feed bridges Redis pub/sub channels, pub/sub patterns and streams
// to an external trigger manager.
//
// Architecture:
//
//	Redis ──► Conn ──► ChannelListener / StreamListener ──► RelayFunc ──► TriggerManager.FireTrigger
//	                          │
//	                          └── OnError ──► TriggerManager.DisableTrigger
//
// The Registry owns one connection and one listener per trigger id. Adding an
// id that is already registered tears down the previous listener first.
// Stream listeners track the id of the last relayed entry and, when a
// cursor.Cache is configured, persist it after every successful relay so a
// restarted listener resumes where the previous one stopped.
//
// Delivery guarantees:
//   - Entries of a stream are relayed one at a time in stream order.
//   - The cursor is persisted only after the relay succeeded (at-least-once).
//   - Any runtime fault is reported once through OnError; listeners never retry.
package feed
