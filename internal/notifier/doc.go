// Package notifier delivers user notifications produced by routines.
//
// Notifications are queued and sent by a small worker pool. Delivery is rate
// limited, retried with jittered backoff and suppressed when the same key was
// sent within the dedup window. Suppression can be persisted through the
// storage dedup table so a restart does not resend.
//
// # Sinks
//
// A Sink is one delivery channel. The log sink is always available; the
// Telegram sink routes users to chats from configuration and reports
// ErrNoRoute for users it does not know.
package notifier
