package notifier

import (
	"time"

	"lifeauto/internal/automation"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Notification is one message for one user.
type Notification struct {
	UserID    string
	RoutineID string
	Title     string
	Message   string
	Priority  automation.Priority

	// DedupKey overrides the content hash used for suppression.
	DedupKey string
}

// Text renders the notification body with its priority marker.
func (n Notification) Text() string {
	text := n.Message
	if n.Title != "" {
		text = n.Title + "\n" + text
	}
	return prefixForPriority(n.Priority) + text
}

type HistoryItem struct {
	At     time.Time
	UserID string
	Sink   string
	Text   string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	UserID    string    `json:"user_id"`
	RoutineID string    `json:"routine_id,omitempty"`
	Sink      string    `json:"sink,omitempty"`
	Key       string    `json:"key"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}
