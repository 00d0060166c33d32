package queue

import (
	"sync"
	"time"
)

// DeadLetterEntry is a message set aside after a failed delivery.
type DeadLetterEntry struct {
	Message *Message  `json:"message"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// DeadLetter is a bounded buffer of failed messages. When full, the oldest
// entry is dropped; this is a diagnostic window, not durable storage.
type DeadLetter struct {
	mu      sync.Mutex
	limit   int
	entries []DeadLetterEntry
}

// NewDeadLetter creates a dead-letter buffer holding up to limit entries.
func NewDeadLetter(limit int) *DeadLetter {
	if limit <= 0 {
		limit = 100
	}
	return &DeadLetter{limit: limit}
}

// Add records a failed message with its failure reason.
func (d *DeadLetter) Add(msg *Message, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.entries) >= d.limit {
		d.entries = d.entries[1:]
	}
	d.entries = append(d.entries, DeadLetterEntry{
		Message: msg,
		Reason:  reason,
		At:      time.Now(),
	})
}

// List returns a copy of the current entries, oldest first.
func (d *DeadLetter) List() []DeadLetterEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]DeadLetterEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Len returns the number of dead-lettered messages.
func (d *DeadLetter) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
