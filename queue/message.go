package queue

import (
	"time"

	"github.com/google/uuid"
)

// Message is one unit of inter-service communication. The payload is an
// opaque blob; interpreting it is the deliverer's business. A message has
// exactly one owner at any instant (producer, queue, then dispatcher), so
// its fields are never accessed concurrently.
type Message struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Payload    []byte    `json:"payload"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// MessageOption customizes a message.
type MessageOption func(*Message)

// WithPriority sets the message priority. Higher priorities are dispatched
// first; messages of equal priority keep FIFO order. The default is 0.
func WithPriority(p int) MessageOption {
	return func(m *Message) { m.Priority = p }
}

// NewMessage creates a message from one service to another.
func NewMessage(from, to string, payload []byte, opts ...MessageOption) *Message {
	m := &Message{
		ID:      uuid.NewString(),
		From:    from,
		To:      to,
		Payload: payload,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}
