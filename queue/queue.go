// Package queue implements the asynchronous handoff between message senders
// and the dispatcher: a priority-aware FIFO queue guarded by a lock and a
// not-empty condition, a dead-letter buffer for failed deliveries, and the
// dispatcher worker that drains the queue.
package queue

import (
	"sync"

	"github.com/kbukum/orchestra/errors"
)

// Queue is a thread-safe message queue. Ordering is by descending priority
// with FIFO order preserved within equal priority, so a stream of
// default-priority messages behaves as a plain FIFO.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    []*Message
	closed   bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a message and signals one waiting consumer. It never blocks
// beyond acquiring the queue lock.
func (q *Queue) Enqueue(msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.QueueClosed()
	}

	// Insert after the last message with priority >= this one, keeping
	// arrival order within equal priority.
	idx := len(q.items)
	for idx > 0 && q.items[idx-1].Priority < msg.Priority {
		idx--
	}
	q.items = append(q.items, nil)
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = msg

	q.notEmpty.Signal()
	return nil
}

// Dequeue removes and returns the head message, blocking while the queue is
// empty. After Close, remaining messages are still drained; once empty it
// returns QUEUE_CLOSED.
func (q *Queue) Dequeue() (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Re-check on every wake to guard against spurious wakeups.
	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}

	if len(q.items) == 0 {
		return nil, errors.QueueClosed()
	}

	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return msg, nil
}

// Close marks the queue closed and wakes all waiting consumers. Further
// enqueues are rejected; queued messages may still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
