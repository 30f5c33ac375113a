package alert

import (
	"sync"

	"github.com/himyeticapital/polytracker/pkg/types"
)

// queueCapacity bounds alerts waiting for a send slot.
const queueCapacity = 256

// Queue is a bounded FIFO between detection and dispatch. When full, it
// sheds the oldest MEDIUM alert to make room; if everything queued is
// HIGH, the incoming alert is dropped instead. HIGH alerts already in
// line are never displaced.
type Queue struct {
	mu      sync.Mutex
	items   []types.Alert
	dropped uint64

	notify chan struct{}
	closed bool
}

// NewQueue creates an empty alert queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push enqueues an alert, applying the overflow policy. Never blocks.
func (q *Queue) Push(a types.Alert) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	if len(q.items) >= queueCapacity {
		idx := -1
		for i, queued := range q.items {
			if queued.Confidence == types.ConfidenceMedium {
				idx = i
				break
			}
		}
		q.dropped++
		if idx < 0 {
			// Every queued alert is HIGH; the newcomer loses.
			return
		}
		q.items = append(q.items[:idx], q.items[idx+1:]...)
	}

	q.items = append(q.items, a)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes the oldest alert. ok is false when the queue is empty.
func (q *Queue) Pop() (types.Alert, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return types.Alert{}, false
	}
	a := q.items[0]
	q.items = q.items[1:]
	return a, true
}

// Wait returns a channel that receives when new alerts may be available.
func (q *Queue) Wait() <-chan struct{} { return q.notify }

// Len returns the number of queued alerts.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the overflow-shed count.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops accepting new alerts. Queued alerts remain poppable so the
// dispatcher can drain during shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
