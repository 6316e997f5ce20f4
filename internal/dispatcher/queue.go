package dispatcher

import (
	"context"
	"time"

	"github.com/3liz/qjazz/internal/child"
	"github.com/3liz/qjazz/internal/frame"
)

// waiter is one request parked in the bounded FIFO waiting queue
// because no child was idle at submission time (spec 3: "a bounded
// FIFO waiting queue of depth max_waiting_requests").
type waiter struct {
	req         *frame.Request
	ctx         context.Context
	resultCh    chan child.ReplyFrame
	submittedAt time.Time

	// assigned is closed once the scheduler has handed this waiter to a
	// child, so the deadline-watcher goroutine knows not to evict it
	// from the queue anymore.
	assigned chan struct{}
}

func newWaiter(ctx context.Context, req *frame.Request) *waiter {
	return &waiter{
		req:         req,
		ctx:         ctx,
		resultCh:    make(chan child.ReplyFrame, 16),
		submittedAt: time.Now(),
		assigned:    make(chan struct{}),
	}
}

// fifo is a plain slice-backed FIFO queue. Removal of an arbitrary
// element (needed when a queued, not-yet-assigned request's context is
// cancelled) is O(n), which is fine at the expected max_waiting_requests
// scale (spec default: tens to low hundreds).
type fifo struct {
	items []*waiter
}

func (q *fifo) push(w *waiter) { q.items = append(q.items, w) }

func (q *fifo) popFront() *waiter {
	if len(q.items) == 0 {
		return nil
	}
	w := q.items[0]
	q.items = q.items[1:]
	return w
}

func (q *fifo) remove(target *waiter) bool {
	for i, w := range q.items {
		if w == target {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *fifo) len() int { return len(q.items) }
