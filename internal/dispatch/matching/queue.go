package matching

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/ridematch/internal/dispatch/domain"
)

var errPollTimeout = errors.New("request queue poll timed out")

// requestQueue is an unbounded multi-producer/multi-consumer FIFO with a
// bounded-wait Poll. ready holds at most one wake-up token; a consumer that
// takes an item and leaves more behind passes the token on.
type requestQueue struct {
	mu    sync.Mutex
	items []domain.Request
	ready chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{ready: make(chan struct{}, 1)}
}

func (q *requestQueue) push(r domain.Request) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
	q.signal()
}

// pushFront returns a request to the head of the queue.
func (q *requestQueue) pushFront(r domain.Request) {
	q.mu.Lock()
	q.items = append([]domain.Request{r}, q.items...)
	q.mu.Unlock()
	q.signal()
}

func (q *requestQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *requestQueue) tryPop() (domain.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.Request{}, false
	}
	r := q.items[0]
	q.items[0] = domain.Request{}
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return r, true
}

// poll waits at most timeout for the next request. It returns errPollTimeout
// when nothing arrived and ctx.Err() when the context ended first.
func (q *requestQueue) poll(ctx context.Context, timeout time.Duration) (domain.Request, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if r, ok := q.tryPop(); ok {
			return r, nil
		}
		select {
		case <-q.ready:
		case <-timer.C:
			if r, ok := q.tryPop(); ok {
				return r, nil
			}
			return domain.Request{}, errPollTimeout
		case <-ctx.Done():
			return domain.Request{}, ctx.Err()
		}
	}
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
