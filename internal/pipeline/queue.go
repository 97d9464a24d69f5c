package pipeline

import (
	"context"
	"sync"

	"servis/internal/domain"
	"servis/internal/errors"
)

// item is one queued submission. Cancellation travels in ctx; the deadline
// is resolved at submission so queue wait counts against it.
type item struct {
	req *domain.CommandRequest
	ctx context.Context
}

// queue is the bounded four-band priority queue. Within a band order is
// FIFO. When full, critical and high submissions displace the oldest low
// item; normal and low submissions are rejected.
type queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	bands    [4][]*item
	size     int
	capacity int
	closed   bool
}

func newQueue(capacity int) *queue {
	q := &queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// push enqueues it, returning the displaced low item when admission under
// pressure evicted one. A CommandError with kind rejected-overload means
// the submission itself was refused.
func (q *queue) push(it *item) (displaced *item, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errors.New(errors.KindRejectedOverload, "pipeline is shutting down")
	}

	rank := it.req.Priority.Rank()
	if q.size >= q.capacity {
		if rank > domain.PriorityHigh.Rank() {
			return nil, errors.New(errors.KindRejectedOverload, "command queue is full")
		}
		low := domain.PriorityLow.Rank()
		if len(q.bands[low]) == 0 {
			return nil, errors.New(errors.KindRejectedOverload, "command queue is full")
		}
		displaced = q.bands[low][0]
		q.bands[low] = q.bands[low][1:]
		q.size--
	}

	q.bands[rank] = append(q.bands[rank], it)
	q.size++
	q.notEmpty.Signal()
	return displaced, nil
}

// pop blocks until an item is available, returning false once the queue is
// closed and drained.
func (q *queue) pop() (*item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for rank := range q.bands {
			if len(q.bands[rank]) > 0 {
				it := q.bands[rank][0]
				q.bands[rank] = q.bands[rank][1:]
				q.size--
				return it, true
			}
		}
		if q.closed {
			return nil, false
		}
		q.notEmpty.Wait()
	}
}

// close stops admission. Queued items remain poppable for draining.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
