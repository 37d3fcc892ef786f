package order

import "context"

// ExitQueue buffers exit requests between the monitor/API and the guard.
// Enqueue blocks when full so requests are never dropped.
type ExitQueue struct {
	ch chan ExitRequest
}

func NewExitQueue(size int) *ExitQueue {
	if size <= 0 {
		size = 100
	}
	return &ExitQueue{ch: make(chan ExitRequest, size)}
}

func (q *ExitQueue) Enqueue(r ExitRequest) {
	q.ch <- r
}

func (q *ExitQueue) Close() {
	close(q.ch)
}

// Drain consumes requests with a handler until ctx ends or the queue is
// closed.
func (q *ExitQueue) Drain(ctx context.Context, handler func(ExitRequest)) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-q.ch:
			if !ok {
				return
			}
			handler(r)
		}
	}
}
