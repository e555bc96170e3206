package mgmt

import (
	"context"
	"sync"
)

// lineQueue is the unbounded inbound response queue. The receiver pushes
// and never blocks; the single in-flight command pops.
type lineQueue struct {
	mu     sync.Mutex
	lines  []string
	notify chan struct{}
	done   chan struct{}
	err    error
}

func newLineQueue() *lineQueue {
	return &lineQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *lineQueue) push(line string) {
	q.mu.Lock()
	if q.err != nil {
		q.mu.Unlock()
		return
	}
	q.lines = append(q.lines, line)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop returns the oldest line. Once the queue is closed and empty it
// returns the close error.
func (q *lineQueue) pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.lines) > 0 {
			line := q.lines[0]
			q.lines[0] = ""
			q.lines = q.lines[1:]
			q.mu.Unlock()
			return line, nil
		}
		if q.err != nil {
			err := q.err
			q.mu.Unlock()
			return "", err
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// drain discards and returns every queued line.
func (q *lineQueue) drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.lines
	q.lines = nil
	return out
}

// close wakes all waiters; later pops fail with err once the backlog is
// consumed. Only the first close takes effect.
func (q *lineQueue) close(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return
	}
	q.err = err
	close(q.done)
}
