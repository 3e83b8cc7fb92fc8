package session

import "sync"

// Queue is an unbounded FIFO of progress messages with one writer and one
// reader. Push never blocks; after Close it silently drops messages.
type Queue struct {
	mu       sync.Mutex
	items    []string
	finished bool
	closed   bool
	ready    chan struct{}
}

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

func (q *Queue) Push(msg string) {
	q.mu.Lock()
	if q.closed || q.finished {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.signal()
}

// Finish marks the end of input. Messages already queued stay readable.
func (q *Queue) Finish() {
	q.mu.Lock()
	q.finished = true
	q.mu.Unlock()
	q.signal()
}

// Close detaches the reader and discards pending messages.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.signal()
}

// Pop returns the oldest message. done is true once the queue is finished
// and drained, or closed.
func (q *Queue) Pop() (msg string, ok bool, done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", false, true
	}
	if len(q.items) > 0 {
		msg = q.items[0]
		q.items[0] = ""
		q.items = q.items[1:]
		return msg, true, false
	}
	return "", false, q.finished
}

// Ready is signalled whenever the queue may have changed.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
