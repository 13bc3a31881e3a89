package pipeline

import (
	"errors"
	"sync"
	"time"
)

const DefaultQueueSize = 1024

var (
	// ErrQueueEmpty is returned by Dequeue when the wait elapsed with nothing queued.
	ErrQueueEmpty = errors.New("queue empty")

	// ErrQueueClosed is returned by Dequeue once the queue is closed and drained.
	ErrQueueClosed = errors.New("queue closed")
)

// Queue is the bounded FIFO hand-off between the producer and the writer.
// There is one sender; Close must only be called after it has returned.
type Queue struct {
	ch        chan string
	closeOnce sync.Once
}

// NewQueue creates a queue holding at most size lines.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan string, size)}
}

// Enqueue appends line, blocking while the queue is full. It gives up and
// returns false once stop is raised.
func (q *Queue) Enqueue(stop *StopSignal, line string) bool {
	select {
	case q.ch <- line:
		return true
	case <-stop.Done():
		// Prefer delivering when both are ready.
		select {
		case q.ch <- line:
			return true
		default:
			return false
		}
	}
}

// Dequeue waits up to wait for the next line.
func (q *Queue) Dequeue(wait time.Duration) (string, error) {
	select {
	case line, ok := <-q.ch:
		if !ok {
			return "", ErrQueueClosed
		}
		return line, nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case line, ok := <-q.ch:
		if !ok {
			return "", ErrQueueClosed
		}
		return line, nil
	case <-timer.C:
		return "", ErrQueueEmpty
	}
}

// Len returns the number of queued lines.
func (q *Queue) Len() int { return len(q.ch) }

// Close marks the end of production. Queued lines remain readable.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}
