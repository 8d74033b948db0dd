// Package progress carries telemetry from worker goroutines to a consumer
// that drains it on its own schedule. Producers never block on the consumer.
package progress

import (
	"sync"

	"github.com/teamcutter/patchr/internal/domain"
)

// Queue is a bounded channel of updates. When the consumer falls behind the
// oldest pending update is dropped so the newest state always gets through.
type Queue struct {
	mu     sync.Mutex
	ch     chan domain.Progress
	closed bool
}

func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{ch: make(chan domain.Progress, size)}
}

func (q *Queue) Report(p domain.Progress) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	for {
		select {
		case q.ch <- p:
			return
		default:
		}
		select {
		case <-q.ch:
		default:
		}
	}
}

func (q *Queue) Sink() domain.ProgressFunc {
	return q.Report
}

func (q *Queue) Updates() <-chan domain.Progress {
	return q.ch
}

// Close ends the stream. Reports after Close are ignored.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
