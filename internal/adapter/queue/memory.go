package queue

import (
	"context"
	"sync"
	"time"

	"ragweb/internal/domain"
	"ragweb/internal/port"
)

// MemoryQueue is an in-process queue for single-binary deployments and
// tests. Jobs do not survive a restart.
type MemoryQueue struct {
	mu        sync.Mutex
	ready     []domain.Job
	dead      []domain.DeadLetter
	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

var _ port.JobQueue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Publish(ctx context.Context, job domain.Job) error {
	select {
	case <-q.closed:
		return domain.ErrQueueClosed
	default:
	}

	q.mu.Lock()
	q.ready = append(q.ready, job)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *MemoryQueue) Consume(ctx context.Context) (port.Delivery, error) {
	for {
		select {
		case <-q.closed:
			return nil, domain.ErrQueueClosed
		default:
		}

		q.mu.Lock()
		if len(q.ready) > 0 {
			job := q.ready[0]
			q.ready = q.ready[1:]
			more := len(q.ready) > 0
			q.mu.Unlock()
			if more {
				// pass the wakeup on to the next idle consumer
				q.signal()
			}
			return &memoryDelivery{q: q, job: job}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.closed:
			return nil, domain.ErrQueueClosed
		case <-q.wake:
		}
	}
}

func (q *MemoryQueue) DeadLetters(ctx context.Context) ([]domain.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.DeadLetter(nil), q.dead...), nil
}

// Len returns the number of jobs waiting.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

type memoryDelivery struct {
	q    *MemoryQueue
	job  domain.Job
	once sync.Once
}

func (d *memoryDelivery) Job() domain.Job { return d.job }

func (d *memoryDelivery) Attempt() int { return 1 }

func (d *memoryDelivery) Ack(ctx context.Context) error { return nil }

func (d *memoryDelivery) Reject(ctx context.Context, reason string) error {
	d.once.Do(func() {
		d.q.mu.Lock()
		d.q.dead = append(d.q.dead, domain.DeadLetter{Job: d.job, Reason: reason, RejectedAt: time.Now().UTC()})
		d.q.mu.Unlock()
	})
	return nil
}
