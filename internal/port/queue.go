package port

import (
	"context"

	"ragweb/internal/domain"
)

// JobQueue delivers ingestion jobs at least once.
type JobQueue interface {
	// Publish durably enqueues a job.
	Publish(ctx context.Context, job domain.Job) error

	// Consume blocks until a job is available or ctx is done.
	Consume(ctx context.Context) (Delivery, error)

	// DeadLetters lists jobs that were rejected without requeue.
	DeadLetters(ctx context.Context) ([]domain.DeadLetter, error)

	Close() error
}

// Delivery is one consumed job awaiting acknowledgement.
type Delivery interface {
	Job() domain.Job

	// Attempt is 1 for the first delivery and grows on redelivery.
	Attempt() int

	Ack(ctx context.Context) error

	// Reject drops the job without requeue and records it as a dead letter.
	Reject(ctx context.Context, reason string) error
}
