package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition indicates a status change that would move an
	// ingestion backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDimensionMismatch indicates vectors whose size differs from the index.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrLockTimeout indicates the vector index lock could not be acquired in time.
	ErrLockTimeout = errors.New("timed out waiting for index lock")

	// ErrQueueClosed indicates the job queue no longer accepts work.
	ErrQueueClosed = errors.New("queue closed")
)

// ErrorKind classifies why an ingestion pipeline failed.
type ErrorKind int

const (
	KindFetchFailed ErrorKind = iota + 1
	KindExtractionEmpty
	KindChunkingEmpty
	KindEmbeddingFailed
	KindDimensionMismatch
	KindIndexFailed
	KindPersistFailed
	KindEnqueueFailed
	KindAbandoned
)

func (k ErrorKind) String() string {
	switch k {
	case KindFetchFailed:
		return "FetchFailed"
	case KindExtractionEmpty:
		return "ExtractionEmpty"
	case KindChunkingEmpty:
		return "ChunkingEmpty"
	case KindEmbeddingFailed:
		return "EmbeddingFailed"
	case KindDimensionMismatch:
		return "DimensionMismatch"
	case KindIndexFailed:
		return "IndexFailed"
	case KindPersistFailed:
		return "PersistFailed"
	case KindEnqueueFailed:
		return "EnqueueFailed"
	case KindAbandoned:
		return "Abandoned"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// PipelineError is a classified ingestion failure. Its Error() text is what
// gets recorded as the ingestion's error message.
type PipelineError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

// NewPipelineError builds a PipelineError, taking the detail from err when
// detail is empty.
func NewPipelineError(kind ErrorKind, detail string, err error) *PipelineError {
	if detail == "" && err != nil {
		detail = err.Error()
	}
	return &PipelineError{Kind: kind, Detail: detail, Err: err}
}

func (e *PipelineError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Detail
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// AsPipelineError extracts a PipelineError from err, classifying anything
// else as kind.
func AsPipelineError(err error, kind ErrorKind) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return NewPipelineError(kind, "", err)
}
