package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"ragweb/internal/domain"
	"ragweb/internal/port"
)

// DefaultName is the queue ingestion jobs are published on.
const DefaultName = "ingest-url"

// ErrLeaseLost is returned when acknowledging a delivery whose visibility
// timeout expired and which may have been handed to another consumer.
var ErrLeaseLost = errors.New("delivery lease expired")

// BoltOptions configures a BoltQueue.
type BoltOptions struct {
	Name              string
	VisibilityTimeout time.Duration // how long a consumer holds a job before redelivery
	PollInterval      time.Duration
	LockTimeout       time.Duration // bounded wait for the file lock
}

// envelope is the stored form of a message. Body is the JSON job exactly as
// published.
type envelope struct {
	Body       json.RawMessage `json:"body"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LeaseUntil time.Time       `json:"lease_until,omitempty"`
	Token      string          `json:"token,omitempty"`
}

type deadRecord struct {
	Body       json.RawMessage `json:"body"`
	Reason     string          `json:"reason"`
	RejectedAt time.Time       `json:"rejected_at"`
}

// BoltQueue is a durable queue in a bbolt file, shared by any number of
// processes. Messages move ready -> inflight on consume and are deleted on
// ack or moved to dead on reject. An inflight message whose lease expires
// goes back to ready, so delivery is at least once.
//
// The file is opened per operation because bbolt holds an exclusive lock
// for as long as a writable handle is open.
type BoltQueue struct {
	path string
	opts BoltOptions

	bucketReady    []byte
	bucketInflight []byte
	bucketDead     []byte

	mu      sync.Mutex
	wake    chan struct{}
	closed  chan struct{}
	closeMu sync.Once
	now     func() time.Time
}

var _ port.JobQueue = (*BoltQueue)(nil)

// NewBoltQueue creates the queue file if needed.
func NewBoltQueue(path string, opts BoltOptions) (*BoltQueue, error) {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 15 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}

	q := &BoltQueue{
		path:           path,
		opts:           opts,
		bucketReady:    []byte(opts.Name + "/ready"),
		bucketInflight: []byte(opts.Name + "/inflight"),
		bucketDead:     []byte(opts.Name + "/dead"),
		wake:           make(chan struct{}, 1),
		closed:         make(chan struct{}),
		now:            time.Now,
	}

	err := q.update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{q.bucketReady, q.bucketInflight, q.bucketDead} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (q *BoltQueue) open(readOnly bool) (*bbolt.DB, error) {
	db, err := bbolt.Open(q.path, 0600, &bbolt.Options{Timeout: q.opts.LockTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}
	return db, nil
}

func (q *BoltQueue) update(fn func(tx *bbolt.Tx) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	db, err := q.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(fn)
}

func (q *BoltQueue) view(fn func(tx *bbolt.Tx) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	db, err := q.open(true)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(fn)
}

func (q *BoltQueue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Publish durably appends a job; it is on disk when Publish returns.
func (q *BoltQueue) Publish(ctx context.Context, job domain.Job) error {
	if q.isClosed() {
		return domain.ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	env, err := json.Marshal(envelope{Body: body, EnqueuedAt: q.now().UTC()})
	if err != nil {
		return err
	}

	err = q.update(func(tx *bbolt.Tx) error {
		ready := tx.Bucket(q.bucketReady)
		seq, err := ready.NextSequence()
		if err != nil {
			return err
		}
		return ready.Put(seqKey(seq), env)
	})
	if err != nil {
		return err
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Consume leases the oldest ready job, blocking until one is available,
// ctx is done or the queue is closed.
func (q *BoltQueue) Consume(ctx context.Context) (port.Delivery, error) {
	for {
		if q.isClosed() {
			return nil, domain.ErrQueueClosed
		}

		d, err := q.lease()
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}

		timer := time.NewTimer(q.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.closed:
			timer.Stop()
			return nil, domain.ErrQueueClosed
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *BoltQueue) lease() (*boltDelivery, error) {
	var d *boltDelivery
	now := q.now().UTC()

	err := q.update(func(tx *bbolt.Tx) error {
		ready := tx.Bucket(q.bucketReady)
		inflight := tx.Bucket(q.bucketInflight)

		if err := q.requeueExpired(ready, inflight, now); err != nil {
			return err
		}

		var (
			key         []byte
			env         envelope
			job         domain.Job
			corrupt     []deadRecord
			corruptKeys [][]byte
		)
		c := ready.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			body, reason := decodeMessage(v, &env, &job)
			if reason == "" {
				key = append([]byte(nil), k...)
				break
			}
			corruptKeys = append(corruptKeys, append([]byte(nil), k...))
			corrupt = append(corrupt, deadRecord{Body: body, Reason: fmt.Sprintf("message %x: %s", k, reason), RejectedAt: now})
		}
		for i, k := range corruptKeys {
			if err := ready.Delete(k); err != nil {
				return err
			}
			if err := q.putDead(tx, corrupt[i]); err != nil {
				return err
			}
		}
		if key == nil {
			return nil
		}

		env.Attempts++
		env.LeaseUntil = now.Add(q.opts.VisibilityTimeout)
		env.Token = uuid.NewString()
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}

		if err := ready.Delete(key); err != nil {
			return err
		}
		if err := inflight.Put(key, data); err != nil {
			return err
		}

		d = &boltDelivery{q: q, key: key, token: env.Token, job: job, attempt: env.Attempts}
		return nil
	})
	return d, err
}

// requeueExpired moves inflight messages whose lease ran out back to ready
// under their original key, so they keep their place in line.
func (q *BoltQueue) requeueExpired(ready, inflight *bbolt.Bucket, now time.Time) error {
	var expired [][]byte
	var bodies [][]byte
	var corruptKeys [][]byte

	err := inflight.ForEach(func(k, v []byte) error {
		var env envelope
		if err := json.Unmarshal(v, &env); err != nil {
			corruptKeys = append(corruptKeys, append([]byte(nil), k...))
			return nil
		}
		if now.Before(env.LeaseUntil) {
			return nil
		}
		env.LeaseUntil = time.Time{}
		env.Token = ""
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		expired = append(expired, append([]byte(nil), k...))
		bodies = append(bodies, data)
		return nil
	})
	if err != nil {
		return err
	}

	for i, k := range expired {
		if err := inflight.Delete(k); err != nil {
			return err
		}
		if err := ready.Put(k, bodies[i]); err != nil {
			return err
		}
	}
	// undecodable inflight entries go back to ready, where lease
	// dead-letters them
	for _, k := range corruptKeys {
		v := append([]byte(nil), inflight.Get(k)...)
		if err := inflight.Delete(k); err != nil {
			return err
		}
		if err := ready.Put(k, v); err != nil {
			return err
		}
	}
	return nil
}

// finish removes a leased message; when reason is non-nil it is kept as a
// dead letter.
func (q *BoltQueue) finish(key []byte, token string, reason *string) error {
	return q.update(func(tx *bbolt.Tx) error {
		inflight := tx.Bucket(q.bucketInflight)
		v := inflight.Get(key)
		if v == nil {
			return ErrLeaseLost
		}
		var env envelope
		if err := json.Unmarshal(v, &env); err != nil {
			return err
		}
		if env.Token != token {
			return ErrLeaseLost
		}
		if err := inflight.Delete(key); err != nil {
			return err
		}
		if reason == nil {
			return nil
		}

		return q.putDead(tx, deadRecord{Body: env.Body, Reason: *reason, RejectedAt: q.now().UTC()})
	})
}

func (q *BoltQueue) putDead(tx *bbolt.Tx, rec deadRecord) error {
	dead := tx.Bucket(q.bucketDead)
	seq, err := dead.NextSequence()
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return dead.Put(seqKey(seq), data)
}

// decodeMessage fills env and job from a stored message. A message that
// does not decode gets a non-empty reason and the body to keep as its dead
// letter.
func decodeMessage(v []byte, env *envelope, job *domain.Job) (json.RawMessage, string) {
	*env = envelope{}
	*job = domain.Job{}
	if err := json.Unmarshal(v, env); err != nil {
		raw, _ := json.Marshal(string(v))
		return raw, "corrupt envelope: " + err.Error()
	}
	if err := json.Unmarshal(env.Body, job); err != nil {
		return env.Body, "corrupt job body: " + err.Error()
	}
	return env.Body, ""
}

// DeadLetters returns rejected jobs, oldest first.
func (q *BoltQueue) DeadLetters(ctx context.Context) ([]domain.DeadLetter, error) {
	var out []domain.DeadLetter
	err := q.view(func(tx *bbolt.Tx) error {
		return tx.Bucket(q.bucketDead).ForEach(func(k, v []byte) error {
			var rec deadRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			var job domain.Job
			if err := json.Unmarshal(rec.Body, &job); err != nil {
				return err
			}
			out = append(out, domain.DeadLetter{Job: job, Reason: rec.Reason, RejectedAt: rec.RejectedAt})
			return nil
		})
	})
	return out, err
}

// Stats holds message counts per state.
type Stats struct {
	Ready    int
	InFlight int
	Dead     int
}

func (q *BoltQueue) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := q.view(func(tx *bbolt.Tx) error {
		st.Ready = tx.Bucket(q.bucketReady).Stats().KeyN
		st.InFlight = tx.Bucket(q.bucketInflight).Stats().KeyN
		st.Dead = tx.Bucket(q.bucketDead).Stats().KeyN
		return nil
	})
	return st, err
}

// Close stops Consume and Publish. Messages already on disk are kept.
func (q *BoltQueue) Close() error {
	q.closeMu.Do(func() { close(q.closed) })
	return nil
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

type boltDelivery struct {
	q       *BoltQueue
	key     []byte
	token   string
	job     domain.Job
	attempt int
}

func (d *boltDelivery) Job() domain.Job { return d.job }

func (d *boltDelivery) Attempt() int { return d.attempt }

func (d *boltDelivery) Ack(ctx context.Context) error {
	return d.q.finish(d.key, d.token, nil)
}

func (d *boltDelivery) Reject(ctx context.Context, reason string) error {
	return d.q.finish(d.key, d.token, &reason)
}
