// Package scanqueue is a durable, at-most-one-in-flight job queue for
// scan jobs, backed by BadgerDB. Unlike the relational store, which is
// the system of record for file state, the queue only ever needs to
// answer "what needs scanning" and "is this file's job already being
// worked" — a fast embedded KV engine fits better here than another
// table in the relational store.
package scanqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Job is one unit of scan work. Attempt starts at 0 and is incremented
// by the worker on each retry.
type Job struct {
	FileID      string    `json:"file_id"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	Attempt     int       `json:"attempt"`
	NotBefore   time.Time `json:"not_before"`
}

// Retry policy: 3 attempts total. Requeue waits RetryBackoff[0] (10s)
// before the second attempt and RetryBackoff[1] (30s) before the third;
// with MaxAttempts = 3 the 60s entry is never used.
var RetryBackoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

const MaxAttempts = 3

var ErrAlreadyQueued = errors.New("scan job already queued for file")

// Queue is a BadgerDB-backed durable queue. Jobs are keyed by file id so
// re-enqueueing the same file id is a no-op rather than a duplicate
// entry, giving the at-most-one-in-flight guarantee spec.md §5 requires
// at the queue-key level; the worker's own load-and-verify-state step is
// the second half of that guarantee.
type Queue struct {
	db     *badger.DB
	logger *logrus.Logger

	// fileLocks backs the advisory per-file lock a worker takes before
	// loading the row, for deployments that want strict single-flight
	// beyond the queue-key dedup (spec.md §5).
	fileLocks sync.Map // map[string]*sync.Mutex
}

// Open creates (or reopens) the BadgerDB-backed queue at dataDir.
func Open(dataDir string, logger *logrus.Logger) (*Queue, error) {
	if logger == nil {
		logger = logrus.New()
	}

	dbPath := filepath.Join(dataDir, "scanqueue")
	opts := badger.DefaultOptions(dbPath).
		WithLogger(newBadgerLogger(logger)).
		WithSyncWrites(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open scan queue: %w", err)
	}

	logger.WithField("path", dbPath).Info("scan queue initialized")
	return &Queue{db: db, logger: logger}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

func jobKey(fileID string) []byte {
	return []byte("job:" + fileID)
}

// Enqueue adds a scan job for fileID if one is not already pending. The
// handler that transitions a file INITIATED->SCANNING calls this only
// after that transition commits, per spec.md §5's ordering guarantee.
func (q *Queue) Enqueue(ctx context.Context, fileID string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(jobKey(fileID))
		if err == nil {
			return nil // already queued; enqueue is idempotent
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		job := Job{FileID: fileID, EnqueuedAt: time.Now().UTC()}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		return txn.Set(jobKey(fileID), data)
	})
}

// Dequeue scans for one job whose NotBefore has elapsed, removes it from
// the queue, and returns it. Returns (nil, nil) when nothing is ready —
// callers should poll or block on a ticker.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	var found *Job

	err := q.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		now := time.Now().UTC()
		for it.Seek([]byte("job:")); it.ValidForPrefix([]byte("job:")); it.Next() {
			item := it.Item()
			var job Job
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				continue
			}
			if job.NotBefore.After(now) {
				continue
			}

			key := append([]byte{}, item.Key()...)
			if err := txn.Delete(key); err != nil {
				return err
			}
			found = &job
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	return found, nil
}

// Requeue re-inserts job with Attempt incremented and NotBefore set per
// RetryBackoff, or reports exhausted=true once MaxAttempts is reached —
// the caller should then record SCAN_FAIL and leave the file as-is for
// manual follow-up rather than re-queuing indefinitely.
func (q *Queue) Requeue(ctx context.Context, job Job) (exhausted bool, err error) {
	job.Attempt++
	if job.Attempt >= MaxAttempts {
		return true, nil
	}

	backoff := RetryBackoff[job.Attempt-1]
	job.NotBefore = time.Now().UTC().Add(backoff)

	data, marshalErr := json.Marshal(job)
	if marshalErr != nil {
		return false, fmt.Errorf("marshal retried job: %w", marshalErr)
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(job.FileID), data)
	})
	if err != nil {
		return false, fmt.Errorf("requeue job: %w", err)
	}
	return false, nil
}

// Lock returns the advisory per-file mutex a worker can hold for the
// duration of one scan attempt, for deployments running multiple worker
// goroutines against the same in-process queue.
func (q *Queue) Lock(fileID string) *sync.Mutex {
	v, _ := q.fileLocks.LoadOrStore(fileID, &sync.Mutex{})
	return v.(*sync.Mutex)
}
