// Package scorequeue batches validated scores into bounded per-user queues so
// durable writes happen in chunks rather than per score. The queue also acts
// as the in-flight dedup set: within one import run, a score ID enqueued once
// is refused a second time even before it reaches storage.
package scorequeue

import (
	"context"
	"fmt"
	"sync"

	"github.com/kyoku-gg/server/pkg/types"
)

// Capacity is the flush threshold for a user's queue. Reaching it triggers an
// immediate flush.
const Capacity = 500

// Inserter performs the durable batched write. Implementations must treat
// already-existing score IDs as benign and report only the count actually
// inserted.
type Inserter interface {
	BulkCreateScores(ctx context.Context, scores []*types.PersistedScore) (int, error)
}

// Result describes what Enqueue did with a score.
type Result int

const (
	// Accepted means the score was queued and is pending flush.
	Accepted Result = iota
	// Duplicate means the score ID was already queued in this run.
	Duplicate
	// Flushed means the score filled the queue and the whole batch was
	// written.
	Flushed
)

// FlushError reports a durable write that failed mid-batch. Callers use it
// to tell a lost flush apart from per-score problems: scores in a failed
// flush were never persisted, so any bookkeeping derived from them must be
// unwound or the whole batch retried.
type FlushError struct {
	UserID string
	Count  int
	Err    error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flushing %d scores for %s: %v", e.Count, e.UserID, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

type userQueue struct {
	pending []*types.PersistedScore
	seen    map[string]bool
}

// Queues hold per-user pending score batches. Instances are per import run;
// state is injected, never global.
type Queues struct {
	mu       sync.Mutex
	inserter Inserter
	byUser   map[string]*userQueue
}

func New(inserter Inserter) *Queues {
	return &Queues{
		inserter: inserter,
		byUser:   make(map[string]*userQueue),
	}
}

// Enqueue adds a score to the user's queue, flushing when the queue reaches
// capacity. The returned count is the number of rows actually inserted by a
// triggered flush, zero otherwise.
func (q *Queues) Enqueue(ctx context.Context, userID string, score *types.PersistedScore) (Result, int, error) {
	q.mu.Lock()
	uq, ok := q.byUser[userID]
	if !ok {
		uq = &userQueue{seen: make(map[string]bool)}
		q.byUser[userID] = uq
	}

	if uq.seen[score.ScoreID] {
		q.mu.Unlock()
		return Duplicate, 0, nil
	}
	uq.seen[score.ScoreID] = true
	uq.pending = append(uq.pending, score)

	if len(uq.pending) < Capacity {
		q.mu.Unlock()
		return Accepted, 0, nil
	}

	batch := uq.pending
	uq.pending = nil
	q.mu.Unlock()

	n, err := q.inserter.BulkCreateScores(ctx, batch)
	if err != nil {
		return Flushed, n, &FlushError{UserID: userID, Count: len(batch), Err: err}
	}
	return Flushed, n, nil
}

// Contains reports whether a score ID has been enqueued for the user during
// this run, flushed or not.
func (q *Queues) Contains(userID, scoreID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	uq, ok := q.byUser[userID]
	return ok && uq.seen[scoreID]
}

// FlushAll drains every user's remaining scores. Empty queues produce no
// write at all; flushing an empty set never fails.
func (q *Queues) FlushAll(ctx context.Context) (int, error) {
	q.mu.Lock()
	var batches map[string][]*types.PersistedScore
	for userID, uq := range q.byUser {
		if len(uq.pending) == 0 {
			continue
		}
		if batches == nil {
			batches = make(map[string][]*types.PersistedScore)
		}
		batches[userID] = uq.pending
		uq.pending = nil
	}
	q.mu.Unlock()

	var total int
	for userID, batch := range batches {
		n, err := q.inserter.BulkCreateScores(ctx, batch)
		total += n
		if err != nil {
			return total, &FlushError{UserID: userID, Count: len(batch), Err: err}
		}
	}
	return total, nil
}
