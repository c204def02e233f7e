package scorequeue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kyoku-gg/server/pkg/types"
)

type recordingInserter struct {
	batches [][]*types.PersistedScore
	err     error
}

func (r *recordingInserter) BulkCreateScores(_ context.Context, scores []*types.PersistedScore) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.batches = append(r.batches, scores)
	return len(scores), nil
}

func score(id string) *types.PersistedScore {
	return &types.PersistedScore{ScoreID: id, UserID: "user-1"}
}

func TestEnqueueDedup(t *testing.T) {
	ctx := context.Background()
	ins := &recordingInserter{}
	q := New(ins)

	res, n, err := q.Enqueue(ctx, "user-1", score("S-a"))
	if err != nil {
		t.Fatal(err)
	}
	if res != Accepted || n != 0 {
		t.Fatalf("first enqueue = (%v, %d), want (Accepted, 0)", res, n)
	}

	res, _, err = q.Enqueue(ctx, "user-1", score("S-a"))
	if err != nil {
		t.Fatal(err)
	}
	if res != Duplicate {
		t.Fatalf("repeat enqueue = %v, want Duplicate", res)
	}

	// Same ID under a different user is not a duplicate.
	res, _, err = q.Enqueue(ctx, "user-2", &types.PersistedScore{ScoreID: "S-a", UserID: "user-2"})
	if err != nil {
		t.Fatal(err)
	}
	if res != Accepted {
		t.Fatalf("other-user enqueue = %v, want Accepted", res)
	}

	if !q.Contains("user-1", "S-a") {
		t.Error("Contains(user-1, S-a) = false after enqueue")
	}
	if q.Contains("user-1", "S-b") {
		t.Error("Contains reports an ID that was never enqueued")
	}
}

func TestCapacityTriggersFlush(t *testing.T) {
	ctx := context.Background()
	ins := &recordingInserter{}
	q := New(ins)

	for i := 0; i < Capacity-1; i++ {
		res, _, err := q.Enqueue(ctx, "user-1", score(fmt.Sprintf("S-%d", i)))
		if err != nil {
			t.Fatal(err)
		}
		if res != Accepted {
			t.Fatalf("enqueue %d = %v, want Accepted", i, res)
		}
	}
	if len(ins.batches) != 0 {
		t.Fatalf("inserter called before capacity: %d batches", len(ins.batches))
	}

	res, n, err := q.Enqueue(ctx, "user-1", score("S-last"))
	if err != nil {
		t.Fatal(err)
	}
	if res != Flushed || n != Capacity {
		t.Fatalf("capacity enqueue = (%v, %d), want (Flushed, %d)", res, n, Capacity)
	}
	if len(ins.batches) != 1 || len(ins.batches[0]) != Capacity {
		t.Fatalf("unexpected batches: %d", len(ins.batches))
	}

	// Dedup state survives the flush.
	res, _, _ = q.Enqueue(ctx, "user-1", score("S-0"))
	if res != Duplicate {
		t.Errorf("enqueue of flushed ID = %v, want Duplicate", res)
	}
}

func TestFlushAll(t *testing.T) {
	ctx := context.Background()
	ins := &recordingInserter{}
	q := New(ins)

	// Empty flush writes nothing and succeeds.
	n, err := q.FlushAll(ctx)
	if err != nil || n != 0 {
		t.Fatalf("empty FlushAll = (%d, %v), want (0, nil)", n, err)
	}
	if len(ins.batches) != 0 {
		t.Fatal("empty FlushAll reached the inserter")
	}

	q.Enqueue(ctx, "user-1", score("S-a"))
	q.Enqueue(ctx, "user-1", score("S-b"))
	q.Enqueue(ctx, "user-2", &types.PersistedScore{ScoreID: "S-c", UserID: "user-2"})

	n, err = q.FlushAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("FlushAll inserted %d, want 3", n)
	}

	// A second flush has nothing left.
	n, err = q.FlushAll(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second FlushAll = (%d, %v), want (0, nil)", n, err)
	}
}

func TestFlushAllPropagatesError(t *testing.T) {
	ctx := context.Background()
	ins := &recordingInserter{err: fmt.Errorf("write failed")}
	q := New(ins)

	q.Enqueue(ctx, "user-1", score("S-a"))
	_, err := q.FlushAll(ctx)
	if err == nil {
		t.Fatal("expected error from failing inserter")
	}
	var fe *FlushError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %T, want *FlushError", err)
	}
	if fe.UserID != "user-1" || fe.Count != 1 {
		t.Errorf("FlushError = %+v", fe)
	}
}

func TestCapacityFlushFailureIsTyped(t *testing.T) {
	ctx := context.Background()
	ins := &recordingInserter{}
	q := New(ins)

	for i := 0; i < Capacity-1; i++ {
		if _, _, err := q.Enqueue(ctx, "user-1", score(fmt.Sprintf("S-%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	ins.err = fmt.Errorf("write failed")
	res, _, err := q.Enqueue(ctx, "user-1", score("S-last"))
	if res != Flushed {
		t.Fatalf("result = %v, want Flushed", res)
	}
	var fe *FlushError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %T (%v), want *FlushError", err, err)
	}
	if fe.Count != Capacity {
		t.Errorf("lost batch size = %d, want %d", fe.Count, Capacity)
	}
}
