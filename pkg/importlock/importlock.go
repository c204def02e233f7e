// Package importlock enforces single-flight imports per user. At most one
// import pipeline runs for a given user at a time; a second attempt is
// rejected upfront rather than queued.
package importlock

import "context"

// Locker is a keyed mutual-exclusion primitive. TryAcquire never blocks: it
// reports false when the user already holds an import lock.
type Locker interface {
	TryAcquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}
