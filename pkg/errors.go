package shared

import (
	"errors"
	"fmt"
)

// ErrLockConflict aborts a whole batch: the user already has an ongoing
// import. Clients should retry shortly; this is not a data problem.
var ErrLockConflict = errors.New("user already has an ongoing import")

// ErrUnknownUser aborts a whole batch: imports for nonexistent users are a
// caller bug.
var ErrUnknownUser = errors.New("user does not exist")

// IntegrityError marks corrupted subscription or catalog state that cannot
// be explained by normal per-record conditions. Whole-batch fatal and not
// addressable by retry.
type IntegrityError struct {
	Msg string
}

func (e *IntegrityError) Error() string {
	return "integrity violation: " + e.Msg
}

// Integrityf builds an IntegrityError.
func Integrityf(format string, args ...interface{}) error {
	return &IntegrityError{Msg: fmt.Sprintf(format, args...)}
}
