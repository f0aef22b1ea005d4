package engine

import (
	"errors"
	"fmt"

	"agrilink/internal/database"
)

// FailureKind classifies expected business failures. These are returned as
// typed values, never panics: the caller decides whether to refresh, retry
// with different parameters, or surface the reason.
type FailureKind string

const (
	// KindValidation: malformed or semantically invalid input. Caller-correctable.
	KindValidation FailureKind = "validation"
	// KindConflict: optimistic-concurrency loss, e.g. "already taken by
	// another supplier". Caller should refresh and may retry.
	KindConflict FailureKind = "conflict"
	// KindCapacity: daily working-hour cap or item quantity exceeded.
	KindCapacity FailureKind = "capacity"
	// KindNotFound: referenced booking/item/user does not exist.
	KindNotFound FailureKind = "not_found"
	// KindTransient: store or sink unavailable; safe to retry as-is.
	KindTransient FailureKind = "transient"
)

// Failure carries the kind plus a human-readable reason; nothing else
// crosses the boundary.
type Failure struct {
	Kind   FailureKind
	Reason string
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Reason
}

func failf(kind FailureKind, format string, args ...any) error {
	return &Failure{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// FailureOf extracts the typed failure, if any.
func FailureOf(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsKind reports whether err is a Failure of the given kind.
func IsKind(err error, kind FailureKind) bool {
	f, ok := FailureOf(err)
	return ok && f.Kind == kind
}

// storeFailure maps store sentinels onto the failure taxonomy. Anything
// unrecognized is a transient I/O fault.
func storeFailure(err error, what string) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return failf(KindNotFound, "%s not found", what)
	case errors.Is(err, database.ErrConcurrentModification):
		return failf(KindConflict, "%s changed concurrently, refresh and retry", what)
	case errors.Is(err, database.ErrNotAvailable):
		return failf(KindCapacity, "%s has no remaining capacity", what)
	default:
		return &Failure{Kind: KindTransient, Reason: fmt.Sprintf("%s store error: %v", what, err)}
	}
}
