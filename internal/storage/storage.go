// Package storage provides the backend adapters that persist announcement collections.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/bulletin/internal/announcement"
)

// Adapter loads and saves one collection document at a time.
type Adapter interface {
	// Name identifies the backend in logs and outcomes.
	Name() string
	Load(ctx context.Context, kind announcement.Kind) (announcement.Collection, error)
	Save(ctx context.Context, kind announcement.Kind, items announcement.Collection) error
}

// Mirror is the local copy kept next to the primary. It also remembers which
// collections hold writes the primary has not accepted yet, across restarts.
type Mirror interface {
	Adapter
	SetPending(ctx context.Context, kind announcement.Kind, pending bool) error
	Pending(ctx context.Context, kind announcement.Kind) (bool, error)
}

// Kind tags an adapter failure.
type Kind string

// Failure kinds reported by adapters.
const (
	KindNetwork       Kind = "NetworkError"  // backend unreachable or answered with an error status
	KindConflict      Kind = "Conflict"      // concurrency token was stale
	KindMalformed     Kind = "Malformed"     // stored document could not be decoded
	KindQuotaExceeded Kind = "QuotaExceeded" // local profile storage is full
)

// Error is the failure returned by every adapter.
type Error struct {
	Kind       Kind
	Backend    string
	Op         string
	Collection announcement.Kind
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s %s: %s", e.Backend, e.Op, e.Collection, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure tag carried by err, or "" when err is not an adapter failure.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsConflict reports whether err is a stale-token rejection.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}
