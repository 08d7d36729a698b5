// Package errs is the failure taxonomy shared by the forum engine and its
// HTTP surface.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means the caller has no identity at all.
	ErrPermissionDenied = errors.New("sign in to interact")
	// ErrForbidden means the caller is signed in but may not touch the entity.
	ErrForbidden    = errors.New("not allowed to modify this entity")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	ErrReactionConflict  = errors.New("reaction conflict")
	ErrSubscriptionFault = errors.New("subscription fault")
)

// Invalid wraps ErrInvalidInput with a reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ReactionConflict is returned when a toggle ran out of retry attempts. The
// user's action was not applied and is safe to retry.
type ReactionConflict struct {
	Entity   string
	Kind     string
	Attempts int
	Err      error
}

func (e *ReactionConflict) Error() string {
	return fmt.Sprintf("reaction %s on %s not applied after %d attempts: %v", e.Kind, e.Entity, e.Attempts, e.Err)
}

func (e *ReactionConflict) Is(target error) bool { return target == ErrReactionConflict }

func (e *ReactionConflict) Unwrap() error { return e.Err }

// SubscriptionFault describes a failed live-change channel. Persistent is set
// once failures have repeated enough to warrant a user-visible warning.
type SubscriptionFault struct {
	TopicID    string
	Attempts   int
	Persistent bool
	Err        error
}

func (e *SubscriptionFault) Error() string {
	return fmt.Sprintf("subscription for topic %s failed (%d consecutive): %v", e.TopicID, e.Attempts, e.Err)
}

func (e *SubscriptionFault) Is(target error) bool { return target == ErrSubscriptionFault }

func (e *SubscriptionFault) Unwrap() error { return e.Err }
