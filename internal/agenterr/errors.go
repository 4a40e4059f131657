// Package agenterr defines the error taxonomy surfaced by the agent protocol.
//
// Every terminal failure carries a machine-readable Kind plus a human
// message. Callers classify with KindOf or Is instead of matching strings.
package agenterr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure that a client can act on.
type Kind string

const (
	BadRequest            Kind = "BadRequest"
	Unauthorized          Kind = "Unauthorized"
	Forbidden             Kind = "Forbidden"
	GenerationError       Kind = "GenerationError"
	ValidationError       Kind = "ValidationError"
	GenerationFailed      Kind = "GenerationFailed"
	DraftNotFound         Kind = "DraftNotFound"
	DraftExpired          Kind = "DraftExpired"
	DraftAlreadyConfirmed Kind = "DraftAlreadyConfirmed"
	DraftNotConfirmed     Kind = "DraftNotConfirmed"
	DraftRejected         Kind = "DraftRejected"
	PlanStale             Kind = "PlanStaleError"
	TokenInvalid          Kind = "TokenInvalid"
	TokenAlreadyUsed      Kind = "TokenAlreadyUsed"
	Internal              Kind = "Internal"
)

// Error is a classified protocol error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or Internal when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the human summary for err. Unclassified errors are
// reduced to a generic sentence so internals never leak to clients.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
