package platform

import (
	"errors"
	"fmt"
)

// ErrorKind classifies platform failures so callers never match on message text.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindGoalChanged: a newer movement goal replaced the one in flight.
	KindGoalChanged
	// KindPathStopped: movement was stopped (death, explicit stop).
	KindPathStopped
	KindNoPath
	KindRejected
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindGoalChanged:
		return "goal_changed"
	case KindPathStopped:
		return "path_stopped"
	case KindNoPath:
		return "no_path"
	case KindRejected:
		return "rejected"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsSuperseded reports whether err only says an in-flight movement goal was
// replaced or stopped. Such errors are expected whenever a new decision
// interrupts movement.
func IsSuperseded(err error) bool {
	switch KindOf(err) {
	case KindGoalChanged, KindPathStopped:
		return true
	}
	return false
}

type MoveStatus int

const (
	MoveCompleted MoveStatus = iota
	MoveSuperseded
	MoveFailed
	// MoveUnderway: still travelling when the platform stopped waiting.
	MoveUnderway
)

func (s MoveStatus) String() string {
	switch s {
	case MoveCompleted:
		return "completed"
	case MoveSuperseded:
		return "superseded"
	case MoveFailed:
		return "failed"
	case MoveUnderway:
		return "underway"
	default:
		return fmt.Sprintf("MoveStatus(%d)", int(s))
	}
}

type MoveResult struct {
	Status MoveStatus
	// Code is the server reason for MoveFailed/MoveSuperseded, if any.
	Code string
}
