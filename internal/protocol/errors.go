package protocol

import "ctfbot.ai/internal/platform"

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Match routing/state.
	ErrNotInMatch = "E_NOT_IN_MATCH"
	ErrDead       = "E_DEAD"

	// Task/action layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrGoalChanged   = "E_GOAL_CHANGED"
	ErrPathStopped   = "E_PATH_STOPPED"
	ErrNoPath        = "E_NO_PATH"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrNoItem        = "E_NO_ITEM"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrBlocked       = "E_BLOCKED"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]platform.ErrorKind{
	ErrProtoBadRequest: platform.KindRejected,
	ErrNotInMatch:      platform.KindRejected,
	ErrDead:            platform.KindPathStopped,
	ErrBadRequest:      platform.KindRejected,
	ErrGoalChanged:     platform.KindGoalChanged,
	ErrPathStopped:     platform.KindPathStopped,
	ErrNoPath:          platform.KindNoPath,
	ErrInvalidTarget:   platform.KindRejected,
	ErrNoItem:          platform.KindRejected,
	ErrRateLimit:       platform.KindRejected,
	ErrBlocked:         platform.KindNoPath,
	ErrInternal:        platform.KindUnknown,
}

// IsKnownCode reports whether code has a classification. An empty code
// carries no error and counts as known.
func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// KindForCode classifies a server error code.
func KindForCode(code string) platform.ErrorKind {
	return knownCodes[code]
}

// KindForTaskEnd classifies a TASK_END status and code. DONE is not an error
// and maps to KindUnknown.
func KindForTaskEnd(status, code string) platform.ErrorKind {
	switch status {
	case TaskSuperseded:
		return platform.KindGoalChanged
	case TaskStopped:
		return platform.KindPathStopped
	case TaskFailed:
		if k := KindForCode(code); k != platform.KindUnknown {
			return k
		}
		return platform.KindNoPath
	}
	return platform.KindUnknown
}
