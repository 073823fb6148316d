// Package liveness tells a running decision loop whether it is still the
// live instance. Lifecycle events bump a generation counter; a loop holding
// a token from an older generation stops on its next iteration.
package liveness

import (
	"fmt"
	"sync/atomic"
)

type MatchState int32

const (
	MatchNotStarted MatchState = iota
	MatchInProgress
	MatchEnded
)

func (s MatchState) String() string {
	switch s {
	case MatchNotStarted:
		return "not_started"
	case MatchInProgress:
		return "in_progress"
	case MatchEnded:
		return "ended"
	default:
		return fmt.Sprintf("MatchState(%d)", int32(s))
	}
}

// Token identifies one loop instance.
type Token struct {
	Generation uint64
}

// Tracker is written by the lifecycle event pump and read by loop
// instances. The zero value is not usable; call New.
type Tracker struct {
	gen   atomic.Uint64
	match atomic.Int32
}

// New returns a tracker in MatchInProgress, so a loop started after a
// missed match start still runs.
func New() *Tracker {
	t := &Tracker{}
	t.match.Store(int32(MatchInProgress))
	return t
}

func (t *Tracker) Current() uint64 { return t.gen.Load() }

// Begin claims a fresh generation for a new loop instance. Any instance
// started earlier becomes stale.
func (t *Tracker) Begin() Token {
	return Token{Generation: t.gen.Add(1)}
}

// Invalidate makes every running instance stale. Returns the new generation.
func (t *Tracker) Invalidate() uint64 {
	return t.gen.Add(1)
}

func (t *Tracker) MatchState() MatchState { return MatchState(t.match.Load()) }

func (t *Tracker) SetMatchState(s MatchState) { t.match.Store(int32(s)) }

// Alive is the continuation predicate: match in progress and tok still current.
func (t *Tracker) Alive(tok Token) bool {
	return t.MatchState() == MatchInProgress && tok.Generation == t.gen.Load()
}

// Stale reports whether tok lost its generation, regardless of match state.
func (t *Tracker) Stale(tok Token) bool {
	return tok.Generation != t.gen.Load()
}
