// Package record defines what the bot writes down about itself: one entry per
// loop iteration, lifecycle events and finished matches.
package record

import (
	"sync"
	"time"

	"ctfbot.ai/internal/geom"
	"ctfbot.ai/internal/ladder"
	"ctfbot.ai/internal/platform"
)

type Outcome string

const (
	OutcomeActed    Outcome = "acted"
	OutcomeNoAction Outcome = "no_action"
	// OutcomeBenign: the action was cut short by a newer goal.
	OutcomeBenign Outcome = "benign"
	OutcomeError  Outcome = "error"
	OutcomePanic  Outcome = "panic"
)

type Iteration struct {
	Time       time.Time      `json:"ts"`
	RunID      string         `json:"run_id"`
	Generation uint64         `json:"gen"`
	Seq        uint64         `json:"seq"`
	Handler    string         `json:"handler,omitempty"`
	Acted      bool           `json:"acted"`
	Intent     *ladder.Intent `json:"intent,omitempty"`
	Outcome    Outcome        `json:"outcome"`
	Err        string         `json:"error,omitempty"`
	Health     float64        `json:"health"`
	Position   geom.Vec3      `json:"pos"`
	HasFlag    bool           `json:"has_flag,omitempty"`
	Took       time.Duration  `json:"took_ns"`
}

type Event struct {
	Time       time.Time          `json:"ts"`
	RunID      string             `json:"run_id"`
	Kind       platform.EventKind `json:"kind"`
	Player     string             `json:"player,omitempty"`
	Team       string             `json:"team,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Generation uint64             `json:"gen"`
}

type Match struct {
	RunID    string    `json:"run_id"`
	EndedAt  time.Time `json:"ended_at"`
	Username string    `json:"username"`
	Team     string    `json:"team,omitempty"`
	Captures int       `json:"captures"`
	Score    int       `json:"score"`
	Players  int       `json:"players"`
}

// Sink receives records. Implementations must not block the caller for long
// and handle their own write failures.
type Sink interface {
	RecordIteration(Iteration)
	RecordEvent(Event)
	RecordMatch(Match)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordIteration(Iteration) {}
func (Nop) RecordEvent(Event)         {}
func (Nop) RecordMatch(Match)         {}

// Multi fans records out to every sink, in order.
type Multi []Sink

func (m Multi) RecordIteration(r Iteration) {
	for _, s := range m {
		s.RecordIteration(r)
	}
}

func (m Multi) RecordEvent(r Event) {
	for _, s := range m {
		s.RecordEvent(r)
	}
}

func (m Multi) RecordMatch(r Match) {
	for _, s := range m {
		s.RecordMatch(r)
	}
}

// Memory keeps records in memory. Safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	iterations []Iteration
	events     []Event
	matches    []Match
}

func (m *Memory) RecordIteration(r Iteration) {
	m.mu.Lock()
	m.iterations = append(m.iterations, r)
	m.mu.Unlock()
}

func (m *Memory) RecordEvent(r Event) {
	m.mu.Lock()
	m.events = append(m.events, r)
	m.mu.Unlock()
}

func (m *Memory) RecordMatch(r Match) {
	m.mu.Lock()
	m.matches = append(m.matches, r)
	m.mu.Unlock()
}

func (m *Memory) Iterations() []Iteration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Iteration(nil), m.iterations...)
}

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func (m *Memory) Matches() []Match {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Match(nil), m.matches...)
}
