// Package journal keeps a compressed, hourly-rotated JSONL record of every
// loop iteration and lifecycle event.
package journal

import (
	"go.uber.org/zap"

	"ctfbot.ai/internal/record"
)

const Prefix = "decisions"

type LineType string

const (
	LineIteration LineType = "iteration"
	LineEvent     LineType = "event"
	LineMatch     LineType = "match"
)

// Line is one journal entry. Exactly one payload is set, matching Type.
type Line struct {
	Type      LineType          `json:"type"`
	Iteration *record.Iteration `json:"iteration,omitempty"`
	Event     *record.Event     `json:"event,omitempty"`
	Match     *record.Match     `json:"match,omitempty"`
}

// Journal is a record.Sink backed by hourly zstd segments. Write failures are
// logged and the record is dropped.
type Journal struct {
	w   *rotator
	log *zap.Logger
}

func Open(dir string, log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{w: newRotator(dir, Prefix), log: log}
}

func (j *Journal) RecordIteration(r record.Iteration) {
	j.write(Line{Type: LineIteration, Iteration: &r})
}

func (j *Journal) RecordEvent(r record.Event) {
	j.write(Line{Type: LineEvent, Event: &r})
}

func (j *Journal) RecordMatch(r record.Match) {
	j.write(Line{Type: LineMatch, Match: &r})
}

func (j *Journal) write(l Line) {
	if err := j.w.append(l); err != nil {
		j.log.Warn("journal write failed", zap.String("type", string(l.Type)), zap.Error(err))
	}
}

func (j *Journal) Close() error { return j.w.close() }

var _ record.Sink = (*Journal)(nil)
