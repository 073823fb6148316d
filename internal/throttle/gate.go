package throttle

import (
	"context"
	"time"
)

// Clock is the time source; tests swap in a fake.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

// RealClock is the wall clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Gate enforces a minimum interval between loop iterations. Wait sleeps only
// the remaining part of the interval since the last Done. Not safe for
// concurrent use; each loop instance owns its gate.
type Gate struct {
	MinInterval time.Duration
	Clock       Clock

	last time.Time
}

func New(minInterval time.Duration) *Gate {
	return &Gate{MinInterval: minInterval}
}

func (g *Gate) clock() Clock {
	if g.Clock == nil {
		return realClock{}
	}
	return g.Clock
}

// Wait blocks until MinInterval has passed since the previous Done. The
// first call returns immediately. A cancelled ctx cuts the sleep short.
func (g *Gate) Wait(ctx context.Context) {
	if g.last.IsZero() || g.MinInterval <= 0 {
		return
	}
	c := g.clock()
	deficit := g.MinInterval - c.Now().Sub(g.last)
	if deficit <= 0 {
		return
	}
	c.Sleep(ctx, deficit)
}

// Done marks the end of an iteration.
func (g *Gate) Done() { g.last = g.clock().Now() }
