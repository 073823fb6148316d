// Package ladder evaluates an ordered list of decision handlers, stopping at
// the first one that acts. At most one handler acts per iteration.
package ladder

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ctfbot.ai/internal/geom"
	"ctfbot.ai/internal/platform"
	"ctfbot.ai/internal/sense"
)

// Handler decides whether it applies to the current turn and, if so,
// performs at most one world-changing action and reports acted=true.
type Handler interface {
	Name() string
	Handle(ctx context.Context, t *Turn) (acted bool, err error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	ID string
	Fn func(ctx context.Context, t *Turn) (bool, error)
}

func (h HandlerFunc) Name() string { return h.ID }

func (h HandlerFunc) Handle(ctx context.Context, t *Turn) (bool, error) { return h.Fn(ctx, t) }

type IntentKind string

const (
	IntentMove    IntentKind = "move"
	IntentAttack  IntentKind = "attack"
	IntentConsume IntentKind = "consume"
	IntentPlace   IntentKind = "place"
)

// Intent is what the acting handler chose to do.
type Intent struct {
	Kind   IntentKind `json:"kind"`
	Target geom.Vec3  `json:"target"`
	Radius float64    `json:"radius,omitempty"`
	Entity string     `json:"entity,omitempty"`
	Item   string     `json:"item,omitempty"`
	// Move is the movement outcome for IntentMove.
	Move platform.MoveStatus `json:"move,omitempty"`
}

// Turn is the input shared by all handlers within one iteration. The
// snapshot is not re-read between handlers.
type Turn struct {
	Snap   *sense.Snapshot
	Sensor platform.Sensor
	Act    platform.Actuator
	Log    *zap.Logger

	intent *Intent
}

func NewTurn(snap *sense.Snapshot, s platform.Sensor, a platform.Actuator, log *zap.Logger) *Turn {
	if log == nil {
		log = zap.NewNop()
	}
	return &Turn{Snap: snap, Sensor: s, Act: a, Log: log}
}

// Commit records the intent of the acting handler. The last call wins.
func (t *Turn) Commit(in Intent) { t.intent = &in }

func (t *Turn) Intent() (Intent, bool) {
	if t.intent == nil {
		return Intent{}, false
	}
	return *t.intent, true
}

type Decision struct {
	Handler string
	Acted   bool
	Intent  *Intent
	// Evaluated lists the handlers that ran, in order.
	Evaluated []string
}

type Ladder struct {
	handlers []Handler
}

func New(handlers ...Handler) *Ladder {
	return &Ladder{handlers: append([]Handler(nil), handlers...)}
}

func (l *Ladder) Names() []string {
	out := make([]string, len(l.handlers))
	for i, h := range l.handlers {
		out[i] = h.Name()
	}
	return out
}

func (l *Ladder) Len() int { return len(l.handlers) }

// HandlerError carries the name of the handler that failed.
type HandlerError struct {
	Handler string
	Err     error
}

func (e *HandlerError) Error() string { return fmt.Sprintf("%s: %v", e.Handler, e.Err) }

func (e *HandlerError) Unwrap() error { return e.Err }

// Evaluate runs handlers in order until one acts or fails. A failing
// handler ends the iteration; its error is returned as *HandlerError.
func (l *Ladder) Evaluate(ctx context.Context, t *Turn) (Decision, error) {
	var d Decision
	for _, h := range l.handlers {
		if err := ctx.Err(); err != nil {
			return d, err
		}
		d.Evaluated = append(d.Evaluated, h.Name())
		acted, err := h.Handle(ctx, t)
		if err != nil {
			d.Handler = h.Name()
			d.Acted = acted
			if in, ok := t.Intent(); ok {
				d.Intent = &in
			}
			return d, &HandlerError{Handler: h.Name(), Err: err}
		}
		if acted {
			d.Handler = h.Name()
			d.Acted = true
			if in, ok := t.Intent(); ok {
				d.Intent = &in
			}
			return d, nil
		}
		t.intent = nil
	}
	return d, nil
}
