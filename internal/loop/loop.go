// Package loop runs the decision loop: one ladder evaluation per iteration,
// paced by the throttle gate, until the instance goes stale or the match ends.
package loop

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ctfbot.ai/internal/config"
	"ctfbot.ai/internal/ladder"
	"ctfbot.ai/internal/liveness"
	"ctfbot.ai/internal/platform"
	"ctfbot.ai/internal/record"
	"ctfbot.ai/internal/sense"
	"ctfbot.ai/internal/strategy"
	"ctfbot.ai/internal/throttle"
)

const banner = "!!!!!!!! UNEXPECTED ERROR !!!!!!!!"

// Deps are shared by every loop instance of a bot.
type Deps struct {
	Tracker  *liveness.Tracker
	Platform interface {
		platform.Sensor
		platform.Actuator
	}
	Config *config.Store
	Sink   record.Sink
	Log    *zap.Logger
	RunID  string
	// Seq numbers iterations across instances; nil gives the instance its own.
	Seq   *atomic.Uint64
	Clock throttle.Clock
}

// obsWaiter is implemented by platforms whose sensors fill in
// asynchronously after connecting.
type obsWaiter interface {
	WaitForObs(ctx context.Context, after uint64) (uint64, error)
}

type Loop struct {
	d   Deps
	tok liveness.Token
	log *zap.Logger

	gate     *throttle.Gate
	ladder   *ladder.Ladder
	bounds   sense.Bounds
	cooldown time.Duration
	version  uint64
}

// New prepares an instance bound to tok. It does not start running.
func New(d Deps, tok liveness.Token) *Loop {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Sink == nil {
		d.Sink = record.Nop{}
	}
	if d.Seq == nil {
		d.Seq = new(atomic.Uint64)
	}
	if d.Clock == nil {
		d.Clock = throttle.RealClock()
	}
	l := &Loop{
		d:    d,
		tok:  tok,
		log:  d.Log.Named("loop").With(zap.Uint64("gen", tok.Generation)),
		gate: &throttle.Gate{Clock: d.Clock},
	}
	return l
}

// refresh picks up a new config version. A ladder that fails to build keeps
// the previous one.
func (l *Loop) refresh() {
	cfg, v := l.d.Config.Get()
	if l.ladder != nil && v == l.version {
		return
	}
	lad, err := strategy.Build(cfg.Strategy.Ladder, cfg.Strategy.Params)
	if err != nil {
		if l.ladder == nil {
			lad, _ = strategy.Build(nil, strategy.DefaultParams())
		} else {
			l.log.Warn("config rejected, keeping ladder", zap.Uint64("version", v), zap.Error(err))
			l.version = v
			return
		}
	}
	if l.ladder != nil {
		l.log.Info("config applied", zap.Uint64("version", v), zap.Strings("ladder", lad.Names()))
	}
	l.ladder = lad
	l.gate.MinInterval = cfg.Loop.MinInterval
	l.cooldown = cfg.Loop.ErrorCooldown
	l.bounds = cfg.Sensing.Bounds()
	l.version = v
}

// Run iterates until the instance is stale or the match is no longer in
// progress (nil), or ctx is cancelled (ctx.Err()). The first iteration waits
// for the platform's first observation.
func (l *Loop) Run(ctx context.Context) error {
	if w, ok := l.d.Platform.(obsWaiter); ok {
		tick, err := w.WaitForObs(ctx, 0)
		if err != nil {
			return err
		}
		l.log.Debug("first observation", zap.Uint64("tick", tick))
	}
	l.log.Info("loop started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.gate.Wait(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if !l.d.Tracker.Alive(l.tok) {
			l.log.Info("loop stopped",
				zap.Bool("stale", l.d.Tracker.Stale(l.tok)),
				zap.Stringer("match", l.d.Tracker.MatchState()))
			return nil
		}

		l.refresh()
		it := l.iterate(ctx)
		l.gate.Done()
		if err := ctx.Err(); err != nil {
			return err
		}
		l.d.Sink.RecordIteration(it)

		if it.Outcome == record.OutcomeError || it.Outcome == record.OutcomePanic {
			l.d.Clock.Sleep(ctx, l.cooldown)
		}
	}
}

func (l *Loop) iterate(ctx context.Context) (it record.Iteration) {
	start := l.d.Clock.Now()
	it = record.Iteration{
		Time:       start,
		RunID:      l.d.RunID,
		Generation: l.tok.Generation,
		Seq:        l.d.Seq.Add(1),
	}
	defer func() {
		if r := recover(); r != nil {
			it.Outcome = record.OutcomePanic
			it.Err = fmt.Sprint(r)
			l.log.Error("handler panicked",
				zap.String("banner", banner),
				zap.String("handler", it.Handler),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
		it.Took = l.d.Clock.Now().Sub(start)
	}()

	p := l.d.Platform
	snap := sense.Read(p, l.bounds)
	it.Health = snap.Health
	it.Position = snap.Position
	it.HasFlag = snap.HasFlag
	if ce := l.log.Check(zap.DebugLevel, "status"); ce != nil {
		ce.Write(
			zap.String("team", snap.Team),
			zap.Stringer("pos", snap.Position),
			zap.Float64("health", snap.Health),
			zap.Strings("inventory", snap.InventoryNames()))
	}
	// Actions are refused until respawn.
	if snap.Health <= 0 {
		it.Outcome = record.OutcomeNoAction
		l.log.Debug("dead, waiting for respawn")
		return it
	}

	if err := p.EquipArmor(ctx); err != nil {
		l.log.Debug("equip armor failed", zap.Error(err))
	}

	turn := ladder.NewTurn(snap, p, p, l.log)
	d, err := l.ladder.Evaluate(ctx, turn)
	it.Handler = d.Handler
	it.Acted = d.Acted
	it.Intent = d.Intent

	switch {
	case err == nil && d.Acted:
		it.Outcome = record.OutcomeActed
	case err == nil:
		it.Outcome = record.OutcomeNoAction
	case benign(err, d):
		it.Outcome = record.OutcomeBenign
		it.Err = err.Error()
		l.log.Debug("action superseded", zap.String("handler", d.Handler), zap.Error(err))
	default:
		it.Outcome = record.OutcomeError
		it.Err = err.Error()
		if ctx.Err() == nil {
			l.log.Error("handler failed",
				zap.String("banner", banner),
				zap.String("handler", d.Handler),
				zap.Stringer("kind", platform.KindOf(err)),
				zap.Error(err))
		}
	}
	return it
}

// benign errors come from a goal being replaced and need no cooldown.
func benign(err error, d ladder.Decision) bool {
	if platform.IsSuperseded(err) {
		return true
	}
	return d.Intent != nil && d.Intent.Kind == ladder.IntentMove && d.Intent.Move == platform.MoveSuperseded
}
