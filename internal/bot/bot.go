// Package bot wires lifecycle events to decision loop instances: spawn starts
// a fresh instance, disconnects and kicks retire it, match events move the
// match state.
package bot

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ctfbot.ai/internal/config"
	"ctfbot.ai/internal/liveness"
	"ctfbot.ai/internal/loop"
	"ctfbot.ai/internal/platform"
	"ctfbot.ai/internal/record"
	"ctfbot.ai/internal/throttle"
)

type Options struct {
	Platform platform.Platform
	Tracker  *liveness.Tracker
	Config   *config.Store
	Sink     record.Sink
	Log      *zap.Logger
	RunID    string
	Clock    throttle.Clock
}

type Bot struct {
	p       platform.Platform
	tracker *liveness.Tracker
	store   *config.Store
	sink    record.Sink
	log     *zap.Logger
	runID   string
	clock   throttle.Clock

	seq    atomic.Uint64
	active atomic.Int32
	wg     sync.WaitGroup
}

func New(o Options) *Bot {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.Sink == nil {
		o.Sink = record.Nop{}
	}
	if o.Tracker == nil {
		o.Tracker = liveness.New()
	}
	if o.Clock == nil {
		o.Clock = throttle.RealClock()
	}
	return &Bot{
		p:       o.Platform,
		tracker: o.Tracker,
		store:   o.Config,
		sink:    o.Sink,
		log:     o.Log.Named("bot"),
		runID:   o.RunID,
		clock:   o.Clock,
	}
}

// Active counts loop instances that have not returned yet.
func (b *Bot) Active() int { return int(b.active.Load()) }

func (b *Bot) Tracker() *liveness.Tracker { return b.tracker }

// Run pumps lifecycle events until the stream closes or ctx ends, then
// retires the live loop and waits for every instance to return.
func (b *Bot) Run(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer func() {
		b.tracker.Invalidate()
		cancel()
		b.wg.Wait()
	}()

	events := b.p.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				b.log.Info("event stream closed")
				return nil
			}
			b.handle(loopCtx, ev)
		}
	}
}

func (b *Bot) handle(ctx context.Context, ev platform.Event) {
	switch ev.Kind {
	case platform.EventSpawn:
		b.onSpawn(ctx)

	case platform.EventDeath:
		b.log.Info("died, stopping movement")
		if err := b.p.StopMovement(ctx); err != nil {
			b.log.Debug("stop movement failed", zap.Error(err))
		}

	case platform.EventDisconnected, platform.EventKicked:
		gen := b.tracker.Invalidate()
		b.log.Warn("connection ended", zap.String("kind", string(ev.Kind)), zap.String("reason", ev.Reason), zap.Uint64("gen", gen))

	case platform.EventPlayerLeft:
		if ev.Player == b.p.Username() {
			gen := b.tracker.Invalidate()
			b.log.Info("left the match", zap.Uint64("gen", gen))
		}

	case platform.EventMatchStarted:
		b.tracker.SetMatchState(liveness.MatchInProgress)
		b.log.Info("match started")

	case platform.EventMatchEnded:
		b.tracker.SetMatchState(liveness.MatchEnded)
		b.onMatchEnded(ev)

	case platform.EventFlagObtained:
		if ev.Player != "" && ev.Player == b.p.Username() {
			b.log.Info("I have the flag")
		} else {
			b.log.Info("flag obtained", zap.String("player", ev.Player))
		}

	case platform.EventFlagScored:
		b.log.Info("flag scored", zap.String("team", ev.Team))

	case platform.EventFlagAvailable:
		if ev.Pos != nil {
			b.log.Info("flag available", zap.Stringer("pos", *ev.Pos))
		} else {
			b.log.Info("flag available")
		}
	}

	b.sink.RecordEvent(record.Event{
		Time:       b.clock.Now(),
		RunID:      b.runID,
		Kind:       ev.Kind,
		Player:     ev.Player,
		Team:       ev.Team,
		Reason:     ev.Reason,
		Generation: b.tracker.Current(),
	})
}

func (b *Bot) onSpawn(ctx context.Context) {
	cfg, _ := b.store.Get()
	if g := strings.TrimSpace(cfg.Server.Greeting); g != "" {
		if err := b.p.Chat(ctx, g); err != nil {
			b.log.Debug("greeting failed", zap.Error(err))
		}
	}

	// A carrier without a score location would stall the whole match.
	team := b.p.Team()
	if _, ok := cfg.Strategy.Params.Objective.ScoreLocations[team]; !ok {
		b.log.Error("no score location for team", zap.String("team", team))
	}

	tok := b.tracker.Begin()
	l := loop.New(loop.Deps{
		Tracker:  b.tracker,
		Platform: b.p,
		Config:   b.store,
		Sink:     b.sink,
		Log:      b.log,
		RunID:    b.runID,
		Seq:      &b.seq,
		Clock:    b.clock,
	}, tok)

	b.wg.Add(1)
	b.active.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.active.Add(-1)
		start := time.Now()
		err := l.Run(ctx)
		b.log.Debug("loop returned", zap.Uint64("gen", tok.Generation), zap.Duration("ran", time.Since(start)), zap.Error(err))
	}()
}

func (b *Bot) onMatchEnded(ev platform.Event) {
	me := b.p.Username()
	m := record.Match{
		RunID:    b.runID,
		EndedAt:  b.clock.Now(),
		Username: me,
	}
	if ev.Match != nil {
		m.Players = len(ev.Match.Players)
		if ps, ok := ev.Match.Player(me); ok {
			m.Team = ps.Team
			m.Captures = ps.FlagCaptures
			m.Score = ps.Score
		}
	}
	b.log.Info("match ended",
		zap.Int("captures", m.Captures),
		zap.Int("score", m.Score),
		zap.Int("players", m.Players))
	b.sink.RecordMatch(m)
}
