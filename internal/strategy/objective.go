package strategy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ctfbot.ai/internal/ladder"
)

// ScoreFlag runs the carried flag home.
type ScoreFlag struct{ P *Params }

func (ScoreFlag) Name() string { return NameScoreFlag }

func (h ScoreFlag) Handle(ctx context.Context, t *ladder.Turn) (bool, error) {
	s := t.Snap
	if !s.HasFlag {
		return false, nil
	}
	home, ok := h.P.Objective.ScoreLocations[s.Team]
	if !ok {
		return false, fmt.Errorf("no score location for team %q", s.Team)
	}
	t.Log.Info("carrying the flag, running to score", zap.Stringer("target", home))
	return true, moveTo(ctx, t, home, h.P.Objective.ArrivalRadius)
}

// RecoverFlag heads for the flag while it lies on the ground.
type RecoverFlag struct{ P *Params }

func (RecoverFlag) Name() string { return NameRecoverFlag }

func (h RecoverFlag) Handle(ctx context.Context, t *ladder.Turn) (bool, error) {
	s := t.Snap
	if !s.FlagOnGround {
		return false, nil
	}
	t.Log.Info("moving toward the flag", zap.Stringer("flag", s.Flag))
	return true, moveTo(ctx, t, s.Flag, h.P.Objective.ArrivalRadius)
}

// Idle walks to the flag spawn when nothing else applies. It always acts.
type Idle struct{ P *Params }

func (Idle) Name() string { return NameIdle }

func (h Idle) Handle(ctx context.Context, t *ladder.Turn) (bool, error) {
	spawn := h.P.Objective.FlagSpawn
	t.Log.Debug("idle, moving toward flag spawn", zap.Stringer("target", spawn))
	return true, moveTo(ctx, t, spawn, h.P.Objective.ArrivalRadius)
}
