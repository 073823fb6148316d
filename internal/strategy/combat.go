package strategy

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"ctfbot.ai/internal/ladder"
	"ctfbot.ai/internal/platform"
)

// FlagCarrier hunts the opponent holding the flag. The flag has no ground
// location while someone carries it.
type FlagCarrier struct{ P *Params }

func (FlagCarrier) Name() string { return NameFlagCarrier }

func (h FlagCarrier) Handle(ctx context.Context, t *ladder.Turn) (bool, error) {
	s := t.Snap
	if s.FlagOnGround {
		return false, nil
	}
	suffix := h.P.Carrier.FlagItemSuffix
	if suffix == "" {
		return false, nil
	}
	t.Log.Debug("checking opponents for flag carriers", zap.Int("opponents", len(s.Opponents)))
	for _, op := range s.Opponents {
		if op.HeldItem == "" || !strings.Contains(op.HeldItem, suffix) {
			continue
		}
		t.Log.Info("attacking flag carrier", zap.String("player", op.Name), zap.Stringer("pos", op.Pos))
		if h.P.Carrier.UseSpeed {
			if _, err := consume(ctx, t, platform.CategorySpeed); err != nil {
				return false, err
			}
		}
		return true, attack(ctx, t, op)
	}
	return false, nil
}

// Combat fights the nearest opponent in range unless outnumbered, in which
// case it falls back toward the nearest teammate.
type Combat struct{ P *Params }

func (Combat) Name() string { return NameCombat }

func (h Combat) Handle(ctx context.Context, t *ladder.Turn) (bool, error) {
	s := t.Snap
	p := h.P.Combat

	// Shorter reach while carrying the flag.
	r := p.Radius
	if s.HasFlag {
		r = p.CarryingRadius
	}
	r2 := r * r

	var target *platform.Entity
	inRange := 0
	for i := range s.Opponents {
		if s.Opponents[i].Pos.DistanceSquared(s.Position) <= r2 {
			if target == nil {
				target = &s.Opponents[i]
			}
			inRange++
		}
	}
	t.Log.Debug("opponents in striking range", zap.Int("count", inRange))
	if target == nil {
		return false, nil
	}

	outnumbered := len(s.Teammates)+1 < len(s.Opponents)
	// No backup around: running gains nothing.
	yolo := len(s.Teammates) == 0
	if !outnumbered || yolo {
		t.Log.Info("attacking opponent", zap.String("player", target.Name), zap.Stringer("pos", target.Pos))
		return true, attack(ctx, t, *target)
	}
	mate := s.Teammates[0]
	t.Log.Info("outnumbered, falling back to teammate", zap.String("teammate", mate.Name))
	return true, moveTo(ctx, t, mate.Pos, p.RetreatRadius)
}
