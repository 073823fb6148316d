package strategy

import (
	"context"

	"go.uber.org/zap"

	"ctfbot.ai/internal/ladder"
	"ctfbot.ai/internal/platform"
)

// LowHealth: when near death, take an adjacent opponent down with an
// offensive consumable; when merely hurt, drink a healing item.
type LowHealth struct{ P *Params }

func (LowHealth) Name() string { return NameLowHealth }

func (h LowHealth) Handle(ctx context.Context, t *ladder.Turn) (bool, error) {
	p := h.P.Health
	s := t.Snap
	switch {
	case s.Health <= p.Critical:
		r2 := p.CriticalRadius * p.CriticalRadius
		for _, op := range s.Opponents {
			if op.Pos.DistanceSquared(s.Position) > r2 {
				continue
			}
			item, ok := t.Sensor.FindConsumable(platform.CategoryOffensive)
			if !ok {
				return false, nil
			}
			// Aim at their feet before throwing.
			feet := op.Pos.Offset(0, -1, 0)
			if err := t.Act.LookAt(ctx, feet); err != nil {
				return false, err
			}
			used, err := t.Act.UseItem(ctx, item)
			if used {
				t.Commit(ladder.Intent{Kind: ladder.IntentConsume, Target: feet, Entity: op.Name, Item: item.Name})
			}
			return used, err
		}
		return false, nil
	case s.Health <= p.Warning:
		t.Log.Debug("health low, looking for a healing item", zap.Float64("health", s.Health))
		return consume(ctx, t, platform.CategoryHealth)
	}
	return false, nil
}
