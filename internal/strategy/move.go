package strategy

import (
	"context"

	"ctfbot.ai/internal/geom"
	"ctfbot.ai/internal/ladder"
	"ctfbot.ai/internal/platform"
)

// moveTo asks the platform to travel and commits the move intent with its outcome.
func moveTo(ctx context.Context, t *ladder.Turn, pos geom.Vec3, radius float64) error {
	res, err := t.Act.MoveToward(ctx, pos, radius)
	t.Commit(ladder.Intent{Kind: ladder.IntentMove, Target: pos, Radius: radius, Move: res.Status})
	return err
}

func attack(ctx context.Context, t *ladder.Turn, e platform.Entity) error {
	t.Commit(ladder.Intent{Kind: ladder.IntentAttack, Target: e.Pos, Entity: e.Name})
	return t.Act.Attack(ctx, e)
}

// consume uses the first item of cat, reporting whether one was used.
func consume(ctx context.Context, t *ladder.Turn, cat platform.ItemCategory) (bool, error) {
	item, ok := t.Sensor.FindConsumable(cat)
	if !ok {
		return false, nil
	}
	used, err := t.Act.UseItem(ctx, item)
	if used {
		t.Commit(ladder.Intent{Kind: ladder.IntentConsume, Target: t.Snap.Position, Item: item.Name})
	}
	return used, err
}
