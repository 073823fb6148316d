package strategy

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"ctfbot.ai/internal/geom"
	"ctfbot.ai/internal/ladder"
	"ctfbot.ai/internal/platform"
)

// PlaceBlocks walls off the team's choke points while no opponent is close
// on the same layer. It commits as soon as it starts approaching a site;
// later iterations re-check the site and finish the job.
type PlaceBlocks struct{ P *Params }

func (PlaceBlocks) Name() string { return NamePlaceBlocks }

func (h PlaceBlocks) Handle(ctx context.Context, t *ladder.Turn) (bool, error) {
	s := t.Snap
	p := h.P.Blocks

	threat2 := p.ThreatRadius * p.ThreatRadius
	for _, op := range s.Opponents {
		// Opponents in the tunnel below do not count.
		if op.Pos.VerticalGap(s.Position) >= p.LayerGap {
			continue
		}
		if op.Pos.DistanceSquared(s.Position) <= threat2 {
			t.Log.Debug("opponent nearby, not placing blocks", zap.String("player", op.Name))
			return false, nil
		}
	}

	block, ok := h.placeable(s.Inventory)
	if !ok {
		t.Log.Debug("no placeable blocks in inventory")
		return false, nil
	}

	approach2 := p.ApproachRadius * p.ApproachRadius
	for _, site := range p.Sites[s.Team] {
		if site.DistanceSquared(s.Position) > approach2 {
			continue
		}
		if occupied(t.Sensor, site) {
			continue
		}
		t.Log.Debug("moving to place block", zap.String("block", block.DisplayName), zap.Stringer("site", site))
		if err := moveTo(ctx, t, site, p.ArrivalRadius); err != nil {
			return true, err
		}
		// Distance is measured from where this iteration started.
		if site.DistanceSquared(s.Position) < p.PlaceRadius*p.PlaceRadius {
			// Someone may have filled it while we walked.
			if occupied(t.Sensor, site) {
				return true, nil
			}
			t.Log.Info("placing block", zap.String("block", block.DisplayName), zap.Stringer("site", site))
			if err := t.Act.Equip(ctx, block, platform.SlotHand); err != nil {
				return true, err
			}
			t.Commit(ladder.Intent{Kind: ladder.IntentPlace, Target: site, Item: block.Name})
			if err := t.Act.PlaceBlock(ctx, site.Offset(0, -1, 0), geom.Up); err != nil {
				return true, err
			}
		}
		return true, nil
	}
	return false, nil
}

func (h PlaceBlocks) placeable(inv []platform.Item) (platform.Item, bool) {
	for _, it := range inv {
		if it.Count > 0 && slices.Contains(h.P.Blocks.Placeable, it.DisplayName) {
			return it, true
		}
	}
	return platform.Item{}, false
}

func occupied(s platform.Sensor, site geom.Vec3) bool {
	b, ok := s.BlockAt(site)
	return ok && !b.IsAir()
}

// Loot collects the best nearby ground item on our layer, preferring
// items we do not own yet.
type Loot struct{ P *Params }

func (Loot) Name() string { return NameLoot }

func (h Loot) Handle(ctx context.Context, t *ladder.Turn) (bool, error) {
	s := t.Snap
	p := h.P.Loot
	items := t.Sensor.FindItemsOnGround(platform.ItemQuery{
		MaxDistance: p.Radius,
		MaxCount:    p.MaxCount,
		Weight: func(name string) float64 {
			if t.Sensor.InventoryContains(name) {
				return p.OwnedWeight
			}
			return p.NewWeight
		},
		Rank: func(distance, weight float64) float64 { return distance * weight },
	})
	for _, it := range items {
		if it.Pos.VerticalGap(s.Position) >= p.LayerGap {
			continue
		}
		t.Log.Debug("collecting item", zap.String("item", it.Name), zap.Stringer("pos", it.Pos))
		return true, moveTo(ctx, t, it.Pos, h.P.Objective.ArrivalRadius)
	}
	return false, nil
}
