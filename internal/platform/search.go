package platform

import (
	"sort"

	"ctfbot.ai/internal/geom"
)

// SelectEntities applies q to candidates seen from origin: name and
// attackable filters, distance cap, rank ascending, count cap.
// Ties keep candidate order.
func SelectEntities(origin geom.Vec3, candidates []Entity, q EntityQuery) []Entity {
	if len(q.Names) == 0 {
		return nil
	}
	names := make(map[string]struct{}, len(q.Names))
	for _, n := range q.Names {
		names[n] = struct{}{}
	}

	type ranked struct {
		e    Entity
		rank float64
	}
	out := make([]ranked, 0, len(candidates))
	for _, e := range candidates {
		if _, ok := names[e.Name]; !ok {
			continue
		}
		if q.Attackable && !e.Attackable {
			continue
		}
		d := origin.Distance(e.Pos)
		if q.MaxDistance > 0 && d > q.MaxDistance {
			continue
		}
		r := d
		if q.Rank != nil {
			r = q.Rank(d, e)
		}
		out = append(out, ranked{e: e, rank: r})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].rank < out[j].rank })
	if q.MaxCount > 0 && len(out) > q.MaxCount {
		out = out[:q.MaxCount]
	}
	res := make([]Entity, len(out))
	for i := range out {
		res[i] = out[i].e
	}
	return res
}

// SelectItems applies q to ground items seen from origin. A nil Weight
// weighs every item 1; a nil Rank uses distance*weight.
func SelectItems(origin geom.Vec3, candidates []GroundItem, q ItemQuery) []GroundItem {
	type ranked struct {
		it   GroundItem
		rank float64
	}
	out := make([]ranked, 0, len(candidates))
	for _, it := range candidates {
		d := origin.Distance(it.Pos)
		if q.MaxDistance > 0 && d > q.MaxDistance {
			continue
		}
		w := 1.0
		if q.Weight != nil {
			w = q.Weight(it.Name)
		}
		r := d * w
		if q.Rank != nil {
			r = q.Rank(d, w)
		}
		out = append(out, ranked{it: it, rank: r})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].rank < out[j].rank })
	if q.MaxCount > 0 && len(out) > q.MaxCount {
		out = out[:q.MaxCount]
	}
	res := make([]GroundItem, len(out))
	for i := range out {
		res[i] = out[i].it
	}
	return res
}
