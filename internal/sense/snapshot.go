// Package sense reads one iteration's view of the world from the platform.
package sense

import (
	"ctfbot.ai/internal/geom"
	"ctfbot.ai/internal/platform"
)

// Bounds caps the entity searches.
type Bounds struct {
	MaxOpponents   int
	MaxTeammates   int
	OpponentRadius float64
	TeammateRadius float64
}

func DefaultBounds() Bounds {
	return Bounds{
		MaxOpponents:   3,
		MaxTeammates:   3,
		OpponentRadius: 33,
		TeammateRadius: 33,
	}
}

// Snapshot is valid for a single iteration and must not be kept.
type Snapshot struct {
	Username     string
	Position     geom.Vec3
	Health       float64
	Team         string
	OpponentTeam string
	HeldItem     string

	// Opponents and Teammates are nearest first.
	Opponents []platform.Entity
	Teammates []platform.Entity

	Flag         geom.Vec3
	FlagOnGround bool
	FlagHolder   string
	HasFlag      bool

	Inventory []platform.Item
}

// Read takes a snapshot from s.
func Read(s platform.Sensor, b Bounds) *Snapshot {
	snap := &Snapshot{
		Username:     s.Username(),
		Position:     s.Position(),
		Health:       s.Health(),
		Team:         s.Team(),
		OpponentTeam: s.OpponentTeam(),
		HeldItem:     s.HeldItem(),
		FlagHolder:   s.FlagHolder(),
		HasFlag:      s.HasFlag(),
		Inventory:    s.Inventory(),
	}
	snap.Flag, snap.FlagOnGround = s.FlagLocation()

	// An empty name list would match nothing anyway (practice mode has no
	// other team), so skip the search.
	if names := s.OpponentNames(); len(names) > 0 {
		snap.Opponents = s.FindEntities(platform.EntityQuery{
			Names:       names,
			Attackable:  true,
			MaxCount:    b.MaxOpponents,
			MaxDistance: b.OpponentRadius,
			Rank:        byDistance,
		})
	}
	if names := without(s.TeammateNames(), snap.Username); len(names) > 0 {
		snap.Teammates = s.FindEntities(platform.EntityQuery{
			Names:       names,
			MaxCount:    b.MaxTeammates,
			MaxDistance: b.TeammateRadius,
			Rank:        byDistance,
		})
	}
	return snap
}

func byDistance(d float64, _ platform.Entity) float64 { return d }

func without(names []string, self string) []string {
	out := names[:0:0]
	for _, n := range names {
		if n != self {
			out = append(out, n)
		}
	}
	return out
}

// InventoryNames lists inventory item names for logging.
func (s *Snapshot) InventoryNames() []string {
	out := make([]string, 0, len(s.Inventory))
	for _, it := range s.Inventory {
		out = append(out, it.Name)
	}
	return out
}
