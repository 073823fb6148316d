// Package strategy holds the capture-the-flag handlers evaluated by the
// decision ladder, and the parameters that tune them.
package strategy

import "ctfbot.ai/internal/geom"

// Team names used as keys for per-team locations.
const (
	TeamBlue = "BLUE"
	TeamRed  = "RED"
)

type Params struct {
	Health    HealthParams    `yaml:"health" json:"health"`
	Carrier   CarrierParams   `yaml:"carrier" json:"carrier"`
	Combat    CombatParams    `yaml:"combat" json:"combat"`
	Objective ObjectiveParams `yaml:"objective" json:"objective"`
	Blocks    BlockParams     `yaml:"blocks" json:"blocks"`
	Loot      LootParams      `yaml:"loot" json:"loot"`
}

type HealthParams struct {
	Critical       float64 `yaml:"critical" json:"critical"`
	Warning        float64 `yaml:"warning" json:"warning"`
	CriticalRadius float64 `yaml:"critical_radius" json:"critical_radius"`
}

type CarrierParams struct {
	// FlagItemSuffix matches the held item name of a flag carrier.
	FlagItemSuffix string `yaml:"flag_item_suffix" json:"flag_item_suffix"`
	UseSpeed       bool   `yaml:"use_speed" json:"use_speed"`
}

type CombatParams struct {
	Radius         float64 `yaml:"radius" json:"radius"`
	CarryingRadius float64 `yaml:"carrying_radius" json:"carrying_radius"`
	RetreatRadius  float64 `yaml:"retreat_radius" json:"retreat_radius"`
}

type ObjectiveParams struct {
	ScoreLocations map[string]geom.Vec3 `yaml:"score_locations" json:"score_locations"`
	FlagSpawn      geom.Vec3            `yaml:"flag_spawn" json:"flag_spawn"`
	ArrivalRadius  float64              `yaml:"arrival_radius" json:"arrival_radius"`
}

type BlockParams struct {
	// Placeable lists inventory display names that may be placed.
	Placeable      []string               `yaml:"placeable" json:"placeable"`
	Sites          map[string][]geom.Vec3 `yaml:"sites" json:"sites"`
	ThreatRadius   float64                `yaml:"threat_radius" json:"threat_radius"`
	LayerGap       float64                `yaml:"layer_gap" json:"layer_gap"`
	ApproachRadius float64                `yaml:"approach_radius" json:"approach_radius"`
	ArrivalRadius  float64                `yaml:"arrival_radius" json:"arrival_radius"`
	PlaceRadius    float64                `yaml:"place_radius" json:"place_radius"`
}

type LootParams struct {
	Radius      float64 `yaml:"radius" json:"radius"`
	MaxCount    int     `yaml:"max_count" json:"max_count"`
	OwnedWeight float64 `yaml:"owned_weight" json:"owned_weight"`
	NewWeight   float64 `yaml:"new_weight" json:"new_weight"`
	LayerGap    float64 `yaml:"layer_gap" json:"layer_gap"`
}

// DefaultParams are tuned for the stock capture-the-flag arena.
func DefaultParams() Params {
	return Params{
		Health: HealthParams{Critical: 7, Warning: 15, CriticalRadius: 4},
		Carrier: CarrierParams{
			FlagItemSuffix: "_banner",
			UseSpeed:       true,
		},
		Combat: CombatParams{Radius: 10, CarryingRadius: 5, RetreatRadius: 3},
		Objective: ObjectiveParams{
			ScoreLocations: map[string]geom.Vec3{
				TeamBlue: geom.V(160, 63, -385),
				TeamRed:  geom.V(33, 63, -385),
			},
			FlagSpawn:     geom.V(96, 63, -386),
			ArrivalRadius: 1,
		},
		Blocks: BlockParams{
			Placeable: []string{"Gravel", "Grass Block", "Dirt", "Stripped Dark Oak Wood"},
			Sites: map[string][]geom.Vec3{
				// bridge blockade
				TeamBlue: {geom.V(81, 65, -387), geom.V(81, 66, -387), geom.V(81, 65, -385), geom.V(81, 66, -385)},
				TeamRed:  {geom.V(111, 65, -387), geom.V(111, 66, -387), geom.V(111, 65, -385), geom.V(111, 66, -385)},
			},
			ThreatRadius:   15,
			LayerGap:       5,
			ApproachRadius: 20,
			ArrivalRadius:  3,
			PlaceRadius:    3.87,
		},
		Loot: LootParams{
			Radius:      33,
			MaxCount:    5,
			OwnedWeight: 999999,
			NewWeight:   1,
			LayerGap:    5,
		},
	}
}
