package strategy

import (
	"fmt"

	"ctfbot.ai/internal/ladder"
)

const (
	NameLowHealth   = "low_health"
	NameFlagCarrier = "flag_carrier"
	NameCombat      = "combat"
	NameScoreFlag   = "score_flag"
	NameRecoverFlag = "recover_flag"
	NamePlaceBlocks = "place_blocks"
	NameLoot        = "loot"
	NameIdle        = "idle"
)

// DefaultOrder is the stock priority ladder, highest priority first.
var DefaultOrder = []string{
	NameLowHealth,
	NameFlagCarrier,
	NameCombat,
	NameScoreFlag,
	NameRecoverFlag,
	NamePlaceBlocks,
	NameLoot,
	NameIdle,
}

func handlerFor(name string, p *Params) (ladder.Handler, bool) {
	switch name {
	case NameLowHealth:
		return LowHealth{P: p}, true
	case NameFlagCarrier:
		return FlagCarrier{P: p}, true
	case NameCombat:
		return Combat{P: p}, true
	case NameScoreFlag:
		return ScoreFlag{P: p}, true
	case NameRecoverFlag:
		return RecoverFlag{P: p}, true
	case NamePlaceBlocks:
		return PlaceBlocks{P: p}, true
	case NameLoot:
		return Loot{P: p}, true
	case NameIdle:
		return Idle{P: p}, true
	}
	return nil, false
}

// Build assembles a ladder in the given order. The order must be non-empty,
// free of duplicates and end with idle so every iteration acts.
func Build(order []string, p Params) (*ladder.Ladder, error) {
	if len(order) == 0 {
		order = DefaultOrder
	}
	if order[len(order)-1] != NameIdle {
		return nil, fmt.Errorf("ladder must end with %q, got %q", NameIdle, order[len(order)-1])
	}
	pp := &p
	seen := map[string]bool{}
	hs := make([]ladder.Handler, 0, len(order))
	for _, name := range order {
		if seen[name] {
			return nil, fmt.Errorf("duplicate handler %q", name)
		}
		seen[name] = true
		h, ok := handlerFor(name, pp)
		if !ok {
			return nil, fmt.Errorf("unknown handler %q", name)
		}
		hs = append(hs, h)
	}
	return ladder.New(hs...), nil
}
