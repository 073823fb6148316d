package strategy

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ctfbot.ai/internal/geom"
	"ctfbot.ai/internal/ladder"
	"ctfbot.ai/internal/platform"
	"ctfbot.ai/internal/platform/platformtest"
	"ctfbot.ai/internal/sense"
)

func turnFor(f *platformtest.Fake) *ladder.Turn {
	return ladder.NewTurn(sense.Read(f, sense.DefaultBounds()), f, f, nil)
}

func mustLadder(t *testing.T) *ladder.Ladder {
	t.Helper()
	l, err := Build(DefaultOrder, DefaultParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return l
}

func opponent(name string, pos geom.Vec3) platform.Entity {
	return platform.Entity{ID: name, Name: name, Team: TeamRed, Pos: pos, Attackable: true}
}

func teammate(name string, pos geom.Vec3) platform.Entity {
	return platform.Entity{ID: name, Name: name, Team: TeamBlue, Pos: pos}
}

func ops(calls []platformtest.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op
	}
	return out
}

func TestLadder_CriticalHealthUsesOffensiveItemAndStops(t *testing.T) {
	f := platformtest.New()
	f.HP = 6
	f.Pos = geom.V(0, 64, 0)
	f.Opponents = []string{"red1"}
	f.Entities = []platform.Entity{opponent("red1", geom.V(2, 64, 1))}
	f.Items = []platform.Item{{Name: "splash_potion", DisplayName: "Ninja Potion", Count: 1, Category: platform.CategoryOffensive}}

	d, err := mustLadder(t).Evaluate(context.Background(), turnFor(f))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Handler != NameLowHealth || !d.Acted {
		t.Fatalf("expected low_health to act, got %+v", d)
	}
	if diff := cmp.Diff([]string{"look", "use_item"}, ops(f.Calls())); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	if got := f.CallsOf("look")[0].Pos; got != geom.V(2, 63, 1) {
		t.Fatalf("expected to aim at the opponent's feet, got %v", got)
	}
	if len(d.Evaluated) != 1 {
		t.Fatalf("no handler may run after low_health acted: %v", d.Evaluated)
	}
}

func TestLowHealth_CriticalWithoutItemDoesNotAct(t *testing.T) {
	f := platformtest.New()
	f.HP = 6
	f.Opponents = []string{"red1"}
	f.Entities = []platform.Entity{opponent("red1", geom.V(1, 0, 0))}
	p := DefaultParams()
	acted, err := LowHealth{P: &p}.Handle(context.Background(), turnFor(f))
	if err != nil || acted {
		t.Fatalf("expected no action, acted=%v err=%v", acted, err)
	}
}

func TestLowHealth_CriticalOpponentOutOfReach(t *testing.T) {
	f := platformtest.New()
	f.HP = 5
	f.Opponents = []string{"red1"}
	f.Entities = []platform.Entity{opponent("red1", geom.V(5, 0, 0))}
	f.Items = []platform.Item{{Name: "splash_potion", Count: 1, Category: platform.CategoryOffensive}}
	p := DefaultParams()
	acted, _ := LowHealth{P: &p}.Handle(context.Background(), turnFor(f))
	if acted || len(f.Calls()) != 0 {
		t.Fatalf("opponent outside critical radius: acted=%v calls=%v", acted, f.Calls())
	}
}

func TestLowHealth_WarningDrinksHealingItem(t *testing.T) {
	f := platformtest.New()
	f.HP = 12
	f.Items = []platform.Item{{Name: "potion", DisplayName: "Health Potion", Count: 2, Category: platform.CategoryHealth}}
	tr := turnFor(f)
	p := DefaultParams()
	acted, err := LowHealth{P: &p}.Handle(context.Background(), tr)
	if err != nil || !acted {
		t.Fatalf("expected heal, acted=%v err=%v", acted, err)
	}
	in, ok := tr.Intent()
	if !ok || in.Kind != ladder.IntentConsume || in.Item != "potion" {
		t.Fatalf("unexpected intent: %+v", in)
	}
}

func TestLowHealth_HealthyDoesNothing(t *testing.T) {
	f := platformtest.New()
	f.HP = 20
	f.Items = []platform.Item{{Name: "potion", Count: 1, Category: platform.CategoryHealth}}
	p := DefaultParams()
	if acted, _ := (LowHealth{P: &p}).Handle(context.Background(), turnFor(f)); acted {
		t.Fatalf("healthy bot should not act")
	}
}

func TestScoreFlag_UsesOwnTeamLocation(t *testing.T) {
	p := DefaultParams()
	for _, team := range []string{TeamBlue, TeamRed} {
		f := platformtest.New()
		f.MyTeam = team
		f.CarryingIt = true
		f.Opponents = []string{"x"}
		f.Entities = []platform.Entity{opponent("x", geom.V(40, 0, 0))}
		tr := turnFor(f)
		acted, err := ScoreFlag{P: &p}.Handle(context.Background(), tr)
		if err != nil || !acted {
			t.Fatalf("%s: expected score to act, err=%v", team, err)
		}
		in, _ := tr.Intent()
		if in.Target != p.Objective.ScoreLocations[team] {
			t.Fatalf("%s: wrong score location %v", team, in.Target)
		}
	}
}

func TestScoreFlag_UnknownTeamFails(t *testing.T) {
	f := platformtest.New()
	f.MyTeam = "GREEN"
	f.CarryingIt = true
	p := DefaultParams()
	if _, err := (ScoreFlag{P: &p}).Handle(context.Background(), turnFor(f)); err == nil {
		t.Fatalf("expected error for unknown team")
	}
}

func TestLadder_LooseFlagSkipsCarrierAndRecovers(t *testing.T) {
	f := platformtest.New()
	flag := geom.V(100, 63, -380)
	f.Flag = &flag

	l := mustLadder(t)
	d, err := l.Evaluate(context.Background(), turnFor(f))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Handler != NameRecoverFlag {
		t.Fatalf("expected recover_flag, got %+v", d)
	}
	if d.Intent == nil || d.Intent.Target != flag {
		t.Fatalf("expected target %v, got %+v", flag, d.Intent)
	}

	p := DefaultParams()
	if acted, _ := (FlagCarrier{P: &p}).Handle(context.Background(), turnFor(f)); acted {
		t.Fatalf("flag_carrier must not act while the flag is on the ground")
	}
}

func TestFlagCarrier_AttacksCarrierAfterSpeedBoost(t *testing.T) {
	f := platformtest.New()
	f.Opponents = []string{"red1", "red2"}
	f.Entities = []platform.Entity{
		opponent("red1", geom.V(3, 0, 0)),
		func() platform.Entity {
			e := opponent("red2", geom.V(8, 0, 0))
			e.HeldItem = "white_banner"
			return e
		}(),
	}
	f.Items = []platform.Item{{Name: "speed_potion", Count: 1, Category: platform.CategorySpeed}}
	p := DefaultParams()
	tr := turnFor(f)
	acted, err := FlagCarrier{P: &p}.Handle(context.Background(), tr)
	if err != nil || !acted {
		t.Fatalf("expected carrier attack, acted=%v err=%v", acted, err)
	}
	if diff := cmp.Diff([]string{"use_item", "attack"}, ops(f.Calls())); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	if f.CallsOf("attack")[0].Target != "red2" {
		t.Fatalf("attacked the wrong player: %+v", f.Calls())
	}
}

func TestCombat(t *testing.T) {
	p := DefaultParams()
	cases := []struct {
		name      string
		opponents []platform.Entity
		mates     []platform.Entity
		carrying  bool
		acted     bool
		op        string
		target    string
	}{
		{
			name:      "alone attacks even when outnumbered",
			opponents: []platform.Entity{opponent("r1", geom.V(4, 0, 0)), opponent("r2", geom.V(6, 0, 0))},
			acted:     true, op: "attack", target: "r1",
		},
		{
			name:      "even fight attacks",
			opponents: []platform.Entity{opponent("r1", geom.V(4, 0, 0)), opponent("r2", geom.V(6, 0, 0))},
			mates:     []platform.Entity{teammate("b1", geom.V(-3, 0, 0))},
			acted:     true, op: "attack", target: "r1",
		},
		{
			name: "outnumbered falls back",
			opponents: []platform.Entity{
				opponent("r1", geom.V(4, 0, 0)), opponent("r2", geom.V(6, 0, 0)), opponent("r3", geom.V(7, 0, 0)),
			},
			mates: []platform.Entity{teammate("b1", geom.V(-3, 0, 0))},
			acted: true, op: "move",
		},
		{
			name:      "carrying shrinks reach",
			opponents: []platform.Entity{opponent("r1", geom.V(8, 0, 0))},
			carrying:  true,
		},
		{
			name:      "nobody in range",
			opponents: []platform.Entity{opponent("r1", geom.V(20, 0, 0))},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := platformtest.New()
			f.CarryingIt = c.carrying
			for _, e := range c.opponents {
				f.Opponents = append(f.Opponents, e.Name)
				f.Entities = append(f.Entities, e)
			}
			for _, e := range c.mates {
				f.Teammates = append(f.Teammates, e.Name)
				f.Entities = append(f.Entities, e)
			}
			acted, err := Combat{P: &p}.Handle(context.Background(), turnFor(f))
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if acted != c.acted {
				t.Fatalf("acted=%v want %v", acted, c.acted)
			}
			calls := f.Calls()
			if !c.acted {
				if len(calls) != 0 {
					t.Fatalf("unexpected calls: %+v", calls)
				}
				return
			}
			if len(calls) != 1 || calls[0].Op != c.op {
				t.Fatalf("unexpected calls: %+v", calls)
			}
			if c.op == "attack" && calls[0].Target != c.target {
				t.Fatalf("attacked %q, want %q", calls[0].Target, c.target)
			}
			if c.op == "move" && (calls[0].Pos != c.mates[0].Pos || calls[0].Radius != p.Combat.RetreatRadius) {
				t.Fatalf("unexpected retreat: %+v", calls[0])
			}
		})
	}
}

func TestCombat_RetreatsToNearestTeammate(t *testing.T) {
	p := DefaultParams()
	f := platformtest.New()
	for i, x := range []float64{3, 4, 5, 6} {
		o := opponent(fmt.Sprintf("r%d", i+1), geom.V(x, 0, 0))
		f.Opponents = append(f.Opponents, o.Name)
		f.Entities = append(f.Entities, o)
	}
	far, near := teammate("b1", geom.V(-20, 0, 0)), teammate("b2", geom.V(0, 0, -6))
	f.Teammates = []string{far.Name, near.Name}
	f.Entities = append(f.Entities, far, near)

	b := sense.DefaultBounds()
	b.MaxOpponents = 5
	turn := ladder.NewTurn(sense.Read(f, b), f, f, nil)
	acted, err := Combat{P: &p}.Handle(context.Background(), turn)
	if err != nil || !acted {
		t.Fatalf("Handle: acted=%v err=%v", acted, err)
	}
	moves := f.CallsOf("move")
	if len(moves) != 1 || len(f.CallsOf("attack")) != 0 {
		t.Fatalf("unexpected calls: %+v", f.Calls())
	}
	if moves[0].Pos != near.Pos || moves[0].Radius != 3 {
		t.Fatalf("retreat: got %v r=%v, want %v r=3", moves[0].Pos, moves[0].Radius, near.Pos)
	}
}

func blockFake(self geom.Vec3) *platformtest.Fake {
	f := platformtest.New()
	f.Pos = self
	f.Items = []platform.Item{{Name: "gravel", DisplayName: "Gravel", Count: 16}}
	return f
}

func TestPlaceBlocks_PlacesWhenClose(t *testing.T) {
	p := DefaultParams()
	site := p.Blocks.Sites[TeamBlue][0]
	f := blockFake(geom.V(81, 65, -385))
	tr := turnFor(f)
	acted, err := PlaceBlocks{P: &p}.Handle(context.Background(), tr)
	if err != nil || !acted {
		t.Fatalf("expected placement, acted=%v err=%v", acted, err)
	}
	if diff := cmp.Diff([]string{"move", "equip", "place_block"}, ops(f.Calls())); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	pl := f.CallsOf("place_block")[0]
	if pl.Pos != site.Offset(0, -1, 0) || pl.Face != geom.Up {
		t.Fatalf("must place on top face of the cell below the site: %+v", pl)
	}
	in, _ := tr.Intent()
	if in.Kind != ladder.IntentPlace || in.Target != site {
		t.Fatalf("unexpected intent %+v", in)
	}
}

func TestPlaceBlocks_ApproachesWhenFar(t *testing.T) {
	p := DefaultParams()
	f := blockFake(geom.V(81, 65, -370))
	acted, err := PlaceBlocks{P: &p}.Handle(context.Background(), turnFor(f))
	if err != nil || !acted {
		t.Fatalf("expected approach, acted=%v err=%v", acted, err)
	}
	if diff := cmp.Diff([]string{"move"}, ops(f.Calls())); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestPlaceBlocks_SkipsOccupiedSites(t *testing.T) {
	p := DefaultParams()
	sites := p.Blocks.Sites[TeamBlue]
	f := blockFake(geom.V(81, 65, -385))
	f.Blocks[sites[0]] = platform.Block{Type: 13, Name: "gravel"}
	tr := turnFor(f)
	if acted, err := (PlaceBlocks{P: &p}).Handle(context.Background(), tr); err != nil || !acted {
		t.Fatalf("expected to move on to the next site, acted=%v err=%v", acted, err)
	}
	in, _ := tr.Intent()
	if in.Target != sites[1] {
		t.Fatalf("expected next free site %v, got %v", sites[1], in.Target)
	}

	for _, s := range sites {
		f.Blocks[s] = platform.Block{Type: 13}
	}
	f.Reset()
	if acted, _ := (PlaceBlocks{P: &p}).Handle(context.Background(), turnFor(f)); acted {
		t.Fatalf("all sites filled, should not act")
	}
}

func TestPlaceBlocks_SiteFilledDuringApproach(t *testing.T) {
	p := DefaultParams()
	site := p.Blocks.Sites[TeamBlue][0]
	f := blockFake(geom.V(81, 65, -385))
	f.OnCall = func(c platformtest.Call) {
		if c.Op == "move" {
			f.Update(func(f *platformtest.Fake) { f.Blocks[site] = platform.Block{Type: 3} })
		}
	}
	acted, err := PlaceBlocks{P: &p}.Handle(context.Background(), turnFor(f))
	if err != nil || !acted {
		t.Fatalf("expected acted=true, got %v err=%v", acted, err)
	}
	if len(f.CallsOf("place_block")) != 0 {
		t.Fatalf("must not place into an occupied cell")
	}

	// Next iteration moves on to the next free site.
	f.OnCall = nil
	f.Reset()
	tr := turnFor(f)
	if acted, _ := (PlaceBlocks{P: &p}).Handle(context.Background(), tr); !acted {
		t.Fatalf("expected next site to be approached")
	}
	in, _ := tr.Intent()
	if in.Target == site {
		t.Fatalf("occupied site chosen again")
	}
}

func TestPlaceBlocks_ThreatsOnSameLayerOnly(t *testing.T) {
	p := DefaultParams()
	self := geom.V(81, 65, -385)

	f := blockFake(self)
	f.Opponents = []string{"r1"}
	f.Entities = []platform.Entity{opponent("r1", self.Offset(5, 0, 0))}
	if acted, _ := (PlaceBlocks{P: &p}).Handle(context.Background(), turnFor(f)); acted {
		t.Fatalf("opponent close on our layer, must not place")
	}

	f = blockFake(self)
	f.Opponents = []string{"r1"}
	f.Entities = []platform.Entity{opponent("r1", self.Offset(2, -10, 0))}
	if acted, _ := (PlaceBlocks{P: &p}).Handle(context.Background(), turnFor(f)); !acted {
		t.Fatalf("opponent in the tunnel should be ignored")
	}
}

func TestPlaceBlocks_NoBlocksInInventory(t *testing.T) {
	p := DefaultParams()
	f := platformtest.New()
	f.Pos = geom.V(81, 65, -385)
	f.Items = []platform.Item{{Name: "stick", DisplayName: "Stick", Count: 1}}
	if acted, _ := (PlaceBlocks{P: &p}).Handle(context.Background(), turnFor(f)); acted {
		t.Fatalf("no placeable block, must not act")
	}
}

func TestLoot_PrefersNewItemsOnSameLayer(t *testing.T) {
	p := DefaultParams()
	f := platformtest.New()
	f.Pos = geom.V(0, 64, 0)
	f.Items = []platform.Item{{Name: "apple", Count: 1}}
	f.GroundItems = []platform.GroundItem{
		{ID: "1", Name: "apple", Pos: geom.V(1, 64, 0)},
		{ID: "2", Name: "diamond", Pos: geom.V(3, 50, 0)},
		{ID: "3", Name: "arrow", Pos: geom.V(9, 65, 0)},
	}
	tr := turnFor(f)
	acted, err := Loot{P: &p}.Handle(context.Background(), tr)
	if err != nil || !acted {
		t.Fatalf("expected loot, acted=%v err=%v", acted, err)
	}
	in, _ := tr.Intent()
	if in.Target != geom.V(9, 65, 0) {
		t.Fatalf("expected the arrow, got %v", in.Target)
	}
}

func TestLoot_NothingAround(t *testing.T) {
	p := DefaultParams()
	f := platformtest.New()
	if acted, _ := (Loot{P: &p}).Handle(context.Background(), turnFor(f)); acted {
		t.Fatalf("nothing to loot")
	}
}

func TestIdle_AlwaysActs(t *testing.T) {
	p := DefaultParams()
	f := platformtest.New()
	f.MoveFunc = func(geom.Vec3, float64) (platform.MoveResult, error) {
		return platform.MoveResult{Status: platform.MoveSuperseded}, nil
	}
	tr := turnFor(f)
	acted, err := Idle{P: &p}.Handle(context.Background(), tr)
	if err != nil || !acted {
		t.Fatalf("idle must always act, acted=%v err=%v", acted, err)
	}
	in, _ := tr.Intent()
	if in.Target != p.Objective.FlagSpawn || in.Move != platform.MoveSuperseded {
		t.Fatalf("unexpected intent %+v", in)
	}
}

func TestLadder_EmptyWorldEndsAtIdle(t *testing.T) {
	f := platformtest.New()
	d, err := mustLadder(t).Evaluate(context.Background(), turnFor(f))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Handler != NameIdle || !d.Acted {
		t.Fatalf("expected idle, got %+v", d)
	}
	if diff := cmp.Diff(DefaultOrder, d.Evaluated); diff != "" {
		t.Fatalf("every handler should have been tried (-want +got):\n%s", diff)
	}
}

func TestLadder_SameSnapshotSameDecision(t *testing.T) {
	f := platformtest.New()
	f.Pos = geom.V(0, 64, 0)
	f.Opponents = []string{"r1"}
	f.Teammates = []string{"b1"}
	f.Entities = []platform.Entity{opponent("r1", geom.V(6, 64, 0)), teammate("b1", geom.V(-2, 64, 0))}
	f.GroundItems = []platform.GroundItem{{ID: "i", Name: "arrow", Pos: geom.V(5, 64, 5)}}

	l := mustLadder(t)
	first, err := l.Evaluate(context.Background(), turnFor(f))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	calls1 := f.Calls()
	f.Reset()
	second, err := l.Evaluate(context.Background(), turnFor(f))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("decisions differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(calls1, f.Calls()); diff != "" {
		t.Fatalf("actions differ (-first +second):\n%s", diff)
	}
}

func TestBuild_Validation(t *testing.T) {
	p := DefaultParams()
	if _, err := Build([]string{NameLoot}, p); err == nil {
		t.Fatalf("ladder without trailing idle must be rejected")
	}
	if _, err := Build([]string{NameLoot, NameLoot, NameIdle}, p); err == nil {
		t.Fatalf("duplicate handler must be rejected")
	}
	if _, err := Build([]string{"dance", NameIdle}, p); err == nil {
		t.Fatalf("unknown handler must be rejected")
	}
	l, err := Build([]string{NameScoreFlag, NameIdle}, p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]string{NameScoreFlag, NameIdle}, l.Names()); diff != "" {
		t.Fatalf("order mismatch:\n%s", diff)
	}
	l, err = Build(nil, p)
	if err != nil || l.Len() != len(DefaultOrder) {
		t.Fatalf("nil order should use the default ladder: %v", err)
	}
}
