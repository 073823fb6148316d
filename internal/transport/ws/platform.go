package ws

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ctfbot.ai/internal/geom"
	"ctfbot.ai/internal/platform"
	"ctfbot.ai/internal/protocol"
)

// Sensor side: every query reads the latest OBS.

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.obs.Self.Name != "":
		return s.obs.Self.Name
	case s.welcome.Username != "":
		return s.welcome.Username
	}
	return s.cfg.Name
}

func (s *Session) Position() geom.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return geom.FromArray(s.obs.Self.Pos)
}

func (s *Session) Health() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.obs.Self.HP
}

func (s *Session) Team() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.obs.Team != "" {
		return s.obs.Team
	}
	return s.welcome.Team
}

func (s *Session) OpponentTeam() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opponentTeamLocked()
}

func (s *Session) opponentTeamLocked() string {
	if s.obs.OpponentTeam != "" {
		return s.obs.OpponentTeam
	}
	return s.welcome.OpponentTeam
}

func (s *Session) rosterOf(team string) []string {
	if team == "" {
		return nil
	}
	var out []string
	for _, r := range s.obs.Roster {
		if r.Team == team {
			out = append(out, r.Name)
		}
	}
	return out
}

// OpponentNames is empty in practice mode (no opposing team).
func (s *Session) OpponentNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rosterOf(s.opponentTeamLocked())
}

func (s *Session) TeammateNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	team := s.obs.Team
	if team == "" {
		team = s.welcome.Team
	}
	return s.rosterOf(team)
}

func (s *Session) HeldItem() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.obs.Self.HeldItem
}

func (s *Session) FindEntities(q platform.EntityQuery) []platform.Entity {
	s.mu.RLock()
	origin := geom.FromArray(s.obs.Self.Pos)
	ents := make([]platform.Entity, 0, len(s.obs.Entities))
	for _, e := range s.obs.Entities {
		ents = append(ents, platform.Entity{
			ID:         e.ID,
			Name:       e.Name,
			Team:       e.Team,
			Pos:        geom.FromArray(e.Pos),
			HeldItem:   e.HeldItem,
			Health:     e.HP,
			Attackable: e.Attackable,
		})
	}
	s.mu.RUnlock()
	// Rank funcs are caller code; run them unlocked.
	return platform.SelectEntities(origin, ents, q)
}

func (s *Session) FindItemsOnGround(q platform.ItemQuery) []platform.GroundItem {
	s.mu.RLock()
	origin := geom.FromArray(s.obs.Self.Pos)
	items := make([]platform.GroundItem, 0, len(s.obs.GroundItems))
	for _, it := range s.obs.GroundItems {
		items = append(items, platform.GroundItem{ID: it.ID, Name: it.Item, Pos: geom.FromArray(it.Pos)})
	}
	s.mu.RUnlock()
	return platform.SelectItems(origin, items, q)
}

func itemFromWire(st protocol.ItemStack) platform.Item {
	return platform.Item{
		Name:        st.Item,
		DisplayName: st.DisplayName,
		Count:       st.Count,
		Category:    platform.ItemCategory(st.Category),
	}
}

func (s *Session) Inventory() []platform.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]platform.Item, 0, len(s.obs.Inventory))
	for _, st := range s.obs.Inventory {
		out = append(out, itemFromWire(st))
	}
	return out
}

func (s *Session) InventoryContains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.obs.Inventory {
		if st.Item == name && st.Count > 0 {
			return true
		}
	}
	return false
}

func (s *Session) FindConsumable(cat platform.ItemCategory) (platform.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.obs.Inventory {
		if st.Category == string(cat) && st.Count > 0 {
			return itemFromWire(st), true
		}
	}
	return platform.Item{}, false
}

func (s *Session) BlockAt(pos geom.Vec3) (platform.Block, bool) {
	f := pos.Floored()
	key := [3]int{int(f.X), int(f.Y), int(f.Z)}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[key]
	return b, ok
}

func (s *Session) FlagLocation() (geom.Vec3, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.obs.Flag.Pos == nil {
		return geom.Vec3{}, false
	}
	return geom.FromArray(*s.obs.Flag.Pos), true
}

func (s *Session) FlagHolder() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.obs.Flag.Holder
}

func (s *Session) HasFlag() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.obs.Self.HasFlag
}

// Actuator side.

// MoveToward sends a MOVE_TO task and waits for its TASK_END, at most
// MoveWait. A newer move makes the server supersede this one.
func (s *Session) MoveToward(ctx context.Context, pos geom.Vec3, radius float64) (platform.MoveResult, error) {
	const op = "move"
	id := uuid.NewString()
	ch := s.register(id)
	defer s.unregister(id)

	task := protocol.TaskReq{ID: id, Type: protocol.TaskMoveTo, Target: pos.Array(), Tolerance: radius}
	if err := s.send(op, protocol.ActMsg{Tasks: []protocol.TaskReq{task}}); err != nil {
		return platform.MoveResult{Status: platform.MoveFailed}, err
	}

	wait := time.NewTimer(s.cfg.MoveWait)
	defer wait.Stop()
	select {
	case <-ctx.Done():
		return platform.MoveResult{Status: platform.MoveUnderway}, ctx.Err()
	case <-wait.C:
		return platform.MoveResult{Status: platform.MoveUnderway}, nil
	case r := <-ch:
		if r.err != nil {
			return platform.MoveResult{Status: platform.MoveFailed}, platform.NewError(platform.KindTransport, op, r.err)
		}
		return moveResult(op, r.end)
	}
}

func moveResult(op string, end protocol.TaskEndMsg) (platform.MoveResult, error) {
	res := platform.MoveResult{Code: end.Code}
	switch end.Status {
	case protocol.TaskDone:
		res.Status = platform.MoveCompleted
		return res, nil
	case protocol.TaskSuperseded, protocol.TaskStopped:
		res.Status = platform.MoveSuperseded
	default:
		res.Status = platform.MoveFailed
	}
	kind := protocol.KindForTaskEnd(end.Status, end.Code)
	var cause error
	if end.Message != "" {
		cause = errorString(end.Message)
	}
	return res, platform.NewError(kind, op, cause)
}

type errorString string

func (e errorString) Error() string { return string(e) }

func (s *Session) StopMovement(ctx context.Context) error {
	return s.instant("stop", protocol.InstantReq{Type: protocol.InstantCancel})
}

func (s *Session) Attack(ctx context.Context, target platform.Entity) error {
	task := protocol.TaskReq{ID: uuid.NewString(), Type: protocol.TaskAttack, TargetID: target.ID, Target: target.Pos.Array()}
	return s.send("attack", protocol.ActMsg{Tasks: []protocol.TaskReq{task}})
}

func (s *Session) LookAt(ctx context.Context, pos geom.Vec3) error {
	p := pos.Array()
	return s.instant("look_at", protocol.InstantReq{Type: protocol.InstantLookAt, Target: &p})
}

// UseItem reports false without sending when the item is not in the last
// observed inventory.
func (s *Session) UseItem(ctx context.Context, item platform.Item) (bool, error) {
	if !s.InventoryContains(item.Name) {
		return false, nil
	}
	if err := s.instant("use_item", protocol.InstantReq{Type: protocol.InstantUseItem, Item: item.Name}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Session) Equip(ctx context.Context, item platform.Item, slot string) error {
	return s.instant("equip", protocol.InstantReq{Type: protocol.InstantEquip, Item: item.Name, Slot: slot})
}

func (s *Session) EquipArmor(ctx context.Context) error {
	return s.instant("equip_armor", protocol.InstantReq{Type: protocol.InstantEquipArmor})
}

func (s *Session) PlaceBlock(ctx context.Context, against, face geom.Vec3) error {
	task := protocol.TaskReq{ID: uuid.NewString(), Type: protocol.TaskPlace, Target: against.Array(), Face: face.Array()}
	return s.send("place_block", protocol.ActMsg{Tasks: []protocol.TaskReq{task}})
}

func (s *Session) Chat(ctx context.Context, text string) error {
	return s.instant("chat", protocol.InstantReq{Type: protocol.InstantSay, Text: text})
}
