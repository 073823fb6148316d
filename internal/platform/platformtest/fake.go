// Package platformtest provides a scripted in-memory platform for tests.
package platformtest

import (
	"context"
	"strings"
	"sync"

	"ctfbot.ai/internal/geom"
	"ctfbot.ai/internal/platform"
)

// Call is one recorded actuator command.
type Call struct {
	Op     string
	Pos    geom.Vec3
	Radius float64
	Target string
	Item   string
	Slot   string
	Face   geom.Vec3
	Text   string
}

// Fake implements platform.Platform. Exported fields describe the world and
// may be changed between iterations under Lock/Unlock (or via Update).
type Fake struct {
	mu sync.Mutex

	Name        string
	Pos         geom.Vec3
	HP          float64
	MyTeam      string
	OtherTeam   string
	Opponents   []string
	Teammates   []string
	Held        string
	Entities    []platform.Entity
	GroundItems []platform.GroundItem
	Items       []platform.Item
	Blocks      map[geom.Vec3]platform.Block

	Flag       *geom.Vec3
	Holder     string
	CarryingIt bool

	// MoveFunc decides movement outcomes; nil completes every move.
	MoveFunc func(pos geom.Vec3, radius float64) (platform.MoveResult, error)
	// Errs makes the named op fail ("attack", "use_item", "place_block", ...).
	Errs map[string]error
	// OnCall runs after each recorded call, outside the lock.
	OnCall func(Call)

	calls  []Call
	events chan platform.Event
}

func New() *Fake {
	return &Fake{
		Name:      "bot",
		HP:        20,
		MyTeam:    "BLUE",
		OtherTeam: "RED",
		Blocks:    map[geom.Vec3]platform.Block{},
		events:    make(chan platform.Event, 64),
	}
}

func (f *Fake) Update(fn func(f *Fake)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// Emit queues a lifecycle event.
func (f *Fake) Emit(ev platform.Event) { f.events <- ev }

// CloseEvents ends the event stream.
func (f *Fake) CloseEvents() { close(f.events) }

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsOf filters Calls by op.
func (f *Fake) CallsOf(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *Fake) record(c Call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	err := f.Errs[c.Op]
	hook := f.OnCall
	f.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	return err
}

func (f *Fake) Username() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Name
}

func (f *Fake) Position() geom.Vec3 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Pos
}

func (f *Fake) Health() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.HP
}

func (f *Fake) Team() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MyTeam
}

func (f *Fake) OpponentTeam() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.OtherTeam
}

func (f *Fake) OpponentNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Opponents...)
}

func (f *Fake) TeammateNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Teammates...)
}

func (f *Fake) HeldItem() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Held
}

func (f *Fake) FindEntities(q platform.EntityQuery) []platform.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return platform.SelectEntities(f.Pos, f.Entities, q)
}

func (f *Fake) FindItemsOnGround(q platform.ItemQuery) []platform.GroundItem {
	f.mu.Lock()
	pos := f.Pos
	items := append([]platform.GroundItem(nil), f.GroundItems...)
	f.mu.Unlock()
	// Weight funcs call back into InventoryContains.
	return platform.SelectItems(pos, items, q)
}

func (f *Fake) Inventory() []platform.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Item(nil), f.Items...)
}

func (f *Fake) InventoryContains(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.Items {
		if it.Name == name && it.Count > 0 {
			return true
		}
	}
	return false
}

func (f *Fake) FindConsumable(cat platform.ItemCategory) (platform.Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.Items {
		if it.Category == cat && it.Count > 0 {
			return it, true
		}
	}
	return platform.Item{}, false
}

func (f *Fake) BlockAt(pos geom.Vec3) (platform.Block, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.Blocks[pos.Floored()]
	return b, ok
}

func (f *Fake) FlagLocation() (geom.Vec3, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Flag == nil {
		return geom.Vec3{}, false
	}
	return *f.Flag, true
}

func (f *Fake) FlagHolder() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Holder
}

func (f *Fake) HasFlag() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CarryingIt
}

func (f *Fake) MoveToward(ctx context.Context, pos geom.Vec3, radius float64) (platform.MoveResult, error) {
	if err := f.record(Call{Op: "move", Pos: pos, Radius: radius}); err != nil {
		return platform.MoveResult{Status: platform.MoveFailed}, err
	}
	f.mu.Lock()
	fn := f.MoveFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(pos, radius)
	}
	return platform.MoveResult{Status: platform.MoveCompleted}, nil
}

func (f *Fake) StopMovement(ctx context.Context) error {
	return f.record(Call{Op: "stop"})
}

func (f *Fake) Attack(ctx context.Context, target platform.Entity) error {
	return f.record(Call{Op: "attack", Target: target.Name, Pos: target.Pos})
}

func (f *Fake) LookAt(ctx context.Context, pos geom.Vec3) error {
	return f.record(Call{Op: "look", Pos: pos})
}

func (f *Fake) UseItem(ctx context.Context, item platform.Item) (bool, error) {
	if err := f.record(Call{Op: "use_item", Item: item.Name}); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Items {
		if f.Items[i].Name == item.Name && f.Items[i].Count > 0 {
			f.Items[i].Count--
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) Equip(ctx context.Context, item platform.Item, slot string) error {
	return f.record(Call{Op: "equip", Item: item.Name, Slot: slot})
}

func (f *Fake) EquipArmor(ctx context.Context) error {
	return f.record(Call{Op: "equip_armor"})
}

func (f *Fake) PlaceBlock(ctx context.Context, against, face geom.Vec3) error {
	return f.record(Call{Op: "place_block", Pos: against, Face: face})
}

func (f *Fake) Chat(ctx context.Context, text string) error {
	return f.record(Call{Op: "chat", Text: strings.TrimSpace(text)})
}

func (f *Fake) Events() <-chan platform.Event { return f.events }

var _ platform.Platform = (*Fake)(nil)
