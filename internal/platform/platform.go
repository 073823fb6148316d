// Package platform describes the agent platform the decision loop runs on:
// world queries, action commands and lifecycle events. Pathing, item
// metadata and server networking live behind these interfaces.
package platform

import (
	"context"

	"ctfbot.ai/internal/geom"
)

type Entity struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Team       string    `json:"team,omitempty"`
	Pos        geom.Vec3 `json:"pos"`
	HeldItem   string    `json:"held_item,omitempty"`
	Health     float64   `json:"health,omitempty"`
	Attackable bool      `json:"attackable"`
}

type Item struct {
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	Count       int          `json:"count"`
	Category    ItemCategory `json:"category,omitempty"`
}

type GroundItem struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Pos  geom.Vec3 `json:"pos"`
}

type Block struct {
	Type int    `json:"type"`
	Name string `json:"name,omitempty"`
}

// BlockAir is the type id of an empty cell.
const BlockAir = 0

func (b Block) IsAir() bool { return b.Type == BlockAir }

// ItemCategory groups consumables by effect.
type ItemCategory string

const (
	CategoryHealth    ItemCategory = "health"
	CategorySpeed     ItemCategory = "movement"
	CategoryOffensive ItemCategory = "offensive"
)

// EntityQuery bounds an entity search. Rank orders ascending; nil ranks by distance.
type EntityQuery struct {
	Names       []string
	Attackable  bool
	MaxCount    int
	MaxDistance float64
	Rank        func(distance float64, e Entity) float64
}

// ItemQuery bounds a ground item search. Weight is per item name; Rank
// combines distance and weight and orders ascending.
type ItemQuery struct {
	MaxCount    int
	MaxDistance float64
	Weight      func(name string) float64
	Rank        func(distance, weight float64) float64
}

// Sensor answers questions about the current world state.
type Sensor interface {
	Username() string
	Position() geom.Vec3
	Health() float64
	Team() string
	OpponentTeam() string
	OpponentNames() []string
	TeammateNames() []string
	HeldItem() string

	FindEntities(q EntityQuery) []Entity
	FindItemsOnGround(q ItemQuery) []GroundItem

	Inventory() []Item
	InventoryContains(name string) bool
	FindConsumable(cat ItemCategory) (Item, bool)
	BlockAt(pos geom.Vec3) (Block, bool)

	// FlagLocation is absent while a player carries the flag.
	FlagLocation() (geom.Vec3, bool)
	FlagHolder() string
	HasFlag() bool
}

// Actuator issues commands. Implementations perform the movement, combat
// and server round trips; callers only choose what to do.
type Actuator interface {
	MoveToward(ctx context.Context, pos geom.Vec3, radius float64) (MoveResult, error)
	StopMovement(ctx context.Context) error
	Attack(ctx context.Context, target Entity) error
	LookAt(ctx context.Context, pos geom.Vec3) error
	UseItem(ctx context.Context, item Item) (bool, error)
	Equip(ctx context.Context, item Item, slot string) error
	EquipArmor(ctx context.Context) error
	PlaceBlock(ctx context.Context, against geom.Vec3, face geom.Vec3) error
	Chat(ctx context.Context, text string) error
}

// Lifecycle delivers lifecycle events in order.
type Lifecycle interface {
	Events() <-chan Event
}

type Platform interface {
	Sensor
	Actuator
	Lifecycle
}

// SlotHand is the equip slot for held items.
const SlotHand = "hand"
