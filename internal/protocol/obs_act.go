package protocol

type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Self         SelfObs     `json:"self"`
	Team         string      `json:"team"`
	OpponentTeam string      `json:"opponent_team,omitempty"`
	Roster       []RosterObs `json:"roster"`

	Entities    []EntityObs     `json:"entities"`
	GroundItems []GroundItemObs `json:"ground_items,omitempty"`
	Inventory   []ItemStack     `json:"inventory"`
	Flag        FlagObs         `json:"flag"`
	// Blocks carries the cells the server considers relevant (choke points
	// near the bot). Cells not listed are unknown.
	Blocks []BlockObs `json:"blocks,omitempty"`
}

type SelfObs struct {
	Name     string     `json:"name"`
	Pos      [3]float64 `json:"pos"`
	HP       float64    `json:"hp"`
	HeldItem string     `json:"held_item,omitempty"`
	HasFlag  bool       `json:"has_flag,omitempty"`
}

// RosterObs lists a connected player and their team.
type RosterObs struct {
	Name string `json:"name"`
	Team string `json:"team"`
}

type EntityObs struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Type       string     `json:"type"` // "PLAYER", "MOB", ...
	Team       string     `json:"team,omitempty"`
	Pos        [3]float64 `json:"pos"`
	HP         float64    `json:"hp,omitempty"`
	HeldItem   string     `json:"held_item,omitempty"`
	Attackable bool       `json:"attackable,omitempty"`
}

type GroundItemObs struct {
	ID   string     `json:"id"`
	Item string     `json:"item"`
	Pos  [3]float64 `json:"pos"`
}

// Item categories.
const (
	CategoryHealth    = "health"
	CategoryMovement  = "movement"
	CategoryOffensive = "offensive"
)

type ItemStack struct {
	Item        string `json:"item"`
	DisplayName string `json:"display_name,omitempty"`
	Count       int    `json:"count"`
	Category    string `json:"category,omitempty"`
}

type FlagObs struct {
	// Pos is nil while someone carries the flag.
	Pos    *[3]float64 `json:"pos,omitempty"`
	Holder string      `json:"holder,omitempty"`
}

type BlockObs struct {
	Pos  [3]int `json:"pos"`
	Type int    `json:"type"`
	Name string `json:"name,omitempty"`
}

// Task types.
const (
	TaskMoveTo = "MOVE_TO"
	TaskAttack = "ATTACK"
	TaskPlace  = "PLACE"
)

// Instant types.
const (
	InstantUseItem    = "USE_ITEM"
	InstantEquip      = "EQUIP"
	InstantEquipArmor = "EQUIP_ARMOR"
	InstantLookAt     = "LOOK_AT"
	InstantSay        = "SAY"
	// InstantCancel stops all movement.
	InstantCancel = "CANCEL"
)

// ACT (client -> server)
type ActMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	Instants        []InstantReq `json:"instants,omitempty"`
	Tasks           []TaskReq    `json:"tasks,omitempty"`
}

type InstantReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Item   string      `json:"item,omitempty"`
	Slot   string      `json:"slot,omitempty"`
	Target *[3]float64 `json:"target,omitempty"`
	Text   string      `json:"text,omitempty"`
}

type TaskReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Target    [3]float64 `json:"target"`
	Tolerance float64    `json:"tolerance,omitempty"`
	TargetID  string     `json:"target_id,omitempty"`
	Face      [3]float64 `json:"face,omitempty"`
}
