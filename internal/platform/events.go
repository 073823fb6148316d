package platform

import "ctfbot.ai/internal/geom"

type EventKind string

const (
	EventSpawn         EventKind = "spawn"
	EventMatchStarted  EventKind = "match_started"
	EventMatchEnded    EventKind = "match_ended"
	EventPlayerLeft    EventKind = "player_left"
	EventDisconnected  EventKind = "disconnected"
	EventKicked        EventKind = "kicked"
	EventDeath         EventKind = "death"
	EventFlagObtained  EventKind = "flag_obtained"
	EventFlagScored    EventKind = "flag_scored"
	EventFlagAvailable EventKind = "flag_available"
)

type Event struct {
	Kind EventKind `json:"kind"`

	// Player is the subject of player_left and flag_obtained.
	Player string `json:"player,omitempty"`
	// Team is set on flag_scored.
	Team string `json:"team,omitempty"`
	// Pos is set on flag_available.
	Pos    *geom.Vec3 `json:"pos,omitempty"`
	Reason string     `json:"reason,omitempty"`
	Match  *MatchInfo `json:"match,omitempty"`
}

type MatchInfo struct {
	Teams   []string      `json:"teams,omitempty"`
	Players []PlayerScore `json:"players,omitempty"`
}

type PlayerScore struct {
	Username     string `json:"username"`
	Team         string `json:"team,omitempty"`
	Score        int    `json:"score"`
	FlagCaptures int    `json:"flag_captures"`
}

// Player returns the score line for username.
func (m *MatchInfo) Player(username string) (PlayerScore, bool) {
	if m == nil {
		return PlayerScore{}, false
	}
	for _, p := range m.Players {
		if p.Username == username {
			return p, true
		}
	}
	return PlayerScore{}, false
}
