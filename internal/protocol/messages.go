package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	BotName         string            `json:"bot_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	Auth            *HelloAuth        `json:"auth,omitempty"`
}

type HelloCapabilities struct {
	// TaskEnd asks the server to report every task outcome.
	TaskEnd bool `json:"task_end,omitempty"`
	Events  bool `json:"events,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// Match states reported in WELCOME.
const (
	MatchWaiting    = "WAITING"
	MatchInProgress = "IN_PROGRESS"
	MatchEnded      = "ENDED"
)

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id,omitempty"`
	Username        string `json:"username"`
	Team            string `json:"team,omitempty"`
	OpponentTeam    string `json:"opponent_team,omitempty"`
	MatchState      string `json:"match_state,omitempty"`
	TickRateHz      int    `json:"tick_rate_hz,omitempty"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Task end statuses.
const (
	TaskDone       = "DONE"
	TaskSuperseded = "SUPERSEDED"
	TaskStopped    = "STOPPED"
	TaskFailed     = "FAILED"
)

// TASK_END (server -> client): a task finished, one way or another.
type TaskEndMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	TaskID          string `json:"task_id"`
	Kind            string `json:"kind"`
	Status          string `json:"status"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// EVENT kinds.
const (
	EventSpawn         = "SPAWN"
	EventDeath         = "DEATH"
	EventMatchStarted  = "MATCH_STARTED"
	EventMatchEnded    = "MATCH_ENDED"
	EventPlayerLeft    = "PLAYER_LEFT"
	EventFlagObtained  = "FLAG_OBTAINED"
	EventFlagScored    = "FLAG_SCORED"
	EventFlagAvailable = "FLAG_AVAILABLE"
)

// EVENT (server -> client)
type EventMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick,omitempty"`
	Kind            string       `json:"kind"`
	Player          string       `json:"player,omitempty"`
	Team            string       `json:"team,omitempty"`
	Pos             *[3]float64  `json:"pos,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	Match           *MatchResult `json:"match,omitempty"`
}

type MatchResult struct {
	Teams   []string      `json:"teams,omitempty"`
	Players []PlayerScore `json:"players,omitempty"`
}

type PlayerScore struct {
	Username     string `json:"username"`
	Team         string `json:"team,omitempty"`
	Score        int    `json:"score"`
	FlagCaptures int    `json:"flag_captures"`
}

// KICK (server -> client), sent right before the server closes the socket.
type KickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Reason          string `json:"reason,omitempty"`
}
