// Package protocol defines the JSON messages exchanged with the match gateway.
package protocol

import (
	"encoding/json"
	"strings"
)

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeObs     = "OBS"
	TypeAct     = "ACT"
	TypeAck     = "ACK"
	TypeEvent   = "EVENT"
	TypeTaskEnd = "TASK_END"
	TypeKick    = "KICK"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// IsSupportedVersion accepts any version with our major number.
func IsSupportedVersion(v string) bool {
	major, _, _ := strings.Cut(Version, ".")
	got, _, _ := strings.Cut(v, ".")
	return got == major
}
