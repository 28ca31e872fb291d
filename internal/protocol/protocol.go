package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeObs     = "OBS"
	TypeAct     = "ACT"
	TypeAck     = "ACK"
)

// Action types carried in ACT.
const (
	ActionPlace = "PLACE"
	ActionBreak = "BREAK"
	ActionMove  = "MOVE"
	ActionJump  = "JUMP"
	ActionLook  = "LOOK"
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

func IsKnownAction(t string) bool {
	switch t {
	case ActionPlace, ActionBreak, ActionMove, ActionJump, ActionLook:
		return true
	}
	return false
}
