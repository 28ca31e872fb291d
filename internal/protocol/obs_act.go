package protocol

type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	AgentID         string `json:"agent_id"`

	Self    SelfObs        `json:"self"`
	Target  *TargetObs     `json:"target,omitempty"`
	Results []ActionResult `json:"results,omitempty"`

	Boxes    int `json:"boxes"`
	Capacity int `json:"capacity"`
}

type SelfObs struct {
	Pos      [3]float32 `json:"pos"`
	Vel      [3]float32 `json:"vel"`
	Eye      [3]float32 `json:"eye"`
	Yaw      float32    `json:"yaw"`
	Pitch    float32    `json:"pitch"`
	Grounded bool       `json:"grounded"`
}

// TargetObs is the box under the agent's look ray, if one is in reach.
type TargetObs struct {
	BoxID uint16  `json:"box_id"`
	Pos   [3]int  `json:"pos"`
	Kind  string  `json:"kind"`
	Face  string  `json:"face"`
	Dist  float32 `json:"dist"`
}

type ActionResult struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	BoxID   uint16 `json:"box_id,omitempty"`
	Tick    uint64 `json:"tick"`
}

// ACT (client -> server)
type ActMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	AgentID         string      `json:"agent_id"`
	Actions         []ActionReq `json:"actions"`
}

type ActionReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// PLACE
	Kind string `json:"kind,omitempty"`

	// MOVE: forward and strafe intent in [-1,1], relative to yaw. Zero stops.
	Forward float32 `json:"forward,omitempty"`
	Strafe  float32 `json:"strafe,omitempty"`

	// LOOK, radians. Pitch is clamped short of straight up or down.
	Yaw   float32 `json:"yaw,omitempty"`
	Pitch float32 `json:"pitch,omitempty"`
}
