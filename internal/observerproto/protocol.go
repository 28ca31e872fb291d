package observerproto

// Version is the observer protocol version (separate from the agent WS protocol).
const Version = "1.0"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeTick      = "TICK"
)

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// WantBoxes asks for the full draw list whenever the box graph changed.
	WantBoxes bool `json:"want_boxes"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	WorldID         string      `json:"world_id"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	Palette         []string    `json:"palette"`
}

type WorldParams struct {
	TickRateHz   int   `json:"tick_rate_hz"`
	PoolCapacity int   `json:"pool_capacity"`
	Seed         int64 `json:"seed"`
	FloorRadius  int   `json:"floor_radius"`
}

// Server -> Client. Sent every tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Digest          string `json:"digest"`

	Agents []AgentState `json:"agents"`
	Joins  []JoinInfo   `json:"joins,omitempty"`
	Leaves []string     `json:"leaves,omitempty"`
	Audits []AuditEntry `json:"audits,omitempty"`

	BoxCount int `json:"box_count"`
	// Boxes is the draw list in ascending id order. Omitted when unchanged since
	// the last tick sent to this session.
	Boxes []BoxState `json:"boxes,omitempty"`
}

type JoinInfo struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

type AuditEntry struct {
	Tick   uint64 `json:"tick"`
	Actor  string `json:"actor"`
	Action string `json:"action"`
	Pos    [3]int `json:"pos"`
	From   string `json:"from"`
	To     string `json:"to"`
	BoxID  uint16 `json:"box_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type AgentState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`

	Pos      [3]float32 `json:"pos"`
	Yaw      float32    `json:"yaw"`
	Pitch    float32    `json:"pitch"`
	Grounded bool       `json:"grounded"`
}

type BoxState struct {
	ID   uint16 `json:"id"`
	Pos  [3]int `json:"pos"`
	Kind string `json:"kind"`
}
