package bridge

import (
	"encoding/json"

	"boxcraft.dev/internal/protocol"
)

// Status is returned by boxcraft.get_status.
type Status struct {
	Connected   bool                 `json:"connected"`
	AgentID     string               `json:"agent_id,omitempty"`
	WorldID     string               `json:"world_id,omitempty"`
	WorldWSURL  string               `json:"world_ws_url"`
	LastObsTick uint64               `json:"last_obs_tick"`
	HaveObs     bool                 `json:"have_obs"`
	Params      protocol.WorldParams `json:"world_params"`
	Palette     []string             `json:"palette,omitempty"`
	LastError   string               `json:"last_error,omitempty"`
}

type GetObsMode string

const (
	ObsModeFull    GetObsMode = "full"
	ObsModeSummary GetObsMode = "summary"
)

type GetObsOpts struct {
	Mode        GetObsMode `json:"mode"`
	WaitNewTick bool       `json:"wait_new_tick"`
	TimeoutMS   int        `json:"timeout_ms"`
}

// ObsResult carries the latest OBS plus every action result seen since the
// previous GetObs, including results from OBS frames that were superseded.
type ObsResult struct {
	Tick    uint64                  `json:"tick"`
	AgentID string                  `json:"agent_id"`
	Obs     json.RawMessage         `json:"obs,omitempty"`
	Results []protocol.ActionResult `json:"results,omitempty"`
}

type ActArgs struct {
	Actions []protocol.ActionReq `json:"actions"`
}

type ActResult struct {
	Sent      bool     `json:"sent"`
	TickUsed  uint64   `json:"tick_used"`
	AgentID   string   `json:"agent_id"`
	ActionIDs []string `json:"action_ids"`
}
