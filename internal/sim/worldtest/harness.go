package worldtest

import (
	"encoding/json"
	"fmt"
	"testing"

	"boxcraft.dev/internal/protocol"
	"boxcraft.dev/internal/sim/tuning"
	world "boxcraft.dev/internal/sim/world"
)

// Harness is a small black-box test helper for driving a world via exported APIs:
// - Join() issues JoinRequest via StepOnce()
// - Step()/StepFor() issues ACT via StepOnce()
// - Per-agent Out channels carry OBS JSON
//
// It avoids world internals so tests can live outside the world package.
type Harness struct {
	T *testing.T
	W *world.World

	DefaultAgentID string

	sessions map[string]*session
	seq      int
}

// SmallTuning is a treeless radius-3 floor (49 boxes) with the default pool.
func SmallTuning() tuning.Tuning {
	tu := tuning.Defaults()
	tu.Seeding.FloorRadius = 3
	tu.Seeding.TreePermille = 0
	return tu
}

func NewHarness(t *testing.T, cfg world.WorldConfig, agentName string) *Harness {
	t.Helper()

	w, err := world.New(cfg, nil)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	h := &Harness{
		T:        t,
		W:        w,
		sessions: map[string]*session{},
	}
	h.DefaultAgentID = h.Join(agentName)
	return h
}

type session struct {
	AgentID string
	Out     chan []byte
	lastObs protocol.ObsMsg
	// results seen since the last TakeResults, across dropped OBS frames
	results []protocol.ActionResult
}

func (h *Harness) Join(agentName string) string {
	h.T.Helper()

	out := make(chan []byte, 16)
	resp := make(chan world.JoinResponse, 1)
	_, _ = h.W.StepOnce([]world.JoinRequest{{Name: agentName, Out: out, Resp: resp}}, nil, nil)
	jr := <-resp
	if jr.Welcome.AgentID == "" {
		h.T.Fatalf("join refused: %s %s", jr.Code, jr.Message)
	}
	s := &session{AgentID: jr.Welcome.AgentID, Out: out}
	h.sessions[s.AgentID] = s
	h.drainAllObs()
	return s.AgentID
}

func (h *Harness) Leave(agentID string) {
	h.T.Helper()
	_, _ = h.W.StepOnce(nil, []string{agentID}, nil)
	delete(h.sessions, agentID)
	h.drainAllObs()
}

func (h *Harness) LastObs() protocol.ObsMsg {
	return h.LastObsFor(h.DefaultAgentID)
}

func (h *Harness) LastObsFor(agentID string) protocol.ObsMsg {
	h.T.Helper()
	s := h.sessions[agentID]
	if s == nil {
		h.T.Fatalf("unknown agent id: %q", agentID)
	}
	return s.lastObs
}

// Step sends one ACT for the default agent and returns its results.
func (h *Harness) Step(actions ...protocol.ActionReq) []protocol.ActionResult {
	return h.StepFor(h.DefaultAgentID, actions...)
}

func (h *Harness) StepFor(agentID string, actions ...protocol.ActionReq) []protocol.ActionResult {
	h.T.Helper()
	var envs []world.ActionEnvelope
	if len(actions) > 0 {
		envs = append(envs, h.Envelope(agentID, actions...))
	}
	h.StepMulti(envs)
	return h.TakeResults(agentID)
}

// Envelope builds an ACT, filling in missing action ids.
func (h *Harness) Envelope(agentID string, actions ...protocol.ActionReq) world.ActionEnvelope {
	for i := range actions {
		if actions[i].ID == "" {
			h.seq++
			actions[i].ID = fmt.Sprintf("%s_%d", actions[i].Type, h.seq)
		}
	}
	return world.ActionEnvelope{
		AgentID: agentID,
		Act: protocol.ActMsg{
			Type:            protocol.TypeAct,
			ProtocolVersion: protocol.Version,
			Tick:            h.W.CurrentTick(),
			AgentID:         agentID,
			Actions:         actions,
		},
	}
}

func (h *Harness) StepMulti(actions []world.ActionEnvelope) {
	h.T.Helper()
	_, _ = h.W.StepOnce(nil, nil, actions)
	h.drainAllObs()
}

func (h *Harness) StepNoop(n int) protocol.ObsMsg {
	h.T.Helper()
	for i := 0; i < n; i++ {
		_, _ = h.W.StepOnce(nil, nil, nil)
		h.drainAllObs()
	}
	return h.LastObs()
}

func (h *Harness) TakeResults(agentID string) []protocol.ActionResult {
	s := h.sessions[agentID]
	if s == nil {
		return nil
	}
	out := s.results
	s.results = nil
	return out
}

// Settle steps until the default agent reports grounded, failing after max ticks.
func (h *Harness) Settle(max int) protocol.ObsMsg {
	h.T.Helper()
	for i := 0; i < max; i++ {
		if obs := h.StepNoop(1); obs.Self.Grounded {
			return obs
		}
	}
	h.T.Fatalf("agent not grounded after %d ticks: %+v", max, h.LastObs().Self)
	return protocol.ObsMsg{}
}

func (h *Harness) drainAllObs() {
	h.T.Helper()
	for _, s := range h.sessions {
		h.drainOneObs(s)
	}
}

func (h *Harness) drainOneObs(s *session) {
	h.T.Helper()
	for {
		select {
		case b := <-s.Out:
			var obs protocol.ObsMsg
			if err := json.Unmarshal(b, &obs); err != nil {
				h.T.Fatalf("unmarshal OBS: %v", err)
			}
			s.lastObs = obs
			s.results = append(s.results, obs.Results...)
			continue
		default:
		}
		return
	}
}
