package main

import (
	"fmt"

	"boxcraft.dev/internal/protocol"
)

// Looking this far down from a standing eye targets the floor about one box ahead.
const buildPitch = -0.9

type phase int

const (
	phaseLook phase = iota
	phaseBuild
	phaseTear
)

// builder stacks a column of boxes in front of the agent, then breaks it
// back down. One action is in flight at a time; it waits for its result.
type builder struct {
	kind   string
	height int
	loops  int

	phase   phase
	pending string
	seq     int
	cycles  int

	placed int
	broken int
	stack  int
}

func newBuilder(kind string, height, loops int) *builder {
	if height <= 0 {
		height = 1
	}
	return &builder{kind: kind, height: height, loops: loops}
}

// next consumes one OBS and returns the ACT to send, if any.
func (b *builder) next(obs *protocol.ObsMsg) (*protocol.ActMsg, bool) {
	if b.pending != "" {
		r, ok := findResult(obs.Results, b.pending)
		if !ok {
			return nil, false
		}
		b.pending = ""
		b.observe(r)
	}
	if b.loops > 0 && b.cycles >= b.loops {
		return nil, true
	}

	var req protocol.ActionReq
	switch b.phase {
	case phaseLook:
		req = protocol.ActionReq{Type: protocol.ActionLook, Yaw: obs.Self.Yaw, Pitch: buildPitch}
	case phaseBuild:
		if obs.Target == nil {
			return nil, false
		}
		req = protocol.ActionReq{Type: protocol.ActionPlace, Kind: b.kind}
	case phaseTear:
		if obs.Target == nil {
			return nil, false
		}
		req = protocol.ActionReq{Type: protocol.ActionBreak}
	}
	b.seq++
	req.ID = fmt.Sprintf("%s_%d", req.Type, b.seq)
	b.pending = req.ID
	return &protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            obs.Tick,
		AgentID:         obs.AgentID,
		Actions:         []protocol.ActionReq{req},
	}, false
}

func (b *builder) observe(r protocol.ActionResult) {
	switch b.phase {
	case phaseLook:
		if r.OK {
			b.phase = phaseBuild
		}
	case phaseBuild:
		if r.OK {
			b.placed++
			b.stack++
		}
		// A full pool or a blocked face ends the column early.
		if b.stack >= b.height || !r.OK {
			b.phase = phaseTear
		}
	case phaseTear:
		if r.OK {
			b.broken++
			b.stack--
		}
		if b.stack <= 0 || !r.OK {
			b.stack = 0
			b.cycles++
			b.phase = phaseBuild
		}
	}
}

func findResult(rs []protocol.ActionResult, id string) (protocol.ActionResult, bool) {
	for _, r := range rs {
		if r.ID == id {
			return r, true
		}
	}
	return protocol.ActionResult{}, false
}
