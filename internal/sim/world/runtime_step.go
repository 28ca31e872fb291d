package world

import (
	"encoding/json"
	"time"

	"boxcraft.dev/internal/protocol"
)

func (w *World) step(joins []JoinRequest, leaves []string, actions []ActionEnvelope) string {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	w.auditsThisTick = w.auditsThisTick[:0]

	// Apply leaves and joins deterministically at tick boundary.
	recordedLeaves := make([]string, 0, len(leaves))
	for _, id := range leaves {
		if _, ok := w.agents[id]; ok {
			w.handleLeave(id)
			recordedLeaves = append(recordedLeaves, id)
		}
	}
	recordedJoins := make([]RecordedJoin, 0, len(joins))
	for _, req := range joins {
		resp := w.joinAgent(req.Name, req.Out)
		if req.Resp != nil {
			req.Resp <- resp
		}
		if resp.Code != "" {
			continue
		}
		recordedJoins = append(recordedJoins, RecordedJoin{AgentID: resp.Welcome.AgentID, Name: req.Name})
	}

	// Apply actions in server receive order (the inbox order).
	recorded := make([]RecordedAction, 0, len(actions))
	for _, env := range actions {
		a := w.agents[env.AgentID]
		if a == nil {
			continue
		}
		env.Act.AgentID = env.AgentID // trust session identity
		recorded = append(recorded, RecordedAction{AgentID: env.AgentID, Act: env.Act})
		w.applyAct(a, env.Act, nowTick)
	}

	ids := w.sortedAgentIDs()
	for _, id := range ids {
		w.stepAgent(w.agents[id], nowTick)
	}

	// Build + send OBS for each connected agent.
	for _, id := range ids {
		cl := w.clients[id]
		if cl == nil {
			continue
		}
		b, err := json.Marshal(w.buildObs(w.agents[id], nowTick))
		if err != nil {
			continue
		}
		sendLatest(cl.Out, b)
	}

	digest := w.stateDigest(nowTick)

	// Observer stream (admin-only, read-only).
	w.stepObservers(nowTick, digest, recordedJoins, recordedLeaves)

	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(TickLogEntry{Tick: nowTick, Joins: recordedJoins, Leaves: recordedLeaves, Actions: recorded, Digest: digest})
	}

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	nextTick := w.tick.Add(1)

	w.metrics.Store(WorldMetrics{
		Tick:      nextTick,
		Agents:    len(w.agents),
		Clients:   len(w.clients),
		Observers: len(w.observers),
		Boxes:     w.graph.Len(),
		Capacity:  w.graph.Cap(),
		QueueDepths: QueueDepths{
			Inbox: len(w.inbox),
			Join:  len(w.join),
			Leave: len(w.leave),
		},
		StepMS:           stepMS,
		StatsWindowTicks: w.stats.WindowTicks(),
		StatsWindow:      w.stats.Summarize(nowTick),
		StatsTotal:       w.stats.Totals(),
	})
	return digest
}

func (w *World) buildObs(a *Agent, nowTick uint64) protocol.ObsMsg {
	obs := protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		AgentID:         a.ID,
		Self: protocol.SelfObs{
			Pos:      [3]float32(a.Body.Pos),
			Vel:      [3]float32(a.Body.Vel),
			Eye:      [3]float32(a.Eye(w.cfg.EyeHeight)),
			Yaw:      a.Yaw,
			Pitch:    a.Pitch,
			Grounded: a.Grounded,
		},
		Results:  a.takeResults(),
		Boxes:    w.graph.Len(),
		Capacity: w.graph.Cap(),
	}
	if hit, ok, err := w.target(a); err == nil && ok {
		b, _ := w.graph.Get(hit.ID)
		obs.Target = &protocol.TargetObs{
			BoxID: uint16(hit.ID),
			Pos:   b.Pos.Array(),
			Kind:  b.Kind.String(),
			Face:  hit.Face.String(),
			Dist:  hit.Dist,
		}
	}
	return obs
}
