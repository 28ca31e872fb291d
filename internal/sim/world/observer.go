package world

import (
	"encoding/json"
	"sort"

	"boxcraft.dev/internal/observerproto"
	"boxcraft.dev/internal/sim/boxgraph"
)

// ObserverJoinRequest registers a read-only observer session that receives one
// TICK message per tick on TickOut. The world closes TickOut on leave.
//
// All observer state is maintained by the world loop goroutine.
type ObserverJoinRequest struct {
	SessionID string
	TickOut   chan []byte
	WantBoxes bool
}

// ObserverSubscribeRequest updates an existing observer session subscription settings.
type ObserverSubscribeRequest struct {
	SessionID string
	WantBoxes bool
}

type observerClient struct {
	id        string
	tickOut   chan []byte
	wantBoxes bool

	// Draw list version last delivered; sentBoxes is false until the first one.
	sentVersion uint64
	sentBoxes   bool
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil {
		return
	}
	if old := w.observers[req.SessionID]; old != nil && old.tickOut != req.TickOut {
		close(old.tickOut)
	}
	w.observers[req.SessionID] = &observerClient{
		id:        req.SessionID,
		tickOut:   req.TickOut,
		wantBoxes: req.WantBoxes,
	}
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	if req.WantBoxes && !c.wantBoxes {
		c.sentBoxes = false
	}
	c.wantBoxes = req.WantBoxes
}

func (w *World) handleObserverLeave(sessionID string) {
	c := w.observers[sessionID]
	if c == nil {
		return
	}
	delete(w.observers, sessionID)
	close(c.tickOut)
}

func (w *World) stepObservers(nowTick uint64, digest string, joins []RecordedJoin, leaves []string) {
	if len(w.observers) == 0 {
		return
	}

	msg := observerproto.TickMsg{
		Type:            observerproto.TypeTick,
		ProtocolVersion: observerproto.Version,
		Tick:            nowTick,
		Digest:          digest,
		BoxCount:        w.graph.Len(),
		Leaves:          leaves,
	}
	for _, j := range joins {
		msg.Joins = append(msg.Joins, observerproto.JoinInfo{AgentID: j.AgentID, Name: j.Name})
	}
	msg.Agents = make([]observerproto.AgentState, 0, len(w.agents))
	for _, id := range w.sortedAgentIDs() {
		a := w.agents[id]
		_, connected := w.clients[id]
		msg.Agents = append(msg.Agents, observerproto.AgentState{
			ID:        a.ID,
			Name:      a.Name,
			Connected: connected,
			Pos:       [3]float32(a.Body.Pos),
			Yaw:       a.Yaw,
			Pitch:     a.Pitch,
			Grounded:  a.Grounded,
		})
	}
	for _, e := range w.auditsThisTick {
		msg.Audits = append(msg.Audits, observerproto.AuditEntry{
			Tick:   e.Tick,
			Actor:  e.Actor,
			Action: e.Action,
			Pos:    e.Pos,
			From:   boxgraph.Kind(e.From).String(),
			To:     boxgraph.Kind(e.To).String(),
			BoxID:  e.BoxID,
			Reason: e.Reason,
		})
	}

	var plain, withBoxes []byte
	ids := make([]string, 0, len(w.observers))
	for id := range w.observers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := w.observers[id]
		needBoxes := c.wantBoxes && (!c.sentBoxes || c.sentVersion != w.boxesVersion)
		var b []byte
		if needBoxes {
			if withBoxes == nil {
				m := msg
				m.Boxes = drawListMsg(w.DrawList())
				withBoxes, _ = json.Marshal(m)
			}
			b = withBoxes
		} else {
			if plain == nil {
				plain, _ = json.Marshal(msg)
			}
			b = plain
		}
		if b == nil {
			continue
		}
		dropped := sendLatest(c.tickOut, b)
		if needBoxes {
			c.sentBoxes = true
			c.sentVersion = w.boxesVersion
		}
		if dropped {
			// The dropped message may have carried the only copy of the draw list.
			c.sentBoxes = false
		}
	}
}

func drawListMsg(items []DrawItem) []observerproto.BoxState {
	out := make([]observerproto.BoxState, len(items))
	for i, it := range items {
		out[i] = observerproto.BoxState{ID: uint16(it.ID), Pos: it.Pos.Array(), Kind: it.Kind.String()}
	}
	return out
}
