package world

import (
	"errors"

	"boxcraft.dev/internal/protocol"
	"boxcraft.dev/internal/sim/boxgraph"
	"boxcraft.dev/internal/sim/collide"
	"boxcraft.dev/internal/sim/raypick"
)

// maxActionsPerAct bounds how much one ACT can do in a tick.
const maxActionsPerAct = 16

func (w *World) applyAct(a *Agent, act protocol.ActMsg, nowTick uint64) {
	for i, req := range act.Actions {
		res := protocol.ActionResult{ID: req.ID, Type: req.Type, Tick: nowTick}
		if i >= maxActionsPerAct {
			res.Code, res.Message = protocol.ErrRateLimit, "too many actions in one ACT"
		} else {
			res.BoxID, res.Code, res.Message = w.applyAction(a, req, nowTick)
		}
		res.OK = res.Code == ""
		a.addResult(res)
	}
}

func (w *World) applyAction(a *Agent, req protocol.ActionReq, nowTick uint64) (uint16, string, string) {
	switch req.Type {
	case protocol.ActionPlace:
		id, code, msg := w.place(a, req.Kind, nowTick)
		return uint16(id), code, msg
	case protocol.ActionBreak:
		id, code, msg := w.breakBox(a, nowTick)
		return uint16(id), code, msg
	case protocol.ActionMove:
		if !finite(req.Forward, req.Strafe) {
			return 0, protocol.ErrBadRequest, "non-finite move"
		}
		a.Forward = clampf(req.Forward, -1, 1)
		a.Strafe = clampf(req.Strafe, -1, 1)
		return 0, "", ""
	case protocol.ActionJump:
		if !collide.Jump(&a.Body, w.cfg.Physics) {
			return 0, protocol.ErrBlocked, "not grounded"
		}
		return 0, "", ""
	case protocol.ActionLook:
		if !finite(req.Yaw, req.Pitch) {
			return 0, protocol.ErrBadRequest, "non-finite look"
		}
		a.look(req.Yaw, req.Pitch)
		return 0, "", ""
	default:
		return 0, protocol.ErrBadRequest, "unknown action type"
	}
}

// target picks the box under a's look ray, limited to reach.
func (w *World) target(a *Agent) (raypick.Hit, bool, error) {
	hit, ok, err := raypick.Pick(w.graph, a.Eye(w.cfg.EyeHeight), a.Facing())
	if err != nil || !ok {
		return hit, ok, err
	}
	if hit.Dist > w.cfg.Reach {
		return raypick.Hit{}, false, nil
	}
	return hit, true, nil
}

func (w *World) pickForAction(a *Agent, nowTick uint64) (raypick.Hit, string, string) {
	hit, ok, err := w.target(a)
	w.stats.Record(nowTick, func(b *StatsBucket) {
		b.Picks++
		if !ok {
			b.Misses++
		}
	})
	if err != nil {
		w.logf("raypick: agent %s: %v", a.ID, err)
		w.stats.Record(nowTick, func(b *StatsBucket) { b.InvariantFaults++ })
		return hit, protocol.ErrInternal, "face resolution failed"
	}
	if !ok {
		return hit, protocol.ErrInvalidTarget, "no box in reach"
	}
	return hit, "", ""
}

func (w *World) place(a *Agent, kindName string, nowTick uint64) (boxgraph.BoxID, string, string) {
	kind, err := boxgraph.ParseKind(kindName)
	if err != nil || kind == boxgraph.Unoccupied {
		return boxgraph.NullID, protocol.ErrBadRequest, "bad kind"
	}
	hit, code, msg := w.pickForAction(a, nowTick)
	if code != "" {
		return boxgraph.NullID, code, msg
	}
	id, err := w.graph.Insert(hit.ID, hit.Face, kind)
	if err != nil {
		anchor, _ := w.graph.Get(hit.ID)
		code, msg := w.mutationFailed(a, "PLACE", anchor.Pos.Add(hit.Face.Offset()).Array(), err, nowTick)
		return boxgraph.NullID, code, msg
	}
	b, _ := w.graph.Get(id)
	w.boxesVersion++
	w.stats.Record(nowTick, func(s *StatsBucket) { s.Inserts++ })
	w.audit(AuditEntry{
		Tick:   nowTick,
		Actor:  a.ID,
		Action: "PLACE",
		Pos:    b.Pos.Array(),
		From:   uint16(boxgraph.Unoccupied),
		To:     uint16(kind),
		BoxID:  uint16(id),
	})
	w.afterMutation(nowTick)
	return id, "", ""
}

func (w *World) breakBox(a *Agent, nowTick uint64) (boxgraph.BoxID, string, string) {
	hit, code, msg := w.pickForAction(a, nowTick)
	if code != "" {
		return boxgraph.NullID, code, msg
	}
	b, _ := w.graph.Get(hit.ID)
	if err := w.graph.Remove(hit.ID); err != nil {
		code, msg := w.mutationFailed(a, "BREAK", b.Pos.Array(), err, nowTick)
		return boxgraph.NullID, code, msg
	}
	w.boxesVersion++
	w.stats.Record(nowTick, func(s *StatsBucket) { s.Removes++ })
	w.audit(AuditEntry{
		Tick:   nowTick,
		Actor:  a.ID,
		Action: "BREAK",
		Pos:    b.Pos.Array(),
		From:   uint16(b.Kind),
		To:     uint16(boxgraph.Unoccupied),
		BoxID:  uint16(hit.ID),
	})
	w.afterMutation(nowTick)
	return hit.ID, "", ""
}

// mutationFailed maps a graph error to a wire code and records it.
func (w *World) mutationFailed(a *Agent, action string, pos [3]int, err error, nowTick uint64) (string, string) {
	switch {
	case errors.Is(err, boxgraph.ErrInvariant):
		w.logf("boxgraph invariant: %s by %s at %v: %v", action, a.ID, pos, err)
		w.stats.Record(nowTick, func(b *StatsBucket) { b.InvariantFaults++ })
		w.audit(AuditEntry{Tick: nowTick, Actor: a.ID, Action: action, Pos: pos, Reason: protocol.ErrInternal})
		return protocol.ErrInternal, "world graph rejected the change"
	case errors.Is(err, boxgraph.ErrCapacity):
		w.stats.Record(nowTick, func(b *StatsBucket) { b.CapacityFull++ })
		return protocol.ErrNoResource, "box pool is full"
	case errors.Is(err, boxgraph.ErrFaceLinked), errors.Is(err, boxgraph.ErrCellTaken):
		w.stats.Record(nowTick, func(b *StatsBucket) { b.Refused++ })
		return protocol.ErrConflict, err.Error()
	default:
		w.stats.Record(nowTick, func(b *StatsBucket) { b.Refused++ })
		return protocol.ErrInvalidTarget, err.Error()
	}
}

// afterMutation optionally re-verifies the whole graph.
func (w *World) afterMutation(nowTick uint64) {
	if !w.cfg.CheckInvariants {
		return
	}
	if err := w.graph.CheckInvariants(); err != nil {
		w.logf("boxgraph invariant: %v", err)
		w.stats.Record(nowTick, func(b *StatsBucket) { b.InvariantFaults++ })
		w.audit(AuditEntry{Tick: nowTick, Actor: "WORLD", Action: "INVARIANT", Reason: protocol.ErrInternal})
	}
}

func (w *World) audit(e AuditEntry) {
	w.auditsThisTick = append(w.auditsThisTick, e)
	if w.auditLogger != nil {
		_ = w.auditLogger.WriteAudit(e)
	}
}
