package main

import (
	"testing"

	"boxcraft.dev/internal/protocol"
)

func obsWith(tick uint64, target bool, results ...protocol.ActionResult) *protocol.ObsMsg {
	o := &protocol.ObsMsg{Type: protocol.TypeObs, Tick: tick, AgentID: "A1"}
	if target {
		o.Target = &protocol.TargetObs{Kind: "GRASS", Face: "ABOVE"}
	}
	o.Results = results
	return o
}

func ok(act *protocol.ActMsg, tick uint64) protocol.ActionResult {
	a := act.Actions[0]
	return protocol.ActionResult{ID: a.ID, Type: a.Type, OK: true, Tick: tick}
}

func TestBuilder_BuildsThenTearsDown(t *testing.T) {
	b := newBuilder("STONE", 2, 1)

	act, done := b.next(obsWith(1, true))
	if done || act == nil || act.Actions[0].Type != protocol.ActionLook || act.Actions[0].Pitch != buildPitch {
		t.Fatalf("first act=%+v done=%v", act, done)
	}
	// No result yet: wait.
	if again, _ := b.next(obsWith(2, true)); again != nil {
		t.Fatalf("sent while pending: %+v", again)
	}

	var types []string
	tick := uint64(3)
	for i := 0; i < 4; i++ {
		next, done := b.next(obsWith(tick, true, ok(act, tick)))
		if done {
			t.Fatalf("done early after %v", types)
		}
		act = next
		types = append(types, act.Actions[0].Type)
		tick++
	}
	want := []string{"PLACE", "PLACE", "BREAK", "BREAK"}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("sequence=%v want %v", types, want)
		}
	}
	if _, done := b.next(obsWith(tick, true, ok(act, tick))); !done {
		t.Fatalf("expected done after one cycle")
	}
	if b.placed != 2 || b.broken != 2 || b.cycles != 1 {
		t.Fatalf("placed=%d broken=%d cycles=%d", b.placed, b.broken, b.cycles)
	}
}

func TestBuilder_StopsAfterLoops(t *testing.T) {
	b := newBuilder("STONE", 1, 1)
	act, _ := b.next(obsWith(1, true))
	for tick := uint64(2); tick < 10; tick++ {
		next, done := b.next(obsWith(tick, true, ok(act, tick)))
		if done {
			if b.cycles != 1 {
				t.Fatalf("cycles=%d", b.cycles)
			}
			return
		}
		act = next
	}
	t.Fatalf("builder never finished")
}

func TestBuilder_FailedPlaceEndsColumn(t *testing.T) {
	b := newBuilder("STONE", 5, 0)
	look, _ := b.next(obsWith(1, true))
	place, _ := b.next(obsWith(2, true, ok(look, 2)))
	fail := protocol.ActionResult{ID: place.Actions[0].ID, Type: protocol.ActionPlace, Code: protocol.ErrNoResource, Tick: 3}
	next, _ := b.next(obsWith(3, true, fail))
	if next == nil || next.Actions[0].Type != protocol.ActionBreak {
		t.Fatalf("next=%+v want BREAK", next)
	}
}

func TestBuilder_WaitsForTarget(t *testing.T) {
	b := newBuilder("STONE", 1, 0)
	look, _ := b.next(obsWith(1, true))
	if act, _ := b.next(obsWith(2, false, ok(look, 2))); act != nil {
		t.Fatalf("placed without a target: %+v", act)
	}
	if act, _ := b.next(obsWith(3, true)); act == nil || act.Actions[0].Type != protocol.ActionPlace {
		t.Fatalf("act=%+v want PLACE", act)
	}
}
