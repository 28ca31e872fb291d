package main

import (
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"

	"boxcraft.dev/internal/protocol"
	"boxcraft.dev/internal/sim/tuning"
	"boxcraft.dev/internal/sim/world"
)

func newTestViewer(t *testing.T) (*viewer, tcell.SimulationScreen) {
	t.Helper()
	tu := tuning.Defaults()
	tu.Seeding.FloorRadius = 3
	tu.Seeding.TreePermille = 0
	w, err := world.New(world.ConfigFromTuning("view", 7, tu), nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatalf("screen: %v", err)
	}
	t.Cleanup(screen.Fini)
	screen.SetSize(40, 12)

	v, err := newViewer(w, screen, "tester")
	if err != nil {
		t.Fatalf("viewer: %v", err)
	}
	return v, screen
}

func rowText(s tcell.Screen, y int) string {
	w, _ := s.Size()
	var b strings.Builder
	for x := 0; x < w; x++ {
		r, _, _, _ := s.GetContent(x, y)
		b.WriteRune(r)
	}
	return b.String()
}

func TestViewer_PlaceFromKeyboard(t *testing.T) {
	v, screen := newTestViewer(t)
	if v.agentID != "A1" {
		t.Fatalf("agent=%s", v.agentID)
	}
	for i := 0; i < 40; i++ {
		v.step()
	}
	v.queue(protocol.ActionReq{Type: protocol.ActionLook, Pitch: -1.55})
	v.step()
	if v.obs.Target == nil || v.obs.Target.Face != "ABOVE" {
		t.Fatalf("target=%+v", v.obs.Target)
	}

	v.handleKey(tcell.NewEventKey(tcell.KeyRune, '3', tcell.ModNone))
	v.handleKey(tcell.NewEventKey(tcell.KeyRune, 'p', tcell.ModNone))
	v.step()
	if !strings.HasPrefix(v.status, "PLACE ok") {
		t.Fatalf("status=%q", v.status)
	}
	if v.obs.Boxes != 50 {
		t.Fatalf("boxes=%d want 50", v.obs.Boxes)
	}

	v.draw()
	_, h := screen.Size()
	if r, _, _, _ := screen.GetContent(20, 5); r != '@' {
		t.Fatalf("center=%q want @", r)
	}
	if r, _, _, _ := screen.GetContent(21, 5); r != '"' {
		t.Fatalf("floor cell=%q want grass", r)
	}
	if r, _, _, _ := screen.GetContent(24, 5); r != ' ' {
		t.Fatalf("past the slab=%q want blank", r)
	}
	if got := rowText(screen, h-1); !strings.Contains(got, "PLACE ok") {
		t.Fatalf("status row=%q", got)
	}
	if got := rowText(screen, h-2); !strings.Contains(got, "boxes 50/") {
		t.Fatalf("info row=%q", got)
	}
}

func TestViewer_BreakWithoutTarget(t *testing.T) {
	v, _ := newTestViewer(t)
	v.queue(protocol.ActionReq{Type: protocol.ActionLook, Pitch: 1.5})
	v.handleKey(tcell.NewEventKey(tcell.KeyRune, 'b', tcell.ModNone))
	v.step()
	if !strings.Contains(v.status, protocol.ErrInvalidTarget) {
		t.Fatalf("status=%q", v.status)
	}
}

func TestViewer_Keys(t *testing.T) {
	v, _ := newTestViewer(t)
	if !v.handleKey(tcell.NewEventKey(tcell.KeyRune, 'w', tcell.ModNone)) {
		t.Fatalf("w quit")
	}
	if len(v.pending) != 1 || v.pending[0].Type != protocol.ActionMove || v.pending[0].Forward != 1 {
		t.Fatalf("pending=%+v", v.pending)
	}
	v.handleKey(tcell.NewEventKey(tcell.KeyRight, 0, tcell.ModNone))
	if v.pending[1].Type != protocol.ActionLook || v.pending[1].Yaw != lookStep {
		t.Fatalf("pending=%+v", v.pending)
	}
	v.handleKey(tcell.NewEventKey(tcell.KeyRune, '5', tcell.ModNone))
	if v.kind != "LEAVES" {
		t.Fatalf("kind=%s", v.kind)
	}
	if v.handleKey(tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)) {
		t.Fatalf("q did not quit")
	}
	if v.handleKey(tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)) {
		t.Fatalf("esc did not quit")
	}
}

func TestTopDown_KeepsHighestBox(t *testing.T) {
	v, _ := newTestViewer(t)
	cols := topDown(v.w.DrawList())
	if len(cols) != 49 {
		t.Fatalf("columns=%d want 49", len(cols))
	}
}
