package world

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"boxcraft.dev/internal/observerproto"
	"boxcraft.dev/internal/protocol"
	"boxcraft.dev/internal/sim/boxgraph"
	"boxcraft.dev/internal/sim/lattice"
	"boxcraft.dev/internal/sim/tuning"
)

type recordingAudit struct {
	entries []AuditEntry
}

func (r *recordingAudit) WriteAudit(e AuditEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

type recordingTicks struct {
	entries []TickLogEntry
}

func (r *recordingTicks) WriteTick(e TickLogEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

func testConfig() WorldConfig {
	t := tuning.Defaults()
	t.Seeding.FloorRadius = 3
	t.Seeding.TreePermille = 0
	return ConfigFromTuning("world_test", 7, t)
}

func newTestWorld(t *testing.T, cfg WorldConfig) *World {
	t.Helper()
	w, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return w
}

func join(t *testing.T, w *World, name string) (string, chan []byte) {
	t.Helper()
	out := make(chan []byte, 4)
	resp := make(chan JoinResponse, 1)
	w.StepOnce([]JoinRequest{{Name: name, Out: out, Resp: resp}}, nil, nil)
	jr := <-resp
	if jr.Code != "" {
		t.Fatalf("join refused: %s %s", jr.Code, jr.Message)
	}
	return jr.Welcome.AgentID, out
}

func act(agentID string, reqs ...protocol.ActionReq) ActionEnvelope {
	return ActionEnvelope{
		AgentID: agentID,
		Act: protocol.ActMsg{
			Type:            protocol.TypeAct,
			ProtocolVersion: protocol.Version,
			Actions:         reqs,
		},
	}
}

func lookDown(id string) protocol.ActionReq {
	return protocol.ActionReq{ID: id, Type: protocol.ActionLook, Pitch: -maxPitch}
}

func latestObs(t *testing.T, out chan []byte) protocol.ObsMsg {
	t.Helper()
	var last []byte
	for {
		select {
		case b := <-out:
			last = b
			continue
		default:
		}
		break
	}
	if last == nil {
		t.Fatalf("no OBS delivered")
	}
	var obs protocol.ObsMsg
	if err := json.Unmarshal(last, &obs); err != nil {
		t.Fatalf("unmarshal obs: %v", err)
	}
	return obs
}

func resultFor(t *testing.T, obs protocol.ObsMsg, id string) protocol.ActionResult {
	t.Helper()
	for _, r := range obs.Results {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("no result %q in %+v", id, obs.Results)
	return protocol.ActionResult{}
}

func TestJoin_WelcomeCarriesWorldParams(t *testing.T) {
	cfg := testConfig()
	w := newTestWorld(t, cfg)
	resp := make(chan JoinResponse, 1)
	w.StepOnce([]JoinRequest{{Name: "bot", Out: make(chan []byte, 1), Resp: resp}}, nil, nil)
	jr := <-resp
	if jr.Code != "" {
		t.Fatalf("join refused: %s", jr.Code)
	}
	wl := jr.Welcome
	if wl.Type != protocol.TypeWelcome || wl.AgentID != "A1" || wl.WorldID != "world_test" {
		t.Fatalf("welcome=%+v", wl)
	}
	if wl.WorldParams.Reach != cfg.Reach || wl.WorldParams.PoolCapacity != w.graph.Cap() {
		t.Fatalf("world params=%+v", wl.WorldParams)
	}
	if len(wl.Palette) == 0 {
		t.Fatalf("empty palette")
	}
}

func TestJoin_FullWorldIsBusy(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAgents = 1
	w := newTestWorld(t, cfg)
	r1 := make(chan JoinResponse, 1)
	r2 := make(chan JoinResponse, 1)
	w.StepOnce([]JoinRequest{{Name: "a", Resp: r1}, {Name: "b", Resp: r2}}, nil, nil)
	if jr := <-r1; jr.Code != "" {
		t.Fatalf("first join refused: %s", jr.Code)
	}
	if jr := <-r2; jr.Code != protocol.ErrWorldBusy {
		t.Fatalf("second join code=%q want %s", jr.Code, protocol.ErrWorldBusy)
	}
	// A refused join does not burn an id.
	w.StepOnce(nil, []string{"A1"}, nil)
	r3 := make(chan JoinResponse, 1)
	w.StepOnce([]JoinRequest{{Name: "c", Resp: r3}}, nil, nil)
	if jr := <-r3; jr.Welcome.AgentID != "A2" {
		t.Fatalf("agent id=%q want A2", jr.Welcome.AgentID)
	}
}

func TestPlaceThenBreak(t *testing.T) {
	w := newTestWorld(t, testConfig())
	audits := &recordingAudit{}
	w.SetAuditLogger(audits)
	id, out := join(t, w, "builder")
	before := w.graph.Len()

	w.StepOnce(nil, nil, []ActionEnvelope{act(id, lookDown("l1"), protocol.ActionReq{ID: "p1", Type: protocol.ActionPlace, Kind: "STONE"})})
	obs := latestObs(t, out)
	if r := resultFor(t, obs, "p1"); !r.OK || r.BoxID == 0 {
		t.Fatalf("place result=%+v", r)
	}
	if w.graph.Len() != before+1 || obs.Boxes != before+1 {
		t.Fatalf("live=%d obs=%d want %d", w.graph.Len(), obs.Boxes, before+1)
	}
	if len(audits.entries) != 1 || audits.entries[0].Action != "PLACE" || audits.entries[0].Pos != [3]int{0, 1, 0} {
		t.Fatalf("audits=%+v", audits.entries)
	}
	if obs.Target == nil || obs.Target.Pos != [3]int{0, 1, 0} || obs.Target.Face != "ABOVE" {
		t.Fatalf("target=%+v", obs.Target)
	}

	w.StepOnce(nil, nil, []ActionEnvelope{act(id, protocol.ActionReq{ID: "b1", Type: protocol.ActionBreak})})
	obs = latestObs(t, out)
	if r := resultFor(t, obs, "b1"); !r.OK {
		t.Fatalf("break result=%+v", r)
	}
	if w.graph.Len() != before {
		t.Fatalf("live=%d want %d", w.graph.Len(), before)
	}
	if len(audits.entries) != 2 || audits.entries[1].Action != "BREAK" {
		t.Fatalf("audits=%+v", audits.entries)
	}
	if err := w.graph.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestPlace_FullPoolIsNoResource(t *testing.T) {
	cfg := testConfig()
	cfg.Seeding.FloorRadius = 1
	cfg.PoolCapacity = 10 // exactly the 3x3 floor
	w := newTestWorld(t, cfg)
	if w.graph.Len() != w.graph.Cap() {
		t.Fatalf("pool not full: %d/%d", w.graph.Len(), w.graph.Cap())
	}
	id, out := join(t, w, "builder")
	w.StepOnce(nil, nil, []ActionEnvelope{act(id, lookDown("l1"), protocol.ActionReq{ID: "p1", Type: protocol.ActionPlace, Kind: "DIRT"})})
	r := resultFor(t, latestObs(t, out), "p1")
	if r.OK || r.Code != protocol.ErrNoResource {
		t.Fatalf("result=%+v want %s", r, protocol.ErrNoResource)
	}
	if got := w.stats.Totals().CapacityFull; got != 1 {
		t.Fatalf("capacity_full=%d want 1", got)
	}
}

func TestActions_Rejections(t *testing.T) {
	w := newTestWorld(t, testConfig())
	id, out := join(t, w, "bot")
	w.StepOnce(nil, nil, []ActionEnvelope{act(id,
		protocol.ActionReq{ID: "k", Type: protocol.ActionPlace, Kind: "UNOCCUPIED"},
		protocol.ActionReq{ID: "u", Type: "TELEPORT"},
		protocol.ActionReq{ID: "m", Type: protocol.ActionLook, Pitch: 1.5},
		protocol.ActionReq{ID: "b", Type: protocol.ActionBreak},
	)})
	obs := latestObs(t, out)
	for id, want := range map[string]string{
		"k": protocol.ErrBadRequest,
		"u": protocol.ErrBadRequest,
		"m": "",
		"b": protocol.ErrInvalidTarget, // looking at the sky
	} {
		if r := resultFor(t, obs, id); r.Code != want {
			t.Fatalf("%s code=%q want %q", id, r.Code, want)
		}
	}
}

func TestActions_RateLimitedPerAct(t *testing.T) {
	w := newTestWorld(t, testConfig())
	id, out := join(t, w, "bot")
	var reqs []protocol.ActionReq
	for i := 0; i < maxActionsPerAct+2; i++ {
		reqs = append(reqs, protocol.ActionReq{ID: string(rune('a' + i)), Type: protocol.ActionLook})
	}
	w.StepOnce(nil, nil, []ActionEnvelope{act(id, reqs...)})
	obs := latestObs(t, out)
	if len(obs.Results) != len(reqs) {
		t.Fatalf("results=%d want %d", len(obs.Results), len(reqs))
	}
	if last := obs.Results[len(obs.Results)-1]; last.Code != protocol.ErrRateLimit {
		t.Fatalf("last code=%q", last.Code)
	}
}

func TestStepOnce_DigestDeterministic(t *testing.T) {
	run := func() []string {
		w := newTestWorld(t, testConfig())
		ticks := &recordingTicks{}
		w.SetTickLogger(ticks)
		id, _ := join(t, w, "walker")
		var out []string
		for i := 0; i < 40; i++ {
			var acts []ActionEnvelope
			switch i {
			case 0:
				acts = append(acts, act(id, protocol.ActionReq{ID: "m", Type: protocol.ActionMove, Forward: 1, Strafe: 0.5}))
			case 10:
				acts = append(acts, act(id, protocol.ActionReq{ID: "j", Type: protocol.ActionJump}))
			case 20:
				acts = append(acts, act(id, lookDown("l"), protocol.ActionReq{ID: "p", Type: protocol.ActionPlace, Kind: "DIRT"}))
			}
			_, d := w.StepOnce(nil, nil, acts)
			out = append(out, d)
		}
		if len(ticks.entries) != 41 {
			t.Fatalf("tick log entries=%d want 41", len(ticks.entries))
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("tick %d digest differs", i)
		}
	}
	if a[0] == a[len(a)-1] {
		t.Fatalf("digest did not change")
	}
}

func TestAgent_StandsOnFloor(t *testing.T) {
	w := newTestWorld(t, testConfig())
	id, out := join(t, w, "idle")
	for i := 0; i < 100; i++ {
		w.StepOnce(nil, nil, nil)
	}
	obs := latestObs(t, out)
	if !obs.Self.Grounded {
		t.Fatalf("agent not grounded: %+v", obs.Self)
	}
	if y := obs.Self.Pos[1]; y < 1.25 || y > 1.45 {
		t.Fatalf("rest height=%v", y)
	}
	a, _ := w.Agent(id)
	if a.Contact == 0 {
		t.Fatalf("no contact box")
	}
}

func TestAgent_VoidRespawn(t *testing.T) {
	w := newTestWorld(t, testConfig())
	audits := &recordingAudit{}
	w.SetAuditLogger(audits)
	id, _ := join(t, w, "faller")
	w.agents[id].Body.Pos[1] = -100
	w.StepOnce(nil, nil, nil)
	a, _ := w.Agent(id)
	if a.Body.Pos != w.spawn {
		t.Fatalf("pos=%v want spawn %v", a.Body.Pos, w.spawn)
	}
	if len(audits.entries) != 1 || audits.entries[0].Action != "RESPAWN" {
		t.Fatalf("audits=%+v", audits.entries)
	}
}

func TestLook_WrapsAndClamps(t *testing.T) {
	var a Agent
	a.look(7, 3)
	if a.Pitch != maxPitch {
		t.Fatalf("pitch=%v", a.Pitch)
	}
	if a.Yaw < -3.1416 || a.Yaw > 3.1416 {
		t.Fatalf("yaw=%v not wrapped", a.Yaw)
	}
	f := Facing(0, 0)
	if f[2] != -1 || f[0] != 0 {
		t.Fatalf("facing(0,0)=%v", f)
	}
}

func TestObservers_DrawListOnlyWhenChanged(t *testing.T) {
	w := newTestWorld(t, testConfig())
	tickOut := make(chan []byte, 8)
	w.handleObserverJoin(ObserverJoinRequest{SessionID: "o1", TickOut: tickOut, WantBoxes: true})
	id, _ := join(t, w, "builder")

	read := func() observerproto.TickMsg {
		t.Helper()
		select {
		case b := <-tickOut:
			var m observerproto.TickMsg
			if err := json.Unmarshal(b, &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			return m
		default:
			t.Fatalf("no tick delivered")
		}
		return observerproto.TickMsg{}
	}

	m := read()
	if len(m.Boxes) != w.graph.Len() || len(m.Joins) != 1 || m.Joins[0].AgentID != id {
		t.Fatalf("first tick boxes=%d joins=%+v", len(m.Boxes), m.Joins)
	}
	w.StepOnce(nil, nil, nil)
	if m := read(); m.Boxes != nil || len(m.Agents) != 1 {
		t.Fatalf("unchanged tick carried boxes=%d agents=%d", len(m.Boxes), len(m.Agents))
	}
	w.StepOnce(nil, nil, []ActionEnvelope{act(id, lookDown("l"), protocol.ActionReq{ID: "p", Type: protocol.ActionPlace, Kind: "LOG"})})
	m = read()
	if len(m.Boxes) != w.graph.Len() || len(m.Audits) != 1 || m.Audits[0].To != "LOG" {
		t.Fatalf("after place boxes=%d audits=%+v", len(m.Boxes), m.Audits)
	}

	w.handleObserverLeave("o1")
	if _, ok := <-tickOut; ok {
		t.Fatalf("tick channel still open")
	}
}

func TestRun_AdminRequests(t *testing.T) {
	w := newTestWorld(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()
	if err := w.RequestInvariantCheck(reqCtx); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	items, err := w.RequestDrawList(reqCtx)
	if err != nil {
		t.Fatalf("draw list: %v", err)
	}
	if len(items) != 49 {
		t.Fatalf("draw list=%d want 49", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i-1].ID >= items[i].ID {
			t.Fatalf("draw list not in id order")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestStats_RollingWindow(t *testing.T) {
	s := NewWorldStats(10, 30)
	s.Record(0, func(b *StatsBucket) { b.Inserts++ })
	s.Record(5, func(b *StatsBucket) { b.Removes++ })
	s.Record(45, func(b *StatsBucket) { b.Inserts++ })
	win := s.Summarize(45)
	if win.Inserts != 1 || win.Removes != 0 {
		t.Fatalf("window=%+v", win)
	}
	if tot := s.Totals(); tot.Inserts != 2 || tot.Removes != 1 {
		t.Fatalf("totals=%+v", tot)
	}
}

func TestMetrics_StoredAfterStep(t *testing.T) {
	w := newTestWorld(t, testConfig())
	join(t, w, "bot")
	m := w.Metrics()
	if m.Tick != 1 || m.Agents != 1 || m.Boxes != 49 {
		t.Fatalf("metrics=%+v", m)
	}
}

func TestNew_SeedingStopsWhenPoolFills(t *testing.T) {
	tu := tuning.Defaults()
	tu.Seeding.FloorRadius = 20
	tu.Seeding.TreePermille = 200
	if err := tu.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	w, err := New(ConfigFromTuning("crowded", 3, tu), nil)
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	if w.graph.Len() != w.graph.Cap() {
		t.Fatalf("live=%d want full pool %d", w.graph.Len(), w.graph.Cap())
	}
	if err := w.graph.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	id, out := join(t, w, "builder")
	w.StepOnce(nil, nil, []ActionEnvelope{act(id, lookDown("l1"), protocol.ActionReq{ID: "p1", Type: protocol.ActionPlace, Kind: "DIRT"})})
	if r := resultFor(t, latestObs(t, out), "p1"); r.Code != protocol.ErrNoResource {
		t.Fatalf("place on a full pool: %+v", r)
	}
}

func TestPlace_BrokenGraphIsInternal(t *testing.T) {
	w := newTestWorld(t, testConfig())
	audits := &recordingAudit{}
	w.SetAuditLogger(audits)
	id, out := join(t, w, "builder")

	// The agent's PLACE target is (0,1,0). A box beside that cell claims a
	// neighbour there that does not exist.
	side, err := w.graph.Plant(lattice.Pos{X: 1, Y: 1}, boxgraph.Stone)
	if err != nil {
		t.Fatalf("plant: %v", err)
	}
	floor, _ := w.graph.Find(lattice.Pos{X: 1})
	w.graph.ForceLink(side, lattice.Right, floor)
	before := w.graph.Len()

	tick, _ := w.StepOnce(nil, nil, []ActionEnvelope{act(id, lookDown("l1"), protocol.ActionReq{ID: "p1", Type: protocol.ActionPlace, Kind: "STONE"})})
	r := resultFor(t, latestObs(t, out), "p1")
	if r.OK || r.Code != protocol.ErrInternal {
		t.Fatalf("result=%+v want %s", r, protocol.ErrInternal)
	}
	if w.graph.Len() != before {
		t.Fatalf("live=%d want %d: aborted insert committed a box", w.graph.Len(), before)
	}
	if len(audits.entries) != 1 {
		t.Fatalf("audits=%+v", audits.entries)
	}
	if e := audits.entries[0]; e.Action != "PLACE" || e.Reason != protocol.ErrInternal || e.Pos != [3]int{0, 1, 0} || e.Actor != id {
		t.Fatalf("audit=%+v", e)
	}
	if got := w.stats.Totals().InvariantFaults; got != 1 {
		t.Fatalf("invariant_faults=%d want 1", got)
	}

	// The world keeps stepping and the agent can still act.
	next, _ := w.StepOnce(nil, nil, []ActionEnvelope{act(id, protocol.ActionReq{ID: "j1", Type: protocol.ActionLook, Yaw: 1})})
	if next != tick+1 {
		t.Fatalf("tick=%d want %d", next, tick+1)
	}
	if r := resultFor(t, latestObs(t, out), "j1"); !r.OK {
		t.Fatalf("look after fault: %+v", r)
	}
}
