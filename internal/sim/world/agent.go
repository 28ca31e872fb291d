package world

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"boxcraft.dev/internal/protocol"
	"boxcraft.dev/internal/sim/boxgraph"
	"boxcraft.dev/internal/sim/collide"
)

// maxPitch keeps the look ray off the vertical so yaw stays meaningful.
const maxPitch = 1.55

// Agents falling below this height are put back at spawn.
const voidY = -64

type Agent struct {
	ID   string
	Name string

	Body collide.Agent

	Yaw   float32
	Pitch float32

	// Walk intent, relative to Yaw. Kept until the next MOVE.
	Forward float32
	Strafe  float32

	Grounded bool
	Contact  boxgraph.BoxID

	results []protocol.ActionResult
}

func newAgentID(n uint64) string { return fmt.Sprintf("A%d", n) }

// Facing is the unit look direction. Yaw 0 looks down -z; positive pitch looks up.
func Facing(yaw, pitch float32) mgl32.Vec3 {
	sy, cy := math.Sincos(float64(yaw))
	sp, cp := math.Sincos(float64(pitch))
	return mgl32.Vec3{float32(sy * cp), float32(sp), float32(-cy * cp)}
}

// walkDir is the horizontal velocity direction for a forward/strafe intent.
func walkDir(yaw, forward, strafe float32) mgl32.Vec3 {
	sy, cy := math.Sincos(float64(yaw))
	fwd := mgl32.Vec3{float32(sy), 0, float32(-cy)}
	right := mgl32.Vec3{float32(cy), 0, float32(sy)}
	d := fwd.Mul(forward).Add(right.Mul(strafe))
	if l := d.Len(); l > 1 {
		d = d.Mul(1 / l)
	}
	return d
}

func (a *Agent) Eye(eyeHeight float32) mgl32.Vec3 {
	return a.Body.Pos.Add(mgl32.Vec3{0, eyeHeight, 0})
}

func (a *Agent) Facing() mgl32.Vec3 { return Facing(a.Yaw, a.Pitch) }

func (a *Agent) look(yaw, pitch float32) {
	a.Yaw = wrapAngle(yaw)
	a.Pitch = clampf(pitch, -maxPitch, maxPitch)
}

func (a *Agent) addResult(r protocol.ActionResult) {
	a.results = append(a.results, r)
}

func (a *Agent) takeResults() []protocol.ActionResult {
	out := a.results
	a.results = nil
	return out
}

func wrapAngle(v float32) float32 {
	const twoPi = 2 * math.Pi
	r := math.Mod(float64(v), twoPi)
	if r > math.Pi {
		r -= twoPi
	} else if r <= -math.Pi {
		r += twoPi
	}
	return float32(r)
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(vs ...float32) bool {
	for _, v := range vs {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}

func (w *World) sortedAgentIDs() []string {
	ids := make([]string, 0, len(w.agents))
	for id := range w.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (w *World) joinAgent(name string, out chan []byte) JoinResponse {
	if len(w.agents) >= w.cfg.MaxAgents {
		return JoinResponse{Code: protocol.ErrWorldBusy, Message: "world is full"}
	}
	agentID := newAgentID(w.nextAgentNum.Add(1))
	a := &Agent{
		ID:   agentID,
		Name: name,
		Body: collide.NewAgent(w.spawn),
	}
	w.agents[agentID] = a
	if out != nil {
		w.clients[agentID] = &clientState{Out: out}
	}
	return JoinResponse{Welcome: w.welcome(agentID)}
}

func (w *World) handleLeave(agentID string) {
	delete(w.agents, agentID)
	delete(w.clients, agentID)
}

// stepAgent applies walk intent, then one collision step.
func (w *World) stepAgent(a *Agent, nowTick uint64) {
	if a.Forward != 0 || a.Strafe != 0 {
		d := walkDir(a.Yaw, a.Forward, a.Strafe).Mul(w.cfg.WalkSpeed)
		a.Body.Vel = a.Body.Vel.Add(d)
	}
	res := collide.Resolve(w.graph, &a.Body, w.cfg.Physics)
	a.Grounded = res.Grounded
	a.Contact = res.Contact

	if a.Body.Pos[1] < voidY {
		from := a.Body.Pos
		a.Body = collide.NewAgent(w.spawn)
		w.stats.Record(nowTick, func(b *StatsBucket) { b.Respawns++ })
		w.audit(AuditEntry{
			Tick:   nowTick,
			Actor:  a.ID,
			Action: "RESPAWN",
			Pos:    [3]int{int(from[0]), int(from[1]), int(from[2])},
			Reason: "fell out of the world",
		})
	}
}
