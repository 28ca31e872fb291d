package collide

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"boxcraft.dev/internal/sim/boxgraph"
)

// Boxes is the read side of the box graph.
type Boxes interface {
	Each(fn func(id boxgraph.BoxID, b boxgraph.Box) bool)
}

// Params are the per-step physics constants. Distances are in lattice units,
// velocities in lattice units per step.
type Params struct {
	Radius float32 // agent collider radius
	// Boxes closer than this are treated as overhead and never push the agent,
	// so a block placed into the agent's own cell does not fight it.
	OverheadSkip float32
	Push         float32
	Damping      float32
	Gravity      float32
	FallBoost    float32
	CoyoteSteps  int8
	JumpSteps    int8
	JumpImpulse  float32
	// HeadBumpBurst is added to the jump counter on contact from above,
	// cutting the remaining jump impulse short.
	HeadBumpBurst int8
	NormalEpsilon float32
}

func DefaultParams() Params {
	return Params{
		Radius:        0.4,
		OverheadSkip:  0.25,
		Push:          0.65,
		Damping:       0.65,
		Gravity:       0.01,
		FallBoost:     0.15,
		CoyoteSteps:   6,
		JumpSteps:     50,
		JumpImpulse:   0.05,
		HeadBumpBurst: 10,
		NormalEpsilon: NormalEpsilon,
	}
}

// Agent is a point-like body resolved against the box field.
//
// GroundCooldown is <= 0 while grounded (minus the steps spent on the ground)
// and > 0 while airborne (steps since the last ground contact).
// JumpCooldown counts steps since the last jump; the impulse runs while it is
// below Params.JumpSteps.
type Agent struct {
	Pos mgl32.Vec3
	Vel mgl32.Vec3

	GroundCooldown int8
	JumpCooldown   int8
}

func NewAgent(pos mgl32.Vec3) Agent {
	return Agent{Pos: pos, JumpCooldown: math.MaxInt8}
}

// Grounded reports whether the agent touched ground on its last step.
func (a *Agent) Grounded() bool { return a.GroundCooldown <= 0 }

type Result struct {
	VelocityDelta mgl32.Vec3
	Grounded      bool
	Contact       boxgraph.BoxID
	Dist          float32
}

// Resolve runs one physics step for a: push-out from the nearest penetrating box,
// ground and head-bump bookkeeping, gravity, jump impulse, damping, integration.
func Resolve(g Boxes, a *Agent, p Params) Result {
	best := float32(math.Inf(1))
	var contact boxgraph.Box
	var rel mgl32.Vec3
	res := Result{Dist: best}
	g.Each(func(id boxgraph.BoxID, b boxgraph.Box) bool {
		r := a.Pos.Sub(b.Pos.Center())
		d := BoxSDF(r)
		if d > p.OverheadSkip && d < best {
			best = d
			contact = b
			rel = r
			res.Contact = id
		}
		return true
	})
	res.Dist = best

	if res.Contact != boxgraph.NullID && best < p.Radius {
		depth := abs32(best - p.Radius)
		eps := p.NormalEpsilon
		if eps <= 0 {
			eps = NormalEpsilon
		}
		res.VelocityDelta = boxNormalStep(rel, eps).Mul(depth * p.Push)
		a.Vel = a.Vel.Add(res.VelocityDelta)

		if float32(contact.Pos.Y) < a.Pos[1] {
			res.Grounded = true
			if a.GroundCooldown > 0 {
				a.GroundCooldown = 0
			}
			a.GroundCooldown = satAdd8(a.GroundCooldown, -1)
		} else {
			a.JumpCooldown = satAdd8(a.JumpCooldown, p.HeadBumpBurst)
		}
	} else {
		res.Contact = boxgraph.NullID
		if a.GroundCooldown < 0 {
			a.GroundCooldown = 0
		}
		a.GroundCooldown = satAdd8(a.GroundCooldown, 1)
	}

	// Falling speeds up the longer the agent has been off the ground.
	if a.Vel[1] < 0 {
		a.Vel[1] += a.Vel[1] * p.FallBoost * fallBoost(a.GroundCooldown, p.CoyoteSteps)
	}
	a.Vel[1] -= p.Gravity

	a.JumpCooldown = satAdd8(a.JumpCooldown, 1)
	if a.JumpCooldown < p.JumpSteps {
		left := float32(p.JumpSteps-a.JumpCooldown) / float32(p.JumpSteps)
		a.Vel[1] += p.JumpImpulse * left
	}

	a.Vel = a.Vel.Mul(p.Damping)
	a.Pos = a.Pos.Add(a.Vel)
	return res
}

// fallBoost ramps from 0 on the ground to 1 after coyote steps in the air.
func fallBoost(groundCooldown, coyote int8) float32 {
	if groundCooldown <= 0 {
		return 0
	}
	if coyote <= 0 || groundCooldown >= coyote {
		return 1
	}
	return float32(groundCooldown) / float32(coyote)
}

// Jump starts a jump if the agent is on the ground or left it at most
// CoyoteSteps ago, and no jump is already running.
func Jump(a *Agent, p Params) bool {
	if a.GroundCooldown > p.CoyoteSteps {
		return false
	}
	if a.JumpCooldown < p.JumpSteps {
		return false
	}
	a.JumpCooldown = 0
	return true
}

func satAdd8(a, b int8) int8 {
	s := int16(a) + int16(b)
	if s > math.MaxInt8 {
		return math.MaxInt8
	}
	if s < math.MinInt8 {
		return math.MinInt8
	}
	return int8(s)
}
