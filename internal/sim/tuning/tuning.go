package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"boxcraft.dev/internal/sim/boxgraph"
	"boxcraft.dev/internal/sim/collide"
	"boxcraft.dev/internal/sim/seed"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz   int `yaml:"tick_rate_hz"`
	PoolCapacity int `yaml:"pool_capacity"`

	Physics Physics `yaml:"physics"`
	Seeding Seeding `yaml:"seeding"`
	Agents  Agents  `yaml:"agents"`
}

type Physics struct {
	Radius        float32 `yaml:"radius"`
	OverheadSkip  float32 `yaml:"overhead_skip"`
	Push          float32 `yaml:"push"`
	Damping       float32 `yaml:"damping"`
	Gravity       float32 `yaml:"gravity"`
	FallBoost     float32 `yaml:"fall_boost"`
	CoyoteSteps   int     `yaml:"coyote_steps"`
	JumpSteps     int     `yaml:"jump_steps"`
	JumpImpulse   float32 `yaml:"jump_impulse"`
	HeadBumpBurst int     `yaml:"head_bump_burst"`
	NormalEpsilon float32 `yaml:"normal_epsilon"`
}

type Seeding struct {
	FloorRadius  int `yaml:"floor_radius"`
	TreePermille int `yaml:"tree_permille"`
	SpawnClear   int `yaml:"spawn_clear"`
}

type Agents struct {
	EyeHeight float32 `yaml:"eye_height"`
	WalkSpeed float32 `yaml:"walk_speed"`
	Reach     float32 `yaml:"reach"`
	MaxAgents int     `yaml:"max_agents"`
}

func Defaults() Tuning {
	p := collide.DefaultParams()
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      20,
		PoolCapacity:    boxgraph.DefaultCapacity,
		Physics: Physics{
			Radius:        p.Radius,
			OverheadSkip:  p.OverheadSkip,
			Push:          p.Push,
			Damping:       p.Damping,
			Gravity:       p.Gravity,
			FallBoost:     p.FallBoost,
			CoyoteSteps:   int(p.CoyoteSteps),
			JumpSteps:     int(p.JumpSteps),
			JumpImpulse:   p.JumpImpulse,
			HeadBumpBurst: int(p.HeadBumpBurst),
			NormalEpsilon: collide.NormalEpsilon,
		},
		Seeding: Seeding{
			FloorRadius:  8,
			TreePermille: 40,
			SpawnClear:   2,
		},
		Agents: Agents{
			EyeHeight: 1.6,
			WalkSpeed: 0.02,
			Reach:     6,
			MaxAgents: 16,
		},
	}
}

// Load reads path over Defaults. Missing keys keep their default value.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		errs = append(errs, fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz))
	}
	if t.PoolCapacity < 2 || t.PoolCapacity > boxgraph.MaxCapacity {
		errs = append(errs, fmt.Errorf("pool_capacity out of range: %d", t.PoolCapacity))
	}
	p := t.Physics
	if p.Radius <= 0 {
		errs = append(errs, fmt.Errorf("physics.radius must be > 0"))
	}
	if p.OverheadSkip >= p.Radius {
		errs = append(errs, fmt.Errorf("physics.overhead_skip %.3f must be below radius %.3f", p.OverheadSkip, p.Radius))
	}
	if p.Damping <= 0 || p.Damping >= 1 {
		errs = append(errs, fmt.Errorf("physics.damping must be in (0,1)"))
	}
	for _, c := range []struct {
		name string
		v    int
	}{
		{"coyote_steps", p.CoyoteSteps},
		{"jump_steps", p.JumpSteps},
		{"head_bump_burst", p.HeadBumpBurst},
	} {
		if c.v < 0 || c.v > 127 {
			errs = append(errs, fmt.Errorf("physics.%s out of int8 range: %d", c.name, c.v))
		}
	}
	if p.NormalEpsilon <= 0 {
		errs = append(errs, fmt.Errorf("physics.normal_epsilon must be > 0"))
	}
	if t.Seeding.FloorRadius < 0 || t.Seeding.FloorRadius > 127 {
		errs = append(errs, fmt.Errorf("seeding.floor_radius out of range: %d", t.Seeding.FloorRadius))
	}
	if side := 2*t.Seeding.FloorRadius + 1; side*side >= t.PoolCapacity {
		errs = append(errs, fmt.Errorf("seeding.floor_radius %d does not fit pool_capacity %d", t.Seeding.FloorRadius, t.PoolCapacity))
	}
	if t.Agents.Reach <= 0 {
		errs = append(errs, fmt.Errorf("agents.reach must be > 0"))
	}
	if t.Agents.MaxAgents <= 0 {
		errs = append(errs, fmt.Errorf("agents.max_agents must be > 0"))
	}
	return errors.Join(errs...)
}

// CollideParams converts the physics block for collide.Resolve. Validate first.
func (t Tuning) CollideParams() collide.Params {
	p := t.Physics
	return collide.Params{
		Radius:        p.Radius,
		OverheadSkip:  p.OverheadSkip,
		Push:          p.Push,
		Damping:       p.Damping,
		Gravity:       p.Gravity,
		FallBoost:     p.FallBoost,
		CoyoteSteps:   int8(p.CoyoteSteps),
		JumpSteps:     int8(p.JumpSteps),
		JumpImpulse:   p.JumpImpulse,
		HeadBumpBurst: int8(p.HeadBumpBurst),
		NormalEpsilon: p.NormalEpsilon,
	}
}

func (t Tuning) SeedConfig(worldSeed int64) seed.Config {
	return seed.Config{
		Seed:         worldSeed,
		FloorRadius:  t.Seeding.FloorRadius,
		TreePermille: t.Seeding.TreePermille,
		SpawnClear:   t.Seeding.SpawnClear,
	}
}
