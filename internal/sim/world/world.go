package world

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"boxcraft.dev/internal/protocol"
	"boxcraft.dev/internal/sim/boxgraph"
	"boxcraft.dev/internal/sim/collide"
	"boxcraft.dev/internal/sim/seed"
	"boxcraft.dev/internal/sim/tuning"
)

type WorldConfig struct {
	ID           string
	TickRateHz   int
	Seed         int64
	PoolCapacity int

	Seeding seed.Config
	Physics collide.Params

	EyeHeight float32
	WalkSpeed float32
	Reach     float32
	MaxAgents int

	// CheckInvariants runs the full graph check after every mutation.
	CheckInvariants bool
}

// ConfigFromTuning maps a validated tuning file onto a world config.
func ConfigFromTuning(id string, worldSeed int64, t tuning.Tuning) WorldConfig {
	return WorldConfig{
		ID:           id,
		TickRateHz:   t.TickRateHz,
		Seed:         worldSeed,
		PoolCapacity: t.PoolCapacity,
		Seeding:      t.SeedConfig(worldSeed),
		Physics:      t.CollideParams(),
		EyeHeight:    t.Agents.EyeHeight,
		WalkSpeed:    t.Agents.WalkSpeed,
		Reach:        t.Agents.Reach,
		MaxAgents:    t.Agents.MaxAgents,
	}
}

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

// JoinResponse carries either a welcome or a refusal code.
type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	Code    string
	Message string
}

type ActionEnvelope struct {
	AgentID string
	Act     protocol.ActMsg
}

type RecordedJoin struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

type RecordedAction struct {
	AgentID string          `json:"agent_id"`
	Act     protocol.ActMsg `json:"act"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type TickLogEntry struct {
	Tick    uint64           `json:"tick"`
	Joins   []RecordedJoin   `json:"joins,omitempty"`
	Leaves  []string         `json:"leaves,omitempty"`
	Actions []RecordedAction `json:"actions,omitempty"`
	Digest  string           `json:"digest"`
}

type AuditEntry struct {
	Tick   uint64 `json:"tick"`
	Actor  string `json:"actor"`
	Action string `json:"action"` // PLACE, BREAK, RESPAWN, INVARIANT
	Pos    [3]int `json:"pos"`
	From   uint16 `json:"from"`
	To     uint16 `json:"to"`
	BoxID  uint16 `json:"box_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type clientState struct {
	Out chan []byte
}

// World is a single-threaded authoritative simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg    WorldConfig
	logger *log.Logger

	tick atomic.Uint64

	graph *boxgraph.Graph
	// boxesVersion changes on every graph mutation; observers use it to skip
	// unchanged draw lists.
	boxesVersion uint64
	spawn        mgl32.Vec3

	agents    map[string]*Agent
	clients   map[string]*clientState
	observers map[string]*observerClient

	inbox         chan ActionEnvelope
	join          chan JoinRequest
	leave         chan string
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	invariantsReq chan invariantsReq
	drawListReq   chan drawListReq
	stop          chan struct{}

	nextAgentNum atomic.Uint64

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger  TickLogger
	auditLogger AuditLogger

	auditsThisTick []AuditEntry

	stats   *WorldStats
	metrics atomic.Value
}

func New(cfg WorldConfig, logger *log.Logger) (*World, error) {
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("world: tick rate must be > 0")
	}
	if cfg.Reach <= 0 {
		return nil, fmt.Errorf("world: reach must be > 0")
	}
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = 16
	}
	if cfg.ID == "" {
		cfg.ID = "world_1"
	}
	cfg.Seeding.Seed = cfg.Seed

	g := boxgraph.New(cfg.PoolCapacity)
	rep, err := seed.World(g, cfg.Seeding)
	if err != nil {
		return nil, fmt.Errorf("world: seed: %w", err)
	}
	if logger != nil {
		logger.Printf("world %s seeded: floor=%d trees=%d boxes=%d/%d", cfg.ID, len(rep.Floor), rep.Trees, rep.Boxes, g.Cap())
		if rep.Full {
			logger.Printf("world %s: box pool filled during seeding, stopped early", cfg.ID)
		}
	}

	o := cfg.Seeding.Origin.Center()
	w := &World{
		cfg:           cfg,
		logger:        logger,
		graph:         g,
		spawn:         mgl32.Vec3{o[0], float32(cfg.Seeding.Origin.Y) + 1 + cfg.Physics.Radius, o[2]},
		agents:        map[string]*Agent{},
		clients:       map[string]*clientState{},
		observers:     map[string]*observerClient{},
		inbox:         make(chan ActionEnvelope, 1024),
		join:          make(chan JoinRequest, 64),
		leave:         make(chan string, 64),
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerSub:   make(chan ObserverSubscribeRequest, 16),
		observerLeave: make(chan string, 16),
		invariantsReq: make(chan invariantsReq, 4),
		drawListReq:   make(chan drawListReq, 4),
		stop:          make(chan struct{}),
		stats:         NewWorldStats(300, 72000),
	}
	return w, nil
}

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// Capacity is fixed at New, so it is safe to read from any goroutine.
func (w *World) Capacity() int { return w.graph.Cap() }

func (w *World) SetTickLogger(l TickLogger)   { w.tickLogger = l }
func (w *World) SetAuditLogger(l AuditLogger) { w.auditLogger = l }

func (w *World) Inbox() chan<- ActionEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest     { return w.join }
func (w *World) Leave() chan<- string         { return w.leave }

func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.observerJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.observerSub }
func (w *World) ObserverLeave() chan<- string                       { return w.observerLeave }

func (w *World) welcome(agentID string) protocol.WelcomeMsg {
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		AgentID:         agentID,
		WorldID:         w.cfg.ID,
		WorldParams: protocol.WorldParams{
			TickRateHz:   w.cfg.TickRateHz,
			PoolCapacity: w.graph.Cap(),
			Seed:         w.cfg.Seed,
			EyeHeight:    w.cfg.EyeHeight,
			Reach:        w.cfg.Reach,
		},
		Palette: boxgraph.Palette(),
	}
}

func (w *World) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}

var errStopped = errors.New("world stopped")
