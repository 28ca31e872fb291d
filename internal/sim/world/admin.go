package world

import (
	"context"

	"boxcraft.dev/internal/sim/boxgraph"
	"boxcraft.dev/internal/sim/lattice"
)

// DrawItem is one entry of the read-only draw list.
type DrawItem struct {
	ID   boxgraph.BoxID
	Pos  lattice.Pos
	Kind boxgraph.Kind
}

// DrawList returns every occupied box in ascending id order.
// Call it only from the goroutine driving the world (Run or StepOnce).
func (w *World) DrawList() []DrawItem {
	out := make([]DrawItem, 0, w.graph.Len())
	w.graph.Each(func(id boxgraph.BoxID, b boxgraph.Box) bool {
		out = append(out, DrawItem{ID: id, Pos: b.Pos, Kind: b.Kind})
		return true
	})
	return out
}

// Boxes exposes the graph for read-only queries from the driving goroutine.
func (w *World) Boxes() *boxgraph.Graph { return w.graph }

// Agent returns a copy of an agent's state. Same goroutine rules as DrawList.
func (w *World) Agent(id string) (Agent, bool) {
	a := w.agents[id]
	if a == nil {
		return Agent{}, false
	}
	cp := *a
	cp.results = nil
	return cp, true
}

type invariantsReq struct {
	resp chan error
}

type drawListReq struct {
	resp chan []DrawItem
}

// RequestInvariantCheck runs the full graph check on the world loop.
func (w *World) RequestInvariantCheck(ctx context.Context) error {
	req := invariantsReq{resp: make(chan error, 1)}
	select {
	case w.invariantsReq <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stop:
		return errStopped
	}
	select {
	case err := <-req.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestDrawList copies the draw list on the world loop.
func (w *World) RequestDrawList(ctx context.Context) ([]DrawItem, error) {
	req := drawListReq{resp: make(chan []DrawItem, 1)}
	select {
	case w.drawListReq <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.stop:
		return nil, errStopped
	}
	select {
	case items := <-req.resp:
		return items, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *World) handleInvariantsReq(req invariantsReq) {
	err := w.graph.CheckInvariants()
	if err != nil {
		w.logf("boxgraph invariant: %v", err)
		w.stats.Record(w.tick.Load(), func(b *StatsBucket) { b.InvariantFaults++ })
	}
	req.resp <- err
}

func (w *World) handleDrawListReq(req drawListReq) {
	req.resp <- w.DrawList()
}
