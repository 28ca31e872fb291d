// Package seed builds the initial world out of boxgraph inserts.
package seed

import (
	"errors"
	"fmt"

	"boxcraft.dev/internal/sim/boxgraph"
	"boxcraft.dev/internal/sim/lattice"
)

var groundFaces = [4]lattice.Face{lattice.Left, lattice.Right, lattice.Front, lattice.Back}

// Floor plants a box at origin and grows a square slab of side 2*radius+1 from it
// breadth first. It returns the placed ids in placement order; on failure the ids
// placed so far are returned with the error.
func Floor(g *boxgraph.Graph, origin lattice.Pos, radius int, kind boxgraph.Kind) ([]boxgraph.BoxID, error) {
	if radius < 0 {
		return nil, fmt.Errorf("seed: negative floor radius %d", radius)
	}
	root, err := g.Plant(origin, kind)
	if err != nil {
		return nil, fmt.Errorf("seed: floor root: %w", err)
	}
	placed := []boxgraph.BoxID{root}
	for i := 0; i < len(placed); i++ {
		from := placed[i]
		for _, f := range groundFaces {
			b, _ := g.Get(from)
			if b.Touching[f] != boxgraph.NullID {
				continue
			}
			next := b.Pos.Add(f.Offset())
			if abs(int(next.X)-int(origin.X)) > radius || abs(int(next.Z)-int(origin.Z)) > radius {
				continue
			}
			id, err := g.Insert(from, f, kind)
			if err != nil {
				if errors.Is(err, boxgraph.ErrRefused) {
					// lattice edge
					continue
				}
				return placed, fmt.Errorf("seed: floor at %v: %w", next, err)
			}
			placed = append(placed, id)
		}
	}
	return placed, nil
}

// Tree grows a two log trunk on top of anchor and caps it with five leaves.
// Leaves whose cell is already taken are skipped.
func Tree(g *boxgraph.Graph, anchor boxgraph.BoxID) ([]boxgraph.BoxID, error) {
	var placed []boxgraph.BoxID
	at := anchor
	for i := 0; i < 2; i++ {
		id, err := g.Insert(at, lattice.Above, boxgraph.Log)
		if err != nil {
			return placed, fmt.Errorf("seed: trunk on %d: %w", at, err)
		}
		placed = append(placed, id)
		at = id
	}
	for _, f := range [...]lattice.Face{lattice.Left, lattice.Right, lattice.Front, lattice.Back, lattice.Above} {
		id, err := g.Insert(at, f, boxgraph.Leaves)
		if err != nil {
			if errors.Is(err, boxgraph.ErrRefused) {
				continue
			}
			return placed, fmt.Errorf("seed: leaves on %d: %w", at, err)
		}
		placed = append(placed, id)
	}
	return placed, nil
}

// Forest grows a tree on each floor box whose column hash falls under permille.
// It returns the number of trees started.
func Forest(g *boxgraph.Graph, seed int64, floor []boxgraph.BoxID, permille int) (int, error) {
	permille = ClampPermille(permille)
	trees := 0
	for _, id := range floor {
		b, ok := g.Get(id)
		if !ok || b.Touching[lattice.Above] != boxgraph.NullID {
			continue
		}
		if Hash2(seed, int(b.Pos.X), int(b.Pos.Z))%1000 >= uint64(permille) {
			continue
		}
		if _, err := Tree(g, id); err != nil {
			if errors.Is(err, boxgraph.ErrRefused) {
				continue
			}
			return trees, err
		}
		trees++
	}
	return trees, nil
}

type Config struct {
	Seed         int64
	Origin       lattice.Pos
	FloorRadius  int
	TreePermille int
	// SpawnClear keeps trees off floor columns within this radius of Origin.
	SpawnClear int
}

type Report struct {
	Floor []boxgraph.BoxID
	Trees int
	Boxes int
	// Full is set when the pool ran out and seeding stopped early.
	Full bool
}

// World seeds an empty graph: a grass floor, then a forest on it. Running out
// of pool capacity stops building and sets Report.Full; it is not an error.
func World(g *boxgraph.Graph, cfg Config) (Report, error) {
	var rep Report
	floor, err := Floor(g, cfg.Origin, cfg.FloorRadius, boxgraph.Grass)
	rep.Floor = floor
	if err != nil {
		rep.Boxes = g.Len()
		if errors.Is(err, boxgraph.ErrCapacity) && len(floor) > 0 {
			rep.Full = true
			return rep, nil
		}
		return rep, err
	}

	sites := make([]boxgraph.BoxID, 0, len(floor))
	for _, id := range floor {
		b, _ := g.Get(id)
		if withinClear(int(b.Pos.X)-int(cfg.Origin.X), int(b.Pos.Z)-int(cfg.Origin.Z), cfg.SpawnClear) {
			continue
		}
		sites = append(sites, id)
	}
	rep.Trees, err = Forest(g, cfg.Seed, sites, cfg.TreePermille)
	rep.Boxes = g.Len()
	if errors.Is(err, boxgraph.ErrCapacity) {
		rep.Full = true
		return rep, nil
	}
	return rep, err
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
