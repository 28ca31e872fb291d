package boxgraph

import (
	"errors"
	"math"
	"math/rand"
	"slices"
	"testing"

	"boxcraft.dev/internal/sim/lattice"
)

func snapshotOf(g *Graph) []Box {
	return slices.Clone(g.boxes)
}

func mustInvariants(t *testing.T, g *Graph) {
	t.Helper()
	if err := g.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func newRooted(t *testing.T, capacity int) (*Graph, BoxID) {
	t.Helper()
	g := New(capacity)
	root, err := g.Plant(lattice.Pos{}, Dirt)
	if err != nil {
		t.Fatalf("plant root: %v", err)
	}
	if root != 1 {
		t.Fatalf("root id=%d want 1", root)
	}
	return g, root
}

func TestInsert_LinksAnchorBothWays(t *testing.T) {
	g, root := newRooted(t, 16)
	id, err := g.Insert(root, lattice.Above, Log)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	b, ok := g.Get(id)
	if !ok {
		t.Fatalf("inserted box %d not occupied", id)
	}
	if b.Pos != (lattice.Pos{Y: 1}) {
		t.Fatalf("pos=%v want (0,1,0)", b.Pos)
	}
	if b.Touching[lattice.Below] != root {
		t.Fatalf("back link=%d want %d", b.Touching[lattice.Below], root)
	}
	r, _ := g.Get(root)
	if r.Touching[lattice.Above] != id {
		t.Fatalf("forward link=%d want %d", r.Touching[lattice.Above], id)
	}
	if g.Len() != 2 {
		t.Fatalf("len=%d want 2", g.Len())
	}
	mustInvariants(t, g)
}

func TestInsert_RepairClosesLoop(t *testing.T) {
	g, root := newRooted(t, 16)
	// Walk around a 2x2 square: (0,0,0) -> (1,0,0) -> (1,0,1) -> (0,0,1).
	a, err := g.Insert(root, lattice.Left, Dirt)
	if err != nil {
		t.Fatalf("insert a: %v", err)
	}
	b, err := g.Insert(a, lattice.Front, Dirt)
	if err != nil {
		t.Fatalf("insert b: %v", err)
	}
	c, err := g.Insert(b, lattice.Right, Dirt)
	if err != nil {
		t.Fatalf("insert c: %v", err)
	}
	cb, _ := g.Get(c)
	if cb.Pos != (lattice.Pos{Z: 1}) {
		t.Fatalf("c pos=%v", cb.Pos)
	}
	if cb.Touching[lattice.Back] != root {
		t.Fatalf("c should be linked to root through repair, got %d", cb.Touching[lattice.Back])
	}
	rb, _ := g.Get(root)
	if rb.Touching[lattice.Front] != c {
		t.Fatalf("root front link=%d want %d", rb.Touching[lattice.Front], c)
	}
	mustInvariants(t, g)

	// The cell is now reachable from root's front face, which is taken.
	if _, err := g.Insert(root, lattice.Front, Dirt); !errors.Is(err, ErrFaceLinked) {
		t.Fatalf("expected ErrFaceLinked, got %v", err)
	}
}

func TestInsert_Refusals(t *testing.T) {
	g, root := newRooted(t, 16)
	up, err := g.Insert(root, lattice.Above, Dirt)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	before := snapshotOf(g)

	cases := []struct {
		name   string
		anchor BoxID
		face   lattice.Face
		kind   Kind
		want   error
	}{
		{"unoccupied kind", root, lattice.Left, Unoccupied, ErrRefused},
		{"empty anchor", 9, lattice.Left, Dirt, ErrNotOccupied},
		{"null anchor", NullID, lattice.Left, Dirt, ErrNotOccupied},
		{"out of range anchor", 500, lattice.Left, Dirt, ErrNotOccupied},
		{"linked face", root, lattice.Above, Dirt, ErrFaceLinked},
		{"linked back face", up, lattice.Below, Dirt, ErrFaceLinked},
		{"bad face", root, lattice.Face(6), Dirt, ErrRefused},
	}
	for _, tc := range cases {
		id, err := g.Insert(tc.anchor, tc.face, tc.kind)
		if id != NullID {
			t.Fatalf("%s: id=%d want null", tc.name, id)
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want %v", tc.name, err, tc.want)
		}
		if !errors.Is(err, ErrRefused) {
			t.Fatalf("%s: refusal should wrap ErrRefused: %v", tc.name, err)
		}
		if !slices.Equal(before, snapshotOf(g)) {
			t.Fatalf("%s: graph changed on refusal", tc.name)
		}
	}
}

func TestInsert_RefusesLatticeEdge(t *testing.T) {
	g := New(8)
	root, err := g.Plant(lattice.Pos{X: math.MaxInt16}, Stone)
	if err != nil {
		t.Fatalf("plant: %v", err)
	}
	if _, err := g.Insert(root, lattice.Left, Stone); !errors.Is(err, ErrRefused) {
		t.Fatalf("expected refusal at lattice edge, got %v", err)
	}
	if _, err := g.Insert(root, lattice.Right, Stone); err != nil {
		t.Fatalf("insert away from edge: %v", err)
	}
	mustInvariants(t, g)
}

func TestInsertRemove_IsInverse(t *testing.T) {
	g, root := newRooted(t, 32)
	a, _ := g.Insert(root, lattice.Left, Dirt)
	b, _ := g.Insert(a, lattice.Front, Dirt)
	if _, err := g.Insert(b, lattice.Right, Dirt); err != nil {
		t.Fatalf("insert: %v", err)
	}
	before := snapshotOf(g)

	id, err := g.Insert(root, lattice.Above, Grass)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	mustInvariants(t, g)
	if err := g.Remove(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	mustInvariants(t, g)
	if !slices.Equal(before, snapshotOf(g)) {
		t.Fatalf("insert+remove did not restore the graph")
	}
}

func TestRemove_ClearsBackLinks(t *testing.T) {
	g, root := newRooted(t, 16)
	a, _ := g.Insert(root, lattice.Left, Dirt)
	b, _ := g.Insert(a, lattice.Left, Dirt)
	if err := g.Remove(a); err != nil {
		t.Fatalf("remove: %v", err)
	}
	rb, _ := g.Get(root)
	bb, _ := g.Get(b)
	if rb.Touching[lattice.Left] != NullID || bb.Touching[lattice.Right] != NullID {
		t.Fatalf("back links not cleared: root=%v b=%v", rb.Touching, bb.Touching)
	}
	if g.Occupied(a) {
		t.Fatalf("removed slot still occupied")
	}
	mustInvariants(t, g)

	// The freed slot is the first free one and is reused.
	again, err := g.Insert(root, lattice.Left, Stone)
	if err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	if again != a {
		t.Fatalf("reinsert id=%d want %d", again, a)
	}
	ab, _ := g.Get(again)
	if ab.Touching[lattice.Left] != b {
		t.Fatalf("reinserted box should relink to %d, got %d", b, ab.Touching[lattice.Left])
	}
	mustInvariants(t, g)
}

func TestRemove_Guarded(t *testing.T) {
	g, _ := newRooted(t, 8)
	before := snapshotOf(g)
	if err := g.Remove(NullID); !errors.Is(err, ErrBadID) {
		t.Fatalf("remove null: %v", err)
	}
	if err := g.Remove(8); !errors.Is(err, ErrBadID) {
		t.Fatalf("remove out of range: %v", err)
	}
	if err := g.Remove(3); !errors.Is(err, ErrNotOccupied) {
		t.Fatalf("remove empty: %v", err)
	}
	if !slices.Equal(before, snapshotOf(g)) {
		t.Fatalf("guarded remove changed the graph")
	}
}

func TestInsert_CapacityExhaustion(t *testing.T) {
	g, root := newRooted(t, 4)
	if g.Cap() != 3 {
		t.Fatalf("cap=%d want 3", g.Cap())
	}
	if _, err := g.Insert(root, lattice.Left, Dirt); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := g.Insert(root, lattice.Right, Dirt); err != nil {
		t.Fatalf("insert: %v", err)
	}
	before := snapshotOf(g)
	for i := 0; i < 3; i++ {
		id, err := g.Insert(root, lattice.Above, Dirt)
		if id != NullID || !errors.Is(err, ErrCapacity) {
			t.Fatalf("full pool insert: id=%d err=%v", id, err)
		}
		if !slices.Equal(before, snapshotOf(g)) {
			t.Fatalf("failed insert changed the graph")
		}
	}
	if _, err := g.Plant(lattice.Pos{X: 9}, Dirt); !errors.Is(err, ErrCapacity) {
		t.Fatalf("full pool plant: %v", err)
	}
	mustInvariants(t, g)
}

func TestInsert_AbortsOnBrokenSymmetry(t *testing.T) {
	g, root := newRooted(t, 16)
	a, _ := g.Insert(root, lattice.Left, Dirt)
	b, _ := g.Insert(a, lattice.Front, Dirt)

	// Corrupt b: claim a neighbour in the cell (0,0,1) that was never linked to root.
	g.boxes[b].Touching[lattice.Right] = a
	before := snapshotOf(g)

	id, err := g.Insert(root, lattice.Front, Dirt)
	if id != NullID || !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got id=%d err=%v", id, err)
	}
	if !slices.Equal(before, snapshotOf(g)) {
		t.Fatalf("aborted insert committed partial links")
	}
	if err := g.CheckInvariants(); !errors.Is(err, ErrInvariant) {
		t.Fatalf("CheckInvariants should report the corruption, got %v", err)
	}
}

func TestPlant_RefusesTakenCell(t *testing.T) {
	g, root := newRooted(t, 8)
	if _, err := g.Plant(lattice.Pos{}, Stone); !errors.Is(err, ErrCellTaken) {
		t.Fatalf("plant on root: %v", err)
	}
	// A planted neighbour links to root immediately.
	id, err := g.Plant(lattice.Pos{Y: -1}, Stone)
	if err != nil {
		t.Fatalf("plant: %v", err)
	}
	rb, _ := g.Get(root)
	if rb.Touching[lattice.Below] != id {
		t.Fatalf("root below=%d want %d", rb.Touching[lattice.Below], id)
	}
	mustInvariants(t, g)
}

func TestEach_AscendingAndStoppable(t *testing.T) {
	g, root := newRooted(t, 16)
	a, _ := g.Insert(root, lattice.Left, Dirt)
	_, _ = g.Insert(a, lattice.Left, Dirt)
	_ = g.Remove(a)

	var ids []BoxID
	g.Each(func(id BoxID, b Box) bool {
		ids = append(ids, id)
		return true
	})
	if !slices.Equal(ids, []BoxID{1, 3}) {
		t.Fatalf("ids=%v want [1 3]", ids)
	}

	n := 0
	g.Each(func(BoxID, Box) bool {
		n++
		return false
	})
	if n != 1 {
		t.Fatalf("Each did not stop: %d visits", n)
	}
}

func TestRandomWalk_KeepsInvariants(t *testing.T) {
	g, root := newRooted(t, 128)
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		var live []BoxID
		g.Each(func(id BoxID, _ Box) bool {
			live = append(live, id)
			return true
		})
		if len(live) > 1 && r.Intn(3) == 0 {
			victim := live[r.Intn(len(live))]
			if victim == root {
				continue
			}
			if err := g.Remove(victim); err != nil {
				t.Fatalf("step %d remove %d: %v", i, victim, err)
			}
		} else {
			anchor := live[r.Intn(len(live))]
			face := lattice.Faces[r.Intn(lattice.FaceCount)]
			_, err := g.Insert(anchor, face, Kind(1+r.Intn(int(kindCount)-1)))
			if err != nil && !errors.Is(err, ErrRefused) && !errors.Is(err, ErrCapacity) {
				t.Fatalf("step %d insert: %v", i, err)
			}
		}
		mustInvariants(t, g)
	}
}
