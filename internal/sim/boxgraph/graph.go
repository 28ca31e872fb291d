package boxgraph

import (
	"errors"
	"fmt"
	"math"

	"boxcraft.dev/internal/sim/lattice"
)

type BoxID uint16

// NullID is never assigned to a live box.
const NullID BoxID = 0

const (
	DefaultCapacity = 2 << 10
	MaxCapacity     = math.MaxUint16 + 1
)

var (
	ErrRefused   = errors.New("boxgraph: refused")
	ErrCapacity  = errors.New("boxgraph: pool exhausted")
	ErrInvariant = errors.New("boxgraph: invariant violated")
	ErrBadID     = errors.New("boxgraph: id out of range")

	ErrFaceLinked  = fmt.Errorf("%w: face already linked", ErrRefused)
	ErrNotOccupied = fmt.Errorf("%w: box not occupied", ErrRefused)
	ErrCellTaken   = fmt.Errorf("%w: cell already occupied", ErrRefused)
)

// Box is one pool slot. Touching holds the id of the occupied neighbour on each face.
type Box struct {
	Touching [lattice.FaceCount]BoxID
	Pos      lattice.Pos
	Kind     Kind
}

func (b Box) Occupied() bool { return b.Kind != Unoccupied }

// Graph is a fixed-capacity arena of boxes addressed by BoxID.
// It is not safe for concurrent use; the world loop is its only mutator.
type Graph struct {
	boxes []Box
	live  int
}

// New allocates a pool of capacity slots (slot 0 included), so capacity-1 boxes fit.
func New(capacity int) *Graph {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	if capacity > MaxCapacity {
		capacity = MaxCapacity
	}
	return &Graph{boxes: make([]Box, capacity)}
}

// Cap is the number of assignable ids.
func (g *Graph) Cap() int { return len(g.boxes) - 1 }

// Len is the number of occupied boxes.
func (g *Graph) Len() int { return g.live }

func (g *Graph) inRange(id BoxID) bool {
	return id != NullID && int(id) < len(g.boxes)
}

func (g *Graph) Occupied(id BoxID) bool {
	return g.inRange(id) && g.boxes[id].Occupied()
}

func (g *Graph) Get(id BoxID) (Box, bool) {
	if !g.Occupied(id) {
		return Box{}, false
	}
	return g.boxes[id], true
}

// Each visits occupied boxes in ascending id order until fn returns false.
func (g *Graph) Each(fn func(id BoxID, b Box) bool) {
	for i := 1; i < len(g.boxes); i++ {
		if !g.boxes[i].Occupied() {
			continue
		}
		if !fn(BoxID(i), g.boxes[i]) {
			return
		}
	}
}

// Find returns the occupied box at p.
func (g *Graph) Find(p lattice.Pos) (BoxID, bool) {
	for i := 1; i < len(g.boxes); i++ {
		if g.boxes[i].Occupied() && g.boxes[i].Pos == p {
			return BoxID(i), true
		}
	}
	return NullID, false
}

func (g *Graph) firstFree() BoxID {
	for i := 1; i < len(g.boxes); i++ {
		if !g.boxes[i].Occupied() {
			return BoxID(i)
		}
	}
	return NullID
}

// Insert places a box of kind on face of anchor and links it to every occupied
// lattice neighbour. On error the pool is left unchanged.
//
// The neighbour search is a linear scan of the pool, so Insert is O(capacity).
func (g *Graph) Insert(anchor BoxID, face lattice.Face, kind Kind) (BoxID, error) {
	if kind == Unoccupied {
		return NullID, fmt.Errorf("%w: unoccupied kind", ErrRefused)
	}
	if !face.Valid() {
		return NullID, fmt.Errorf("%w: bad face %d", ErrRefused, uint8(face))
	}
	if !g.Occupied(anchor) {
		return NullID, fmt.Errorf("anchor %d: %w", anchor, ErrNotOccupied)
	}
	onto := g.boxes[anchor]
	if onto.Touching[face] != NullID {
		return NullID, fmt.Errorf("anchor %d %s: %w", anchor, face, ErrFaceLinked)
	}
	pos, ok := step(onto.Pos, face)
	if !ok {
		return NullID, fmt.Errorf("%w: %v %s leaves the lattice", ErrRefused, onto.Pos, face)
	}

	id := g.firstFree()
	if id == NullID {
		return NullID, ErrCapacity
	}

	nb := Box{Kind: kind, Pos: pos}
	nb.Touching[face.Opposite()] = anchor
	if err := g.link(id, &nb); err != nil {
		return NullID, err
	}
	return id, nil
}

// Plant places a box at p without an anchor. Seeding uses it for root boxes.
func (g *Graph) Plant(p lattice.Pos, kind Kind) (BoxID, error) {
	if kind == Unoccupied {
		return NullID, fmt.Errorf("%w: unoccupied kind", ErrRefused)
	}
	if other, ok := g.Find(p); ok {
		return NullID, fmt.Errorf("%v held by %d: %w", p, other, ErrCellTaken)
	}
	id := g.firstFree()
	if id == NullID {
		return NullID, ErrCapacity
	}
	nb := Box{Kind: kind, Pos: p}
	if err := g.link(id, &nb); err != nil {
		return NullID, err
	}
	return id, nil
}

type backLink struct {
	id   BoxID
	face lattice.Face
}

// link runs the adjacency repair for nb and commits it into slot id.
// Back-links are staged so an invariant failure writes nothing.
func (g *Graph) link(id BoxID, nb *Box) error {
	var staged [lattice.FaceCount]backLink
	n := 0
	for i := 1; i < len(g.boxes); i++ {
		other := &g.boxes[i]
		if !other.Occupied() {
			continue
		}
		if other.Pos == nb.Pos {
			return fmt.Errorf("%w: box %d already at %v", ErrInvariant, i, nb.Pos)
		}
		for _, f := range lattice.Faces {
			want, ok := step(nb.Pos, f)
			if !ok || other.Pos != want {
				continue
			}
			back := f.Opposite()
			if other.Touching[back] != NullID {
				// The neighbour already claims something in this cell, so the
				// graph lost symmetry before this insert.
				return fmt.Errorf("%w: box %d %s already links %d at %v",
					ErrInvariant, i, back, other.Touching[back], nb.Pos)
			}
			if cur := nb.Touching[f]; cur != NullID && cur != BoxID(i) {
				return fmt.Errorf("%w: %s of %v claimed by %d and %d", ErrInvariant, f, nb.Pos, cur, i)
			}
			nb.Touching[f] = BoxID(i)
			staged[n] = backLink{id: BoxID(i), face: back}
			n++
		}
	}
	for _, f := range lattice.Faces {
		if c := nb.Touching[f]; c != NullID && !linkedIn(staged[:n], c) {
			return fmt.Errorf("%w: %s of %v links %d which is not adjacent", ErrInvariant, f, nb.Pos, c)
		}
	}

	for _, l := range staged[:n] {
		g.boxes[l.id].Touching[l.face] = id
	}
	g.boxes[id] = *nb
	g.live++
	return nil
}

func linkedIn(staged []backLink, id BoxID) bool {
	for _, l := range staged {
		if l.id == id {
			return true
		}
	}
	return false
}

// Remove clears every neighbour's back-link to id and zeroes the slot.
// Removing a slot that is not occupied is refused and changes nothing.
func (g *Graph) Remove(id BoxID) error {
	if !g.inRange(id) {
		return fmt.Errorf("remove %d: %w", id, ErrBadID)
	}
	bye := &g.boxes[id]
	if !bye.Occupied() {
		return fmt.Errorf("remove %d: %w", id, ErrNotOccupied)
	}
	for _, f := range lattice.Faces {
		c := bye.Touching[f]
		if c == NullID || !g.inRange(c) {
			continue
		}
		if back := &g.boxes[c].Touching[f.Opposite()]; *back == id {
			*back = NullID
		}
	}
	*bye = Box{}
	g.live--
	return nil
}

// ForceLink overwrites one link of id with no repair and no checks. It can
// break every invariant; it exists to drive the fault paths of callers.
func (g *Graph) ForceLink(id BoxID, f lattice.Face, to BoxID) {
	if g.inRange(id) && f.Valid() {
		g.boxes[id].Touching[f] = to
	}
}

// CheckInvariants reports the first broken graph invariant, if any.
func (g *Graph) CheckInvariants() error {
	if g.boxes[0] != (Box{}) {
		return fmt.Errorf("%w: null slot is not empty", ErrInvariant)
	}
	seen := make(map[lattice.Pos]BoxID, g.live)
	live := 0
	for i := 1; i < len(g.boxes); i++ {
		id := BoxID(i)
		b := g.boxes[i]
		if !b.Occupied() {
			if b != (Box{}) {
				return fmt.Errorf("%w: empty slot %d holds data", ErrInvariant, id)
			}
			continue
		}
		live++
		if other, dup := seen[b.Pos]; dup {
			return fmt.Errorf("%w: boxes %d and %d share %v", ErrInvariant, other, id, b.Pos)
		}
		seen[b.Pos] = id
		for _, f := range lattice.Faces {
			c := b.Touching[f]
			if c == NullID {
				continue
			}
			if !g.Occupied(c) {
				return fmt.Errorf("%w: box %d %s links empty slot %d", ErrInvariant, id, f, c)
			}
			nb := g.boxes[c]
			if nb.Touching[f.Opposite()] != id {
				return fmt.Errorf("%w: box %d %s -> %d but %d %s -> %d",
					ErrInvariant, id, f, c, c, f.Opposite(), nb.Touching[f.Opposite()])
			}
			if want, ok := step(b.Pos, f); !ok || nb.Pos != want {
				return fmt.Errorf("%w: box %d %s -> %d at %v, not adjacent to %v",
					ErrInvariant, id, f, c, nb.Pos, b.Pos)
			}
		}
	}
	if live != g.live {
		return fmt.Errorf("%w: live count %d but %d occupied", ErrInvariant, g.live, live)
	}
	return nil
}

// step moves p one cell across f, reporting false when int16 would wrap.
func step(p lattice.Pos, f lattice.Face) (lattice.Pos, bool) {
	off := f.Offset()
	x := int32(p.X) + int32(off.X)
	y := int32(p.Y) + int32(off.Y)
	z := int32(p.Z) + int32(off.Z)
	if x < math.MinInt16 || x > math.MaxInt16 ||
		y < math.MinInt16 || y > math.MaxInt16 ||
		z < math.MinInt16 || z > math.MaxInt16 {
		return lattice.Pos{}, false
	}
	return lattice.Pos{X: int16(x), Y: int16(y), Z: int16(z)}, true
}
