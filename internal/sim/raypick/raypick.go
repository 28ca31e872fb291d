package raypick

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"boxcraft.dev/internal/sim/boxgraph"
	"boxcraft.dev/internal/sim/lattice"
)

// ErrNoFace means face resolution produced an offset outside the face table.
// It should be unreachable for a non-degenerate ray.
var ErrNoFace = errors.New("raypick: hit face not resolvable")

const halfExtent = 0.5

var unitHalf = mgl32.Vec3{halfExtent, halfExtent, halfExtent}

// Boxes is the read side of the box graph.
type Boxes interface {
	Each(fn func(id boxgraph.BoxID, b boxgraph.Box) bool)
}

type Hit struct {
	ID   boxgraph.BoxID
	Face lattice.Face
	Dist float32
}

// Nearest returns the occupied box with the smallest entry distance along the ray.
// Equal distances keep the lower id. NullID means nothing was hit.
func Nearest(g Boxes, origin, dir mgl32.Vec3) (boxgraph.BoxID, float32, mgl32.Vec3) {
	best := float32(math.Inf(1))
	var bestID boxgraph.BoxID
	var bestRel mgl32.Vec3
	g.Each(func(id boxgraph.BoxID, b boxgraph.Box) bool {
		rel := origin.Sub(b.Pos.Center())
		if d := RayDist(rel, dir, unitHalf); d < best {
			best = d
			bestID = id
			bestRel = rel
		}
		return true
	})
	return bestID, best, bestRel
}

// Pick finds the nearest box under the ray and the face the ray enters through.
func Pick(g Boxes, origin, dir mgl32.Vec3) (Hit, bool, error) {
	id, dist, rel := Nearest(g, origin, dir)
	if id == boxgraph.NullID {
		return Hit{}, false, nil
	}
	face, err := RayFace(rel, dir, unitHalf)
	if err != nil {
		return Hit{ID: id, Dist: dist}, true, fmt.Errorf("box %d: %w", id, err)
	}
	return Hit{ID: id, Face: face, Dist: dist}, true, nil
}

// slabs returns the per-axis entry and exit distances for a box of half extent
// rad centered at the origin, with ro relative to that center.
func slabs(ro, rd, rad mgl32.Vec3) (t1, t2 mgl32.Vec3, miss bool) {
	for i := 0; i < 3; i++ {
		if rd[i] == 0 {
			// Parallel to this slab: no constraint inside it, no hit outside it.
			if ro[i] < -rad[i] || ro[i] > rad[i] {
				return t1, t2, true
			}
			t1[i] = float32(math.Inf(-1))
			t2[i] = float32(math.Inf(1))
			continue
		}
		m := 1 / rd[i]
		n := m * ro[i]
		k := abs32(m) * rad[i]
		t1[i] = -n - k
		t2[i] = -n + k
	}
	return t1, t2, false
}

// RayDist is the slab-test entry distance, or +Inf on a miss.
// A ray starting inside the box reports a negative distance.
func RayDist(ro, rd, rad mgl32.Vec3) float32 {
	t1, t2, miss := slabs(ro, rd, rad)
	if miss {
		return float32(math.Inf(1))
	}
	near := max32(max32(t1[0], t1[1]), t1[2])
	far := min32(min32(t2[0], t2[1]), t2[2])
	if near > far || far < 0 {
		return float32(math.Inf(1))
	}
	return near
}

// RayFace resolves which face the ray entered through. The axis whose entry plane
// is furthest wins, with ties going to x, then y, then z.
func RayFace(ro, rd, rad mgl32.Vec3) (lattice.Face, error) {
	t1, _, _ := slabs(ro, rd, rad)

	var off lattice.Pos
	switch {
	case t1[0] >= t1[1] && t1[0] >= t1[2]:
		off.X = faceSign(rd[0])
	case t1[1] >= t1[2]:
		off.Y = faceSign(rd[1])
	default:
		off.Z = faceSign(rd[2])
	}
	if f, ok := lattice.FaceForOffset(off); ok {
		return f, nil
	}
	return 0, fmt.Errorf("%w: offset %v for dir %v", ErrNoFace, off, rd)
}

// faceSign points against the ray: a ray travelling +x enters through the -x face.
func faceSign(d float32) int16 {
	switch {
	case d > 0:
		return -1
	case d < 0:
		return 1
	default:
		return 0
	}
}

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
