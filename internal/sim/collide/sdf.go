package collide

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// NormalEpsilon is the stencil step used by BoxNormal.
const NormalEpsilon = 2e-4

// BoxSDF is the signed distance from p, relative to a box center, to a cube of
// half extent 0.5. Negative inside, zero on the surface.
func BoxSDF(p mgl32.Vec3) float32 {
	dx := abs32(p[0]) - 0.5
	dy := abs32(p[1]) - 0.5
	dz := abs32(p[2]) - 0.5
	outside := mgl32.Vec3{max32(dx, 0), max32(dy, 0), max32(dz, 0)}.Len()
	inside := min32(max32(dx, max32(dy, dz)), 0)
	return outside + inside
}

// BoxNormal approximates the SDF gradient with a tetrahedral stencil.
// It picks a push-out direction and is not exact at edges or corners.
func BoxNormal(p mgl32.Vec3) mgl32.Vec3 {
	return boxNormalStep(p, NormalEpsilon)
}

var tetra = [4]mgl32.Vec3{
	{1, -1, -1},
	{-1, -1, 1},
	{-1, 1, -1},
	{1, 1, 1},
}

func boxNormalStep(p mgl32.Vec3, eps float32) mgl32.Vec3 {
	var n mgl32.Vec3
	for _, k := range tetra {
		n = n.Add(k.Mul(BoxSDF(p.Add(k.Mul(eps)))))
	}
	l := n.Len()
	if l == 0 || math.IsNaN(float64(l)) {
		return mgl32.Vec3{}
	}
	return n.Mul(1 / l)
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
