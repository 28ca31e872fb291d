package collide

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func near(a, b, eps float32) bool { return math.Abs(float64(a-b)) <= float64(eps) }

func TestBoxSDF(t *testing.T) {
	cases := []struct {
		p    mgl32.Vec3
		want float32
	}{
		{mgl32.Vec3{0, 0, 0}, -0.5},
		{mgl32.Vec3{0.5, 0, 0}, 0},
		{mgl32.Vec3{0, 1.5, 0}, 1},
		{mgl32.Vec3{0, 0, -0.8}, 0.3},
		{mgl32.Vec3{1.5, 1.5, 0}, float32(math.Sqrt2)},
		{mgl32.Vec3{0.2, -0.4, 0.1}, -0.1},
	}
	for _, tc := range cases {
		if got := BoxSDF(tc.p); !near(got, tc.want, 1e-6) {
			t.Fatalf("BoxSDF(%v)=%v want %v", tc.p, got, tc.want)
		}
	}
}

func TestBoxNormal_FacesPointOutward(t *testing.T) {
	cases := []struct {
		p    mgl32.Vec3
		want mgl32.Vec3
	}{
		{mgl32.Vec3{0, 0.8, 0}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, -0.8, 0}, mgl32.Vec3{0, -1, 0}},
		{mgl32.Vec3{0.9, 0.1, 0}, mgl32.Vec3{1, 0, 0}},
		{mgl32.Vec3{0, 0, -0.7}, mgl32.Vec3{0, 0, -1}},
	}
	for _, tc := range cases {
		n := BoxNormal(tc.p)
		if !n.ApproxEqualThreshold(tc.want, 1e-3) {
			t.Fatalf("BoxNormal(%v)=%v want %v", tc.p, n, tc.want)
		}
		if !near(n.Len(), 1, 1e-4) {
			t.Fatalf("BoxNormal(%v) not unit: %v", tc.p, n.Len())
		}
	}
}

func TestBoxNormal_CornerIsDiagonal(t *testing.T) {
	n := BoxNormal(mgl32.Vec3{1, 1, 1})
	want := mgl32.Vec3{1, 1, 1}.Normalize()
	if !n.ApproxEqualThreshold(want, 1e-3) {
		t.Fatalf("corner normal=%v want %v", n, want)
	}
}
