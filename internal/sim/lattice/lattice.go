package lattice

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

// Pos is an integer lattice cell. The cube it names spans [Pos, Pos+1) on every axis.
type Pos struct {
	X, Y, Z int16
}

func (p Pos) Add(o Pos) Pos {
	return Pos{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

// Center is the world-space center of the cell.
func (p Pos) Center() mgl32.Vec3 {
	return mgl32.Vec3{float32(p.X) + 0.5, float32(p.Y) + 0.5, float32(p.Z) + 0.5}
}

func (p Pos) Array() [3]int {
	return [3]int{int(p.X), int(p.Y), int(p.Z)}
}

func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z)
}

// Floor returns the cell containing v.
func Floor(v mgl32.Vec3) Pos {
	return Pos{X: floor16(v[0]), Y: floor16(v[1]), Z: floor16(v[2])}
}

func floor16(f float32) int16 {
	i := int16(f)
	if float32(i) > f {
		i--
	}
	return i
}

type Face uint8

const (
	Left Face = iota
	Right
	Above
	Below
	Front
	Back

	FaceCount = 6
)

var faceOpposite = [FaceCount]Face{
	Left:  Right,
	Right: Left,
	Above: Below,
	Below: Above,
	Front: Back,
	Back:  Front,
}

// Left points toward +x; the table is shared with the draw-list consumers and must not change.
var faceOffset = [FaceCount]Pos{
	Left:  {X: 1},
	Right: {X: -1},
	Above: {Y: 1},
	Below: {Y: -1},
	Front: {Z: 1},
	Back:  {Z: -1},
}

var faceNames = [FaceCount]string{
	Left:  "LEFT",
	Right: "RIGHT",
	Above: "ABOVE",
	Below: "BELOW",
	Front: "FRONT",
	Back:  "BACK",
}

// Faces lists every face in table order.
var Faces = [FaceCount]Face{Left, Right, Above, Below, Front, Back}

func (f Face) Valid() bool { return f < FaceCount }

func (f Face) Opposite() Face {
	return faceOpposite[f]
}

func (f Face) Offset() Pos {
	return faceOffset[f]
}

func (f Face) String() string {
	if !f.Valid() {
		return fmt.Sprintf("FACE(%d)", uint8(f))
	}
	return faceNames[f]
}

func ParseFace(s string) (Face, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for f, name := range faceNames {
		if name == s {
			return Face(f), nil
		}
	}
	return 0, fmt.Errorf("unknown face %q", s)
}

// FaceForOffset maps a unit offset back to its face.
func FaceForOffset(off Pos) (Face, bool) {
	for _, f := range Faces {
		if faceOffset[f] == off {
			return f, true
		}
	}
	return 0, false
}
