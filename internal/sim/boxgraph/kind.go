package boxgraph

import (
	"fmt"
	"strings"
)

// Kind is a box's occupancy. Anything but Unoccupied is a material.
type Kind uint8

const (
	Unoccupied Kind = iota
	Dirt
	Grass
	Stone
	Log
	Leaves

	kindCount
)

var kindNames = [kindCount]string{
	Unoccupied: "UNOCCUPIED",
	Dirt:       "DIRT",
	Grass:      "GRASS",
	Stone:      "STONE",
	Log:        "LOG",
	Leaves:     "LEAVES",
}

func (k Kind) String() string {
	if k >= kindCount {
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
	return kindNames[k]
}

// Palette is the kind name list indexed by Kind, as sent to observers.
func Palette() []string {
	out := make([]string, len(kindNames))
	copy(out, kindNames[:])
	return out
}

func ParseKind(s string) (Kind, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return Unoccupied, fmt.Errorf("unknown kind %q", s)
}
