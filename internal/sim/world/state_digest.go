package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"boxcraft.dev/internal/sim/boxgraph"
)

// stateDigest hashes everything a replay must reproduce: the tick, every
// occupied slot (id, position, kind, links) and agent physics state.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	digestWriteU64(h, &tmp, uint64(w.graph.Len()))
	w.graph.Each(func(id boxgraph.BoxID, b boxgraph.Box) bool {
		digestWriteU64(h, &tmp, uint64(id))
		digestWriteI64(h, &tmp, int64(b.Pos.X))
		digestWriteI64(h, &tmp, int64(b.Pos.Y))
		digestWriteI64(h, &tmp, int64(b.Pos.Z))
		h.Write([]byte{byte(b.Kind)})
		for _, t := range b.Touching {
			binary.LittleEndian.PutUint16(tmp[:2], uint16(t))
			h.Write(tmp[:2])
		}
		return true
	})

	for _, id := range w.sortedAgentIDs() {
		a := w.agents[id]
		h.Write([]byte(id))
		h.Write([]byte{0})
		for _, v := range [...]float32{
			a.Body.Pos[0], a.Body.Pos[1], a.Body.Pos[2],
			a.Body.Vel[0], a.Body.Vel[1], a.Body.Vel[2],
			a.Yaw, a.Pitch, a.Forward, a.Strafe,
		} {
			digestWriteU64(h, &tmp, uint64(math.Float32bits(v)))
		}
		h.Write([]byte{byte(a.Body.GroundCooldown), byte(a.Body.JumpCooldown)})
	}

	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}
