package main

import (
	"errors"
	"fmt"

	persistlog "boxcraft.dev/internal/persistence/log"
	"boxcraft.dev/internal/sim/world"
)

type result struct {
	WorldID  string
	Seed     int64
	Runs     int
	Checked  uint64
	LastTick uint64
}

var errStop = errors.New("stop")

// replay re-seeds a world from meta.json and steps it through every logged
// tick, comparing digests. A tick-0 entry after later ticks marks a server
// restart and starts a fresh world.
func replay(worldDir string, verifyFrom, toTick uint64) (result, error) {
	meta, err := persistlog.ReadMeta(worldDir)
	if err != nil {
		return result{}, fmt.Errorf("read meta: %w", err)
	}
	res := result{WorldID: meta.WorldID, Seed: meta.Seed}

	var w *world.World
	fresh := func() error {
		w, err = world.New(world.ConfigFromTuning(meta.WorldID, meta.Seed, meta.Tuning), nil)
		if err != nil {
			return fmt.Errorf("world: %w", err)
		}
		res.Runs++
		return nil
	}
	if err := fresh(); err != nil {
		return res, err
	}

	err = persistlog.ReadTicks(worldDir, func(entry world.TickLogEntry) error {
		if entry.Tick == 0 && w.CurrentTick() != 0 {
			if err := fresh(); err != nil {
				return err
			}
		}
		if toTick != 0 && entry.Tick > toTick {
			return errStop
		}
		if entry.Tick != w.CurrentTick() {
			return fmt.Errorf("tick mismatch: want=%d got=%d", w.CurrentTick(), entry.Tick)
		}

		joins := make([]world.JoinRequest, 0, len(entry.Joins))
		for _, j := range entry.Joins {
			joins = append(joins, world.JoinRequest{Name: j.Name})
		}
		acts := make([]world.ActionEnvelope, 0, len(entry.Actions))
		for _, ra := range entry.Actions {
			acts = append(acts, world.ActionEnvelope{AgentID: ra.AgentID, Act: ra.Act})
		}

		tick, gotDigest := w.StepOnce(joins, entry.Leaves, acts)
		if tick != entry.Tick {
			return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d", tick, entry.Tick)
		}
		res.LastTick = tick
		if tick >= verifyFrom {
			res.Checked++
			if gotDigest != entry.Digest {
				return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, gotDigest, entry.Digest)
			}
		}
		return nil
	})
	if errors.Is(err, errStop) {
		err = nil
	}
	return res, err
}
