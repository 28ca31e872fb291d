package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	persistlog "boxcraft.dev/internal/persistence/log"
	"boxcraft.dev/internal/sim/world"
)

type auditFilter struct {
	SinceTick uint64
	ToTick    uint64 // 0 = no upper bound
	Actor     string
	Action    string
	HasAABB   bool
	Min, Max  [3]int
}

func (f auditFilter) match(e world.AuditEntry) bool {
	if e.Tick < f.SinceTick || (f.ToTick != 0 && e.Tick > f.ToTick) {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.HasAABB && !withinAABB(e.Pos, f.Min, f.Max) {
		return false
	}
	return true
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	aabb := fs.String("aabb", "", "AABB filter: x1,y1,z1:x2,y2,z2 (optional)")
	sinceTick := fs.Uint64("since_tick", 0, "first tick (inclusive)")
	toTick := fs.Uint64("to_tick", 0, "last tick (inclusive, optional)")
	actor := fs.String("actor", "", "agent id filter (optional)")
	action := fs.String("action", "", "PLACE, BREAK, RESPAWN or INVARIANT (optional)")
	_ = fs.Parse(args)

	f := auditFilter{
		SinceTick: *sinceTick,
		ToTick:    *toTick,
		Actor:     strings.TrimSpace(*actor),
		Action:    strings.ToUpper(strings.TrimSpace(*action)),
	}
	if strings.TrimSpace(*aabb) != "" {
		min, max, err := parseAABB(*aabb)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -aabb:", err)
			os.Exit(2)
		}
		f.HasAABB, f.Min, f.Max = true, min, max
	}

	recs, err := readAudit(worldDirFlag(*dataDir, *worldID), f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, e := range recs {
		_ = enc.Encode(e)
	}
	fmt.Fprintf(os.Stderr, "%d entries\n", len(recs))
}

// readAudit returns matching entries in log order.
func readAudit(worldDir string, f auditFilter) ([]world.AuditEntry, error) {
	out := make([]world.AuditEntry, 0, 256)
	err := persistlog.ReadAudits(worldDir, func(e world.AuditEntry) error {
		if f.match(e) {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func withinAABB(pos [3]int, min, max [3]int) bool {
	return pos[0] >= min[0] && pos[0] <= max[0] &&
		pos[1] >= min[1] && pos[1] <= max[1] &&
		pos[2] >= min[2] && pos[2] <= max[2]
}
