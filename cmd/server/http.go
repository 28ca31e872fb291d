package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"boxcraft.dev/internal/persistence/indexdb"
	"boxcraft.dev/internal/persistence/mirror"
	"boxcraft.dev/internal/protocol"
	"boxcraft.dev/internal/sim/lattice"
	"boxcraft.dev/internal/sim/world"
	"boxcraft.dev/internal/transport/observer"
	"boxcraft.dev/internal/transport/ws"
)

type muxConfig struct {
	World     *world.World
	Index     runtimeIndex
	Mirror    *mirror.Mirror
	Validator *protocol.Validator
	Logger    *log.Logger

	EnableAdmin bool
	EnablePprof bool
}

func newMux(cfg muxConfig) *http.ServeMux {
	w := cfg.World
	worldID := w.ID()
	logger := cfg.Logger

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeWorldMetrics(rw, worldID, w)
		writeIndexMetrics(rw, worldID, cfg.Index)
		writeMirrorMetrics(rw, worldID, cfg.Mirror)
	})

	if cfg.EnableAdmin {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			writeJSON(rw, http.StatusOK, struct {
				WorldID string             `json:"world_id"`
				Tick    uint64             `json:"tick"`
				Config  world.WorldConfig  `json:"config"`
				Metrics world.WorldMetrics `json:"metrics"`
			}{
				WorldID: worldID,
				Tick:    w.CurrentTick(),
				Config:  w.Config(),
				Metrics: w.Metrics(),
			})
		}))
		mux.HandleFunc("/admin/v1/stats", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			m := w.Metrics()
			writeJSON(rw, http.StatusOK, map[string]any{
				"world_id":     worldID,
				"tick":         m.Tick,
				"window_ticks": m.StatsWindowTicks,
				"window":       m.StatsWindow,
				"total":        m.StatsTotal,
			})
		}))
		mux.HandleFunc("/admin/v1/invariants", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := w.RequestInvariantCheck(ctx); err != nil {
				writeJSON(rw, http.StatusConflict, map[string]any{"ok": false, "tick": w.CurrentTick(), "error": err.Error()})
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": w.CurrentTick()})
		}))
		mux.HandleFunc("/admin/v1/boxes", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			cell, filter, err := parseCellQuery(r)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusBadRequest)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			items, err := w.RequestDrawList(ctx)
			if err != nil {
				writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
				return
			}
			type box struct {
				ID   uint16 `json:"id"`
				Pos  [3]int `json:"pos"`
				Kind string `json:"kind"`
			}
			out := make([]box, 0, len(items))
			for _, it := range items {
				if filter && it.Pos != cell {
					continue
				}
				out = append(out, box{ID: uint16(it.ID), Pos: it.Pos.Array(), Kind: it.Kind.String()})
			}
			writeJSON(rw, http.StatusOK, map[string]any{"tick": w.CurrentTick(), "boxes": out})
		}))
		mux.HandleFunc("/admin/v1/audits", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			sq, ok := cfg.Index.(*indexdb.SQLiteIndex)
			if !ok || sq == nil {
				http.Error(rw, "audit queries need the sqlite index backend", http.StatusNotFound)
				return
			}
			q, err := parseAuditQuery(r)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusBadRequest)
				return
			}
			audits, err := sq.RecentAudits(r.Context(), q)
			if err != nil {
				writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"audits": audits})
		}))

		obsSrv := observer.NewServer(w, logger)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else if logger != nil {
		logger.Printf("admin endpoints disabled (BOXCRAFT_ENABLE_ADMIN_HTTP=false)")
	}
	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, cfg.Validator, logger).Handler())
	return mux
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

// parseAuditQuery reads ?actor=A1&pos=x,y,z&limit=50.
func parseAuditQuery(r *http.Request) (indexdb.AuditQuery, error) {
	var q indexdb.AuditQuery
	v := r.URL.Query()
	q.Actor = strings.TrimSpace(v.Get("actor"))
	if s := strings.TrimSpace(v.Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, fmt.Errorf("bad limit: %q", s)
		}
		q.Limit = n
	}
	if s := strings.TrimSpace(v.Get("pos")); s != "" {
		p, err := parseTriple(s)
		if err != nil {
			return q, err
		}
		q.Pos = &p
	}
	return q, nil
}

// parseCellQuery reads ?at=x,y,z&face=LEFT. With a face the cell is the
// neighbour of at on that face. ok is false when no at is given.
func parseCellQuery(r *http.Request) (cell lattice.Pos, ok bool, err error) {
	v := r.URL.Query()
	s := strings.TrimSpace(v.Get("at"))
	if s == "" {
		if v.Get("face") != "" {
			return cell, false, fmt.Errorf("face needs at")
		}
		return cell, false, nil
	}
	p, err := parseTriple(s)
	if err != nil {
		return cell, false, err
	}
	cell = lattice.Pos{X: int16(p[0]), Y: int16(p[1]), Z: int16(p[2])}
	if fs := v.Get("face"); fs != "" {
		f, err := lattice.ParseFace(fs)
		if err != nil {
			return cell, false, err
		}
		cell = cell.Add(f.Offset())
	}
	return cell, true, nil
}

func parseTriple(s string) ([3]int, error) {
	var p [3]int
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return p, fmt.Errorf("bad pos: %q", s)
	}
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < math.MinInt16 || n > math.MaxInt16 {
			return p, fmt.Errorf("bad pos: %q", s)
		}
		p[i] = n
	}
	return p, nil
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeWorldMetrics(rw http.ResponseWriter, worldID string, w *world.World) {
	m := w.Metrics()
	tick := w.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP boxcraft_world_tick Current world tick.\n")
	fmt.Fprintf(rw, "# TYPE boxcraft_world_tick gauge\n")
	fmt.Fprintf(rw, "boxcraft_world_tick{world=%q} %d\n", worldID, tick)

	fmt.Fprintf(rw, "# HELP boxcraft_world_agents Current number of agents in the world.\n")
	fmt.Fprintf(rw, "# TYPE boxcraft_world_agents gauge\n")
	fmt.Fprintf(rw, "boxcraft_world_agents{world=%q} %d\n", worldID, m.Agents)

	fmt.Fprintf(rw, "# HELP boxcraft_world_clients Current number of connected clients.\n")
	fmt.Fprintf(rw, "# TYPE boxcraft_world_clients gauge\n")
	fmt.Fprintf(rw, "boxcraft_world_clients{world=%q} %d\n", worldID, m.Clients)

	fmt.Fprintf(rw, "# HELP boxcraft_world_observers Current number of observer sessions.\n")
	fmt.Fprintf(rw, "# TYPE boxcraft_world_observers gauge\n")
	fmt.Fprintf(rw, "boxcraft_world_observers{world=%q} %d\n", worldID, m.Observers)

	fmt.Fprintf(rw, "# HELP boxcraft_world_boxes Occupied box slots.\n")
	fmt.Fprintf(rw, "# TYPE boxcraft_world_boxes gauge\n")
	fmt.Fprintf(rw, "boxcraft_world_boxes{world=%q} %d\n", worldID, m.Boxes)
	fmt.Fprintf(rw, "# HELP boxcraft_world_box_capacity Usable box slots.\n")
	fmt.Fprintf(rw, "# TYPE boxcraft_world_box_capacity gauge\n")
	fmt.Fprintf(rw, "boxcraft_world_box_capacity{world=%q} %d\n", worldID, m.Capacity)

	fmt.Fprintf(rw, "# HELP boxcraft_world_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE boxcraft_world_queue_depth gauge\n")
	fmt.Fprintf(rw, "boxcraft_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "boxcraft_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "boxcraft_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "leave", m.QueueDepths.Leave)

	fmt.Fprintf(rw, "# HELP boxcraft_world_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE boxcraft_world_step_ms gauge\n")
	fmt.Fprintf(rw, "boxcraft_world_step_ms{world=%q} %.3f\n", worldID, m.StepMS)

	fmt.Fprintf(rw, "# HELP boxcraft_stats_window Rolling window stats.\n")
	fmt.Fprintf(rw, "# TYPE boxcraft_stats_window gauge\n")
	for _, kv := range statsPairs(m.StatsWindow) {
		fmt.Fprintf(rw, "boxcraft_stats_window{world=%q,metric=%q} %d\n", worldID, kv.name, kv.v)
	}
	fmt.Fprintf(rw, "# HELP boxcraft_stats_total Lifetime stats.\n")
	fmt.Fprintf(rw, "# TYPE boxcraft_stats_total counter\n")
	for _, kv := range statsPairs(m.StatsTotal) {
		fmt.Fprintf(rw, "boxcraft_stats_total{world=%q,metric=%q} %d\n", worldID, kv.name, kv.v)
	}

	fmt.Fprintf(rw, "# HELP boxcraft_stats_window_ticks Rolling window size in ticks.\n")
	fmt.Fprintf(rw, "# TYPE boxcraft_stats_window_ticks gauge\n")
	fmt.Fprintf(rw, "boxcraft_stats_window_ticks{world=%q} %d\n", worldID, m.StatsWindowTicks)
}

type statPair struct {
	name string
	v    int
}

func statsPairs(b world.StatsBucket) []statPair {
	return []statPair{
		{"inserts", b.Inserts},
		{"removes", b.Removes},
		{"refused", b.Refused},
		{"capacity_full", b.CapacityFull},
		{"invariant_faults", b.InvariantFaults},
		{"picks", b.Picks},
		{"misses", b.Misses},
		{"respawns", b.Respawns},
	}
}

func writeIndexMetrics(rw http.ResponseWriter, worldID string, idx runtimeIndex) {
	switch x := idx.(type) {
	case *indexdb.SQLiteIndex:
		s := x.Stats()
		fmt.Fprintf(rw, "# HELP boxcraft_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE boxcraft_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "boxcraft_index_queue_depth{world=%q,backend=\"sqlite\"} %d\n", worldID, s.QueueDepth)
		fmt.Fprintf(rw, "# HELP boxcraft_index_dropped_total Rows dropped because the index queue was full.\n")
		fmt.Fprintf(rw, "# TYPE boxcraft_index_dropped_total counter\n")
		fmt.Fprintf(rw, "boxcraft_index_dropped_total{world=%q,backend=\"sqlite\",kind=\"tick\"} %d\n", worldID, s.DropTickTotal)
		fmt.Fprintf(rw, "boxcraft_index_dropped_total{world=%q,backend=\"sqlite\",kind=\"audit\"} %d\n", worldID, s.DropAuditTotal)
		fmt.Fprintf(rw, "# HELP boxcraft_index_write_fail_total Failed index transactions.\n")
		fmt.Fprintf(rw, "# TYPE boxcraft_index_write_fail_total counter\n")
		fmt.Fprintf(rw, "boxcraft_index_write_fail_total{world=%q,backend=\"sqlite\"} %d\n", worldID, s.WriteFailTotal)
	case *indexdb.IngestIndex:
		s := x.Stats()
		fmt.Fprintf(rw, "# HELP boxcraft_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE boxcraft_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "boxcraft_index_queue_depth{world=%q,backend=\"ingest\"} %d\n", worldID, s.QueueDepth)
		fmt.Fprintf(rw, "# HELP boxcraft_index_dropped_total Rows dropped because the index queue was full.\n")
		fmt.Fprintf(rw, "# TYPE boxcraft_index_dropped_total counter\n")
		fmt.Fprintf(rw, "boxcraft_index_dropped_total{world=%q,backend=\"ingest\"} %d\n", worldID, s.QueueDroppedTotal)
		fmt.Fprintf(rw, "# HELP boxcraft_index_write_fail_total Failed index flushes.\n")
		fmt.Fprintf(rw, "# TYPE boxcraft_index_write_fail_total counter\n")
		fmt.Fprintf(rw, "boxcraft_index_write_fail_total{world=%q,backend=\"ingest\"} %d\n", worldID, s.FlushFailTotal)
	}
}

func writeMirrorMetrics(rw http.ResponseWriter, worldID string, m *mirror.Mirror) {
	if m == nil {
		return
	}
	s := m.Stats()
	fmt.Fprintf(rw, "# HELP boxcraft_mirror_queue_depth Sealed segments waiting for upload.\n")
	fmt.Fprintf(rw, "# TYPE boxcraft_mirror_queue_depth gauge\n")
	fmt.Fprintf(rw, "boxcraft_mirror_queue_depth{world=%q} %d\n", worldID, s.QueueDepth)
	fmt.Fprintf(rw, "# HELP boxcraft_mirror_uploads_total Segment uploads by outcome.\n")
	fmt.Fprintf(rw, "# TYPE boxcraft_mirror_uploads_total counter\n")
	fmt.Fprintf(rw, "boxcraft_mirror_uploads_total{world=%q,result=\"ok\"} %d\n", worldID, s.UploadSuccessTotal)
	fmt.Fprintf(rw, "boxcraft_mirror_uploads_total{world=%q,result=\"fail\"} %d\n", worldID, s.UploadFailTotal)
	fmt.Fprintf(rw, "boxcraft_mirror_uploads_total{world=%q,result=\"dropped\"} %d\n", worldID, s.DroppedTotal)
	fmt.Fprintf(rw, "# HELP boxcraft_mirror_last_success_unix Time of the last successful upload.\n")
	fmt.Fprintf(rw, "# TYPE boxcraft_mirror_last_success_unix gauge\n")
	fmt.Fprintf(rw, "boxcraft_mirror_last_success_unix{world=%q} %d\n", worldID, s.LastSuccessUnix)
}
