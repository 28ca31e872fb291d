package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	persistlog "boxcraft.dev/internal/persistence/log"
	"boxcraft.dev/internal/protocol"
	"boxcraft.dev/internal/sim/tuning"
	"boxcraft.dev/internal/sim/world"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		seed       = flag.Int64("seed", 1337, "world seed")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (tick/audit rows)")
		checkInv   = flag.Bool("check_invariants", false, "run the full graph check after every mutation")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	cfg := world.ConfigFromTuning(*worldID, *seed, tune)
	cfg.CheckInvariants = *checkInv
	w, err := world.New(cfg, logger)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	// Replay needs the seed and tuning that built tick 0.
	if err := persistlog.WriteMeta(worldDir, persistlog.WorldMeta{
		WorldID:   *worldID,
		Seed:      *seed,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		Tuning:    tune,
	}); err != nil {
		logger.Fatalf("write meta: %v", err)
	}

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(worldDir, *worldID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(*worldID, *seed, tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	mir, err := openMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("open mirror: %v", err)
	}
	// Deferred first so it drains the segments sealed by the closes below.
	defer mir.Close()

	tickLog := persistlog.NewTickLogger(worldDir)
	auditLog := persistlog.NewAuditLogger(worldDir)
	if mir != nil {
		tickLog.OnSealed(mir.Enqueue)
		auditLog.OnSealed(mir.Enqueue)
	}
	defer tickLog.Close()
	defer auditLog.Close()
	var idxTicks world.TickLogger
	var idxAudits world.AuditLogger
	if idx != nil {
		idxTicks, idxAudits = idx, idx
	}
	w.SetTickLogger(multiTickLogger{a: tickLog, b: idxTicks})
	w.SetAuditLogger(multiAuditLogger{a: auditLog, b: idxAudits})

	validator, err := protocol.NewValidator()
	if err != nil {
		logger.Fatalf("schemas: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := newMux(muxConfig{
		World:       w,
		Index:       idx,
		Mirror:      mir,
		Validator:   validator,
		Logger:      logger,
		EnableAdmin: envBool("BOXCRAFT_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		EnablePprof: envBool("BOXCRAFT_ENABLE_PPROF_HTTP", false),
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s world=%s seed=%d tick_rate=%d", *addr, *worldID, *seed, tune.TickRateHz)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	// Loggers close after the last tick is written.
	<-worldDone
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
