package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"boxcraft.dev/internal/mcpgw/bridge"
	"boxcraft.dev/internal/mcpgw/mcp"
	"boxcraft.dev/internal/protocol"
)

func main() {
	var (
		listen     = flag.String("listen", "127.0.0.1:8090", "http listen address")
		worldWSURL = flag.String("world-ws-url", "ws://127.0.0.1:8080/v1/ws", "boxcraft ws url")
		hmacSecret = flag.String("hmac-secret", "", "hmac secret (or set BOXCRAFT_MCP_HMAC_SECRET)")
		stateFile  = flag.String("state-file", "./data/mcp/sessions.json", "path to persisted session state")
		maxSess    = flag.Int("max-sessions", 256, "max concurrent sessions")
	)
	flag.Parse()

	if strings.TrimSpace(*hmacSecret) == "" {
		*hmacSecret = strings.TrimSpace(os.Getenv("BOXCRAFT_MCP_HMAC_SECRET"))
	}
	requireHMAC := envBoolWithDefault("BOXCRAFT_MCP_REQUIRE_HMAC", defaultRequireHMAC())
	if requireHMAC && *hmacSecret == "" {
		log.Fatalf("[mcp] hmac secret required (set -hmac-secret or BOXCRAFT_MCP_HMAC_SECRET)")
	}
	if *hmacSecret == "" && !isLoopbackListenAddress(*listen) {
		log.Fatalf("[mcp] refusing insecure MCP bind on non-loopback address %q without hmac secret", *listen)
	}

	logger := log.New(os.Stdout, "[mcp] ", log.LstdFlags|log.Lmicroseconds)
	authMode := "hmac"
	if *hmacSecret == "" {
		authMode = "none(loopback-only)"
	}
	logger.Printf("auth_mode=%s require_hmac=%t", authMode, requireHMAC)

	validator, err := protocol.NewValidator()
	if err != nil {
		logger.Fatalf("schemas: %v", err)
	}
	br, err := bridge.NewManager(bridge.Config{
		WorldWSURL:  *worldWSURL,
		StateFile:   *stateFile,
		MaxSessions: *maxSess,
		Validator:   validator,
	})
	if err != nil {
		logger.Fatalf("bridge: %v", err)
	}
	defer br.Close()

	srv, err := mcp.NewServer(mcp.Config{
		Bridge:     br,
		HMACSecret: *hmacSecret,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatalf("mcp: %v", err)
	}

	httpSrv := &http.Server{
		Addr:              *listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on http://%s (world ws=%s)", *listen, *worldWSURL)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("listen: %v", err)
	}
}

func defaultRequireHMAC() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return true
	default:
		return false
	}
}

func envBoolWithDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func isLoopbackListenAddress(addr string) bool {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(strings.TrimSpace(host), "[]"))
	if host == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
