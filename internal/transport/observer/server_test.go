package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"boxcraft.dev/internal/observerproto"
	"boxcraft.dev/internal/sim/tuning"
	"boxcraft.dev/internal/sim/world"
)

func startWorld(t *testing.T) *world.World {
	t.Helper()
	tu := tuning.Defaults()
	tu.TickRateHz = 100
	tu.Seeding.FloorRadius = 2
	tu.Seeding.TreePermille = 0
	w, err := world.New(world.ConfigFromTuning("world_obs", 5, tu), nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	t.Cleanup(cancel)
	return w
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := IsLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}

func TestBootstrap(t *testing.T) {
	w := startWorld(t)
	s := NewServer(w, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/observer/bootstrap", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp observerproto.BootstrapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WorldID != "world_obs" || resp.WorldParams.Seed != 5 || resp.WorldParams.PoolCapacity != w.Capacity() || len(resp.Palette) == 0 {
		t.Fatalf("resp=%+v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/observer/bootstrap", nil)
	req.RemoteAddr = "10.1.2.3:1234"
	rec = httptest.NewRecorder()
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote status=%d want 403", rec.Code)
	}
}

func TestStream_SendsDrawListOnce(t *testing.T) {
	w := startWorld(t)
	s := NewServer(w, nil)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version, WantBoxes: true}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	read := func() observerproto.TickMsg {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m observerproto.TickMsg
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return m
	}
	first := read()
	if first.Type != observerproto.TypeTick || len(first.Boxes) != 25 || first.BoxCount != 25 {
		t.Fatalf("first tick boxes=%d count=%d", len(first.Boxes), first.BoxCount)
	}
	next := read()
	if next.Boxes != nil || next.Tick <= first.Tick {
		t.Fatalf("second tick=%d boxes=%d", next.Tick, len(next.Boxes))
	}
}
