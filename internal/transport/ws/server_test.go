package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"boxcraft.dev/internal/protocol"
	"boxcraft.dev/internal/sim/tuning"
	"boxcraft.dev/internal/sim/world"
)

func startWorld(t *testing.T, maxAgents int) *world.World {
	t.Helper()
	tu := tuning.Defaults()
	tu.TickRateHz = 100
	tu.Seeding.FloorRadius = 3
	tu.Seeding.TreePermille = 0
	tu.Agents.MaxAgents = maxAgents
	w, err := world.New(world.ConfigFromTuning("world_ws", 1, tu), nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	t.Cleanup(cancel)
	return w
}

func dial(t *testing.T, w *world.World) *websocket.Conn {
	t.Helper()
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	srv := httptest.NewServer(NewServer(w, v, nil).Handler())
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil returns the first message whose type matches and pred accepts.
func readUntil(t *testing.T, conn *websocket.Conn, typ string, pred func([]byte) bool) []byte {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		base, _ := protocol.DecodeBase(msg)
		if base.Type == typ && (pred == nil || pred(msg)) {
			return msg
		}
	}
	t.Fatalf("no %s message", typ)
	return nil
}

func hello(name string) protocol.HelloMsg {
	return protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, AgentName: name}
}

func TestSession_PlaceViaACT(t *testing.T) {
	w := startWorld(t, 4)
	conn := dial(t, w)
	send(t, conn, hello("bot"))

	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeWelcome, nil), &welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if welcome.AgentID == "" || welcome.WorldID != "world_ws" {
		t.Fatalf("welcome=%+v", welcome)
	}

	send(t, conn, protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Actions: []protocol.ActionReq{
			{ID: "look", Type: protocol.ActionLook, Pitch: -1.55},
			{ID: "place", Type: protocol.ActionPlace, Kind: "STONE"},
		},
	})
	var obs protocol.ObsMsg
	readUntil(t, conn, protocol.TypeObs, func(b []byte) bool {
		obs = protocol.ObsMsg{}
		_ = json.Unmarshal(b, &obs)
		return len(obs.Results) > 0
	})
	if len(obs.Results) != 2 || !obs.Results[1].OK || obs.Results[1].ID != "place" {
		t.Fatalf("results=%+v", obs.Results)
	}
	if obs.AgentID != welcome.AgentID {
		t.Fatalf("obs agent=%q", obs.AgentID)
	}
}

func TestSession_InvalidACTIsAcked(t *testing.T) {
	w := startWorld(t, 4)
	conn := dial(t, w)
	send(t, conn, hello("bot"))
	readUntil(t, conn, protocol.TypeWelcome, nil)

	send(t, conn, map[string]any{
		"type":             "ACT",
		"protocol_version": "1.0",
		"actions":          []map[string]any{{"id": "x", "type": "SAY"}},
	})
	var ack protocol.AckMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeAck, nil), &ack); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if ack.Accepted || ack.Code != protocol.ErrProtoBadRequest || ack.AckFor != protocol.TypeAct {
		t.Fatalf("ack=%+v", ack)
	}
}

func TestSession_FullWorldRefusesHello(t *testing.T) {
	w := startWorld(t, 1)
	first := dial(t, w)
	send(t, first, hello("a"))
	readUntil(t, first, protocol.TypeWelcome, nil)

	second := dial(t, w)
	send(t, second, hello("b"))
	var ack protocol.AckMsg
	if err := json.Unmarshal(readUntil(t, second, protocol.TypeAck, nil), &ack); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if ack.Code != protocol.ErrWorldBusy || ack.AckFor != protocol.TypeHello {
		t.Fatalf("ack=%+v", ack)
	}
}

func TestSession_RequiresHello(t *testing.T) {
	w := startWorld(t, 4)
	conn := dial(t, w)
	send(t, conn, protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("err=%v want policy violation close", err)
	}
}
