package mcp

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"boxcraft.dev/internal/mcpgw/bridge"
	"boxcraft.dev/internal/protocol"
	"boxcraft.dev/internal/sim/tuning"
	"boxcraft.dev/internal/sim/world"
	"boxcraft.dev/internal/transport/ws"
)

func TestMCP_Sidecar_EndToEnd_WS(t *testing.T) {
	tu := tuning.Defaults()
	tu.TickRateHz = 50
	tu.Seeding.FloorRadius = 3
	tu.Seeding.TreePermille = 0
	w, err := world.New(world.ConfigFromTuning("mcp_world", 5, tu), nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	tsWorld := httptest.NewServer(ws.NewServer(w, v, nil).Handler())
	defer tsWorld.Close()

	stateFile := filepath.Join(t.TempDir(), "sessions.json")
	br, err := bridge.NewManager(bridge.Config{
		WorldWSURL:  "ws" + strings.TrimPrefix(tsWorld.URL, "http"),
		StateFile:   stateFile,
		MaxSessions: 4,
		Validator:   v,
	})
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	defer br.Close()

	srv, err := NewServer(Config{Bridge: br})
	if err != nil {
		t.Fatalf("mcp: %v", err)
	}
	tsMCP := httptest.NewServer(srv.Handler())
	defer tsMCP.Close()
	hdr := map[string]string{headerAgentID: "builder"}

	decode := func(resp rpcResponse, out any) {
		t.Helper()
		if resp.Error != nil {
			t.Fatalf("rpc error: %+v", resp.Error)
		}
		b, _ := json.Marshal(resp.Result)
		if err := json.Unmarshal(b, out); err != nil {
			t.Fatalf("decode result: %v", err)
		}
	}

	var first bridge.ObsResult
	_, resp := rpcPost(t, tsMCP.URL, callTool(ToolGetObs, map[string]any{"wait_new_tick": true, "timeout_ms": 3000}), hdr)
	decode(resp, &first)
	if first.AgentID == "" || len(first.Obs) == 0 {
		t.Fatalf("first obs=%+v", first)
	}

	var act bridge.ActResult
	_, resp = rpcPost(t, tsMCP.URL, callTool(ToolAct, map[string]any{
		"actions": []map[string]any{
			{"type": "LOOK", "pitch": -1.55},
			{"id": "p1", "type": "PLACE", "kind": "STONE"},
		},
	}), hdr)
	decode(resp, &act)
	if !act.Sent || act.AgentID != first.AgentID || len(act.ActionIDs) != 2 || act.ActionIDs[1] != "p1" {
		t.Fatalf("act=%+v", act)
	}

	var placed *protocol.ActionResult
	for i := 0; i < 50 && placed == nil; i++ {
		var o bridge.ObsResult
		_, resp = rpcPost(t, tsMCP.URL, callTool(ToolGetObs, map[string]any{"wait_new_tick": true, "timeout_ms": 1000}), hdr)
		decode(resp, &o)
		for j := range o.Results {
			if o.Results[j].ID == "p1" {
				placed = &o.Results[j]
			}
		}
		if placed != nil {
			var obs protocol.ObsMsg
			if err := json.Unmarshal(o.Obs, &obs); err != nil {
				t.Fatalf("obs: %v", err)
			}
			if len(obs.Results) != 0 {
				t.Fatalf("summary obs kept results: %+v", obs.Results)
			}
			if obs.Boxes != 50 {
				t.Fatalf("boxes=%d want 50", obs.Boxes)
			}
		}
	}
	if placed == nil || !placed.OK || placed.BoxID == 0 {
		t.Fatalf("place result=%+v", placed)
	}

	var st bridge.Status
	_, resp = rpcPost(t, tsMCP.URL, callTool(ToolGetStatus, nil), hdr)
	decode(resp, &st)
	if !st.Connected || st.AgentID != first.AgentID || st.WorldID != "mcp_world" || st.Params.PoolCapacity != w.Capacity() {
		t.Fatalf("status=%+v", st)
	}

	raw, err := os.ReadFile(stateFile)
	if err != nil {
		t.Fatalf("state file: %v", err)
	}
	if !strings.Contains(string(raw), first.AgentID) {
		t.Fatalf("state file missing agent: %s", raw)
	}

	_, resp = rpcPost(t, tsMCP.URL, callTool(ToolDisconnect, nil), hdr)
	if resp.Error != nil {
		t.Fatalf("disconnect: %+v", resp.Error)
	}
}
