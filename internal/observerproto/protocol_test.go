package observerproto

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestTickMsg_MatchesSchema(t *testing.T) {
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "observer_tick.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	msg := TickMsg{
		Type:            TypeTick,
		ProtocolVersion: Version,
		Tick:            7,
		Digest:          "0000000000000000000000000000000000000000000000000000000000000000",
		Agents:          []AgentState{{ID: "A1", Name: "bot", Connected: true, Pos: [3]float32{0.5, 1.4, 0.5}}},
		Audits:          []AuditEntry{{Tick: 7, Actor: "A1", Action: "PLACE", Pos: [3]int{0, 1, 0}, From: "UNOCCUPIED", To: "STONE", BoxID: 9}},
		BoxCount:        1,
		Boxes:           []BoxState{{ID: 1, Pos: [3]int{0, 0, 0}, Kind: "GRASS"}},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := s.Validate(v); err != nil {
		t.Fatalf("validate: %v", err)
	}

	// An unchanged draw list is omitted, not sent empty.
	msg.Boxes = nil
	b, _ = json.Marshal(msg)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	if _, ok := m["boxes"]; ok {
		t.Fatalf("boxes should be omitted when nil: %s", b)
	}
}
