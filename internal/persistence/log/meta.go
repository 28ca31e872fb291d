package log

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"boxcraft.dev/internal/sim/tuning"
)

// WorldMeta is written next to the event log so a replay can rebuild the
// starting world without the server's flags.
type WorldMeta struct {
	WorldID   string        `json:"world_id"`
	Seed      int64         `json:"seed"`
	StartedAt string        `json:"started_at"`
	Tuning    tuning.Tuning `json:"tuning"`
}

func metaPath(worldDir string) string { return filepath.Join(worldDir, "meta.json") }

func WriteMeta(worldDir string, m WorldMeta) error {
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := metaPath(worldDir) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, metaPath(worldDir))
}

func ReadMeta(worldDir string) (WorldMeta, error) {
	var m WorldMeta
	b, err := os.ReadFile(metaPath(worldDir))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("meta.json: %w", err)
	}
	if err := m.Tuning.Validate(); err != nil {
		return m, fmt.Errorf("meta.json: %w", err)
	}
	return m, nil
}
