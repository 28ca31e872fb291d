package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"boxcraft.dev/internal/persistence/indexdb"
)

var metaKeys = []string{"schema_version", "world_id", "seed", "tuning_digest", "updated_at"}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	tick := fs.Uint64("tick", 0, "tick for the digest query")
	limit := fs.Int("limit", 20, "result limit")
	actor := fs.String("actor", "", "actor filter (audits)")
	pos := fs.String("pos", "", "x,y,z filter (audits)")
	_ = fs.Parse(args)

	q := "meta"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(worldDirFlag(*dataDir, *worldID), "index", "world.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	aq := indexdb.AuditQuery{Actor: strings.TrimSpace(*actor), Limit: *limit}
	if strings.TrimSpace(*pos) != "" {
		p, err := parseVec3(*pos)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -pos:", err)
			os.Exit(2)
		}
		aq.Pos = &p
	}
	if err := runQuery(ctx, os.Stdout, idx, q, *tick, aq); err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

func runQuery(ctx context.Context, w io.Writer, idx *indexdb.SQLiteIndex, q string, tick uint64, aq indexdb.AuditQuery) error {
	switch q {
	case "meta":
		out := map[string]string{}
		for _, k := range metaKeys {
			v, ok, err := idx.Meta(ctx, k)
			if err != nil {
				return err
			}
			if ok {
				out[k] = v
			}
		}
		return printJSON(w, out)
	case "digest":
		d, ok, err := idx.TickDigest(ctx, tick)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("tick %d not indexed", tick)
		}
		return printJSON(w, map[string]any{"tick": tick, "digest": d})
	case "audits":
		recs, err := idx.RecentAudits(ctx, aq)
		if err != nil {
			return err
		}
		return printJSON(w, recs)
	default:
		return fmt.Errorf("unknown query (want meta, digest or audits)")
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
