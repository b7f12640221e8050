package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voxeldiagram.app/internal/persistence/indexdb"
)

// dbCmd queries the index: commits (default), history, snapshots, uploads,
// catalog.
// The backend follows VD_INDEX_BACKEND/VD_INDEX_PG_DSN unless -db names a
// sqlite file.
func dbCmd(args []string) error {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	sessionID := fs.String("session", "default", "session id")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	after := fs.Uint64("after", 0, "commits: only seq greater than this")
	limit := fs.Int("limit", 20, "result limit")
	at := fs.String("pos", "", "history: position x,y,z")
	kind := fs.String("kind", "", "uploads: snapshot, journal or audit (default all)")
	_ = fs.Parse(args)

	q := "commits"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	idx, err := openIndex(ctx, *dbPath, sessionDir(*dataDir, *sessionID))
	if err != nil {
		return err
	}
	defer idx.Close()

	enc := json.NewEncoder(os.Stdout)
	switch q {
	case "commits":
		rows, err := idx.Commits(ctx, *sessionID, *after, *limit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	case "history":
		if *at == "" {
			usageError("history needs -pos")
		}
		p, err := parsePos(*at)
		if err != nil {
			return err
		}
		rows, err := idx.History(ctx, p.ToArray(), *limit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	case "snapshots":
		rows, err := idx.Snapshots(ctx, *sessionID)
		if err != nil {
			return err
		}
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	case "uploads":
		rows, err := idx.Uploads(ctx, *sessionID, strings.TrimSpace(*kind), *limit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	case "catalog":
		for _, name := range []string{"blocks", "tuning"} {
			digest, err := idx.CatalogDigest(ctx, name)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", name, digest)
		}
	default:
		return fmt.Errorf("unknown query %q (want commits, history, snapshots, uploads or catalog)", q)
	}
	return nil
}

func openIndex(ctx context.Context, dbPath, dir string) (*indexdb.Index, error) {
	if p := strings.TrimSpace(dbPath); p != "" {
		return indexdb.OpenSQLite(p)
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("VD_INDEX_BACKEND"))) {
	case "postgres", "pg":
		return indexdb.OpenPostgres(ctx, os.Getenv("VD_INDEX_PG_DSN"))
	}
	p := filepath.Join(dir, "index", "diagram.sqlite")
	if _, err := os.Stat(p); err != nil {
		return nil, fmt.Errorf("no index at %s: %w", p, err)
	}
	return indexdb.OpenSQLite(p)
}
