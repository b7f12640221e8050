package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "voxeldiagram.app/internal/persistence/log"
	"voxeldiagram.app/internal/persistence/replay"
	"voxeldiagram.app/internal/persistence/snapshot"
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/session"
)

func sessionDir(dataDir, id string) string {
	return filepath.Join(dataDir, "sessions", id)
}

func replayCmd(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configDir := fs.String("configs", "./configs", "config directory")
	dataDir := fs.String("data", "./data", "runtime data directory")
	sessionID := fs.String("session", "default", "session id")
	snapPath := fs.String("snapshot", "", "snapshot to start from (default: latest; \"none\" starts empty)")
	out := fs.String("out", "", "write the rebuilt diagram here (optional; .snap.zst writes a snapshot)")
	_ = fs.Parse(args)

	cat, err := catalogs.Load(*configDir)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	dir := sessionDir(*dataDir, *sessionID)
	sp := strings.TrimSpace(*snapPath)
	switch sp {
	case "none":
		sp = ""
	case "":
		if sp, err = snapshot.Latest(filepath.Join(dir, "snapshots")); err != nil {
			return err
		}
	}

	d, res, err := rebuild(cat, dir, sp)
	if sp != "" {
		fmt.Printf("snapshot %s seq=%d\n", sp, res.From)
	}
	fmt.Printf("journal: applied=%d skipped=%d seq=%d blocks=%d levels=%v\n", res.Applied, res.Skipped, res.To, d.BlockCount(), d.Levels())
	if err != nil {
		return err
	}
	if *out != "" {
		h := snapshot.Header{SessionID: *sessionID, Seq: res.To, CatalogDigest: cat.Digest}
		if err := writeDiagram(d, *out, h); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", *out)
	}
	return nil
}

// rebuild restores the snapshot at sp (if any) and replays the journal in
// dir after it.
func rebuild(cat *catalogs.Catalog, dir, sp string) (*diagram.Diagram, replay.Result, error) {
	d := diagram.New(cat)
	var from uint64
	if sp != "" {
		snap, err := snapshot.ReadSnapshot(sp)
		if err != nil {
			return d, replay.Result{}, err
		}
		if err := snap.Restore(d); err != nil {
			return d, replay.Result{}, err
		}
		from = snap.Header.Seq
	}
	res, err := replay.Journal(d, dir, from)
	return d, res, err
}

func journalCmd(args []string) error {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	sessionID := fs.String("session", "default", "session id")
	after := fs.Uint64("after", 0, "only entries with a greater seq")
	action := fs.String("action", "", "only entries with this action")
	_ = fs.Parse(args)

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	enc := json.NewEncoder(w)
	return persistlog.ReadCommits(sessionDir(*dataDir, *sessionID), func(e session.CommitEntry) error {
		if e.Seq <= *after {
			return nil
		}
		if *action != "" && e.Action != *action {
			return nil
		}
		return enc.Encode(e)
	})
}
