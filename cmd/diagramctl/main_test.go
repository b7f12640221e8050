package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	persistlog "voxeldiagram.app/internal/persistence/log"
	"voxeldiagram.app/internal/persistence/snapshot"
	"voxeldiagram.app/internal/protocol"
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/session"
)

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not find repo root from %s", dir)
		}
		dir = parent
	}
}

func loadCatalog(t *testing.T) *catalogs.Catalog {
	t.Helper()
	cat, err := catalogs.Load(filepath.Join(findRepoRoot(t), "configs"))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

func TestParsePos(t *testing.T) {
	p, err := parsePos(" 1, -2 ,3")
	if err != nil || p != diagram.Pos(1, -2, 3) {
		t.Fatalf("parsePos: %v %v", p, err)
	}
	for _, bad := range []string{"", "1,2", "1,2,x", "1,2,3,4"} {
		if _, err := parsePos(bad); err == nil {
			t.Fatalf("parsePos(%q): expected error", bad)
		}
	}
}

func TestRunDraw_RectangleThenConvert(t *testing.T) {
	cat := loadCatalog(t)
	dir := t.TempDir()
	mcd := filepath.Join(dir, "house.mcd")

	res, err := runDraw(context.Background(), cat, drawOptions{
		Out:     mcd,
		Tool:    "rectangle",
		Block:   "Bricks",
		Anchors: []diagram.Position{diagram.Pos(0, 0, 0), diagram.Pos(4, 0, 4)},
	})
	if err != nil {
		t.Fatalf("runDraw: %v", err)
	}
	if res.action != "Draw Rectangle" || res.blocks != 16 {
		t.Fatalf("result: %+v", res)
	}

	d, h, err := openDiagram(cat, mcd, false)
	if err != nil {
		t.Fatalf("openDiagram: %v", err)
	}
	if h != nil || d.BlockCount() != 16 {
		t.Fatalf("reopened: header=%v blocks=%d", h, d.BlockCount())
	}
	bricks, _ := cat.ByName("Bricks")
	if d.BlockCountsByType()[bricks.Type()] != 16 {
		t.Fatalf("counts: %v", d.BlockCountsByType())
	}

	// Draw on top of the saved file straight into a snapshot.
	snapPath := filepath.Join(dir, "house.snap.zst")
	res, err = runDraw(context.Background(), cat, drawOptions{
		In:      mcd,
		Out:     snapPath,
		Tool:    "pencil",
		Anchors: []diagram.Position{diagram.Pos(2, 0, 2)},
	})
	if err != nil {
		t.Fatalf("runDraw snapshot: %v", err)
	}
	if res.blocks != 17 {
		t.Fatalf("blocks after pencil: %d", res.blocks)
	}
	d2, h2, err := openDiagram(cat, snapPath, false)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	if h2 == nil || h2.BlockCount != 17 || d2.BlockCount() != 17 || h2.CatalogDigest != cat.Digest {
		t.Fatalf("snapshot header: %+v", h2)
	}

	// And back to the diagram format.
	back := filepath.Join(dir, "back.mcd")
	if err := writeDiagram(d2, back, headerFor(h2, d2)); err != nil {
		t.Fatalf("writeDiagram: %v", err)
	}
	d3, _, err := openDiagram(cat, back, false)
	if err != nil || d3.BlockCount() != 17 {
		t.Fatalf("back: blocks=%d err=%v", d3.BlockCount(), err)
	}
}

func TestRunDraw_Errors(t *testing.T) {
	cat := loadCatalog(t)
	out := filepath.Join(t.TempDir(), "x.mcd")
	if _, err := runDraw(context.Background(), cat, drawOptions{Out: out, Tool: "spray", Anchors: []diagram.Position{{}}}); err == nil {
		t.Fatalf("expected unknown tool error")
	}
	if _, err := runDraw(context.Background(), cat, drawOptions{Out: out, Tool: "pencil", Block: "Unobtainium", Anchors: []diagram.Position{{}}}); err == nil {
		t.Fatalf("expected unknown block error")
	}
	// A line needs two anchors.
	if _, err := runDraw(context.Background(), cat, drawOptions{Out: out, Tool: "line", Anchors: []diagram.Position{{}}}); err == nil {
		t.Fatalf("expected incomplete gesture error")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("output written on error: %v", err)
	}
}

func TestRebuild_SnapshotAndJournal(t *testing.T) {
	cat := loadCatalog(t)
	dir := t.TempDir()

	d := diagram.New(cat)
	snap, err := snapshot.Capture(d, snapshot.Header{SessionID: "s", Seq: 0})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	sp := filepath.Join(dir, "snapshots", snapshot.FileName(0))
	if err := snapshot.WriteSnapshot(sp, snap); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	journal := persistlog.NewCommitLogger(dir)
	_ = journal.WriteCommit(session.CommitEntry{Seq: 1, Action: "Pencil", Added: []protocol.Block{{Pos: [3]int{0, 1, 0}, Type: 20}}, BlockCount: 1})
	_ = journal.WriteCommit(session.CommitEntry{Seq: 2, Action: "Copy Level", Added: []protocol.Block{{Pos: [3]int{0, 2, 0}, Type: 20}}, BlockCount: 2})
	_ = journal.Close()

	got, res, err := rebuild(cat, dir, sp)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if res.To != 2 || got.BlockCount() != 2 {
		t.Fatalf("rebuild: %+v blocks=%d", res, got.BlockCount())
	}
	if lv := got.Levels(); len(lv) != 2 || lv[0] != 1 || lv[1] != 2 {
		t.Fatalf("levels: %v", lv)
	}
}
