package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	plog "voxeldiagram.app/internal/persistence/log"
	"voxeldiagram.app/internal/persistence/objstore"
	"voxeldiagram.app/internal/persistence/snapshot"
	"voxeldiagram.app/internal/protocol"
	"voxeldiagram.app/internal/sim/session"
)

func openTestSQLite(t *testing.T) *Index {
	t.Helper()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index", "diagram.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func flush(t *testing.T, idx *Index) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestSQLiteIndex_CommitsAndHistory(t *testing.T) {
	idx := openTestSQLite(t)
	stone := protocol.Block{Pos: [3]int{1, 0, 2}, Type: 1}
	grass := protocol.Block{Pos: [3]int{1, 0, 2}, Type: 2}

	_ = idx.WriteCommit(session.CommitEntry{Seq: 1, SessionID: "s1", Action: "Pencil", Added: []protocol.Block{stone}, BlockCount: 1})
	_ = idx.WriteCommit(session.CommitEntry{Seq: 2, SessionID: "s1", Action: "Pencil", Removed: []protocol.Block{stone}, Added: []protocol.Block{grass}, BlockCount: 1})
	_ = idx.WriteCommit(session.CommitEntry{Seq: 1, SessionID: "other", Action: "Pencil"})
	flush(t, idx)

	ctx := context.Background()
	commits, err := idx.Commits(ctx, "s1", 0, 10)
	if err != nil {
		t.Fatalf("Commits: %v", err)
	}
	if len(commits) != 2 || commits[1].Seq != 2 || commits[1].Removed != 1 || commits[1].Added != 1 {
		t.Fatalf("commits: %+v", commits)
	}
	after, err := idx.Commits(ctx, "s1", 1, 10)
	if err != nil || len(after) != 1 {
		t.Fatalf("commits after 1: %+v %v", after, err)
	}

	hist, err := idx.History(ctx, [3]int{1, 0, 2}, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("history: %+v", hist)
	}
	if hist[0].Seq != 2 || hist[0].Side != "added" || hist[0].Type != 2 {
		t.Fatalf("newest change: %+v", hist[0])
	}
}

func TestSQLiteIndex_SnapshotsAndUploads(t *testing.T) {
	idx := openTestSQLite(t)
	snap := snapshot.SnapshotV1{Header: snapshot.Header{Version: 1, SessionID: "s1", Seq: 50, BlockCount: 12, Levels: 2, CreatedAt: "t"}}
	idx.RecordSnapshot("/data/snapshots/000000000050.snap.zst", snap)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	idx.RecordUpload(objstore.Upload{SessionID: "s1", Kind: objstore.KindSnapshot, Seq: 50,
		LocalPath: "/data/snapshots/000000000050.snap.zst", Key: "diagram/sessions/s1/snapshots/000000000050.snap.zst", Time: at})
	idx.RecordUpload(objstore.Upload{SessionID: "s1", Kind: objstore.KindJournal,
		LocalPath: "/data/commits/commits-2026-03-01-10.jsonl.zst", Key: "diagram/sessions/s1/commits/commits-2026-03-01-10.jsonl.zst", Time: at.Add(time.Hour)})
	flush(t, idx)

	ctx := context.Background()
	rows, err := idx.Snapshots(ctx, "s1")
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(rows) != 1 || rows[0].BlockCount != 12 || rows[0].ObjectKey != "diagram/sessions/s1/snapshots/000000000050.snap.zst" {
		t.Fatalf("snapshots: %+v", rows)
	}

	all, err := idx.Uploads(ctx, "s1", "", 10)
	if err != nil {
		t.Fatalf("Uploads: %v", err)
	}
	if len(all) != 2 || all[0].Kind != "journal" || all[1].Seq != 50 {
		t.Fatalf("uploads: %+v", all)
	}
	journal, err := idx.Uploads(ctx, "s1", "journal", 10)
	if err != nil || len(journal) != 1 || journal[0].ObjectKey != "diagram/sessions/s1/commits/commits-2026-03-01-10.jsonl.zst" {
		t.Fatalf("journal uploads: %+v %v", journal, err)
	}
}

func TestSQLiteIndex_UpsertCatalog(t *testing.T) {
	idx := openTestSQLite(t)
	ctx := context.Background()
	if err := idx.UpsertCatalog(ctx, "d1", []byte(`[{"id":1,"name":"Stone"}]`), map[string]int{"limit": 1}); err != nil {
		t.Fatalf("UpsertCatalog: %v", err)
	}
	if err := idx.UpsertCatalog(ctx, "d2", []byte(`[{"id":2,"name":"Grass"}]`), nil); err != nil {
		t.Fatalf("UpsertCatalog again: %v", err)
	}
	got, err := idx.CatalogDigest(ctx, "blocks")
	if err != nil || got != "d2" {
		t.Fatalf("blocks digest: %q %v", got, err)
	}
	tun, err := idx.CatalogDigest(ctx, "tuning")
	if err != nil || tun == "" {
		t.Fatalf("tuning digest: %q %v", tun, err)
	}
	missing, err := idx.CatalogDigest(ctx, "nope")
	if err != nil || missing != "" {
		t.Fatalf("missing digest: %q %v", missing, err)
	}
}

func TestSQLiteIndex_Audits(t *testing.T) {
	idx := openTestSQLite(t)
	_ = idx.WriteAudit(plog.AuditEntry{SessionID: "s1", ClientID: "c1", Op: "undo", Code: "E_NOTHING_TO_UNDO"})
	_ = idx.WriteAudit(plog.AuditEntry{SessionID: "s1", ClientID: "c1", Op: "finish", Accepted: true})
	flush(t, idx)

	var n int
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM audits WHERE session_id='s1'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("audits=%d want 2", n)
	}
}

func TestIndex_QueueDropStats(t *testing.T) {
	s := &Index{ch: make(chan req, 1), d: dialect{name: "sqlite"}}
	s.ch <- req{kind: reqCommit}

	_ = s.WriteCommit(session.CommitEntry{Seq: 2})
	_ = s.WriteAudit(plog.AuditEntry{})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropCommitTotal != 1 || st.DropAuditTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drop stats: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestDialect_Rebind(t *testing.T) {
	pg := dialect{name: "postgres", numbered: true}
	got := pg.rebind(`INSERT INTO meta(key,value) VALUES('a?b',?) WHERE x=? AND y=?`)
	want := `INSERT INTO meta(key,value) VALUES('a?b',$1) WHERE x=$2 AND y=$3`
	if got != want {
		t.Fatalf("rebind:\n got %s\nwant %s", got, want)
	}
	lite := dialect{name: "sqlite"}
	if q := `SELECT ?`; lite.rebind(q) != q {
		t.Fatalf("sqlite rebind changed query")
	}
}
