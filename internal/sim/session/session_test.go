package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"voxeldiagram.app/internal/persistence/snapshot"
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/tools"
	"voxeldiagram.app/internal/sim/tuning"
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

type memCommitLog struct {
	mu      sync.Mutex
	entries []CommitEntry
}

func (m *memCommitLog) WriteCommit(e CommitEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memCommitLog) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

func startSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	cat, err := catalogs.Load(filepath.Join(findRepoRoot(t), "configs"))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if cfg.Tuning == (tuning.Tuning{}) {
		cfg.Tuning = tuning.Defaults()
	}
	s, err := New(cat, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func do(t *testing.T, s *Session, cmd Command) Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := s.Do(ctx, cmd)
	if err != nil {
		t.Fatalf("%s: %v", cmd.Op, err)
	}
	return resp
}

func drawRectangle(t *testing.T, s *Session, a, b diagram.Position) Response {
	t.Helper()
	do(t, s, Command{Op: OpSelectTool, Tool: tools.KindRectangle})
	do(t, s, Command{Op: OpPropose, Pos: a})
	do(t, s, Command{Op: OpAccept})
	resp := do(t, s, Command{Op: OpPropose, Pos: b})
	if !resp.State.Ready {
		t.Fatalf("rectangle not ready after two anchors: %+v", resp.State)
	}
	return do(t, s, Command{Op: OpFinish})
}

func TestSession_InitialState(t *testing.T) {
	s := startSession(t, Config{})
	st := do(t, s, Command{Op: OpInfo}).State
	if st.Tool != "pencil" || st.ToolState != "initial" || st.Ready {
		t.Fatalf("tool state: %+v", st)
	}
	if st.Block != 1 || st.BlockCount != 0 || st.Modified || st.Seq != 0 {
		t.Fatalf("state: %+v", st)
	}
	if s.ID() == "" {
		t.Fatalf("expected generated session id")
	}
}

func TestSession_FinishUndoRedo(t *testing.T) {
	s := startSession(t, Config{})
	st := drawRectangle(t, s, diagram.Pos(0, 0, 0), diagram.Pos(3, 0, 3)).State
	if st.BlockCount != 12 || st.UndoName != "Draw Rectangle" || !st.Modified {
		t.Fatalf("after finish: %+v", st)
	}
	if st.ToolState != "initial" || len(st.Anchors) != 0 {
		t.Fatalf("tool not cleared after finish: %+v", st)
	}

	st = do(t, s, Command{Op: OpUndo}).State
	if st.BlockCount != 0 || st.RedoName != "Draw Rectangle" || st.UndoName != "" || st.Modified {
		t.Fatalf("after undo: %+v", st)
	}
	st = do(t, s, Command{Op: OpRedo}).State
	if st.BlockCount != 12 || st.Seq != 3 {
		t.Fatalf("after redo: %+v", st)
	}

	ctx := context.Background()
	if _, err := s.Do(ctx, Command{Op: OpRedo}); !errors.Is(err, ErrNothingToRedo) {
		t.Fatalf("expected ErrNothingToRedo, got %v", err)
	}
	do(t, s, Command{Op: OpUndo})
	if _, err := s.Do(ctx, Command{Op: OpUndo}); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
}

func TestSession_FinishIncomplete(t *testing.T) {
	s := startSession(t, Config{})
	do(t, s, Command{Op: OpSelectTool, Tool: tools.KindLine})
	do(t, s, Command{Op: OpPropose, Pos: diagram.Pos(0, 0, 0)})
	resp, err := s.Do(context.Background(), Command{Op: OpFinish})
	if !errors.Is(err, tools.ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if resp.State.BlockCount != 0 || len(resp.State.Anchors) != 1 {
		t.Fatalf("state after failed finish: %+v", resp.State)
	}
}

func TestSession_SwitchToolKeepsAnchors(t *testing.T) {
	s := startSession(t, Config{})
	do(t, s, Command{Op: OpSelectTool, Tool: tools.KindLine})
	do(t, s, Command{Op: OpPropose, Pos: diagram.Pos(1, 0, 1)})
	do(t, s, Command{Op: OpAccept})
	st := do(t, s, Command{Op: OpSelectTool, Tool: tools.KindRectangle}).State
	if st.Tool != "rectangle" || len(st.Anchors) != 1 || st.Anchors[0] != [3]int{1, 0, 1} {
		t.Fatalf("anchors not carried: %+v", st)
	}
}

func TestSession_PreviewIsNotCommitted(t *testing.T) {
	s := startSession(t, Config{})
	do(t, s, Command{Op: OpSelectTool, Tool: tools.KindLine})
	do(t, s, Command{Op: OpPropose, Pos: diagram.Pos(0, 0, 0)})
	do(t, s, Command{Op: OpAccept})
	st := do(t, s, Command{Op: OpPropose, Pos: diagram.Pos(4, 0, 0)}).State
	if st.BlockCount != 0 || st.Seq != 0 {
		t.Fatalf("preview leaked into the diagram: %+v", st)
	}
	blocks := do(t, s, Command{Op: OpBlocks}).Blocks
	if len(blocks) != 0 {
		t.Fatalf("blocks while previewing: %v", blocks)
	}
	st = do(t, s, Command{Op: OpClear}).State
	if len(st.Anchors) != 0 {
		t.Fatalf("after clear: %+v", st)
	}
}

func TestSession_SelectErrors(t *testing.T) {
	s := startSession(t, Config{})
	ctx := context.Background()

	if _, err := s.Do(ctx, Command{Op: OpSelectBlock, Block: 9999}); !errors.Is(err, ErrUnknownBlock) {
		t.Fatalf("expected ErrUnknownBlock, got %v", err)
	}
	if _, err := s.Do(ctx, Command{Op: OpSelectBlock, BlockName: "Unobtainium"}); !errors.Is(err, ErrUnknownBlock) {
		t.Fatalf("expected ErrUnknownBlock for name, got %v", err)
	}
	if _, err := s.Do(ctx, Command{Op: OpSelectOrientation, Orientation: "vertical"}); !errors.Is(err, ErrBadOrientation) {
		t.Fatalf("expected ErrBadOrientation on stone, got %v", err)
	}
	if _, err := s.Do(ctx, Command{Op: "explode"}); !errors.Is(err, ErrUnknownOp) {
		t.Fatalf("expected ErrUnknownOp, got %v", err)
	}

	st := do(t, s, Command{Op: OpSelectBlock, BlockName: "Oak Log"}).State
	if st.Block != 17 || st.Orientation != "vertical" {
		t.Fatalf("oak log selection: %+v", st)
	}
	st = do(t, s, Command{Op: OpSelectOrientation, Orientation: "east-west"}).State
	if st.Orientation != "east-west" {
		t.Fatalf("orientation: %+v", st)
	}
}

func TestSession_SaveLoad(t *testing.T) {
	s := startSession(t, Config{})
	path := filepath.Join(t.TempDir(), "house.mcd")

	drawRectangle(t, s, diagram.Pos(0, 0, 0), diagram.Pos(2, 0, 2))
	st := do(t, s, Command{Op: OpSave, Path: path}).State
	if st.Modified {
		t.Fatalf("modified after save: %+v", st)
	}

	drawRectangle(t, s, diagram.Pos(0, 1, 0), diagram.Pos(5, 1, 5))
	st = do(t, s, Command{Op: OpLoad, Path: path}).State
	if st.BlockCount != 8 || st.UndoName != "" || st.RedoName != "" || st.Modified {
		t.Fatalf("after load: %+v", st)
	}
	lvl := do(t, s, Command{Op: OpLevel, Level: 0}).Blocks
	if len(lvl) != 8 || lvl[0].Pos != [3]int{0, 0, 0} {
		t.Fatalf("level 0: %v", lvl)
	}

	if _, err := s.Do(context.Background(), Command{Op: OpLoad, Path: filepath.Join(t.TempDir(), "missing.mcd")}); err == nil {
		t.Fatalf("expected error loading missing file")
	}
}

func TestSession_CopyLevel(t *testing.T) {
	s := startSession(t, Config{})
	drawRectangle(t, s, diagram.Pos(0, 0, 0), diagram.Pos(2, 0, 2))
	st := do(t, s, Command{Op: OpCopyLevel, Src: 0, Dst: 3}).State
	if st.BlockCount != 16 || st.UndoName != "Copy Level" {
		t.Fatalf("copy level: %+v", st)
	}
	if len(st.Levels) != 2 || st.Levels[1] != 3 {
		t.Fatalf("levels: %v", st.Levels)
	}
}

func TestSession_CommitLog(t *testing.T) {
	logs := &memCommitLog{}
	s := startSession(t, Config{CommitLogger: logs})
	drawRectangle(t, s, diagram.Pos(0, 0, 0), diagram.Pos(1, 0, 1))
	do(t, s, Command{Op: OpUndo})
	do(t, s, Command{Op: OpRedo})

	got := logs.actions()
	want := []string{"Draw Rectangle", "Undo Draw Rectangle", "Redo Draw Rectangle"}
	if len(got) != len(want) {
		t.Fatalf("actions: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("actions: got %v want %v", got, want)
		}
	}
	logs.mu.Lock()
	defer logs.mu.Unlock()
	if e := logs.entries[1]; e.Seq != 2 || len(e.Removed) != 4 || len(e.Added) != 0 || e.BlockCount != 0 {
		t.Fatalf("undo entry: %+v", e)
	}
}

func TestSession_SnapshotCadence(t *testing.T) {
	sink := make(chan snapshot.SnapshotV1, 4)
	tun := tuning.Defaults()
	tun.Snapshot.EveryCommits = 2
	s := startSession(t, Config{Tuning: tun, SnapshotSink: sink})

	drawRectangle(t, s, diagram.Pos(0, 0, 0), diagram.Pos(1, 0, 1))
	select {
	case snap := <-sink:
		t.Fatalf("snapshot after one commit: %+v", snap.Header)
	default:
	}
	drawRectangle(t, s, diagram.Pos(0, 1, 0), diagram.Pos(1, 1, 1))
	select {
	case snap := <-sink:
		if snap.Header.Seq != 2 || snap.Header.BlockCount != 8 || snap.Header.SessionID != s.ID() {
			t.Fatalf("snapshot header: %+v", snap.Header)
		}
	default:
		t.Fatalf("expected snapshot after two commits")
	}

	do(t, s, Command{Op: OpSnapshot})
	select {
	case snap := <-sink:
		t.Fatalf("duplicate snapshot at same seq: %+v", snap.Header)
	default:
	}
}

func TestSession_DoAfterStop(t *testing.T) {
	s := startSession(t, Config{})
	s.Stop()
	if _, err := s.Do(context.Background(), Command{Op: OpInfo}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestSession_RestoreResumesSeq(t *testing.T) {
	sink := make(chan snapshot.SnapshotV1, 1)
	src := startSession(t, Config{SnapshotSink: sink})
	drawRectangle(t, src, diagram.Pos(0, 0, 0), diagram.Pos(2, 0, 2))
	do(t, src, Command{Op: OpSnapshot})
	snap := <-sink

	logs := &memCommitLog{}
	dst, err := New(src.Catalog(), Config{ID: snap.Header.SessionID, Tuning: tuning.Defaults(), CommitLogger: logs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := dst.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(logs.actions()) != 0 {
		t.Fatalf("restore was journaled: %v", logs.actions())
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = dst.Run(ctx) }()

	st := do(t, dst, Command{Op: OpInfo}).State
	if st.Seq != 1 || st.BlockCount != 8 || st.UndoName != "" {
		t.Fatalf("restored state: %+v", st)
	}
	st = drawRectangle(t, dst, diagram.Pos(0, 1, 0), diagram.Pos(1, 1, 1)).State
	if st.Seq != 2 {
		t.Fatalf("seq after restore: %d", st.Seq)
	}
	if got := logs.actions(); len(got) != 1 || got[0] != "Draw Rectangle" {
		t.Fatalf("actions: %v", got)
	}
}
