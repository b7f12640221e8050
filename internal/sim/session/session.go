package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"voxeldiagram.app/internal/metrics"
	"voxeldiagram.app/internal/persistence/snapshot"
	"voxeldiagram.app/internal/protocol"
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/tools"
	"voxeldiagram.app/internal/sim/tuning"
)

type Config struct {
	ID     string
	Tuning tuning.Tuning
	Logger *log.Logger

	// Listeners are subscribed to the diagram before the loop starts. They
	// run on the loop goroutine and must not block.
	Listeners []diagram.Listener

	// Optional sidecars (may be nil).
	CommitLogger CommitLogger
	SnapshotSink chan<- snapshot.SnapshotV1
}

// Session owns one open diagram, its undo history and the active tool.
// All state must be accessed only from the loop goroutine; other goroutines
// go through Do.
type Session struct {
	id     string
	cfg    Config
	cat    *catalogs.Catalog
	logger *log.Logger

	doc  *diagram.Diagram
	undo *diagram.UndoStack

	tools  map[tools.Kind]tools.Tool
	active tools.Tool
	proto  *catalogs.Prototype
	orient *catalogs.Orientation

	seq            uint64
	action         string
	sinceSnapshot  int
	lastSnapshotAt uint64
	restoring      bool

	inbox chan Request
	stop  chan struct{}
}

func New(cat *catalogs.Catalog, cfg Config) (*Session, error) {
	if cat == nil {
		return nil, errors.New("session: nil catalog")
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags|log.Lmicroseconds)
	}
	s := &Session{
		id:     cfg.ID,
		cfg:    cfg,
		cat:    cat,
		logger: logger,
		doc:    diagram.New(cat),
		undo:   diagram.NewUndoStack(cfg.Tuning.Undo.Limit),
		tools:  map[tools.Kind]tools.Tool{},
		inbox:  make(chan Request, 256),
		stop:   make(chan struct{}),
	}
	pencil, err := s.tool(tools.KindPencil)
	if err != nil {
		return nil, err
	}
	s.active = pencil
	s.proto = cat.Fallback()
	s.orient = s.proto.DefaultOrientation()

	s.doc.Subscribe(diagram.ListenerFunc(s.onCommit))
	for _, l := range cfg.Listeners {
		s.doc.Subscribe(l)
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Catalog() *catalogs.Catalog { return s.cat }

func (s *Session) Inbox() chan<- Request { return s.inbox }

func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.inbox:
			resp := s.handle(req.Cmd)
			select {
			case req.Resp <- resp:
			default:
			}
		}
	}
}

func (s *Session) Stop() { close(s.stop) }

// Do sends cmd to the loop and waits for its response.
func (s *Session) Do(ctx context.Context, cmd Command) (Response, error) {
	select {
	case <-s.stop:
		return Response{}, ErrStopped
	default:
	}
	req := Request{Cmd: cmd, Resp: make(chan Response, 1)}
	select {
	case s.inbox <- req:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-s.stop:
		return Response{}, ErrStopped
	}
	select {
	case resp := <-req.Resp:
		return resp, resp.Err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-s.stop:
		return Response{}, ErrStopped
	}
}

func (s *Session) handle(cmd Command) (resp Response) {
	start := time.Now()
	defer func() {
		metrics.CommandDuration.WithLabelValues(string(cmd.Op)).Observe(time.Since(start).Seconds())
		if resp.Err != nil {
			metrics.CommandErrorsTotal.WithLabelValues(string(cmd.Op)).Inc()
		}
	}()

	var err error
	switch cmd.Op {
	case OpSelectTool:
		err = s.selectTool(cmd.Tool)
	case OpSelectBlock:
		err = s.selectBlock(cmd.Block, cmd.BlockName)
	case OpSelectOrientation:
		err = s.selectOrientation(cmd.Orientation)
	case OpPropose:
		s.active.Propose(cmd.Pos)
		s.refreshPreview()
	case OpAccept:
		s.active.AcceptLast()
	case OpClear:
		s.active.Clear()
		s.doc.ClearPreview()
	case OpFinish:
		err = s.finish()
	case OpUndo:
		err = s.undoOne()
	case OpRedo:
		err = s.redoOne()
	case OpCopyLevel:
		s.push("Copy Level", s.doc.CopyLevelTransaction(cmd.Src, cmd.Dst))
	case OpSave:
		err = s.save(cmd.Path)
	case OpLoad:
		err = s.load(cmd.Path)
	case OpInfo:
	case OpBlocks:
		resp.Blocks = BlocksFromInstances(s.doc.Blocks())
	case OpLevel:
		resp.Blocks = s.levelBlocks(cmd.Level)
	case OpSnapshot:
		err = s.snapshotNow()
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
	}
	resp.Err = err
	resp.State = s.state()
	return resp
}

func (s *Session) tool(k tools.Kind) (tools.Tool, error) {
	if t, ok := s.tools[k]; ok {
		return t, nil
	}
	t, err := tools.New(k, tools.EnvFromTuning(s.cat, s.cfg.Tuning))
	if err != nil {
		return nil, err
	}
	s.tools[k] = t
	return t, nil
}

func (s *Session) selectTool(k tools.Kind) error {
	next, err := s.tool(k)
	if err != nil {
		return err
	}
	if next == s.active {
		return nil
	}
	tools.CopyAnchors(next, s.active)
	s.active.Clear()
	s.active = next
	s.refreshPreview()
	return nil
}

func (s *Session) selectBlock(t catalogs.BlockType, name string) error {
	var (
		p  *catalogs.Prototype
		ok bool
	)
	if name != "" {
		p, ok = s.cat.ByName(name)
	} else {
		p, ok = s.cat.Lookup(t)
	}
	if !ok {
		if name != "" {
			return fmt.Errorf("%w: %q", ErrUnknownBlock, name)
		}
		return fmt.Errorf("%w: %d", ErrUnknownBlock, t)
	}
	s.proto = p
	s.orient = p.DefaultOrientation()
	s.refreshPreview()
	return nil
}

func (s *Session) selectOrientation(name string) error {
	o, ok := s.cat.Orientations().Lookup(name)
	if !ok || !s.proto.HasOrientation(o) {
		return fmt.Errorf("%w: %q on %s", ErrBadOrientation, name, s.proto.Name())
	}
	s.orient = o
	s.refreshPreview()
	return nil
}

// refreshPreview redraws the active gesture into the overlay, or drops the
// overlay when the gesture is not drawable yet.
func (s *Session) refreshPreview() {
	if s.active.WantsMorePositions() {
		s.doc.ClearPreview()
		return
	}
	tx := diagram.NewTransaction()
	if err := s.active.Draw(s.proto, s.orient, s.doc, tx); err != nil {
		s.doc.ClearPreview()
		return
	}
	s.doc.CommitEphemeral(tx)
}

func (s *Session) finish() error {
	tx := diagram.NewTransaction()
	if err := s.active.Draw(s.proto, s.orient, s.doc, tx); err != nil {
		return err
	}
	s.push(s.active.ActionName(), tx)
	s.active.Clear()
	s.doc.ClearPreview()
	return nil
}

// push records tx as one undoable edit and commits it. Empty transactions
// are dropped.
func (s *Session) push(name string, tx *diagram.Transaction) {
	if tx.Empty() {
		return
	}
	s.action = name
	s.undo.Push(diagram.NewUndoRecord(s.doc, name, tx))
	metrics.UndoDepth.Set(float64(s.undo.Index()))
}

func (s *Session) undoOne() error {
	if !s.undo.CanUndo() {
		return ErrNothingToUndo
	}
	s.action = "Undo " + s.undo.UndoName()
	s.undo.Undo()
	metrics.UndoDepth.Set(float64(s.undo.Index()))
	return nil
}

func (s *Session) redoOne() error {
	if !s.undo.CanRedo() {
		return ErrNothingToRedo
	}
	s.action = "Redo " + s.undo.RedoName()
	s.undo.Redo()
	metrics.UndoDepth.Set(float64(s.undo.Index()))
	return nil
}

func (s *Session) save(path string) error {
	if path == "" {
		return errors.New("save: empty path")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.doc.Save(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.undo.SetClean()
	s.logger.Printf("saved %d blocks to %s", s.doc.BlockCount(), path)
	return nil
}

// load replaces the document. The load itself is not undoable and the
// previous history is dropped.
func (s *Session) load(path string) error {
	if path == "" {
		return errors.New("load: empty path")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	tx, h, err := s.doc.LoadTransaction(f)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	for _, t := range s.tools {
		t.Clear()
	}
	s.doc.ClearPreview()
	s.action = "Load"
	s.doc.Commit(tx)
	s.undo.Clear()
	metrics.UndoDepth.Set(0)
	s.logger.Printf("loaded %s: version=0x%04x header_count=%d blocks=%d", path, h.Version, h.BlockCount, s.doc.BlockCount())
	return nil
}

func (s *Session) levelBlocks(n int) []protocol.Block {
	lvl := s.doc.Level(n)
	insts := make([]diagram.Instance, 0, len(lvl))
	for _, inst := range lvl {
		insts = append(insts, inst)
	}
	sortInstances(insts)
	return BlocksFromInstances(insts)
}

// onCommit runs for every commit, before other listeners.
func (s *Session) onCommit(tx *diagram.Transaction) {
	if s.restoring {
		return
	}
	s.seq++
	action := s.action
	if action == "" {
		action = "Commit"
	}
	s.action = ""

	metrics.CommitsTotal.WithLabelValues(action).Inc()
	metrics.BlocksChangedTotal.WithLabelValues("removed").Add(float64(len(tx.Removed())))
	metrics.BlocksChangedTotal.WithLabelValues("added").Add(float64(len(tx.Added())))
	metrics.Blocks.Set(float64(s.doc.BlockCount()))

	if s.cfg.CommitLogger != nil {
		entry := CommitEntry{
			Seq:        s.seq,
			SessionID:  s.id,
			Time:       time.Now().UTC().Format(time.RFC3339Nano),
			Action:     action,
			Removed:    BlocksFromInstances(tx.Removed()),
			Added:      BlocksFromInstances(tx.Added()),
			BlockCount: s.doc.BlockCount(),
		}
		if err := s.cfg.CommitLogger.WriteCommit(entry); err != nil {
			s.logger.Printf("commit log: %v", err)
		}
	}

	s.sinceSnapshot++
	if every := s.cfg.Tuning.Snapshot.EveryCommits; every > 0 && s.sinceSnapshot >= every {
		_ = s.snapshotNow()
	}
}

// Restore replaces the diagram with snap and resumes numbering at its
// sequence. It must be called before Run. Nothing is journaled.
func (s *Session) Restore(snap snapshot.SnapshotV1) error {
	tx, _, err := s.doc.LoadTransaction(bytes.NewReader(snap.Diagram))
	if err != nil {
		return fmt.Errorf("restore seq=%d: %w", snap.Header.Seq, err)
	}
	s.restoring = true
	s.doc.Commit(tx)
	s.restoring = false
	s.undo.Clear()
	s.seq = snap.Header.Seq
	s.lastSnapshotAt = s.seq
	s.sinceSnapshot = 0
	metrics.Blocks.Set(float64(s.doc.BlockCount()))
	metrics.UndoDepth.Set(0)
	return nil
}

// Seq is the number of commits so far. Loop goroutine only.
func (s *Session) Seq() uint64 { return s.seq }

func (s *Session) snapshotNow() error {
	if s.cfg.SnapshotSink == nil {
		return nil
	}
	if s.lastSnapshotAt == s.seq && s.seq != 0 {
		return nil
	}
	snap, err := snapshot.Capture(s.doc, snapshot.Header{
		SessionID:     s.id,
		Seq:           s.seq,
		CatalogDigest: s.cat.Digest,
	})
	if err != nil {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		return err
	}
	s.sinceSnapshot = 0
	s.lastSnapshotAt = s.seq
	select {
	case s.cfg.SnapshotSink <- snap:
		metrics.SnapshotsTotal.WithLabelValues("queued").Inc()
	default:
		metrics.SnapshotsTotal.WithLabelValues("dropped").Inc()
		s.logger.Printf("snapshot sink full; dropped seq=%d", s.seq)
	}
	return nil
}

func (s *Session) state() protocol.SessionState {
	st := protocol.SessionState{
		Seq:         s.seq,
		Tool:        s.active.Kind().String(),
		ToolState:   s.active.State().String(),
		Ready:       !s.active.WantsMorePositions(),
		Block:       int32(s.proto.Type()),
		Orientation: s.orient.Name(),
		BlockCount:  s.doc.BlockCount(),
		Levels:      s.doc.Levels(),
		UndoName:    s.undo.UndoName(),
		RedoName:    s.undo.RedoName(),
		Modified:    !s.undo.IsClean(),
	}
	for _, p := range s.active.Anchors() {
		st.Anchors = append(st.Anchors, p.ToArray())
	}
	return st
}
