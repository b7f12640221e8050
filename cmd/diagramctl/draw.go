package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"voxeldiagram.app/internal/persistence/snapshot"
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/session"
	"voxeldiagram.app/internal/sim/tools"
	"voxeldiagram.app/internal/sim/tuning"
)

type posList []diagram.Position

func (l *posList) String() string {
	parts := make([]string, len(*l))
	for i, p := range *l {
		parts[i] = fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z)
	}
	return strings.Join(parts, " ")
}

func (l *posList) Set(s string) error {
	p, err := parsePos(s)
	if err != nil {
		return err
	}
	*l = append(*l, p)
	return nil
}

type drawOptions struct {
	In          string
	Out         string
	Tool        string
	Block       string
	Orientation string
	Anchors     []diagram.Position
	Tuning      tuning.Tuning
}

func drawCmd(args []string) error {
	fs := flag.NewFlagSet("draw", flag.ExitOnError)
	configDir := fs.String("configs", "./configs", "config directory")
	tuningPath := fs.String("tuning", "", "path to editor.yaml (default: <configs>/editor.yaml)")
	in := fs.String("in", "", "diagram or snapshot to start from (optional)")
	out := fs.String("out", "", "output path; .snap.zst writes a snapshot (default: -in)")
	tool := fs.String("tool", "pencil", "tool name")
	block := fs.String("block", "", "block name or numeric id (default: catalog fallback)")
	orient := fs.String("orientation", "", "orientation name")
	var anchors posList
	fs.Var(&anchors, "at", "anchor x,y,z (repeat in gesture order)")
	_ = fs.Parse(args)

	target := *out
	if target == "" {
		target = *in
	}
	if target == "" {
		usageError("missing -out")
	}
	if len(anchors) == 0 {
		usageError("missing -at")
	}
	cat, err := catalogs.Load(*configDir)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	tp := *tuningPath
	if tp == "" {
		tp = filepath.Join(*configDir, "editor.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		tune = tuning.Defaults()
	}

	st, err := runDraw(context.Background(), cat, drawOptions{
		In:          *in,
		Out:         target,
		Tool:        *tool,
		Block:       *block,
		Orientation: *orient,
		Anchors:     anchors,
		Tuning:      tune,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s: blocks=%d levels=%v -> %s\n", st.action, st.blocks, st.levels, target)
	return nil
}

type drawResult struct {
	action string
	blocks int
	levels []int
}

// runDraw drives an offline session through one gesture: select the tool
// and block, propose each anchor (accepting all but the last), finish, then
// save.
func runDraw(ctx context.Context, cat *catalogs.Catalog, opts drawOptions) (drawResult, error) {
	kind, err := tools.ParseKind(opts.Tool)
	if err != nil {
		return drawResult{}, err
	}
	tune := opts.Tuning
	if tune == (tuning.Tuning{}) {
		tune = tuning.Defaults()
	}
	sink := make(chan snapshot.SnapshotV1, 1)
	sess, err := session.New(cat, session.Config{
		ID:           "diagramctl",
		Tuning:       tune,
		Logger:       log.New(io.Discard, "", 0),
		SnapshotSink: sink,
	})
	if err != nil {
		return drawResult{}, err
	}
	if isSnapshotPath(opts.In) {
		snap, err := snapshot.ReadSnapshot(opts.In)
		if err != nil {
			return drawResult{}, err
		}
		if err := sess.Restore(snap); err != nil {
			return drawResult{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	go func() { _ = sess.Run(ctx) }()
	defer sess.Stop()

	cmds := []session.Command{}
	if opts.In != "" && !isSnapshotPath(opts.In) {
		cmds = append(cmds, session.Command{Op: session.OpLoad, Path: opts.In})
	}
	cmds = append(cmds, session.Command{Op: session.OpSelectTool, Tool: kind})
	if opts.Block != "" {
		c := session.Command{Op: session.OpSelectBlock}
		if id, err := strconv.Atoi(opts.Block); err == nil {
			c.Block = catalogs.BlockType(id)
		} else {
			c.BlockName = opts.Block
		}
		cmds = append(cmds, c)
	}
	if opts.Orientation != "" {
		cmds = append(cmds, session.Command{Op: session.OpSelectOrientation, Orientation: opts.Orientation})
	}
	for i, p := range opts.Anchors {
		cmds = append(cmds, session.Command{Op: session.OpPropose, Pos: p})
		if i < len(opts.Anchors)-1 {
			cmds = append(cmds, session.Command{Op: session.OpAccept})
		}
	}
	cmds = append(cmds, session.Command{Op: session.OpFinish})

	var resp session.Response
	for _, c := range cmds {
		if resp, err = doCmd(ctx, sess, c); err != nil {
			return drawResult{}, err
		}
	}
	res := drawResult{action: resp.State.UndoName, blocks: resp.State.BlockCount, levels: resp.State.Levels}

	if !isSnapshotPath(opts.Out) {
		_, err = doCmd(ctx, sess, session.Command{Op: session.OpSave, Path: opts.Out})
		return res, err
	}
	if _, err := doCmd(ctx, sess, session.Command{Op: session.OpSnapshot}); err != nil {
		return res, err
	}
	select {
	case snap := <-sink:
		return res, snapshot.WriteSnapshot(opts.Out, snap)
	case <-ctx.Done():
		return res, ctx.Err()
	}
}

func doCmd(ctx context.Context, sess *session.Session, c session.Command) (session.Response, error) {
	resp, err := sess.Do(ctx, c)
	if err == nil {
		err = resp.Err
	}
	if err != nil {
		return resp, fmt.Errorf("%s: %w", c.Op, err)
	}
	return resp, nil
}
