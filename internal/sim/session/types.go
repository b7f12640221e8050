package session

import (
	"errors"
	"sort"

	"voxeldiagram.app/internal/protocol"
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/tools"
)

var (
	ErrUnknownBlock   = errors.New("unknown block type")
	ErrBadOrientation = errors.New("orientation not valid for block")
	ErrNothingToUndo  = errors.New("nothing to undo")
	ErrNothingToRedo  = errors.New("nothing to redo")
	ErrUnknownOp      = errors.New("unknown op")
	ErrStopped        = errors.New("session stopped")
)

type Op string

const (
	OpSelectTool        Op = "select_tool"
	OpSelectBlock       Op = "select_block"
	OpSelectOrientation Op = "select_orientation"
	OpPropose           Op = "propose"
	OpAccept            Op = "accept"
	OpClear             Op = "clear"
	OpFinish            Op = "finish"
	OpUndo              Op = "undo"
	OpRedo              Op = "redo"
	OpCopyLevel         Op = "copy_level"
	OpSave              Op = "save"
	OpLoad              Op = "load"
	OpInfo              Op = "info"
	OpBlocks            Op = "blocks"
	OpLevel             Op = "level"
	OpSnapshot          Op = "snapshot"
)

// Command is one request to the session loop. Only the fields the Op uses
// are read.
type Command struct {
	Op          Op
	Tool        tools.Kind
	Block       catalogs.BlockType
	BlockName   string
	Orientation string
	Pos         diagram.Position
	Src, Dst    int
	Level       int
	Path        string
}

type Request struct {
	Cmd  Command
	Resp chan Response
}

type Response struct {
	State  protocol.SessionState
	Blocks []protocol.Block
	Err    error
}

// CommitLogger receives one entry per commit. Implemented in
// internal/persistence/log.
type CommitLogger interface {
	WriteCommit(entry CommitEntry) error
}

// CommitLoggers writes each entry to every logger in order. All loggers run;
// the first error is returned.
type CommitLoggers []CommitLogger

func (ls CommitLoggers) WriteCommit(entry CommitEntry) error {
	var first error
	for _, l := range ls {
		if l == nil {
			continue
		}
		if err := l.WriteCommit(entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type CommitEntry struct {
	Seq        uint64           `json:"seq"`
	SessionID  string           `json:"session_id"`
	Time       string           `json:"time"`
	Action     string           `json:"action"`
	Removed    []protocol.Block `json:"removed,omitempty"`
	Added      []protocol.Block `json:"added,omitempty"`
	BlockCount int              `json:"block_count"`
}

// BlockFromInstance converts a stored block to its wire form.
func BlockFromInstance(inst diagram.Instance) protocol.Block {
	b := protocol.Block{Pos: inst.Position().ToArray(), Type: int32(inst.Type())}
	if o := inst.Orientation(); o != nil {
		b.Orientation = o.Name()
	}
	return b
}

func BlocksFromInstances(in []diagram.Instance) []protocol.Block {
	if len(in) == 0 {
		return nil
	}
	out := make([]protocol.Block, len(in))
	for i, inst := range in {
		out[i] = BlockFromInstance(inst)
	}
	return out
}

func sortInstances(in []diagram.Instance) {
	sort.Slice(in, func(i, j int) bool { return in[i].Position().Less(in[j].Position()) })
}
