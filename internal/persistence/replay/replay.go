// Package replay rebuilds a diagram from a snapshot and the commit journal
// written after it.
package replay

import (
	"errors"
	"fmt"

	persistlog "voxeldiagram.app/internal/persistence/log"
	"voxeldiagram.app/internal/protocol"
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/session"
)

var (
	ErrGap      = errors.New("replay: journal gap")
	ErrMismatch = errors.New("replay: block count mismatch")
)

// Result describes a journal pass. To is the last sequence number applied,
// or From when nothing was.
type Result struct {
	From    uint64
	To      uint64
	Applied int
	Skipped int
}

// Apply commits the removals and additions of e to d as one transaction and
// returns it.
func Apply(d *diagram.Diagram, e session.CommitEntry) *diagram.Transaction {
	cat := d.Catalog()
	tx := diagram.NewTransaction()
	for _, b := range e.Removed {
		tx.Remove(d.BlockAt(pos(b)))
	}
	for _, b := range e.Added {
		proto := cat.Prototype(catalogs.BlockType(b.Type))
		tx.Add(diagram.NewInstance(proto, pos(b), cat.Orientations().Get(b.Orientation)))
	}
	d.Commit(tx)
	return tx
}

// Journal applies every entry under dataDir with a sequence number above
// from, in order. Entries at or below the last applied sequence are skipped.
// It stops at the first gap or block count mismatch. An entry whose count
// does not match is rolled back, so Result.To is always the last good entry
// and d holds exactly the state after it.
func Journal(d *diagram.Diagram, dataDir string, from uint64) (Result, error) {
	res := Result{From: from, To: from}
	err := persistlog.ReadCommits(dataDir, func(e session.CommitEntry) error {
		if e.Seq <= res.To {
			res.Skipped++
			return nil
		}
		if e.Seq != res.To+1 {
			return fmt.Errorf("%w: have seq %d, next entry is %d", ErrGap, res.To, e.Seq)
		}
		tx := Apply(d, e)
		if got := d.BlockCount(); got != e.BlockCount {
			d.Commit(tx.Reversed())
			return fmt.Errorf("%w at seq %d (%s): have %d, journal says %d", ErrMismatch, e.Seq, e.Action, got, e.BlockCount)
		}
		res.To = e.Seq
		res.Applied++
		return nil
	})
	return res, err
}

func pos(b protocol.Block) diagram.Position {
	return diagram.Pos(b.Pos[0], b.Pos[1], b.Pos[2])
}
