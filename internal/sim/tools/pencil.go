package tools

import (
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
)

// Pencil places the block at every anchor of the drag.
type Pencil struct {
	gesture
}

func (*Pencil) Kind() Kind         { return KindPencil }
func (*Pencil) ActionName() string { return "Pencil" }

func (t *Pencil) Draw(proto *catalogs.Prototype, o *catalogs.Orientation, oracle diagram.Oracle, tx *diagram.Transaction) error {
	if t.WantsMorePositions() {
		return ErrIncomplete
	}
	for _, p := range t.anchors {
		place(tx, oracle, proto, o, p)
	}
	return nil
}
