package tools

import (
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
)

// Eraser removes whatever is at every anchor of the drag. The prototype
// passed to Draw is ignored.
type Eraser struct {
	gesture
}

func (*Eraser) Kind() Kind         { return KindEraser }
func (*Eraser) ActionName() string { return "Erase Blocks" }

func (t *Eraser) Draw(_ *catalogs.Prototype, _ *catalogs.Orientation, oracle diagram.Oracle, tx *diagram.Transaction) error {
	if t.WantsMorePositions() {
		return ErrIncomplete
	}
	for _, p := range t.anchors {
		tx.Remove(oracle.BlockAt(p))
	}
	return nil
}
