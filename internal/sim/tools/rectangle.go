package tools

import (
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
)

// Rectangle draws the axis-aligned box spanned by two anchors, either its
// border or, when filled, every cell inside it.
type Rectangle struct {
	gesture
	filled bool
}

func (t *Rectangle) Kind() Kind {
	if t.filled {
		return KindFilledRectangle
	}
	return KindRectangle
}

func (t *Rectangle) ActionName() string {
	if t.filled {
		return "Fill Rectangle"
	}
	return "Draw Rectangle"
}

func (t *Rectangle) Draw(proto *catalogs.Prototype, o *catalogs.Orientation, oracle diagram.Oracle, tx *diagram.Transaction) error {
	a, b, err := t.pair()
	if err != nil {
		return err
	}
	lo, hi := box(a, b)
	y := lo.Y
	if t.filled {
		for x := lo.X; x <= hi.X; x++ {
			for z := lo.Z; z <= hi.Z; z++ {
				place(tx, oracle, proto, o, diagram.Pos(x, y, z))
			}
		}
		return nil
	}
	for x := lo.X; x <= hi.X; x++ {
		place(tx, oracle, proto, o, diagram.Pos(x, y, lo.Z))
		place(tx, oracle, proto, o, diagram.Pos(x, y, hi.Z))
	}
	for z := lo.Z; z <= hi.Z; z++ {
		place(tx, oracle, proto, o, diagram.Pos(lo.X, y, z))
		place(tx, oracle, proto, o, diagram.Pos(hi.X, y, z))
	}
	return nil
}
