package tools

import (
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/mathx"
)

// Line draws a Bresenham line between two anchors on the x/z plane.
type Line struct {
	gesture
}

func (*Line) Kind() Kind         { return KindLine }
func (*Line) ActionName() string { return "Draw Line" }

func (t *Line) Draw(proto *catalogs.Prototype, o *catalogs.Orientation, oracle diagram.Oracle, tx *diagram.Transaction) error {
	start, end, err := t.pair()
	if err != nil {
		return err
	}
	for _, p := range linePoints(start, end) {
		place(tx, oracle, proto, o, p)
	}
	return nil
}

// linePoints rasterizes start..end at start's elevation. The walk always
// runs in +x; z steps toward the far end.
func linePoints(start, end diagram.Position) []diagram.Position {
	x1, z1, x2, z2 := start.X, start.Z, end.X, end.Z
	if x1 > x2 {
		x1, z1, x2, z2 = x2, z2, x1, z1
	}
	y := start.Y
	dx := mathx.AbsInt(x2 - x1)
	dz := mathx.AbsInt(z2 - z1)
	step := 1
	if z2 < z1 {
		step = -1
	}

	x, z := x1, z1
	out := []diagram.Position{diagram.Pos(x, y, z)}
	if dx > dz {
		twoDz := 2 * dz
		twoDzDx := 2 * (dz - dx)
		diff := 2*dz - dx
		for x < x2 {
			x++
			if diff < 0 {
				diff += twoDz
			} else {
				z += step
				diff += twoDzDx
			}
			out = append(out, diagram.Pos(x, y, z))
		}
		return out
	}
	twoDx := 2 * dx
	twoDxDz := 2 * (dx - dz)
	diff := 2*dx - dz
	// z moves one cell per iteration, so it lands on z2 exactly.
	for z != z2 {
		z += step
		if diff < 0 {
			diff += twoDx
		} else {
			x++
			diff += twoDxDz
		}
		out = append(out, diagram.Pos(x, y, z))
	}
	return out
}
