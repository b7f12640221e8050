package tools

import (
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
)

// Circle draws the ellipse inscribed in the box spanned by two anchors.
type Circle struct {
	gesture
}

func (*Circle) Kind() Kind         { return KindCircle }
func (*Circle) ActionName() string { return "Draw Circle" }

func (t *Circle) Draw(proto *catalogs.Prototype, o *catalogs.Orientation, oracle diagram.Oracle, tx *diagram.Transaction) error {
	a, b, err := t.pair()
	if err != nil {
		return err
	}
	lo, hi := box(a, b)
	for _, p := range ellipsePoints(lo, hi) {
		place(tx, oracle, proto, o, p)
	}
	return nil
}

// ellipsePoints is the integer midpoint ellipse (Zingl) for the box lo..hi,
// plotting four quadrants per step. Flat ellipses stop early, so their tips
// are closed in a second pass. Points may repeat.
func ellipsePoints(lo, hi diagram.Position) []diagram.Position {
	y := lo.Y
	var out []diagram.Position
	set := func(x, z int64) { out = append(out, diagram.Pos(int(x), y, int(z))) }

	x0, x1 := int64(lo.X), int64(hi.X)
	z0, z1 := int64(lo.Z), int64(hi.Z)
	a := x1 - x0
	b := z1 - z0
	b1 := b & 1
	dx := 4 * (1 - a) * b * b
	dz := 4 * (b1 + 1) * a * a
	e := dx + dz + b1*a*a

	z0 += (b + 1) / 2
	z1 = z0 - b1
	a *= 8 * a
	b1 = 8 * b * b

	for {
		set(x1, z0)
		set(x0, z0)
		set(x0, z1)
		set(x1, z1)
		e2 := 2 * e
		if e2 <= dz {
			z0++
			z1--
			dz += a
			e += dz
		}
		if e2 >= dx || 2*e > dz {
			x0++
			x1--
			dx += b1
			e += dx
		}
		if x0 > x1 {
			break
		}
	}
	for z0-z1 < b {
		set(x0-1, z0)
		set(x1+1, z0)
		z0++
		set(x0-1, z1)
		set(x1+1, z1)
		z1--
	}
	return out
}
