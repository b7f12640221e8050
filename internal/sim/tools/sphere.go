package tools

import (
	"math"

	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/mathx"
)

// Sphere draws a hollow sphere whose diameter is the larger horizontal
// extent between two anchors. It grows from the first anchor toward the
// second and always upward.
type Sphere struct {
	gesture
}

func (*Sphere) Kind() Kind         { return KindSphere }
func (*Sphere) ActionName() string { return "Draw Sphere" }

func (t *Sphere) Draw(proto *catalogs.Prototype, o *catalogs.Orientation, oracle diagram.Oracle, tx *diagram.Transaction) error {
	start, end, err := t.pair()
	if err != nil {
		return err
	}
	for _, p := range spherePoints(start, end) {
		place(tx, oracle, proto, o, p)
	}
	return nil
}

func spherePoints(start, end diagram.Position) []diagram.Position {
	size := mathx.MaxInt(mathx.AbsInt(end.X-start.X), mathx.AbsInt(end.Z-start.Z))
	radius := float64(size) / 2
	xi := mathx.Step(start.X, end.X)
	zi := mathx.Step(start.Z, end.Z)
	r := float32(radius)
	center := start.Center().Add(diagram.Vec3{X: r * float32(xi), Y: r, Z: r * float32(zi)})

	var out []diagram.Position
	for z := 0; z <= size; z++ {
		for y := 0; y <= size; y++ {
			for x := 0; x <= size; x++ {
				p := diagram.Pos(start.X+x*xi, start.Y+y, start.Z+z*zi)
				dist := p.Center().Sub(center).Length()
				if math.Abs(radius-dist) < 0.5 {
					out = append(out, p)
				}
			}
		}
	}
	return out
}
