package diagram

import (
	"fmt"
	"math"
)

// Position is an integer grid coordinate identifying one voxel. Y is the
// elevation.
type Position struct {
	X, Y, Z int
}

func Pos(x, y, z int) Position { return Position{X: x, Y: y, Z: z} }

func (p Position) Add(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

func (p Position) Sub(o Position) Position {
	return Position{X: p.X - o.X, Y: p.Y - o.Y, Z: p.Z - o.Z}
}

// Corner is the voxel's minimum corner in world space.
func (p Position) Corner() Vec3 {
	return Vec3{X: float32(p.X), Y: float32(p.Y), Z: float32(p.Z)}
}

// Center is the midpoint of the voxel.
func (p Position) Center() Vec3 {
	return Vec3{X: float32(p.X) + 0.5, Y: float32(p.Y) + 0.5, Z: float32(p.Z) + 0.5}
}

func (p Position) ToArray() [3]int { return [3]int{p.X, p.Y, p.Z} }

func (p Position) String() string { return fmt.Sprintf("(%d, %d, %d)", p.X, p.Y, p.Z) }

// Less orders positions by elevation, then z, then x.
func (p Position) Less(o Position) bool {
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	if p.Z != o.Z {
		return p.Z < o.Z
	}
	return p.X < o.X
}

type Vec3 struct {
	X, Y, Z float32
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func (v Vec3) Length() float64 {
	x, y, z := float64(v.X), float64(v.Y), float64(v.Z)
	return math.Sqrt(x*x + y*y + z*z)
}

// PositionFromVec rounds a world-space vector to the voxel containing it.
// The +0.25 bias absorbs float error (999.9999 stays 1000) while .5 still
// rounds up.
func PositionFromVec(v Vec3) Position {
	return Position{
		X: int(math.Floor(float64(v.X + 0.25))),
		Y: int(math.Floor(float64(v.Y + 0.25))),
		Z: int(math.Floor(float64(v.Z + 0.25))),
	}
}
