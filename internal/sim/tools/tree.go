package tools

import (
	"time"

	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/mathx"
	"voxeldiagram.app/internal/sim/tuning"
)

const (
	typeLog    = 0x11
	typePlanks = 0x05
	typeLeaves = 0x12
)

// Tree plants a trunk of the selected block topped by a leaf canopy. Trunk
// height, canopy size and the ragged canopy edge come from a per-gesture
// seed, so redrawing the same gesture gives the same tree and Clear rolls a
// new one.
type Tree struct {
	gesture
	cat    *catalogs.Catalog
	params tuning.Tree
	seed   int64
}

func newTree(env Env) *Tree {
	seed := env.Tree.Seed
	if seed == 0 {
		now := env.Now
		if now == nil {
			now = time.Now
		}
		seed = now().UnixNano()
	}
	return &Tree{
		gesture: gesture{need: 1},
		cat:     env.Catalog,
		params:  env.Tree,
		seed:    mathx.NextSeed(seed),
	}
}

func (*Tree) Kind() Kind         { return KindTree }
func (*Tree) ActionName() string { return "Plant Tree" }

func (t *Tree) Seed() int64 { return t.seed }

// SetSeed pins the generator, e.g. to replay a recorded gesture.
func (t *Tree) SetSeed(seed int64) { t.seed = seed }

func (t *Tree) Clear() {
	t.gesture.Clear()
	t.seed = mathx.NextSeed(t.seed)
}

// LeafType picks leaves matching the wood: logs and planks keep their
// variant bits, anything else gets plain leaves.
func LeafType(trunk catalogs.BlockType) catalogs.BlockType {
	base := int32(trunk) & 0xFFFF
	if base == typeLog || base == typePlanks {
		return catalogs.BlockType(int32(trunk)&0xFF0000 + typeLeaves)
	}
	return typeLeaves
}

func (t *Tree) Draw(proto *catalogs.Prototype, o *catalogs.Orientation, oracle diagram.Oracle, tx *diagram.Transaction) error {
	if t.WantsMorePositions() {
		return ErrIncomplete
	}
	root := t.anchors[0]
	height, radius := t.shape()

	for dy := 0; dy < height; dy++ {
		place(tx, oracle, proto, o, root.Add(diagram.Pos(0, dy, 0)))
	}

	leaf := t.leafPrototype(proto)
	leafO := leaf.DefaultOrientation()
	top := root.Add(diagram.Pos(0, height-1, 0))
	inner := float64(radius - 1)
	for dy := -radius; dy <= radius; dy++ {
		for dz := -radius; dz <= radius; dz++ {
			for dx := -radius; dx <= radius; dx++ {
				off := diagram.Pos(dx, dy, dz)
				p := top.Add(off)
				if tx.Adds(p) {
					continue
				}
				dist := p.Center().Sub(top.Center()).Length()
				if dist > float64(radius)+0.5 {
					continue
				}
				if !oracle.BlockAt(p).IsAir() {
					continue
				}
				if dist > inner && !t.keepsEdge(off) {
					continue
				}
				tx.Add(diagram.NewInstance(leaf, p, leafO))
			}
		}
	}
	return nil
}

// shape is the trunk height and canopy radius for the current seed.
func (t *Tree) shape() (height, radius int) {
	height = mathx.IntIn(mathx.Hash2(t.seed, 0, 1), t.params.TrunkMin, t.params.TrunkMax)
	radius = mathx.IntIn(mathx.Hash2(t.seed, 0, 2), t.params.CanopyRadiusMin, t.params.CanopyRadiusMax)
	return height, radius
}

// keepsEdge is the coin flip for a canopy cell outside radius-1, by its
// offset from the trunk top.
func (t *Tree) keepsEdge(off diagram.Position) bool {
	return mathx.Hash3(t.seed, off.X, off.Y, off.Z)&1 == 1
}

func (t *Tree) leafPrototype(trunk *catalogs.Prototype) *catalogs.Prototype {
	if t.cat == nil {
		return trunk
	}
	return t.cat.Prototype(LeafType(trunk.Type()))
}
