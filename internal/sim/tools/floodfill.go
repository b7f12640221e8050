package tools

import (
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/mathx"
	"voxeldiagram.app/internal/sim/tuning"
)

// FloodFill repaints the 4-connected x/z region of blocks sharing the seed's
// type. The region is clipped to a box around the seed, smaller while the
// seed is only proposed, so an unbounded area cannot run away.
type FloodFill struct {
	gesture
	limits tuning.FloodFill
}

func (*FloodFill) Kind() Kind         { return KindFloodFill }
func (*FloodFill) ActionName() string { return "Flood Fill" }

func (t *FloodFill) Draw(proto *catalogs.Prototype, o *catalogs.Orientation, oracle diagram.Oracle, tx *diagram.Transaction) error {
	if t.WantsMorePositions() {
		return ErrIncomplete
	}
	for _, old := range t.fill(oracle) {
		if proto.IsAir() {
			tx.Remove(old)
			continue
		}
		_ = tx.Replace(old, diagram.NewInstance(proto, old.Position(), o))
	}
	return nil
}

func (t *FloodFill) maxDistance() int {
	if t.state == StateProposed {
		return t.limits.PreviewMaxDistance
	}
	return t.limits.MaxDistance
}

type fillItem struct {
	pos   diagram.Position
	depth int
}

var fillNeighbors = [4]diagram.Position{
	{X: 1}, {X: -1}, {Z: 1}, {Z: -1},
}

// fill returns the matching blocks in visit order. Depth is the path length
// from the seed, which counts as 1.
func (t *FloodFill) fill(oracle diagram.Oracle) []diagram.Instance {
	seed := t.anchors[0]
	source := oracle.BlockAt(seed).Type()
	dist := t.maxDistance()
	maxDepth := t.limits.MaxDepth

	visited := map[diagram.Position]struct{}{}
	var out []diagram.Instance
	accept := func(p diagram.Position, depth int) bool {
		if _, ok := visited[p]; ok {
			return false
		}
		if mathx.AbsInt(p.X-seed.X) > dist || mathx.AbsInt(p.Z-seed.Z) > dist {
			return false
		}
		if depth > maxDepth {
			return false
		}
		inst := oracle.BlockAt(p)
		if inst.Type() != source {
			return false
		}
		visited[p] = struct{}{}
		out = append(out, inst)
		return true
	}

	if !accept(seed, 1) {
		return nil
	}
	queue := []fillItem{{pos: seed, depth: 1}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		for _, d := range fillNeighbors {
			n := it.pos.Add(d)
			if accept(n, it.depth+1) {
				queue = append(queue, fillItem{pos: n, depth: it.depth + 1})
			}
		}
	}
	return out
}
