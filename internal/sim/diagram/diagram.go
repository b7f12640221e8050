package diagram

import (
	"sort"

	"voxeldiagram.app/internal/sim/catalogs"
)

// Listener receives every committed transaction in forward order.
type Listener interface {
	DiagramChanged(tx *Transaction)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(tx *Transaction)

func (f ListenerFunc) DiagramChanged(tx *Transaction) { f(tx) }

// PreviewListener is optionally implemented by listeners that also want
// preview overlay updates.
type PreviewListener interface {
	PreviewChanged(tx *Transaction)
}

// Diagram is the sparse block store of one open document. It is not safe for
// concurrent use; all mutation goes through Commit.
type Diagram struct {
	cat *catalogs.Catalog

	blocks map[Position]Instance
	// levels indexes blocks by elevation. A position is in blocks iff it is in
	// levels[pos.Y].
	levels map[int]map[Position]Instance

	preview preview

	listeners []subscription
	nextSub   uint64
}

type subscription struct {
	id uint64
	l  Listener
}

func New(cat *catalogs.Catalog) *Diagram {
	return &Diagram{
		cat:    cat,
		blocks: map[Position]Instance{},
		levels: map[int]map[Position]Instance{},
	}
}

func (d *Diagram) Catalog() *catalogs.Catalog { return d.cat }

// Subscribe registers l and returns a function that removes it.
func (d *Diagram) Subscribe(l Listener) (unsubscribe func()) {
	d.nextSub++
	id := d.nextSub
	d.listeners = append(d.listeners, subscription{id: id, l: l})
	return func() {
		for i, s := range d.listeners {
			if s.id == id {
				d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
				return
			}
		}
	}
}

// BlockAt implements Oracle against the stored blocks only.
func (d *Diagram) BlockAt(p Position) Instance {
	return d.BlockAtMode(p, ModePhysical)
}

func (d *Diagram) BlockAtMode(p Position, mode Mode) Instance {
	if mode == ModePhysicalOrEphemeral {
		if inst, ok := d.preview.at(p); ok {
			if inst.IsAir() {
				return d.air(p)
			}
			return inst
		}
	}
	if inst, ok := d.blocks[p]; ok {
		return inst
	}
	return d.air(p)
}

func (d *Diagram) air(p Position) Instance {
	var air *catalogs.Prototype
	var none *catalogs.Orientation
	if d.cat != nil {
		air = d.cat.Air()
		none = d.cat.Orientations().None()
	}
	return NewInstance(air, p, none)
}

// Commit applies tx: every removal first, then every addition. Any preview
// overlay is dropped and PreviewListeners are told it was cleared. Listeners
// see tx exactly as given.
func (d *Diagram) Commit(tx *Transaction) {
	if tx == nil {
		return
	}
	hadPreview := d.preview.active()
	d.preview.reset()

	for _, old := range tx.removed {
		d.removeInternal(old.pos)
	}
	for _, inst := range tx.added {
		d.addInternal(inst)
	}

	if hadPreview {
		d.notifyPreview(nil)
	}
	for _, s := range d.snapshotListeners() {
		s.l.DiagramChanged(tx)
	}
}

func (d *Diagram) snapshotListeners() []subscription {
	return append([]subscription(nil), d.listeners...)
}

func (d *Diagram) addInternal(inst Instance) {
	if inst.IsAir() {
		return
	}
	p := inst.pos
	d.blocks[p] = inst
	lvl := d.levels[p.Y]
	if lvl == nil {
		lvl = map[Position]Instance{}
		d.levels[p.Y] = lvl
	}
	lvl[p] = inst
}

func (d *Diagram) removeInternal(p Position) {
	delete(d.blocks, p)
	if lvl, ok := d.levels[p.Y]; ok {
		delete(lvl, p)
		if len(lvl) == 0 {
			delete(d.levels, p.Y)
		}
	}
}

// SetBlock replaces whatever is at inst's position with inst.
func (d *Diagram) SetBlock(inst Instance) {
	tx := NewTransaction()
	_ = tx.Replace(d.BlockAt(inst.pos), inst)
	d.Commit(tx)
}

// ClearBlock removes whatever is at p.
func (d *Diagram) ClearBlock(p Position) {
	tx := NewTransaction()
	tx.Remove(d.BlockAt(p))
	d.Commit(tx)
}

// Level returns a copy of the blocks at elevation n.
func (d *Diagram) Level(n int) map[Position]Instance {
	src := d.levels[n]
	out := make(map[Position]Instance, len(src))
	for p, inst := range src {
		out[p] = inst
	}
	return out
}

// Levels lists the elevations that hold at least one block, ascending.
func (d *Diagram) Levels() []int {
	out := make([]int, 0, len(d.levels))
	for y := range d.levels {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

func (d *Diagram) BlockCount() int { return len(d.blocks) }

func (d *Diagram) BlockCountsByType() map[catalogs.BlockType]int {
	out := map[catalogs.BlockType]int{}
	for _, inst := range d.blocks {
		out[inst.Type()]++
	}
	return out
}

// Blocks returns every stored block ordered by Position.Less.
func (d *Diagram) Blocks() []Instance {
	out := make([]Instance, 0, len(d.blocks))
	for _, inst := range d.blocks {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pos.Less(out[j].pos) })
	return out
}

// Bounds returns the inclusive bounding box of all stored blocks.
func (d *Diagram) Bounds() (min, max Position, ok bool) {
	for p := range d.blocks {
		if !ok {
			min, max, ok = p, p, true
			continue
		}
		min = Position{X: minInt(min.X, p.X), Y: minInt(min.Y, p.Y), Z: minInt(min.Z, p.Z)}
		max = Position{X: maxInt(max.X, p.X), Y: maxInt(max.Y, p.Y), Z: maxInt(max.Z, p.Z)}
	}
	return min, max, ok
}

// CopyLevelTransaction builds the transaction CopyLevel commits: clear
// elevation dst, then add every block of src shifted by dst-src.
func (d *Diagram) CopyLevelTransaction(src, dst int) *Transaction {
	tx := NewTransaction()
	if src == dst {
		return tx
	}
	for _, inst := range d.levels[dst] {
		tx.Remove(inst)
	}
	shift := Position{Y: dst - src}
	for p, inst := range d.levels[src] {
		// dst was cleared above, so Add is enough; there is nothing to replace.
		tx.Add(inst.At(p.Add(shift)))
	}
	return tx
}

func (d *Diagram) CopyLevel(src, dst int) {
	d.Commit(d.CopyLevelTransaction(src, dst))
}

// ClearTransaction removes every stored block.
func (d *Diagram) ClearTransaction() *Transaction {
	tx := NewTransaction()
	for _, inst := range d.Blocks() {
		tx.Remove(inst)
	}
	return tx
}

// LevelsAreVertical reports whether levels are x/y slices. Only horizontal
// levels are supported.
func (d *Diagram) LevelsAreVertical() bool { return false }

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
