package diagram

// preview is the ephemeral overlay shown while a gesture is in progress. It
// never touches the stored blocks.
type preview struct {
	tx      *Transaction
	added   map[Position]Instance
	removed map[Position]Instance
}

func (p *preview) active() bool { return p.tx != nil }

func (p *preview) reset() {
	p.tx = nil
	p.added = nil
	p.removed = nil
}

// at reports the overlay's view of pos. A removal without a matching addition
// reads as air, which the caller synthesizes.
func (p *preview) at(pos Position) (Instance, bool) {
	if p.tx == nil {
		return Instance{}, false
	}
	if inst, ok := p.added[pos]; ok {
		return inst, true
	}
	if _, ok := p.removed[pos]; ok {
		return Instance{pos: pos}, true
	}
	return Instance{}, false
}

// CommitEphemeral replaces the preview overlay with tx. Stored blocks are not
// modified and Listeners are not told; PreviewListeners are.
func (d *Diagram) CommitEphemeral(tx *Transaction) {
	d.preview.reset()
	if tx != nil {
		d.preview.tx = tx
		d.preview.added = make(map[Position]Instance, len(tx.added))
		d.preview.removed = make(map[Position]Instance, len(tx.removed))
		for _, inst := range tx.removed {
			d.preview.removed[inst.pos] = inst
		}
		for _, inst := range tx.added {
			d.preview.added[inst.pos] = inst
		}
	}
	d.notifyPreview(tx)
}

// ClearPreview drops the overlay, if any.
func (d *Diagram) ClearPreview() {
	if !d.preview.active() {
		return
	}
	d.preview.reset()
	d.notifyPreview(nil)
}

// Preview returns the current overlay transaction, or nil.
func (d *Diagram) Preview() *Transaction { return d.preview.tx }

func (d *Diagram) notifyPreview(tx *Transaction) {
	for _, s := range d.snapshotListeners() {
		if pl, ok := s.l.(PreviewListener); ok {
			pl.PreviewChanged(tx)
		}
	}
}
