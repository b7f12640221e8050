package diagram

import "errors"

var ErrPositionMismatch = errors.New("diagram: replace requires old and new blocks at the same position")

// Transaction accumulates the blocks removed and added by one logical edit.
// The first write per position per list wins, and air is never recorded.
// Applying a transaction processes every removal before any addition.
//
// The zero value is an empty transaction ready to use.
type Transaction struct {
	removed   []Instance
	added     []Instance
	removedAt map[Position]struct{}
	addedAt   map[Position]struct{}
}

func NewTransaction() *Transaction { return &Transaction{} }

// Add records inst as a block to insert.
func (t *Transaction) Add(inst Instance) {
	if inst.IsAir() {
		return
	}
	if _, ok := t.addedAt[inst.pos]; ok {
		return
	}
	if t.addedAt == nil {
		t.addedAt = map[Position]struct{}{}
	}
	t.added = append(t.added, inst)
	t.addedAt[inst.pos] = struct{}{}
}

// Remove records inst as a block to delete.
func (t *Transaction) Remove(inst Instance) {
	if inst.IsAir() {
		return
	}
	if _, ok := t.removedAt[inst.pos]; ok {
		return
	}
	if t.removedAt == nil {
		t.removedAt = map[Position]struct{}{}
	}
	t.removed = append(t.removed, inst)
	t.removedAt[inst.pos] = struct{}{}
}

// Replace is Remove(old) followed by Add(next). Both must share a position;
// otherwise the transaction is left untouched.
func (t *Transaction) Replace(old, next Instance) error {
	if old.pos != next.pos {
		return ErrPositionMismatch
	}
	t.Remove(old)
	t.Add(next)
	return nil
}

// Reversed swaps the removed and added sides verbatim. It does not look at
// the current diagram state.
func (t *Transaction) Reversed() *Transaction {
	return &Transaction{
		removed:   append([]Instance(nil), t.added...),
		added:     append([]Instance(nil), t.removed...),
		removedAt: copySet(t.addedAt),
		addedAt:   copySet(t.removedAt),
	}
}

func (t *Transaction) Clone() *Transaction {
	return &Transaction{
		removed:   append([]Instance(nil), t.removed...),
		added:     append([]Instance(nil), t.added...),
		removedAt: copySet(t.removedAt),
		addedAt:   copySet(t.addedAt),
	}
}

// Removed returns the removals in recording order. The slice is shared; do
// not modify it.
func (t *Transaction) Removed() []Instance { return t.removed }

// Added returns the additions in recording order. The slice is shared; do
// not modify it.
func (t *Transaction) Added() []Instance { return t.added }

func (t *Transaction) Removes(p Position) bool {
	_, ok := t.removedAt[p]
	return ok
}

func (t *Transaction) Adds(p Position) bool {
	_, ok := t.addedAt[p]
	return ok
}

func (t *Transaction) Len() int { return len(t.removed) + len(t.added) }

func (t *Transaction) Empty() bool { return t == nil || t.Len() == 0 }

func copySet(in map[Position]struct{}) map[Position]struct{} {
	if in == nil {
		return nil
	}
	out := make(map[Position]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
