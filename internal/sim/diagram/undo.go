package diagram

// UndoRecord is one undoable edit. Redo commits the transaction as recorded;
// Undo commits its reverse.
type UndoRecord struct {
	Name string
	tx   *Transaction
	d    *Diagram
}

func NewUndoRecord(d *Diagram, name string, tx *Transaction) *UndoRecord {
	return &UndoRecord{Name: name, tx: tx.Clone(), d: d}
}

func (r *UndoRecord) Transaction() *Transaction { return r.tx }

func (r *UndoRecord) Redo() { r.d.Commit(r.tx) }

func (r *UndoRecord) Undo() { r.d.Commit(r.tx.Reversed()) }

// UndoStack is a linear history. Pushing a record runs it and discards
// anything that had been undone. Limit 0 means unbounded.
type UndoStack struct {
	records []*UndoRecord
	index   int // records[:index] are applied
	limit   int
	clean   int // index at the last SetClean; -1 when unreachable
}

func NewUndoStack(limit int) *UndoStack {
	if limit < 0 {
		limit = 0
	}
	return &UndoStack{limit: limit}
}

// Push applies r and records it.
func (s *UndoStack) Push(r *UndoRecord) {
	r.Redo()
	if s.clean > s.index {
		s.clean = -1
	}
	s.records = append(s.records[:s.index], r)
	s.index++
	if s.limit > 0 && len(s.records) > s.limit {
		drop := len(s.records) - s.limit
		s.records = append([]*UndoRecord(nil), s.records[drop:]...)
		s.index -= drop
		if s.clean >= 0 {
			s.clean -= drop
			if s.clean < 0 {
				s.clean = -1
			}
		}
	}
}

func (s *UndoStack) CanUndo() bool { return s.index > 0 }

func (s *UndoStack) CanRedo() bool { return s.index < len(s.records) }

// Undo reverts the most recent applied record. It reports false when there
// is nothing to undo.
func (s *UndoStack) Undo() bool {
	if !s.CanUndo() {
		return false
	}
	s.index--
	s.records[s.index].Undo()
	return true
}

func (s *UndoStack) Redo() bool {
	if !s.CanRedo() {
		return false
	}
	s.records[s.index].Redo()
	s.index++
	return true
}

func (s *UndoStack) UndoName() string {
	if !s.CanUndo() {
		return ""
	}
	return s.records[s.index-1].Name
}

func (s *UndoStack) RedoName() string {
	if !s.CanRedo() {
		return ""
	}
	return s.records[s.index].Name
}

func (s *UndoStack) SetClean() { s.clean = s.index }

func (s *UndoStack) IsClean() bool { return s.clean == s.index }

func (s *UndoStack) Len() int { return len(s.records) }

func (s *UndoStack) Index() int { return s.index }

// Clear forgets every record without touching the diagram.
func (s *UndoStack) Clear() {
	s.records = nil
	s.index = 0
	s.clean = 0
}
