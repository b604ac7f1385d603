package persister

// Journal records what one flush did to in-memory state. Processors append an
// undo step for every side effect (generated key assignment, identity map
// registration, snapshot replacement) so a rolled back flush leaves the
// session exactly as it found it.
//
// A Journal belongs to a single flush and is not safe for concurrent use.
type Journal struct {
	undo     []func()
	inserted []any
	updated  []any
	deleted  []any
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// OnUndo registers fn to run when the flush is rolled back.
func (j *Journal) OnUndo(fn func()) {
	j.undo = append(j.undo, fn)
}

// Undo reverts every recorded side effect, newest first, and empties the journal.
func (j *Journal) Undo() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.Reset()
}

// Reset forgets everything recorded so far.
func (j *Journal) Reset() {
	j.undo = nil
	j.inserted = nil
	j.updated = nil
	j.deleted = nil
}

func (j *Journal) recordInsert(e any) { j.inserted = append(j.inserted, e) }
func (j *Journal) recordUpdate(e any) { j.updated = append(j.updated, e) }
func (j *Journal) recordDelete(e any) { j.deleted = append(j.deleted, e) }

// Inserted returns the entities inserted, in statement order.
func (j *Journal) Inserted() []any { return j.inserted }

// Updated returns the entities updated, in statement order. Skipped no-op
// updates are not listed.
func (j *Journal) Updated() []any { return j.updated }

// Deleted returns the entities deleted, in statement order.
func (j *Journal) Deleted() []any { return j.deleted }

// Statements returns how many writes were issued.
func (j *Journal) Statements() int {
	return len(j.inserted) + len(j.updated) + len(j.deleted)
}
