package routetable

import "sync/atomic"

// Holder publishes the current table to concurrent readers. A reload stores
// a complete replacement table; readers always see either the entirely old
// or entirely new table, never a partial update. Requests that already
// resolved an Entry are unaffected by a swap.
type Holder struct {
	table atomic.Pointer[Table]
}

// NewHolder creates a holder publishing the given table.
func NewHolder(t *Table) *Holder {
	h := &Holder{}
	h.table.Store(t)
	return h
}

// Load returns the current table snapshot.
func (h *Holder) Load() *Table {
	return h.table.Load()
}

// Swap atomically replaces the published table.
func (h *Holder) Swap(t *Table) {
	h.table.Store(t)
}
