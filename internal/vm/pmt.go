package vm

import (
	"sync/atomic"

	"github.com/orizon-lang/pagevm/internal/mem"
)

// pmtEntry1 is one level-1 page-map entry. The flag word and location
// are atomics so the access path can read them under the owning
// process's mutex while evictions update them under the system mutex.
//
// For a private page the entry's own flags and location are
// authoritative. For a shared page the entry is a view: it carries the
// VALID bit, the permission bits and the encoded shared ids, while the
// residency status bits and the location live once in the sharedPage
// the entry points at. prev/next thread the entry into the global
// replacement ring; they are non-nil only while the entry is ring
// resident, and for a shared page only the representative entry is.
type pmtEntry1 struct {
	flags    atomic.Uint32
	location atomic.Uint32
	prev     *pmtEntry1
	next     *pmtEntry1
	shared   *sharedPage
}

// load returns the merged flag word: permission bits from the entry,
// residency bits from the shared descriptor when the page is shared.
func (e *pmtEntry1) load() uint32 {
	fl := e.flags.Load()
	if e.shared != nil {
		fl = fl&^statusMask | e.shared.flags.Load()&statusMask
	}
	return fl
}

func (e *pmtEntry1) has(mask uint32) bool { return e.load()&mask != 0 }

// setStatus sets residency bits, routing to the shared descriptor for
// shared pages so every connected process observes the change.
func (e *pmtEntry1) setStatus(mask uint32) {
	if e.shared != nil {
		e.shared.flags.Or(mask)
	} else {
		e.flags.Or(mask)
	}
}

func (e *pmtEntry1) clearStatus(mask uint32) {
	if e.shared != nil {
		e.shared.flags.And(^mask)
	} else {
		e.flags.And(^mask)
	}
}

// loc returns the entry's frame number when MAPPED, or cluster number
// when SWAPPED.
func (e *pmtEntry1) loc() uint32 {
	if e.shared != nil {
		return e.shared.location.Load()
	}
	return e.location.Load()
}

func (e *pmtEntry1) setLoc(v uint32) {
	if e.shared != nil {
		e.shared.location.Store(v)
	} else {
		e.location.Store(v)
	}
}

// reset returns the entry to its zero state. The caller must have
// unlinked it from the ring first.
func (e *pmtEntry1) reset() {
	e.flags.Store(0)
	e.location.Store(0)
	e.prev = nil
	e.next = nil
	e.shared = nil
}

// pmtTable1 is one level-1 table: 64 entries plus the page-map-table
// frame charged for it.
type pmtTable1 struct {
	frame   mem.FrameNum
	entries [pmt1Entries]pmtEntry1
}

// hasValidEntries reports whether any entry in the table is VALID.
func (t *pmtTable1) hasValidEntries() bool {
	for i := range t.entries {
		if t.entries[i].flags.Load()&flagValid != 0 {
			return true
		}
	}
	return false
}

// l0Table is a process's level-0 table: one optional level-1 table per
// 64-page range.
type l0Table [pmt0Entries]*pmtTable1
