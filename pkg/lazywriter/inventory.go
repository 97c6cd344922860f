package lazywriter

// inventory is the intrusive circular doubly-linked list of stream
// descriptors described by spec.md's [INVENTORY]. cursor is a permanent
// sentinel node: it is always present, is never returned to a caller as a
// real stream, and marks where the next scan tick resumes.
//
// The list is circular through the cursor: cursor.next is the first real
// descriptor (or cursor itself when the inventory is empty) and cursor.prev
// is the last. Every method assumes the caller holds the owning
// [LazyWriter]'s master lock; the type has no lock of its own, matching
// spec.md §5's assignment of inventory mutation to that lock.
type inventory struct {
	cursor *StreamDescriptor
}

func newInventory() *inventory {
	c := &StreamDescriptor{ID: "<cursor>", Flags: flagIsCursor}
	c.next, c.prev = c, c
	return &inventory{cursor: c}
}

// insert appends s just before the cursor, i.e. at the tail of the list as
// seen from the cursor's current position.
func (inv *inventory) insert(s *StreamDescriptor) {
	if s.linked() {
		return
	}
	tail := inv.cursor.prev
	s.prev = tail
	s.next = inv.cursor
	tail.next = s
	inv.cursor.prev = s
}

// remove unlinks s. It is a no-op if s is not currently linked.
func (inv *inventory) remove(s *StreamDescriptor) {
	if !s.linked() {
		return
	}
	s.prev.next = s.next
	s.next.prev = s.prev
	s.next, s.prev = nil, nil
}

// moveCursorBefore relinks the cursor so that it immediately precedes s;
// the next scan tick will resume at s itself.
func (inv *inventory) moveCursorBefore(s *StreamDescriptor) {
	inv.unlinkCursor()
	before := s.prev
	inv.cursor.prev = before
	inv.cursor.next = s
	before.next = inv.cursor
	s.prev = inv.cursor
}

// moveCursorAfter relinks the cursor so that it immediately follows s; the
// next scan tick will resume at whatever followed s before the move.
func (inv *inventory) moveCursorAfter(s *StreamDescriptor) {
	inv.unlinkCursor()
	after := s.next
	inv.cursor.next = after
	inv.cursor.prev = s
	after.prev = inv.cursor
	s.next = inv.cursor
}

func (inv *inventory) unlinkCursor() {
	inv.cursor.prev.next = inv.cursor.next
	inv.cursor.next.prev = inv.cursor.prev
}

// empty reports whether the inventory holds no real streams.
func (inv *inventory) empty() bool {
	return inv.cursor.next == inv.cursor
}

// walk visits every real stream once, starting at the node after the
// cursor, in list order. It captures each node's successor before invoking
// fn so that fn may unlink, relink, or move the cursor without corrupting
// the traversal — the safety stop spec.md's scan algorithm requires. fn
// returning false stops the walk early.
func (inv *inventory) walk(fn func(s *StreamDescriptor) bool) {
	start := inv.cursor.next
	if start == inv.cursor {
		return
	}
	cur := start
	for cur != inv.cursor {
		next := cur.next
		if !fn(cur) {
			return
		}
		cur = next
		if cur == start {
			return
		}
	}
}
