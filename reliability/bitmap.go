// Package reliability implements the per-connection sequence bookkeeping
// that sits between the Framer and a Client Object: sending sequence
// assignment with wraparound, and a sliding dedup bitmap over received
// sequences.
package reliability

// DedupWindow is a 256-bit ring recording which recent sequence numbers
// have already been delivered to a Client Object's RX queue. It mirrors
// the isnew() bitmap from the original per-connection reader: a received
// seq sets its bit, and the byte half a window away is cleared so the
// window slides instead of needing a full reset.
type DedupWindow struct {
	bits [32]byte
}

// MarkAndCheck records seq as seen and reports whether it is new (true) or
// a duplicate already present in the window (false). Bit indexing and the
// half-window clear: idx = seq>>3, bit = 1<<(seq&7),
// and the byte at (idx+16)&0x1f is cleared on every call so the window
// keeps sliding forward.
func (d *DedupWindow) MarkAndCheck(seq uint8) bool {
	idx := seq >> 3
	bit := byte(1) << (seq & 7)
	isNew := d.bits[idx]&bit == 0
	d.bits[idx] |= bit
	d.bits[(idx+16)&0x1f] = 0
	return isNew
}

// Reset clears the entire window. Called when a frame with seq==0 arrives,
// signalling a fresh login / dedup reset.
func (d *DedupWindow) Reset() {
	for i := range d.bits {
		d.bits[i] = 0
	}
}

// SeqCounter assigns outbound sequence numbers with the 255->1 wrap that
// keeps 0 reserved for login/reset frames, mirroring gmid()'s generator.
type SeqCounter struct {
	next uint8
}

// NewSeqCounter starts a counter whose first assigned sequence is 1.
func NewSeqCounter() *SeqCounter {
	return &SeqCounter{next: 1}
}

// Peek returns the sequence that the next call to Advance will assign,
// without consuming it.
func (c *SeqCounter) Peek() uint8 {
	return c.next
}

// Advance assigns the current sequence and moves the counter forward by
// one, wrapping 255 -> 1 (never 0).
func (c *SeqCounter) Advance() uint8 {
	seq := c.next
	c.next++
	if c.next == 0 {
		c.next = 1
	}
	return seq
}

// SkipAhead bumps the counter past n abandoned slots, for a writer that
// is cancelled after acquiring its slot, so the sequence it would have
// consumed doesn't stall every writer behind it. clientobj's writer does
// not call it: it assigns with Advance and never abandons a number.
func (c *SeqCounter) SkipAhead(n int) {
	for i := 0; i < n; i++ {
		c.next++
		if c.next == 0 {
			c.next = 1
		}
	}
}
