// Package seqnum provides wraparound-safe arithmetic over 32-bit TCP
// sequence numbers, using signed-delta comparison so ordering stays
// correct across a wraparound boundary.
package seqnum

// Value is a 32-bit sequence number, interpreted modulo 2^32.
type Value uint32

// Size is a difference between two Values, or a byte count.
type Size uint32

// Unassigned is the sentinel seqno meaning "not yet assigned a position
// in the sequence space"; it is assigned to a WriteBuffer until its first
// transmission attempt.
const Unassigned Value = 0xffffffff

// Add returns v+delta, wrapping modulo 2^32.
func (v Value) Add(delta Size) Value {
	return v + Value(delta)
}

// diff returns the signed distance from v to w, taking wraparound into
// account: positive means w is ahead of v, negative means behind.
func diff(v, w Value) int64 {
	d := int64(int32(w - v))
	return d
}

// LessThan reports whether v occupies an earlier position than w in the
// sequence space, using signed wraparound comparison rather than a plain
// unsigned less-than (which would be wrong across a wraparound boundary).
func (v Value) LessThan(w Value) bool {
	return diff(v, w) > 0
}

// LessThanEq reports whether v == w or v.LessThan(w).
func (v Value) LessThanEq(w Value) bool {
	return v == w || v.LessThan(w)
}

// InRange reports whether v lies in [lo, hi) in wraparound sequence-space
// order.
func (v Value) InRange(lo, hi Value) bool {
	return lo.LessThanEq(v) && v.LessThan(hi)
}

// Diff returns the number of bytes from v up to w, where w is assumed to
// be at or after v in sequence-space order (the caller is responsible for
// knowing the direction; Diff only unwraps the modular arithmetic).
func Diff(v, w Value) Size {
	return Size(w - v)
}
