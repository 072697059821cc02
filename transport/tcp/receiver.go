package tcp

import (
	"github.com/nandastack/nandastack/seqnum"
)

// receiver is the minimal receive-side counterpart to the send engine: it
// tracks rcvNxt and reports the ackNo to present whenever new in-order
// data arrives. It intentionally implements no out-of-order reassembly;
// that is SACK territory, out of scope here.
type receiver struct {
	rcvNxt seqnum.Value
}

// newReceiver returns a receiver expecting its first byte at seqno isn.
func newReceiver(isn seqnum.Value) *receiver {
	return &receiver{rcvNxt: isn}
}

// deliver reports that n bytes starting at seqNo arrived. If they are the
// next expected in-order bytes, rcvNxt advances and deliver returns the
// new ackNo with ok true. Anything else (duplicate or out-of-order) is
// dropped silently and ok is false, since reassembly is out of scope.
func (r *receiver) deliver(seqNo seqnum.Value, n int) (ackNo seqnum.Value, ok bool) {
	if seqNo != r.rcvNxt || n <= 0 {
		return r.rcvNxt, false
	}
	r.rcvNxt = r.rcvNxt.Add(seqnum.Size(n))
	return r.rcvNxt, true
}
