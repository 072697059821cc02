package tcp

import (
	"github.com/nandastack/nandastack/iob"
	"github.com/nandastack/nandastack/seqnum"
)

// writeBuffer holds one contiguous user-submitted segment: its I/O chain,
// assigned sequence number, bytes-sent counter and retransmit counter. It
// is held by exactly one of the connection's two queues at any time.
type writeBuffer struct {
	writeBufferEntry

	chain  *iob.Chain
	pktLen int
	seqNo  seqnum.Value
	sent   int
	nrtx   int
}

// newWriteBuffer returns an empty writeBuffer with no sequence number
// assigned yet.
func newWriteBuffer() *writeBuffer {
	return &writeBuffer{
		seqNo: seqnum.Unassigned,
	}
}

// copyIn reserves pages from pool and copies b into them, setting pktLen.
// It leaves seqNo, sent and nrtx untouched; callers reset those explicitly
// so the zero-length Send case never allocates.
func (w *writeBuffer) copyIn(pool *iob.Pool, b []byte) error {
	chain, err := pool.Alloc(len(b))
	if err != nil {
		return err
	}
	if _, err := chain.CopyIn(b); err != nil {
		chain.Release()
		return err
	}
	w.chain = chain
	w.pktLen = len(b)
	return nil
}

// trimHead drops the first k bytes of the buffer's payload. The caller is
// responsible for advancing seqNo and reducing sent accordingly, per the
// engine's head-trim invariant.
func (w *writeBuffer) trimHead(k int) {
	if k <= 0 {
		return
	}
	if k > w.pktLen {
		k = w.pktLen
	}
	w.chain.TrimHead(k)
	w.pktLen -= k
}

// release returns the buffer's chain to its pool. The writeBuffer itself
// is left for garbage collection; it must not be reused.
func (w *writeBuffer) release() {
	if w.chain != nil {
		w.chain.Release()
		w.chain = nil
	}
}
