package tcp

import (
	"github.com/nandastack/nandastack/ilist"
)

// writeBufferEntry makes *writeBuffer satisfy ilist.Linker by embedding
// ilist.Entry, an intrusive-linkage technique that avoids a separate
// allocation per queue node.
type writeBufferEntry struct {
	ilist.Entry
}

// writeBufferQueue is an intrusive FIFO of *writeBuffer. writeQueue uses
// pushBack/popFront in arrival order; both writeQueue and unackedQueue use
// orderedInsert for the REXMIT and transmission-completion paths.
type writeBufferQueue struct {
	list ilist.List
}

func (q *writeBufferQueue) empty() bool {
	return q.list.Empty()
}

func (q *writeBufferQueue) front() *writeBuffer {
	e := q.list.Front()
	if e == nil {
		return nil
	}
	return e.(*writeBuffer)
}

// pushBack appends w to the tail of the queue, preserving arrival order.
func (q *writeBufferQueue) pushBack(w *writeBuffer) {
	q.list.PushBack(w)
}

// popFront removes and returns the head of the queue, or nil if empty.
func (q *writeBufferQueue) popFront() *writeBuffer {
	w := q.front()
	if w != nil {
		q.list.Remove(w)
	}
	return w
}

// remove detaches w from the queue. w must currently be linked into q.
func (q *writeBufferQueue) remove(w *writeBuffer) {
	q.list.Remove(w)
}

// orderedInsert places w so that all predecessors have seqNo < w.seqNo
// and all successors have seqNo >= w.seqNo: ties place w after existing
// entries with the same seqNo. O(n) in queue length, which is bounded by
// the connection's in-flight segment count.
func (q *writeBufferQueue) orderedInsert(w *writeBuffer) {
	for e := q.list.Front(); e != nil; e = e.Next() {
		existing := e.(*writeBuffer)
		if w.seqNo.LessThan(existing.seqNo) {
			q.list.InsertBefore(existing, w)
			return
		}
	}
	q.list.PushBack(w)
}

// drain removes and releases every buffer currently held by the queue.
func (q *writeBufferQueue) drain() {
	for w := q.popFront(); w != nil; w = q.popFront() {
		w.release()
	}
}

// forEach walks the queue front to back. fn must not remove entries other
// than the one passed to it; the walk itself tolerates removal of the
// current entry, which is what lets handleAck remove acked buffers while
// scanning.
func (q *writeBufferQueue) forEach(fn func(w *writeBuffer)) {
	e := q.list.Front()
	for e != nil {
		next := e.Next()
		fn(e.(*writeBuffer))
		e = next
	}
}
