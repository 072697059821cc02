// Package checker provides composable invariant checks over send-engine
// state: a checker is a function taking (*testing.T, X), and callers
// compose several of them in one assertion call.
package checker

import (
	"testing"

	"github.com/nandastack/nandastack/seqnum"
	"github.com/nandastack/nandastack/transport/tcp"
)

// QueueChecker checks a property of a segment queue snapshot.
type QueueChecker func(*testing.T, []tcp.SegmentSnapshot)

// Queue runs every checker against the given snapshot, expected to be
// used as:
//
//	checker.Queue(t, writeQueue, checker.OrderedBySeqNo(), checker.BoundedNrtx(tcp.MaxRtx))
func Queue(t *testing.T, snap []tcp.SegmentSnapshot, checkers ...QueueChecker) {
	for _, f := range checkers {
		f(t, snap)
	}
}

// OrderedBySeqNo checks that the queue is strictly ordered ascending by
// SeqNo, with no overlap between consecutive entries.
func OrderedBySeqNo() QueueChecker {
	return func(t *testing.T, snap []tcp.SegmentSnapshot) {
		for i := 1; i < len(snap); i++ {
			prev, next := snap[i-1], snap[i]
			lastSeq := prev.SeqNo.Add(seqnum.Size(prev.PktLen))
			if lastSeq.LessThan(next.SeqNo) || lastSeq == next.SeqNo {
				continue
			}
			t.Fatalf("queue out of order/overlapping: entry %d ends at %v, entry %d starts at %v", i-1, lastSeq, i, next.SeqNo)
		}
	}
}

// BoundedSentPktLen checks that 0 <= Sent <= PktLen for every entry.
func BoundedSentPktLen() QueueChecker {
	return func(t *testing.T, snap []tcp.SegmentSnapshot) {
		for i, s := range snap {
			if s.Sent < 0 || s.Sent > s.PktLen {
				t.Fatalf("entry %d: Sent=%d out of bounds for PktLen=%d", i, s.Sent, s.PktLen)
			}
		}
	}
}

// BoundedNrtx checks that 0 <= Nrtx < maxRtx for every entry still held
// in a queue.
func BoundedNrtx(maxRtx int) QueueChecker {
	return func(t *testing.T, snap []tcp.SegmentSnapshot) {
		for i, s := range snap {
			if s.Nrtx < 0 || s.Nrtx >= maxRtx {
				t.Fatalf("entry %d: Nrtx=%d out of bounds for MaxRtx=%d", i, s.Nrtx, maxRtx)
			}
		}
	}
}

// Empty checks that the snapshot holds no segments, used after Teardown.
func Empty() QueueChecker {
	return func(t *testing.T, snap []tcp.SegmentSnapshot) {
		if len(snap) != 0 {
			t.Fatalf("expected empty queue, got %d entries", len(snap))
		}
	}
}

// Depth checks that the snapshot holds exactly n segments.
func Depth(n int) QueueChecker {
	return func(t *testing.T, snap []tcp.SegmentSnapshot) {
		if len(snap) != n {
			t.Fatalf("expected %d entries, got %d", n, len(snap))
		}
	}
}

