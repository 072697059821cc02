package tcp

import (
	"github.com/nandastack/nandastack/iob"
	"github.com/nandastack/nandastack/seqnum"
	"github.com/nandastack/nandastack/tcperr"
	"github.com/nandastack/nandastack/types"
	"github.com/sirupsen/logrus"
)

// Connection holds the send engine's state for one TCP connection: the
// two segment queues, flow-control accounting, and the poll-event
// subscription. It is the engine-visible subset described in the data
// model; it holds no lock of its own — Conn (conn.go) is what adds a
// mutex around it.
type Connection struct {
	writeQueue   writeBufferQueue
	unackedQueue writeBufferQueue

	unacked   int
	sentTotal int
	isn       seqnum.Value
	expired   int

	sndNxt     seqnum.Value
	ackNo      seqnum.Value
	winSize    int
	mss        int
	state      State
	remoteAddr types.Address

	// err records why the connection was torn down, once it has been;
	// nil until then. Conn.Write surfaces it so callers can tell a lost
	// connection apart from one that was never established.
	err error

	callback pollSubscription

	pool   *iob.Pool
	driver Driver
	log    *logrus.Entry

	metrics connMetrics
}

// newConnection builds a Connection ready to accept Send calls once its
// state is set to StateEstablished by the caller (out of engine scope).
func newConnection(isn seqnum.Value, cfg ConnConfig, remoteAddr types.Address, driver Driver, log *logrus.Entry) *Connection {
	cfg = cfg.withDefaults()
	c := &Connection{
		isn:        isn,
		sndNxt:     isn,
		mss:        int(cfg.MSS),
		remoteAddr: remoteAddr,
		pool:       iob.NewPool(cfg.PoolPages),
		driver:     driver,
		log:        log,
	}
	c.metrics.init(c)
	return c
}

// Send is the enqueue path: it copies b into a pooled writeBuffer, appends
// it to writeQueue, and notifies the driver that transmit data is
// available. It never blocks and never assigns a sequence number; that
// happens at first transmission, in handleTransmit.
func (c *Connection) Send(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	if !c.callback.registered() {
		c.callback.bind(c)
	}

	w := newWriteBuffer()
	if err := w.copyIn(c.pool, b); err != nil {
		c.log.WithError(err).Warn("send: buffer pool exhausted")
		return 0, tcperr.ErrNoMemory
	}
	w.seqNo = seqnum.Unassigned
	w.nrtx = 0
	w.sent = 0

	c.writeQueue.pushBack(w)
	c.metrics.writeQueueDepth.Add(1)

	c.driver.NotifyTxAvailable(c.remoteAddr)

	return len(b), nil
}

// HandlePoll is the poll event handler. It is always invoked with the
// connection's lock already held by the caller (Conn). Flags are
// processed in strict order: ACK, loss, REXMIT, transmission.
func (c *Connection) HandlePoll(flags EventFlags) EventFlags {
	if flags.Has(FlagAck) {
		c.handleAck()
	}

	if flags.Has(lossFlags) {
		c.Teardown()
		return flags
	}

	if flags.Has(FlagRexmit) {
		c.handleRexmit()
	}

	return c.handleTransmit(flags)
}

// handleAck advances the unackedQueue and the writeQueue head past bytes
// the peer has now acknowledged. It scans the full unackedQueue on every
// ACK rather than breaking early on the first buffer not yet acked: the
// queue is seqno-ordered, so this is an invariant-preserving no-op for
// later entries, not relied on as an optimization.
func (c *Connection) handleAck() {
	ackNo := c.ackNo

	c.unackedQueue.forEach(func(w *writeBuffer) {
		if !w.seqNo.LessThan(ackNo) {
			return
		}
		lastSeq := w.seqNo.Add(seqnum.Size(w.pktLen))
		if !ackNo.LessThan(lastSeq) {
			c.unackedQueue.remove(w)
			w.release()
			c.metrics.unackedQueueDepth.Sub(1)
			return
		}
		trimLen := int(seqnum.Diff(w.seqNo, ackNo))
		if trimLen > w.sent {
			trimLen = w.sent
		}
		w.trimHead(trimLen)
		w.seqNo = ackNo
		w.sent -= trimLen
	})

	if head := c.writeQueue.front(); head != nil && head.sent > 0 && head.seqNo.LessThan(ackNo) {
		nAcked := int(seqnum.Diff(head.seqNo, ackNo))
		if nAcked > head.sent {
			nAcked = head.sent
		}
		head.trimHead(nAcked)
		head.seqNo = ackNo
		head.sent -= nAcked
	}
}

// handleRexmit rolls back the accounting for every segment currently in
// flight and moves it back onto writeQueue for retransmission, dropping
// any segment that has now hit MaxRtx.
func (c *Connection) handleRexmit() {
	if head := c.writeQueue.front(); head != nil && head.sent > 0 {
		c.rollback(head)
		head.nrtx++
		if head.nrtx >= MaxRtx {
			c.writeQueue.popFront()
			head.release()
			c.expired++
			c.metrics.expiredSegments.Add(1)
			c.log.WithError(tcperr.ErrExpired).WithField("seqno", head.seqNo).Warn("segment dropped")
		}
	}

	var pending []*writeBuffer
	for w := c.unackedQueue.front(); w != nil; w = nextBuffer(w) {
		pending = append(pending, w)
	}
	for i := len(pending) - 1; i >= 0; i-- {
		w := pending[i]
		c.unackedQueue.remove(w)
		c.metrics.unackedQueueDepth.Sub(1)

		c.rollback(w)
		w.nrtx++
		if w.nrtx >= MaxRtx {
			w.release()
			c.expired++
			c.metrics.expiredSegments.Add(1)
			c.log.WithError(tcperr.ErrExpired).WithField("seqno", w.seqNo).Warn("segment dropped")
			continue
		}
		c.writeQueue.orderedInsert(w)
		c.metrics.writeQueueDepth.Add(1)
	}
}

// rollback undoes the flow-control accounting for w's already-sent bytes,
// saturating both counters at zero, and resets w.sent.
func (c *Connection) rollback(w *writeBuffer) {
	if w.sent < c.unacked {
		c.unacked -= w.sent
	} else {
		c.unacked = 0
	}
	if w.sent < c.sentTotal {
		c.sentTotal -= w.sent
	} else {
		c.sentTotal = 0
	}
	w.sent = 0
}

// handleTransmit emits at most one segment per call, bounded by MSS and
// the advertised window, advancing writeQueue into unackedQueue once a
// buffer is fully sent.
func (c *Connection) handleTransmit(flags EventFlags) EventFlags {
	if c.state != StateEstablished {
		return flags
	}
	if !flags.Has(FlagPoll | FlagRexmit) {
		return flags
	}
	if c.writeQueue.empty() {
		return flags
	}

	w := c.writeQueue.front()
	sndLen := w.pktLen - w.sent
	if sndLen > c.mss {
		sndLen = c.mss
	}
	if sndLen > c.winSize {
		sndLen = c.winSize
	}
	if sndLen <= 0 {
		return flags
	}

	if w.sent == 0 {
		if w.seqNo == seqnum.Unassigned {
			w.seqNo = c.isn.Add(seqnum.Size(c.sentTotal))
		}
		c.sndNxt = w.seqNo
	}

	segSeqNo := w.seqNo.Add(seqnum.Size(w.sent))
	if err := c.driver.Transmit(c.remoteAddr, w.chain, w.sent, sndLen, segSeqNo); err != nil {
		c.log.WithError(err).Warn("transmit failed")
		return flags
	}

	c.unacked += sndLen
	c.sentTotal += sndLen
	w.sent += sndLen
	c.metrics.unackedBytes.Set(float64(c.unacked))
	c.metrics.sentBytes.Add(float64(sndLen))

	if w.sent == w.pktLen {
		c.writeQueue.popFront()
		c.metrics.writeQueueDepth.Sub(1)
		c.unackedQueue.orderedInsert(w)
		c.metrics.unackedQueueDepth.Add(1)
	}

	return flags &^ FlagPoll
}

// nextBuffer is a small helper so handleRexmit can walk the intrusive
// list without exposing ilist types outside this package.
func nextBuffer(w *writeBuffer) *writeBuffer {
	n := w.Next()
	if n == nil {
		return nil
	}
	return n.(*writeBuffer)
}

// Teardown detaches the poll subscription and drains both queues on
// connection loss, marking the connection closed and recording
// ErrLostConnection so a later Conn.Write reports why rather than just
// failing.
func (c *Connection) Teardown() {
	c.callback.detach()
	c.writeQueue.drain()
	c.unackedQueue.drain()
	c.metrics.writeQueueDepth.Set(0)
	c.metrics.unackedQueueDepth.Set(0)
	c.sentTotal = 0
	c.state = StateClosed
	c.err = tcperr.ErrLostConnection
}

// Unacked returns the number of bytes transmitted and not yet ACKed.
func (c *Connection) Unacked() int { return c.unacked }

// Expired returns the count of segments dropped after MaxRtx retries.
func (c *Connection) Expired() int { return c.expired }
