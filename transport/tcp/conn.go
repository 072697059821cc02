package tcp

import (
	"sync"

	"github.com/nandastack/nandastack/seqnum"
	"github.com/nandastack/nandastack/sleep"
	"github.com/nandastack/nandastack/tcperr"
	"github.com/nandastack/nandastack/types"
	"github.com/nandastack/nandastack/waiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// Conn wraps a Connection (the engine) and a receiver with a mutex,
// exposing Write, Close, Abort and accessor methods: the engine holds no
// lock of its own while Conn owns concurrency.
//
// It is legal for concurrent goroutines to call into a Conn; the
// protocol-layer poll loop and user Write calls both go through the same
// mutex, giving the engine its single-critical-section-at-a-time
// discipline even though it is driven from more than one goroutine.
type Conn struct {
	mu   sync.Mutex
	conn *Connection
	rcv  *receiver

	// writable is notified with waiter.EventOut whenever a HandlePoll call
	// may have freed pool pages (an ACK or a retransmit-expiry released a
	// buffer), and with waiter.EventHup once the connection tears down.
	writable waiter.Queue

	// closedWaker is asserted once the connection is closed or aborted, so
	// a caller can block on it via WaitClosed instead of polling State.
	closedWaker sleep.Waker

	id  xid.ID
	log *logrus.Entry
}

// NewConn creates a Conn bound to remoteAddr, transmitting through driver.
// The connection starts in StateClosed; callers drive it to
// StateEstablished once the (out of scope) handshake completes.
func NewConn(isn seqnum.Value, cfg ConnConfig, remoteAddr types.Address, driver Driver) *Conn {
	cfg = cfg.withDefaults()
	id := xid.New()
	log := cfg.Logger.WithFields(logrus.Fields{
		"conn_id":     id.String(),
		"remote":      remoteAddr,
		"local_port":  cfg.Endpoint.LocalPort,
		"remote_port": cfg.Endpoint.RemotePort,
	})

	c := &Conn{
		conn: newConnection(isn, cfg, remoteAddr, driver, log),
		rcv:  newReceiver(isn),
		id:   id,
		log:  log,
	}
	return c
}

// ID returns the connection's compact globally-unique identifier, used to
// correlate log lines and metric labels across concurrent connections.
func (c *Conn) ID() xid.ID {
	return c.id
}

// SetEstablished moves the connection into StateEstablished, the only
// state from which the engine transmits.
func (c *Conn) SetEstablished(winSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.state = StateEstablished
	c.conn.winSize = winSize
}

// Write is the socket-facing entry point: it validates connection state
// and delegates to the engine's Send.
func (c *Conn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn.err != nil {
		return 0, c.conn.err
	}
	if c.conn.state == StateClosed {
		return 0, tcperr.ErrInvalidEndpointState
	}
	if c.conn.state == StateClosing {
		return 0, tcperr.ErrClosedForSend
	}

	n, err := c.conn.Send(b)
	if err != nil {
		c.log.WithError(err).Debug("write failed")
	}
	return n, err
}

// Deliver feeds a received segment's sequence range to the receiver and,
// if it advances rcvNxt, returns the ackNo the caller should present to
// HandlePoll alongside FlagAck.
func (c *Conn) Deliver(seqNo seqnum.Value, n int) (ackNo seqnum.Value, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rcv.deliver(seqNo, n)
}

// HandlePoll forwards a poll event to the engine under the connection's
// lock, which is how the big-lock discipline is actually enforced: the
// engine's own HandlePoll assumes its caller already holds it.
func (c *Conn) HandlePoll(flags EventFlags, ackNo seqnum.Value) EventFlags {
	c.mu.Lock()
	if flags.Has(FlagAck) {
		c.conn.ackNo = ackNo
	}
	result := c.conn.callback.Notify(flags)
	c.mu.Unlock()

	if flags.Has(FlagAck | FlagRexmit | lossFlags) {
		c.writable.Notify(waiter.EventOut)
	}
	if flags.Has(lossFlags) {
		c.closedWaker.Assert()
		c.writable.Notify(waiter.EventHup)
	}
	return result
}

// Close transitions the connection to StateClosing; in-flight buffers are
// drained the next time the protocol layer raises FlagClose.
func (c *Conn) Close() {
	c.mu.Lock()
	c.conn.state = StateClosing
	c.mu.Unlock()
}

// Abort immediately tears down the engine state, as if FlagAbort had been
// delivered.
func (c *Conn) Abort() {
	c.mu.Lock()
	c.conn.Teardown()
	c.mu.Unlock()

	c.closedWaker.Assert()
	c.writable.Notify(waiter.EventHup)
}

// EventRegister adds e to the set of waiters notified of write-readiness
// and connection-loss events: waiter.EventOut when an ACK or retransmit
// expiry may have freed buffer space, waiter.EventHup once the connection
// is lost or closed.
func (c *Conn) EventRegister(e *waiter.Entry, mask waiter.EventMask) {
	c.writable.EventRegister(e, mask)
}

// EventUnregister removes e from the write-readiness wait queue.
func (c *Conn) EventUnregister(e *waiter.Entry) {
	c.writable.EventUnregister(e)
}

// WaitClosed blocks until the connection is closed or aborted. If block is
// false, it reports the current closed state without waiting. The closed
// state is level-triggered, not one-shot, so WaitClosed re-asserts the
// waker after a successful Fetch: otherwise the first caller to observe
// the close would consume it and every later caller would block forever.
// Only one blocked WaitClosed caller is supported at a time, since a Waker
// tracks a single Sleeper; concurrent callers should share one goroutine
// that fans the result out.
func (c *Conn) WaitClosed(block bool) bool {
	if c.closedWaker.IsAsserted() {
		return true
	}
	var s sleep.Sleeper
	s.AddWaker(&c.closedWaker, 0)
	_, ok := s.Fetch(block)
	s.Done()
	if ok {
		c.closedWaker.Assert()
	}
	return ok
}

// State returns the connection's current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.state
}

// Err returns the reason the connection was torn down, or nil if it
// hasn't been. Every teardown (FlagClose, FlagAbort, FlagTimedOut or
// Abort) records tcperr.ErrLostConnection, so a caller woken by WaitClosed
// cannot tell a loss apart from a close through Err.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.err
}

// Unacked returns the number of bytes transmitted and not yet ACKed.
func (c *Conn) Unacked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Unacked()
}

// BufferedUnsent reports how many segments are still waiting for first
// transmission or retransmission.
func (c *Conn) BufferedUnsent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	c.conn.writeQueue.forEach(func(*writeBuffer) { n++ })
	return n
}

// Expired returns the count of segments dropped after exceeding MaxRtx.
func (c *Conn) Expired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Expired()
}

// SndNxt returns the sequence number of the most recently (re)started
// transmission, written by the engine just before a segment's first
// transmit attempt.
func (c *Conn) SndNxt() seqnum.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.sndNxt
}

// Collector exposes the connection's accounting counters for Prometheus
// registration.
func (c *Conn) Collector() prometheus.Collector {
	return c.conn.Collector()
}

// SegmentSnapshot is a read-only view of one writeBuffer's invariant-
// relevant fields, exported so test helpers (the checker package) can
// assert queue and segment invariants without reaching into engine
// internals.
type SegmentSnapshot struct {
	SeqNo  seqnum.Value
	PktLen int
	Sent   int
	Nrtx   int
}

// Snapshot returns the current contents of writeQueue and unackedQueue,
// front to back, plus the expired counter.
func (c *Conn) Snapshot() (writeQueue, unackedQueue []SegmentSnapshot, expired int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := func(q *writeBufferQueue) []SegmentSnapshot {
		var out []SegmentSnapshot
		q.forEach(func(w *writeBuffer) {
			out = append(out, SegmentSnapshot{
				SeqNo:  w.seqNo,
				PktLen: w.pktLen,
				Sent:   w.sent,
				Nrtx:   w.nrtx,
			})
		})
		return out
	}

	return snap(&c.conn.writeQueue), snap(&c.conn.unackedQueue), c.conn.Expired()
}
