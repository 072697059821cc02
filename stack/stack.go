// Package stack provides the minimal registry gluing a Conn to a Driver,
// trimmed to what's needed to run the send engine end to end against an
// in-memory loopback driver.
package stack

import (
	"sync"

	"github.com/nandastack/nandastack/iob"
	"github.com/nandastack/nandastack/seqnum"
	"github.com/nandastack/nandastack/transport/tcp"
	"github.com/nandastack/nandastack/types"
	"github.com/sirupsen/logrus"
)

// Stack registers connections by remote address and dispatches poll
// events and transmissions between them and a tcp.Driver.
type Stack struct {
	mu    sync.Mutex
	conns map[types.Address]*tcp.Conn
	log   *logrus.Entry
}

// New creates an empty Stack from cfg. A zero StackConfig falls back to
// logrus.StandardLogger.
func New(cfg tcp.StackConfig) *Stack {
	cfg = cfg.WithDefaults()
	return &Stack{
		conns: make(map[types.Address]*tcp.Conn),
		log:   cfg.Logger.WithField("component", "stack"),
	}
}

// NewConn creates a Conn for remoteAddr, registers it with the stack, and
// returns it. driver is used for transmission and tx-available
// notifications; a LoopbackDriver built with NewLoopbackDriver routes
// traffic to another connection registered on this stack.
func (s *Stack) NewConn(isn seqnum.Value, cfg tcp.ConnConfig, remoteAddr types.Address, driver tcp.Driver) *tcp.Conn {
	c := tcp.NewConn(isn, cfg, remoteAddr, driver)

	s.mu.Lock()
	s.conns[remoteAddr] = c
	s.mu.Unlock()

	s.log.WithField("remote", remoteAddr).Debug("connection registered")
	return c
}

// Conn looks up a registered connection by remote address.
func (s *Stack) Conn(remoteAddr types.Address) (*tcp.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[remoteAddr]
	return c, ok
}

// Poll dispatches a poll event to the connection registered for
// remoteAddr, if any. It is the narrow substitute for the lower protocol
// machine's poll loop, out of scope here.
func (s *Stack) Poll(remoteAddr types.Address, flags tcp.EventFlags, ackNo seqnum.Value) tcp.EventFlags {
	c, ok := s.Conn(remoteAddr)
	if !ok {
		return flags
	}
	return c.HandlePoll(flags, ackNo)
}

// LoopbackDriver is an in-memory tcp.Driver that hands transmitted bytes
// directly to a peer Conn's receiver and folds the resulting ACK back
// into a FlagAck|FlagPoll poll event on the sender. It exists to drive
// the engine end to end without a real network device.
type LoopbackDriver struct {
	stack *Stack
	peer  types.Address
}

// NewLoopbackDriver returns a Driver that delivers traffic straight into
// the connection registered under the key peer. Stack.NewConn files a
// connection under its *remoteAddr* argument, i.e. under the address its
// counterpart is known by — so for two connections a (built with
// remoteAddr "b") and b (built with remoteAddr "a"), the registry holds
// conns["b"] == a and conns["a"] == b. To reach b, a's driver must look
// itself up by the key b is filed under, which is "a"; so a's driver
// takes peer "a", and b's driver takes peer "b" — each driver's peer is
// the *other* connection's remoteAddr, not its own.
func NewLoopbackDriver(stack *Stack, peer types.Address) *LoopbackDriver {
	return &LoopbackDriver{stack: stack, peer: peer}
}

// Transmit implements tcp.Driver.
func (d *LoopbackDriver) Transmit(dest types.Address, chain *iob.Chain, offset, sndLen int, seqNo seqnum.Value) error {
	peer, ok := d.stack.Conn(d.peer)
	if !ok {
		return nil
	}
	b := chain.Bytes(offset, sndLen)

	ackNo, ok := peer.Deliver(seqNo, len(b))
	if !ok {
		return nil
	}

	// Poll is issued on a separate goroutine: Transmit runs with dest's
	// connection lock already held (it was invoked from dest's own
	// HandlePoll), so delivering the resulting ACK synchronously here
	// would deadlock trying to reacquire that same lock.
	go d.stack.Poll(dest, tcp.FlagAck|tcp.FlagPoll, ackNo)
	return nil
}

// NotifyTxAvailable implements tcp.Driver; later polls come from the ACKs
// Transmit folds back, so this only triggers the initial poll for dest. It
// is called from dest's own Write with dest's lock held, so, as in
// Transmit, the poll is issued on a separate goroutine.
func (d *LoopbackDriver) NotifyTxAvailable(dest types.Address) {
	go d.stack.Poll(dest, tcp.FlagPoll, 0)
}
