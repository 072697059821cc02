package tcp

import (
	"github.com/nandastack/nandastack/iob"
	"github.com/nandastack/nandastack/seqnum"
	"github.com/nandastack/nandastack/types"
	"github.com/sirupsen/logrus"
)

// MaxRtx is the default per-segment retransmission ceiling: once a
// buffer's nrtx reaches MaxRtx it is dropped and conn.expired increments.
const MaxRtx = 3

// defaultMSS is used when a ConnConfig does not specify one.
const defaultMSS = 1460

// defaultPoolPages bounds the default iob.Pool capacity.
const defaultPoolPages = 256

// State is the connection's TCP state as observed by the send engine. The
// engine reads it (transmission requires StateEstablished) and sets
// StateClosed on Teardown; the surrounding protocol machine, out of scope
// here, owns the other transitions.
type State int

const (
	StateClosed State = iota
	StateEstablished
	StateCloseWait
	StateClosing
)

// Driver is the narrow network-device contract the engine transmits
// through and is notified by.
type Driver interface {
	// Transmit hands sndLen bytes starting at offset within chain to the
	// device for delivery to dest. seqNo is the sequence number of the
	// first byte of this transmission, which a real device needs to
	// build the segment header.
	Transmit(dest types.Address, chain *iob.Chain, offset, sndLen int, seqNo seqnum.Value) error

	// NotifyTxAvailable wakes the driver for a poll cycle addressed to
	// dest.
	NotifyTxAvailable(dest types.Address)
}

// ConnConfig configures a single connection's engine: buffer sizing and
// the logger are passed in at construction instead of being hardwired
// constants.
type ConnConfig struct {
	// MSS is the maximum segment size; defaults to defaultMSS if zero.
	MSS uint16

	// PoolPages bounds the connection's iob.Pool capacity; defaults to
	// defaultPoolPages if zero.
	PoolPages int

	// Logger receives structured diagnostics about segment lifecycle,
	// retransmission, and teardown. A nil Logger falls back to
	// logrus.StandardLogger().
	Logger *logrus.Logger

	// Endpoint identifies the local/remote address and port pair this
	// connection was accepted or dialed on. Its ports are attached to
	// every log line alongside the connection's xid; metrics carry only
	// the xid.
	Endpoint types.TransportEndpointId
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.MSS == 0 {
		c.MSS = defaultMSS
	}
	if c.PoolPages == 0 {
		c.PoolPages = defaultPoolPages
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// StackConfig configures the minimal stack/wiring layer. It carries only
// what's shared across every connection registered on a Stack; each
// connection still supplies its own Driver through NewConn's driver argument,
// since a stack may bridge several distinct devices at once.
type StackConfig struct {
	Logger *logrus.Logger
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c StackConfig) WithDefaults() StackConfig {
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}
