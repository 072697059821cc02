package checker_test

import (
	"testing"

	"github.com/nandastack/nandastack/checker"
	"github.com/nandastack/nandastack/iob"
	"github.com/nandastack/nandastack/seqnum"
	"github.com/nandastack/nandastack/transport/tcp"
	"github.com/nandastack/nandastack/types"
)

type discardDriver struct{}

func (discardDriver) Transmit(types.Address, *iob.Chain, int, int, seqnum.Value) error { return nil }
func (discardDriver) NotifyTxAvailable(types.Address)                                  {}

func newTestConn(t *testing.T, mss uint16) *tcp.Conn {
	t.Helper()
	c := tcp.NewConn(seqnum.Value(0), tcp.ConnConfig{MSS: mss}, types.Address("peer"), discardDriver{})
	c.SetEstablished(65535)
	return c
}

func TestQueueInvariantsHoldAfterFragmentedSend(t *testing.T) {
	c := newTestConn(t, 4)
	if _, err := c.Write([]byte("ABCDEFGHIJ")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for i := 0; i < 3; i++ {
		c.HandlePoll(tcp.FlagPoll, 0)
	}

	writeQueue, unackedQueue, _ := c.Snapshot()
	checker.Queue(t, writeQueue, checker.Empty())
	checker.Queue(t, unackedQueue,
		checker.Depth(1),
		checker.OrderedBySeqNo(),
		checker.BoundedSentPktLen(),
		checker.BoundedNrtx(tcp.MaxRtx),
	)
}

func TestQueueInvariantsHoldAfterRexmit(t *testing.T) {
	c := newTestConn(t, 5)
	c.Write([]byte("AAAAA"))
	c.Write([]byte("BBBBB"))
	c.HandlePoll(tcp.FlagPoll, 0)
	c.HandlePoll(tcp.FlagPoll, 0)

	c.HandlePoll(tcp.FlagRexmit, 0)

	writeQueue, unackedQueue, _ := c.Snapshot()
	checker.Queue(t, writeQueue,
		checker.OrderedBySeqNo(),
		checker.BoundedSentPktLen(),
		checker.BoundedNrtx(tcp.MaxRtx),
	)
	checker.Queue(t, unackedQueue, checker.Depth(1))
}

func TestQueueEmptyAfterTeardown(t *testing.T) {
	c := newTestConn(t, 4)
	c.Write([]byte("ABCDEFGH"))
	c.HandlePoll(tcp.FlagPoll, 0)

	c.HandlePoll(tcp.FlagClose, 0)

	writeQueue, unackedQueue, _ := c.Snapshot()
	checker.Queue(t, writeQueue, checker.Empty())
	checker.Queue(t, unackedQueue, checker.Empty())
}
