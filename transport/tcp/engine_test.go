package tcp

import (
	"testing"

	"github.com/nandastack/nandastack/iob"
	"github.com/nandastack/nandastack/seqnum"
	"github.com/nandastack/nandastack/types"
	"github.com/sirupsen/logrus"
)

// fakeDriver records every Transmit call so tests can assert what the
// engine handed to the device, and lets the test script its own
// ACK/REXMIT/POLL events by calling HandlePoll directly, without a real
// peer connection.
type fakeDriver struct {
	transmits []transmitCall
	notified  int
}

type transmitCall struct {
	dest   types.Address
	offset int
	sndLen int
	seqNo  seqnum.Value
	data   []byte
}

func (d *fakeDriver) Transmit(dest types.Address, chain *iob.Chain, offset, sndLen int, seqNo seqnum.Value) error {
	d.transmits = append(d.transmits, transmitCall{dest: dest, offset: offset, sndLen: sndLen, seqNo: seqNo, data: chain.Bytes(offset, sndLen)})
	return nil
}

func (d *fakeDriver) NotifyTxAvailable(dest types.Address) {
	d.notified++
}

func newTestConn(t *testing.T, isn seqnum.Value, mss uint16, winSize int) (*Connection, *fakeDriver) {
	t.Helper()
	d := &fakeDriver{}
	log := logrus.NewEntry(logrus.New())
	c := newConnection(isn, ConnConfig{MSS: mss}, types.Address("peer"), d, log)
	c.state = StateEstablished
	c.winSize = winSize
	return c, d
}

func writeQueueLen(c *Connection) int {
	n := 0
	c.writeQueue.forEach(func(*writeBuffer) { n++ })
	return n
}

func unackedQueueLen(c *Connection) int {
	n := 0
	c.unackedQueue.forEach(func(*writeBuffer) { n++ })
	return n
}

// Send then HandlePoll(FlagPoll) emits one segment; a full ACK clears
// the unacked queue.
func TestSendAckSingleSegment(t *testing.T) {
	c, d := newTestConn(t, 1000, 1460, 65535)

	if _, err := c.Send([]byte("HELLO")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	flags := c.HandlePoll(FlagPoll)
	if flags.Has(FlagPoll) {
		t.Fatalf("FlagPoll should have been cleared after emitting a segment")
	}
	if len(d.transmits) != 1 {
		t.Fatalf("expected 1 transmit, got %d", len(d.transmits))
	}
	if got := d.transmits[0].data; string(got) != "HELLO" {
		t.Fatalf("transmitted %q, want HELLO", got)
	}
	if unackedQueueLen(c) != 1 || writeQueueLen(c) != 0 {
		t.Fatalf("expected segment moved to unackedQueue")
	}

	c.ackNo = seqnum.Value(1005)
	c.HandlePoll(FlagAck)

	if unackedQueueLen(c) != 0 {
		t.Fatalf("expected unackedQueue empty after full ACK")
	}
	if c.sentTotal != 5 {
		t.Fatalf("sentTotal = %d, want 5", c.sentTotal)
	}
}

// A payload larger than MSS is fragmented across multiple polls.
func TestFragmentationByMSS(t *testing.T) {
	c, d := newTestConn(t, 0, 4, 65535)

	if _, err := c.Send([]byte("ABCDEFGHIJ")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for i := 0; i < 3; i++ {
		c.HandlePoll(FlagPoll)
	}

	if len(d.transmits) != 3 {
		t.Fatalf("expected 3 transmits, got %d", len(d.transmits))
	}
	wantLens := []int{4, 4, 2}
	for i, tr := range d.transmits {
		if tr.sndLen != wantLens[i] {
			t.Fatalf("transmit %d: sndLen=%d, want %d", i, tr.sndLen, wantLens[i])
		}
	}
	if writeQueueLen(c) != 0 || unackedQueueLen(c) != 1 {
		t.Fatalf("expected single fully-sent buffer moved to unackedQueue")
	}

	c.ackNo = seqnum.Value(10)
	c.HandlePoll(FlagAck)
	if unackedQueueLen(c) != 0 {
		t.Fatalf("expected release after full ACK")
	}
}

// A partial ACK trims the head of the outstanding buffer instead of
// releasing it.
func TestPartialAckTrimsHead(t *testing.T) {
	c, _ := newTestConn(t, 0, 4, 65535)
	c.Send([]byte("ABCDEFGHIJ"))
	for i := 0; i < 3; i++ {
		c.HandlePoll(FlagPoll)
	}

	c.ackNo = seqnum.Value(4)
	c.HandlePoll(FlagAck)

	if unackedQueueLen(c) != 1 {
		t.Fatalf("expected buffer to remain in unackedQueue after partial ACK")
	}
	head := c.unackedQueue.front()
	if head.seqNo != 4 || head.pktLen != 6 || head.sent != 6 {
		t.Fatalf("unexpected head state after partial ACK: seqNo=%v pktLen=%d sent=%d", head.seqNo, head.pktLen, head.sent)
	}

	c.ackNo = seqnum.Value(10)
	c.HandlePoll(FlagAck)
	if unackedQueueLen(c) != 0 {
		t.Fatalf("expected release after second ACK")
	}
}

// Transmission is bounded by the advertised window, not just MSS.
func TestWindowBoundedTransmission(t *testing.T) {
	c, d := newTestConn(t, 0, 1460, 3)
	c.Send([]byte("ABCDE"))

	c.HandlePoll(FlagPoll)
	if len(d.transmits) != 1 || d.transmits[0].sndLen != 3 {
		t.Fatalf("expected first poll to emit 3 bytes, got %+v", d.transmits)
	}
	if writeQueueLen(c) != 1 || unackedQueueLen(c) != 0 {
		t.Fatalf("expected buffer to remain in writeQueue after partial send")
	}

	c.HandlePoll(FlagPoll)
	if len(d.transmits) != 2 || d.transmits[1].sndLen != 2 {
		t.Fatalf("expected second poll to emit remaining 2 bytes, got %+v", d.transmits)
	}
	if writeQueueLen(c) != 0 || unackedQueueLen(c) != 1 {
		t.Fatalf("expected buffer moved to unackedQueue once fully sent")
	}
}

// FlagRexmit moves every outstanding buffer back to writeQueue, ordered
// by sequence number, and the same event re-emits the lowest-seqno buffer.
func TestRexmitReordersBySeqNo(t *testing.T) {
	c, d := newTestConn(t, 0, 5, 65535)
	c.Send([]byte("AAAAA"))
	c.Send([]byte("BBBBB"))

	c.HandlePoll(FlagPoll)
	c.HandlePoll(FlagPoll)
	if unackedQueueLen(c) != 2 {
		t.Fatalf("expected both buffers fully transmitted, got unackedQueueLen=%d", unackedQueueLen(c))
	}

	c.HandlePoll(FlagRexmit)
	if len(d.transmits) != 3 || d.transmits[2].seqNo != 0 || string(d.transmits[2].data) != "AAAAA" {
		t.Fatalf("expected REXMIT to re-emit the lower-seqno buffer first, got %+v", d.transmits)
	}
	if writeQueueLen(c) != 1 || unackedQueueLen(c) != 1 {
		t.Fatalf("expected only the re-emitted buffer back in unackedQueue after REXMIT")
	}
	if head := c.writeQueue.front(); head.seqNo != 5 {
		t.Fatalf("expected writeQueue head to be the higher-seqno buffer, got seqNo=%v", head.seqNo)
	}
}

// A segment retransmitted MaxRtx times is dropped and counted as
// expired.
func TestRetransmitExpiry(t *testing.T) {
	c, _ := newTestConn(t, 0, 10, 65535)
	c.Send([]byte("0123456789"))
	c.HandlePoll(FlagPoll)
	if unackedQueueLen(c) != 1 {
		t.Fatalf("expected buffer fully transmitted")
	}

	for i := 0; i < MaxRtx; i++ {
		c.HandlePoll(FlagRexmit)
	}

	if c.expired != 1 {
		t.Fatalf("expired = %d, want 1", c.expired)
	}
	if writeQueueLen(c) != 0 || unackedQueueLen(c) != 0 {
		t.Fatalf("expected buffer released after MaxRtx retransmissions")
	}
}

// An ACK at or before the earliest unacked sequence number is a no-op.
func TestAckIdempotence(t *testing.T) {
	c, _ := newTestConn(t, 1000, 1460, 65535)
	c.Send([]byte("HELLO"))
	c.HandlePoll(FlagPoll)

	c.ackNo = seqnum.Value(1000)
	c.HandlePoll(FlagAck)

	if unackedQueueLen(c) != 1 {
		t.Fatalf("ACK at or before the earliest unacked seqno must be a no-op")
	}
	head := c.unackedQueue.front()
	if head.seqNo != 1000 || head.pktLen != 5 || head.sent != 5 {
		t.Fatalf("unexpected mutation from a no-op ACK: %+v", head)
	}
}

// Teardown drains both queues and detaches the subscription.
func TestTeardownDrains(t *testing.T) {
	c, _ := newTestConn(t, 0, 4, 65535)
	c.Send([]byte("ABCDEFGH"))
	c.HandlePoll(FlagPoll)

	c.callback.bind(c)
	c.HandlePoll(FlagClose)

	if writeQueueLen(c) != 0 || unackedQueueLen(c) != 0 {
		t.Fatalf("expected both queues empty after teardown")
	}
	if c.sentTotal != 0 {
		t.Fatalf("expected sentTotal reset to 0 after teardown, got %d", c.sentTotal)
	}
	if c.callback.registered() {
		t.Fatalf("expected subscription detached after teardown")
	}
}
