package notify_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riftkeep/gamecore/errs"
	"github.com/riftkeep/gamecore/notify"
)

type recordingConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *recordingConn) Enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *recordingConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func TestLoginThenSendDelivers(t *testing.T) {
	table := notify.NewTable()
	conn := &recordingConn{}
	table.Login(100, conn)

	table.Send(100, []byte("n1"), nil)
	table.Send(100, []byte("n2"), nil)

	require.Equal(t, [][]byte{[]byte("n1"), []byte("n2")}, conn.received())
}

func TestSendExcludesOriginatingConn(t *testing.T) {
	table := notify.NewTable()
	a, b := &recordingConn{}, &recordingConn{}
	table.Login(1, a)
	table.Login(1, b)

	table.Send(1, []byte("hi"), a)

	require.Empty(t, a.received())
	require.Equal(t, [][]byte{[]byte("hi")}, b.received())
}

func TestLogoutRemovesConn(t *testing.T) {
	table := notify.NewTable()
	conn := &recordingConn{}
	table.Login(1, conn)
	require.True(t, table.IsUserPresent(1))

	require.NoError(t, table.Logout(1, conn))
	require.False(t, table.IsUserPresent(1))

	table.Send(1, []byte("lost"), nil)
	require.Empty(t, conn.received())
}

func TestBrokerDownOnAreaSlotDisconnect(t *testing.T) {
	table := notify.NewTable()
	broker := &recordingConn{}
	table.BecomeProcessor(77, broker)

	require.Equal(t, [][]byte{notify.HandshakeFrame()}, broker.received())

	err := table.Logout(77, broker)
	require.ErrorIs(t, err, errs.ErrBrokerDown)
}

func TestSendWithNoLocalConnForwardsToBroker(t *testing.T) {
	table := notify.NewTable()
	broker := &recordingConn{}
	table.BecomeProcessor(77, broker)

	table.Send(999, []byte("payload"), nil)

	frames := broker.received()
	require.Len(t, frames, 2, "handshake plus one forwarded envelope")
	envelope := frames[1]
	require.True(t, len(envelope) > len("payload"))
}

func TestBrokerRoutesToRegisteredProcessor(t *testing.T) {
	b := notify.NewBroker()
	proc := &recordingConn{}
	b.RegisterProcessor(5, proc)
	b.RegisterOwner(999, 5)

	table := notify.NewTable()
	upstream := &recordingConn{}
	table.BecomeProcessor(1, upstream)
	table.Send(999, []byte("evt"), nil)

	envelope := upstream.received()[1] // [0] is the handshake frame
	require.True(t, b.Route(envelope))

	frames := proc.received()
	require.Len(t, frames, 1)
	require.Equal(t, []byte("evt"), frames[0])
}

func TestBrokerRouteUnknownTargetReturnsFalse(t *testing.T) {
	b := notify.NewBroker()
	b.RegisterProcessor(5, &recordingConn{})
	require.False(t, b.Route([]byte("short")))

	// "evt" followed by target 999 as an 8-byte little-endian suffix; 999
	// has no registered owner.
	envelope := append([]byte("evt"), 0xE7, 0x03, 0, 0, 0, 0, 0, 0)
	require.False(t, b.Route(envelope))
}

func TestUnregisterProcessorDropsOwnership(t *testing.T) {
	b := notify.NewBroker()
	proc := &recordingConn{}
	b.RegisterProcessor(5, proc)
	b.RegisterOwner(1, 5)

	b.UnregisterProcessor(5)

	// The table's own area id must differ from target 1, or Send would
	// deliver to the broker slot directly instead of forwarding an envelope.
	table := notify.NewTable()
	upstream := &recordingConn{}
	table.BecomeProcessor(2, upstream)
	table.Send(1, []byte("evt"), nil)
	envelope := upstream.received()[1]

	require.False(t, b.Route(envelope))
}
