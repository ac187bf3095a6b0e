// Package notify implements the process-wide fan-out table that maps a
// logged-in authenticated id to its live connections, plus the broker
// link a processor node uses to forward notifications outside its own
// area and the routing table a broker node uses to send them back.
//
// Notifications are fire-and-forget: no acknowledgment, no retry, no
// persistence. A given sender goroutine's sends to one connection stay
// FIFO because Send only ever appends to that connection's own queue.
package notify

import (
	"encoding/binary"
	"sync"

	"github.com/riftkeep/gamecore/errs"
)

// Notification is what a handler's outbox carries until dispatch drains
// it after a successful commit.
type Notification struct {
	TargetAuthenticatedID uint64
	Type                  uint64
	ObjectID              uint64
}

// Conn is the minimal outbound capability the fan-out stage needs from a
// connection; the concrete TCP/WS connection types in transport satisfy
// it. Enqueue must not block indefinitely — the transport's own queue is
// MPSC per connection.
type Conn interface {
	Enqueue(frame []byte) error
}

// Table is the local id -> connections map used by one node to deliver
// notifications to its own logged-in clients, and (if configured as a
// processor) to forward notifications addressed outside the local area
// to the broker.
type Table struct {
	mu    sync.Mutex
	conns map[uint64][]Conn

	areaID uint64
	broker Conn
}

// NewTable returns an empty fan-out table for a node with no processor
// role. Call BecomeProcessor to add one.
func NewTable() *Table {
	return &Table{conns: map[uint64][]Conn{}}
}

// Login registers c under authenticatedID, called from dispatch step 9
// when a handler moves a connection from unauthenticated to
// authenticated.
func (t *Table) Login(authenticatedID uint64, c Conn) {
	if authenticatedID == 0 {
		return
	}
	t.mu.Lock()
	t.conns[authenticatedID] = append(t.conns[authenticatedID], c)
	t.mu.Unlock()
}

// Logout removes c from authenticatedID's connection list, called from
// dispatch step 9 on logout and from the transport on client disconnect.
// Removing the connection registered under the node's own area id (the
// broker's reserved slot) is fatal: the node must tear down.
func (t *Table) Logout(authenticatedID uint64, c Conn) error {
	if authenticatedID == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.conns[authenticatedID]
	for i, existing := range list {
		if existing == c {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(t.conns, authenticatedID)
	} else {
		t.conns[authenticatedID] = list
	}

	if t.areaID != 0 && authenticatedID == t.areaID {
		return errs.ErrBrokerDown
	}
	return nil
}

// Send enqueues frame on every connection registered for target, except
// excludeConn if non-nil (a handler may not want to echo a notification
// back to the connection whose request produced it). If target is not a
// locally logged-in client and this node has a broker configured, the
// frame is forwarded to the broker instead.
func (t *Table) Send(target uint64, frame []byte, excludeConn Conn) {
	t.mu.Lock()
	conns := append([]Conn(nil), t.conns[target]...)
	broker := t.broker
	t.mu.Unlock()

	if len(conns) == 0 {
		if broker != nil {
			t.forwardToBroker(target, frame)
		}
		return
	}
	for _, c := range conns {
		if c == excludeConn {
			continue
		}
		c.Enqueue(frame)
	}
}

// BecomeProcessor configures this node as the processor for areaID,
// registers broker as the connection reserved under that id, and sends
// the broker an empty (0x00, 0x00) handshake frame so it learns which
// physical connection routes to this area.
func (t *Table) BecomeProcessor(areaID uint64, broker Conn) {
	t.mu.Lock()
	t.areaID = areaID
	t.broker = broker
	t.conns[areaID] = append(t.conns[areaID], broker)
	t.mu.Unlock()

	broker.Enqueue(HandshakeFrame())
}

// HandshakeFrame builds the empty (category=0, method=0) frame a
// processor sends its broker on connect, matching the reference
// implementation's create_message(0x00, 0x00), in the same layout as
// transport.Encode: length prefix, uncompressed flag byte, category,
// method. The broker learns which area a connection belongs to from
// BecomeProcessor's own bookkeeping on the processor side and the
// connection identity on the broker side, not from anything carried in
// the frame itself.
func HandshakeFrame() []byte {
	frame := make([]byte, 4+1+1+1)
	binary.LittleEndian.PutUint32(frame[0:4], 3)
	frame[4] = 0x00 // flag: uncompressed
	frame[5] = 0x00
	frame[6] = 0x00
	return frame
}

// forwardToBroker appends target as an 8-byte little-endian suffix to
// frame and enqueues it on the broker connection, per the broker-forward
// envelope in the wire format.
func (t *Table) forwardToBroker(target uint64, frame []byte) {
	envelope := make([]byte, len(frame)+8)
	copy(envelope, frame)
	binary.LittleEndian.PutUint64(envelope[len(frame):], target)
	t.broker.Enqueue(envelope)
}

// IsUserPresent reports whether authenticatedID has at least one live
// connection registered locally.
func (t *Table) IsUserPresent(authenticatedID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns[authenticatedID]) > 0
}

// Broker is the routing table a broker node keeps: which processor
// connection owns which area, and which authenticated ids currently
// belong to which area so an incoming forwarded notification (destined
// for a client, not an area) can be routed back to the right processor.
type Broker struct {
	mu         sync.Mutex
	processors map[uint64]Conn // areaID -> processor connection
	owners     map[uint64]uint64
}

// NewBroker returns an empty broker routing table.
func NewBroker() *Broker {
	return &Broker{processors: map[uint64]Conn{}, owners: map[uint64]uint64{}}
}

// RegisterProcessor records that areaID's traffic is routed over conn,
// called once a processor connection has sent its area id header.
func (b *Broker) RegisterProcessor(areaID uint64, conn Conn) {
	b.mu.Lock()
	b.processors[areaID] = conn
	b.mu.Unlock()
}

// UnregisterProcessor drops areaID's routing entry and every client
// ownership record pointing at it, called on processor disconnect.
func (b *Broker) UnregisterProcessor(areaID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.processors, areaID)
	for client, owner := range b.owners {
		if owner == areaID {
			delete(b.owners, client)
		}
	}
}

// RegisterOwner records that authenticatedID currently belongs to areaID,
// called when a processor reports a login for one of its clients.
func (b *Broker) RegisterOwner(authenticatedID, areaID uint64) {
	b.mu.Lock()
	b.owners[authenticatedID] = areaID
	b.mu.Unlock()
}

// UnregisterOwner drops the ownership record for authenticatedID.
func (b *Broker) UnregisterOwner(authenticatedID uint64) {
	b.mu.Lock()
	delete(b.owners, authenticatedID)
	b.mu.Unlock()
}

// Route strips the 8-byte target suffix from envelope, looks up which
// area owns that target, and forwards the remaining frame to that area's
// processor connection. It reports false if the target has no known
// owner (the client logged out, or never logged in on this cluster).
func (b *Broker) Route(envelope []byte) bool {
	if len(envelope) < 8 {
		return false
	}
	frame := envelope[:len(envelope)-8]
	target := binary.LittleEndian.Uint64(envelope[len(envelope)-8:])

	b.mu.Lock()
	areaID, ok := b.owners[target]
	var conn Conn
	if ok {
		conn = b.processors[areaID]
	}
	b.mu.Unlock()

	if conn == nil {
		return false
	}
	conn.Enqueue(frame)
	return true
}
