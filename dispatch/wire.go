package dispatch

import (
	"encoding/binary"

	"github.com/riftkeep/gamecore/notify"
	"github.com/riftkeep/gamecore/transport"
	"github.com/riftkeep/gamecore/wire"
)

func wireReaderFor(payload []byte) *wire.Reader { return wire.NewReader(payload) }

func wireWriter() *wire.Writer { return wire.NewWriter() }

// notificationFrame packs a Notification the way the wire format expects
// it on the connections it is fanned out to: type and object id, with no
// category/method header since it never round-trips through a handler.
// It is wrapped with transport's shared framer so it can be enqueued on
// any Conn regardless of which listener accepted that connection.
func notificationFrame(n notify.Notification) []byte {
	body := make([]byte, 16)
	binary.LittleEndian.PutUint64(body[0:8], n.Type)
	binary.LittleEndian.PutUint64(body[8:16], n.ObjectID)
	return transport.EncodeRaw(body)
}
