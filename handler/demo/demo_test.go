package demo_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riftkeep/gamecore/handler"
	"github.com/riftkeep/gamecore/handler/demo"
	"github.com/riftkeep/gamecore/validate"
	"github.com/riftkeep/gamecore/wire"
)

func TestPingAlwaysSucceedsAndEchoesAuth(t *testing.T) {
	h, err := demo.NewPing()
	require.NoError(t, err)

	require.NoError(t, h.Deserialize(wire.NewReader(nil)))
	require.Equal(t, validate.Success, h.Validate())

	code, nextID, err := h.Process(42)
	require.NoError(t, err)
	require.Equal(t, handler.Success, code)
	require.Equal(t, uint64(42), nextID)

	w := wire.NewWriter()
	require.NoError(t, h.Serialize(w))
	require.Empty(t, w.Bytes())
}

func TestEchoReturnsInputMessage(t *testing.T) {
	h, err := demo.NewEcho()
	require.NoError(t, err)

	w := wire.NewWriter()
	w.WriteString("Hi")
	require.NoError(t, h.Deserialize(wire.NewReader(w.Bytes())))
	require.Equal(t, validate.Success, h.Validate())

	code, _, err := h.Process(0)
	require.NoError(t, err)
	require.Equal(t, handler.Success, code)

	out := wire.NewWriter()
	require.NoError(t, h.Serialize(out))

	r := wire.NewReader(out.Bytes())
	length, err := r.ReadU16()
	require.NoError(t, err)
	require.Equal(t, uint16(2), length)
	require.Equal(t, 2, r.Remaining())
}

func TestEchoDeserializeShortPayloadFails(t *testing.T) {
	h, err := demo.NewEcho()
	require.NoError(t, err)
	require.Error(t, h.Deserialize(wire.NewReader([]byte{0, 5})))
}

func newPagedRequest(t *testing.T, skip, take int32, orderBy string, ascending bool) *wire.Reader {
	t.Helper()
	w := wire.NewWriter()
	w.WriteI32(skip)
	w.WriteI32(take)
	w.WriteString(orderBy)
	w.WriteBool(ascending)
	return wire.NewReader(w.Bytes())
}

func TestPagedListReturnsLowestTwoByID(t *testing.T) {
	h, err := demo.NewAccountRecordList()
	require.NoError(t, err)

	require.NoError(t, h.Deserialize(newPagedRequest(t, 0, 2, "id", true)))
	require.Equal(t, validate.Success, h.Validate())

	code, _, err := h.Process(0)
	require.NoError(t, err)
	require.Equal(t, handler.Success, code)

	list := h.(*demo.AccountRecordList).List
	require.Len(t, list, 2)
	require.Equal(t, uint64(1), list[0].ID)
	require.Equal(t, uint64(2), list[1].ID)

	w := wire.NewWriter()
	require.NoError(t, h.Serialize(w))

	r := wire.NewReader(w.Bytes())
	count, err := r.ReadU16()
	require.NoError(t, err)
	require.Equal(t, uint16(2), count)
}

func TestPagedListUnregisteredFieldIsInvalidParameters(t *testing.T) {
	h, err := demo.NewAccountRecordList()
	require.NoError(t, err)
	require.NoError(t, h.Deserialize(newPagedRequest(t, 0, 2, "nope", true)))
	require.Equal(t, validate.Code(handler.InvalidParameters), h.Validate())
}

func TestPagedListDescendingByName(t *testing.T) {
	h, err := demo.NewAccountRecordList()
	require.NoError(t, err)
	require.NoError(t, h.Deserialize(newPagedRequest(t, 0, 5, "name", false)))
	require.Equal(t, validate.Success, h.Validate())

	code, _, err := h.Process(0)
	require.NoError(t, err)
	require.Equal(t, handler.Success, code)

	list := h.(*demo.AccountRecordList).List
	require.Len(t, list, 5)
	require.Equal(t, "erin", list[0].Name)
	require.Equal(t, "alice", list[4].Name)
}
