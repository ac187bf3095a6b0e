package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riftkeep/gamecore/errs"
)

func TestScalarRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteBool(true)
	w.WriteU8(0xAB)
	w.WriteI8(-5)
	w.WriteU16(0xBEEF)
	w.WriteI16(-1000)
	w.WriteU32(0xDEADBEEF)
	w.WriteI32(-123456)
	w.WriteU64(0x0102030405060708)
	w.WriteI64(-1)
	w.WriteF32(3.5)
	w.WriteF64(2.71828)
	w.WriteString("hello")

	r := NewReader(w.Bytes())
	b, err := r.ReadBool()
	require.NoError(t, err)
	require.True(t, b)

	u8, err := r.ReadU8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xAB), u8)

	i8, err := r.ReadI8()
	require.NoError(t, err)
	require.Equal(t, int8(-5), i8)

	u16, err := r.ReadU16()
	require.NoError(t, err)
	require.Equal(t, uint16(0xBEEF), u16)

	i16, err := r.ReadI16()
	require.NoError(t, err)
	require.Equal(t, int16(-1000), i16)

	u32, err := r.ReadU32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), u32)

	i32, err := r.ReadI32()
	require.NoError(t, err)
	require.Equal(t, int32(-123456), i32)

	u64, err := r.ReadU64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102030405060708), u64)

	i64, err := r.ReadI64()
	require.NoError(t, err)
	require.Equal(t, int64(-1), i64)

	f32, err := r.ReadF32()
	require.NoError(t, err)
	require.Equal(t, float32(3.5), f32)

	f64, err := r.ReadF64()
	require.NoError(t, err)
	require.Equal(t, 2.71828, f64)

	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	require.Zero(t, r.Remaining())
}

func TestTimestampRoundTrip(t *testing.T) {
	w := NewWriter()
	want := DefaultEpoch.Add(90 * time.Minute)
	w.WriteTimestamp(want)

	r := NewReader(w.Bytes())
	got, err := r.ReadTimestamp()
	require.NoError(t, err)
	require.True(t, want.Equal(got))
}

func TestShortPayloadErrors(t *testing.T) {
	w := NewWriter()
	w.WriteU32(1)
	full := w.Bytes()

	for n := 0; n < len(full); n++ {
		r := NewReader(full[:n])
		_, err := r.ReadU32()
		require.ErrorIs(t, err, errs.ErrShortPayload)
	}
}

func TestListLenRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteListLen(3)
	r := NewReader(w.Bytes())
	n, err := r.ReadListLen()
	require.NoError(t, err)
	require.Equal(t, uint16(3), n)
}
