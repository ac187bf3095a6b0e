// Package wire implements the fixed-size little-endian primitives the
// request/response codec is built on: scalar readers/writers, a
// length-prefixed UTF-8 string, and an epoch-relative timestamp. Every
// scalar is packed with no padding; booleans are one byte; lists are a
// u16 element count followed by that many serialized elements.
package wire

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/riftkeep/gamecore/errs"
)

// DefaultEpoch is the instant timestamps are relative to unless a node
// configures a different one.
var DefaultEpoch = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

var order = binary.LittleEndian

// Writer accumulates a serialized payload. The zero value is ready to
// use, with a zero Epoch; NewWriter sets DefaultEpoch.
type Writer struct {
	buf   []byte
	Epoch time.Time
}

// NewWriter returns a Writer using DefaultEpoch for timestamps.
func NewWriter() *Writer {
	return &Writer{Epoch: DefaultEpoch}
}

// Bytes returns the accumulated payload. The returned slice aliases the
// Writer's internal buffer and must not be retained across further writes.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Reset clears the writer so it can be reused for the next serialization.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteU8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) WriteI8(v int8)    { w.buf = append(w.buf, uint8(v)) }

func (w *Writer) WriteU16(v uint16) {
	var b [2]byte
	order.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteI16(v int16) { w.WriteU16(uint16(v)) }

func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	order.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteI32(v int32) { w.WriteU32(uint32(v)) }

func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	order.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteI64(v int64) { w.WriteU64(uint64(v)) }

func (w *Writer) WriteF32(v float32) { w.WriteU32(math.Float32bits(v)) }
func (w *Writer) WriteF64(v float64) { w.WriteU64(math.Float64bits(v)) }

// WriteString writes a u16 byte-length prefix followed by raw UTF-8, no
// null terminator.
func (w *Writer) WriteString(s string) {
	w.WriteU16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteTimestamp writes t as u64 milliseconds since the writer's epoch.
func (w *Writer) WriteTimestamp(t time.Time) {
	ms := t.Sub(w.Epoch).Milliseconds()
	w.WriteU64(uint64(ms))
}

// Reader consumes a serialized payload sequentially. Every method returns
// errs.ErrShortPayload rather than panicking when the buffer is exhausted,
// so a truncated frame surfaces as invalid_parameters at the dispatch
// boundary instead of crashing a worker.
type Reader struct {
	buf   []byte
	pos   int
	Epoch time.Time
}

// NewReader wraps b for sequential reads using DefaultEpoch.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b, Epoch: DefaultEpoch}
}

// Remaining reports how many unread bytes are left.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return errs.ErrShortPayload
	}
	return nil
}

func (r *Reader) ReadBool() (bool, error) {
	if err := r.need(1); err != nil {
		return false, err
	}
	v := r.buf[r.pos] != 0
	r.pos++
	return v, nil
}

func (r *Reader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadI8() (int8, error) {
	v, err := r.ReadU8()
	return int8(v), err
}

func (r *Reader) ReadU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := order.Uint16(r.buf[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

func (r *Reader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := order.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

func (r *Reader) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := order.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadString reads a u16 byte-length prefix and that many raw UTF-8 bytes.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadU16()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// ReadTimestamp reads a u64 milliseconds-since-epoch value.
func (r *Reader) ReadTimestamp() (time.Time, error) {
	ms, err := r.ReadU64()
	if err != nil {
		return time.Time{}, err
	}
	return r.Epoch.Add(time.Duration(ms) * time.Millisecond), nil
}

// ReadListLen reads the u16 element count prefixing every list.
func (r *Reader) ReadListLen() (uint16, error) { return r.ReadU16() }

// WriteListLen writes the u16 element count prefixing every list.
func (w *Writer) WriteListLen(n int) { w.WriteU16(uint16(n)) }
