// Package transport holds the framing shared by the TCP and WebSocket
// listeners: a length-prefixed envelope carrying category, method and
// payload, with optional zstd compression above a size threshold — the
// same shape as the reference Packet's compressed-bit-in-the-length-word
// trick, adapted to a plain flag byte instead of stealing a length bit.
package transport

import (
	"encoding/binary"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/riftkeep/gamecore/errs"
)

// CompressThreshold is the payload size above which Encode compresses the
// frame body with zstd. Frames from the notification fan-out (fixed 16
// or 24 bytes) never cross it.
const CompressThreshold = 512

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic(err)
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
}

const (
	flagNone       byte = 0
	flagCompressed byte = 1
)

func compress(payload []byte) (body []byte, flag byte) {
	if len(payload) > CompressThreshold {
		return encoder.EncodeAll(payload, nil), flagCompressed
	}
	return payload, flagNone
}

func withLengthPrefix(body []byte) []byte {
	frame := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame
}

// Encode builds one wire frame: u32 total length, 1 flag byte, category,
// method, then the (possibly compressed) payload.
func Encode(category, method uint8, payload []byte) []byte {
	compressed, flag := compress(payload)
	body := make([]byte, 1+1+1+len(compressed))
	body[0] = flag
	body[1] = category
	body[2] = method
	copy(body[3:], compressed)
	return withLengthPrefix(body)
}

// EncodeResponse builds a response frame: u32 total length, 1 flag byte,
// u16 response code, then the (possibly compressed) payload. It has no
// category/method: a response is addressed by the request that produced
// it, not routed by key.
func EncodeResponse(code uint16, payload []byte) []byte {
	compressed, flag := compress(payload)
	body := make([]byte, 1+2+len(compressed))
	body[0] = flag
	binary.LittleEndian.PutUint16(body[1:3], code)
	copy(body[3:], compressed)
	return withLengthPrefix(body)
}

// DecodeResponse is Decode's counterpart for a response frame's body.
func DecodeResponse(body []byte) (code uint16, payload []byte, err error) {
	if len(body) < 3 {
		return 0, nil, errs.ErrShortPayload
	}
	flag := body[0]
	code = binary.LittleEndian.Uint16(body[1:3])
	payload = body[3:]
	if flag == flagCompressed {
		payload, err = decoder.DecodeAll(payload, nil)
		if err != nil {
			return 0, nil, errors.Wrap(err, "transport: zstd decode")
		}
	}
	return code, payload, nil
}

// EncodeRaw wraps an already-framed notification body (no category or
// method) with the same length prefix and an uncompressed flag, for
// notification frames that never carry a routing key.
func EncodeRaw(body []byte) []byte {
	wrapped := make([]byte, 1+len(body))
	wrapped[0] = flagNone
	copy(wrapped[1:], body)
	return withLengthPrefix(wrapped)
}

// Decode splits a frame body (post length-prefix, as delivered by a
// Reader) into category, method and the decompressed payload.
func Decode(body []byte) (category, method uint8, payload []byte, err error) {
	if len(body) < 3 {
		return 0, 0, nil, errs.ErrShortPayload
	}
	flag := body[0]
	category, method = body[1], body[2]
	payload = body[3:]
	if flag == flagCompressed {
		payload, err = decoder.DecodeAll(payload, nil)
		if err != nil {
			return 0, 0, nil, errors.Wrap(err, "transport: zstd decode")
		}
	}
	return category, method, payload, nil
}

// MaxFrameLen bounds a single frame so a corrupt or malicious length
// prefix can't force an unbounded allocation.
const MaxFrameLen = 16 << 20
