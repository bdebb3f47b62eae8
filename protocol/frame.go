// Package protocol implements the RFC 6455 WebSocket frame codec and the
// upgrade handshake. The decoder is a pure function over a byte slice
// rather than an iterator over an io.Reader: the event loop hands it
// whatever bytes a non-blocking read produced, not a blocking stream, so
// decode(buf) returns complete frames plus the residual bytes to retain.
package protocol

import (
	"encoding/binary"

	"github.com/xentixar/sockeon-go/api"
)

// Opcodes per RFC 6455 §5.2.
const (
	OpContinuation = 0x0
	OpText         = 0x1
	OpBinary       = 0x2
	OpClose        = 0x8
	OpPing         = 0x9
	OpPong         = 0xA

	finBit  = 0x80
	maskBit = 0x80

	// MaxFramePayload caps a single frame's payload.
	MaxFramePayload = 16 * 1024 * 1024
)

// CloseCode is a WebSocket close status code (RFC 6455 §7.4).
type CloseCode uint16

const (
	CloseNormal         CloseCode = 1000
	CloseGoingAway      CloseCode = 1001
	CloseProtocolError  CloseCode = 1002
	CloseUnsupportedType CloseCode = 1003
	CloseMessageTooBig  CloseCode = 1009
	CloseTryAgainLater  CloseCode = 1013
)

// Frame is a single decoded WebSocket frame.
type Frame struct {
	Fin     bool
	Opcode  byte
	Masked  bool
	Payload []byte
}

// IsControl reports whether this is a control frame (opcodes 8,9,10).
func (f Frame) IsControl() bool {
	return f.Opcode == OpClose || f.Opcode == OpPing || f.Opcode == OpPong
}

// FrameError signals a condition the caller must fail the connection for,
// carrying the RFC close code that should be sent back.
type FrameError struct {
	Code CloseCode
	Msg  string
}

func (e *FrameError) Error() string { return e.Msg }

// DecodeFrames walks buf extracting as many complete frames as are present,
// returning any leftover bytes (a partial frame) for the caller to retain
// until the next read.
func DecodeFrames(buf []byte) (frames []Frame, residual []byte, err error) {
	offset := 0
	for len(buf)-offset >= 2 {
		start := offset
		first := buf[offset]
		second := buf[offset+1]

		fin := first&finBit != 0
		opcode := first & 0x0F
		masked := second&maskBit != 0
		length := int64(second & 0x7F)
		pos := offset + 2

		switch length {
		case 126:
			if len(buf)-pos < 2 {
				return frames, buf[start:], nil
			}
			length = int64(binary.BigEndian.Uint16(buf[pos : pos+2]))
			pos += 2
		case 127:
			if len(buf)-pos < 8 {
				return frames, buf[start:], nil
			}
			length = int64(binary.BigEndian.Uint64(buf[pos : pos+8]))
			pos += 8
		}

		if length > MaxFramePayload {
			return nil, nil, &FrameError{Code: CloseMessageTooBig, Msg: "frame payload exceeds 16 MiB cap"}
		}

		ctrl := opcode == OpClose || opcode == OpPing || opcode == OpPong
		if ctrl && (length > 125 || !fin) {
			return nil, nil, &FrameError{Code: CloseProtocolError, Msg: "control frame too large or fragmented"}
		}

		var maskKey [4]byte
		if masked {
			if len(buf)-pos < 4 {
				return frames, buf[start:], nil
			}
			copy(maskKey[:], buf[pos:pos+4])
			pos += 4
		}

		if int64(len(buf)-pos) < length {
			return frames, buf[start:], nil
		}

		payload := make([]byte, length)
		copy(payload, buf[pos:pos+int(length)])
		if masked {
			unmask(payload, maskKey)
		} else {
			// Client-to-server frames must be masked (RFC 6455 §5.1);
			// fail the connection with 1002 otherwise.
			return nil, nil, &FrameError{Code: CloseProtocolError, Msg: "client frame not masked"}
		}

		frames = append(frames, Frame{Fin: fin, Opcode: opcode, Masked: masked, Payload: payload})
		offset = pos + int(length)
	}
	return frames, buf[offset:], nil
}

// EncodeFrame serializes a single, never-masked server-to-client frame,
// choosing the shortest of the 7-bit/16-bit/64-bit length encodings.
func EncodeFrame(opcode byte, payload []byte, fin bool) []byte {
	var header [10]byte
	header[0] = opcode & 0x0F
	if fin {
		header[0] |= finBit
	}

	n := len(payload)
	var headerLen int
	switch {
	case n <= 125:
		header[1] = byte(n)
		headerLen = 2
	case n <= 0xFFFF:
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:], uint16(n))
		headerLen = 4
	default:
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(n))
		headerLen = 10
	}

	out := make([]byte, headerLen+n)
	copy(out, header[:headerLen])
	copy(out[headerLen:], payload)
	return out
}

// EncodeFrameInto encodes a frame and copies it into a pooled buffer, for
// the broadcast hot path where one encoded frame is written to every
// target socket. The encode step itself still allocates via EncodeFrame.
func EncodeFrameInto(pool api.BufferPool, opcode byte, payload []byte, fin bool) api.Buffer {
	encoded := EncodeFrame(opcode, payload, fin)
	buf := pool.Get(len(encoded))
	copy(buf.Data, encoded)
	return buf
}

func unmask(buf []byte, key [4]byte) {
	for i := range buf {
		buf[i] ^= key[i%4]
	}
}
