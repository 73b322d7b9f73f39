/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package codec implements the wire frame used by every connection:
// varint(payload_size) ‖ varint(type_id) ‖ payload. A frame with
// payload_size == 0 is a heartbeat. Each message type registers a
// deserializer in a single global table indexed by its type-ID.
package codec

import (
	"encoding/binary"
	"io"

	liberr "github.com/yohummus/yogi-go/errors"
	fabricerr "github.com/yohummus/yogi-go/errors/fabric"
)

// TypeId identifies a message's wire type. Id 0 is reserved; it never
// appears on the wire because a zero-length payload is a heartbeat and
// carries no type-id at all.
type TypeId uint32

// Message is any value that can be placed on the wire by a connection.
type Message interface {
	// TypeId returns the wire type-id this message encodes as.
	TypeId() TypeId
	// Marshal appends the message's payload encoding to buf and returns
	// the result.
	Marshal(buf []byte) []byte
}

// Unmarshaler decodes a payload into a Message of a specific TypeId.
type Unmarshaler func(payload []byte) (Message, liberr.Error)

var registry = map[TypeId]Unmarshaler{}

// Register installs fn as the deserializer for messages of the given
// type-id. Intended to be called from package init() by every message
// family (terminal/binding mapping, data messages, scatter-gather).
func Register(id TypeId, fn Unmarshaler) {
	registry[id] = fn
}

// Frame is one decoded wire record: a heartbeat (Message == nil) or a
// type-tagged payload resolved through the registry.
type Frame struct {
	Heartbeat bool
	Message   Message
}

// EncodeFrame appends the wire encoding of msg to buf. A nil msg encodes
// the zero-length heartbeat frame.
func EncodeFrame(buf []byte, msg Message) []byte {
	if msg == nil {
		return appendVarint(buf, 0)
	}

	payload := msg.Marshal(nil)
	typeBuf := appendVarint(nil, uint64(msg.TypeId()))
	size := uint64(len(typeBuf) + len(payload))

	buf = appendVarint(buf, size)
	buf = append(buf, typeBuf...)
	buf = append(buf, payload...)
	return buf
}

// Decoder peels frames off of a byte stream one at a time, suspending
// (ErrShortBuffer) when the stream does not yet hold a complete frame.
// It holds no internal buffering beyond the slice it is asked to decode;
// callers own draining bytes from the ring and resuming on more data.
type Decoder struct{}

// ErrShortBuffer is a sentinel distinguishing "need more bytes" from a
// real decode failure; it is never reported to a user handler.
var ErrShortBuffer = io.ErrShortBuffer

// DecodeFrame attempts to decode one frame starting at buf[0]. It returns
// the decoded frame, the number of bytes consumed, and an error. A nil
// error with consumed == 0 cannot happen; ErrShortBuffer specifically
// means "not enough bytes yet, do not advance, wait for more input".
func DecodeFrame(buf []byte) (Frame, int, error) {
	size, szLen := binary.Uvarint(buf)
	if szLen <= 0 {
		return Frame{}, 0, ErrShortBuffer
	}

	if size == 0 {
		return Frame{Heartbeat: true}, szLen, nil
	}

	if len(buf) < szLen+int(size) {
		return Frame{}, 0, ErrShortBuffer
	}

	payload := buf[szLen : szLen+int(size)]

	typeId, tLen := binary.Uvarint(payload)
	if tLen <= 0 {
		return Frame{}, 0, fabricerr.ErrInvalidParam.Error()
	}

	unmarshal, ok := registry[TypeId(typeId)]
	if !ok {
		return Frame{}, 0, liberr.Newf(fabricerr.ErrInvalidParam.Uint16(), "unknown message type-id %d", typeId)
	}

	msg, err := unmarshal(payload[tLen:])
	if err != nil {
		return Frame{}, 0, err
	}

	return Frame{Message: msg}, szLen + int(size), nil
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}
