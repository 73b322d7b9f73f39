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

// Package proto defines the wire messages shared by every pattern: the
// terminal/binding mapping protocol (§4.5 family), the publish-subscribe
// data messages, and the scatter-gather request/response pair. Every
// message family is parameterized by pattern.Kind so a single type-id
// space can hold all nine patterns' traffic: typeId = base(kind)*32 + tag.
package proto

import (
	"encoding/binary"

	liberr "github.com/yohummus/yogi-go/errors"
	"github.com/yohummus/yogi-go/codec"
	fabricerr "github.com/yohummus/yogi-go/errors/fabric"
	"github.com/yohummus/yogi-go/id"
	"github.com/yohummus/yogi-go/pattern"
)

// Tag enumerates the message shapes within a pattern's type-id block.
type Tag uint32

const (
	TagTerminalDescription Tag = iota
	TagTerminalMapping
	TagTerminalNoticed
	TagTerminalRemoved
	TagTerminalRemovedAck
	TagBindingDescription
	TagBindingMapping
	TagBindingNoticed
	TagBindingRemoved
	TagBindingRemovedAck
	TagBindingEstablished
	TagBindingReleased
	TagSubscribe
	TagUnsubscribe
	TagData
	TagCachedData
	TagScatter
	TagGather
)

const block = 32

// TypeId computes the wire type-id for a (pattern, tag) pair.
func TypeId(k pattern.Kind, t Tag) codec.TypeId {
	return codec.TypeId(uint32(k)*block + uint32(t))
}

// Split recovers the pattern and tag from a wire type-id.
func Split(t codec.TypeId) (pattern.Kind, Tag) {
	return pattern.Kind(uint32(t) / block), Tag(uint32(t) % block)
}

// base is embedded in every message so TypeId() is derived once.
type base struct {
	kind pattern.Kind
	tag  Tag
}

func (b base) TypeId() codec.TypeId { return TypeId(b.kind, b.tag) }

// TerminalDescription announces "I just created the terminal described;
// MyId is my local id".
type TerminalDescription struct {
	base
	Identifier id.Identifier
	MyId       id.Id
}

func NewTerminalDescription(k pattern.Kind, ident id.Identifier, myID id.Id) TerminalDescription {
	return TerminalDescription{base: base{k, TagTerminalDescription}, Identifier: ident, MyId: myID}
}

func (m TerminalDescription) Marshal(buf []byte) []byte {
	buf = appendUvarint(buf, uint64(m.Identifier.Signature))
	buf = appendString(buf, m.Identifier.Name)
	buf = appendBool(buf, m.Identifier.Hidden)
	buf = appendUvarint(buf, uint64(m.MyId))
	return buf
}

// TerminalMapping acknowledges a description: "bind your peer_id to my_id".
type TerminalMapping struct {
	base
	PeerId id.Id
	MyId   id.Id
}

func NewTerminalMapping(k pattern.Kind, peerID, myID id.Id) TerminalMapping {
	return TerminalMapping{base: base{k, TagTerminalMapping}, PeerId: peerID, MyId: myID}
}

func (m TerminalMapping) Marshal(buf []byte) []byte {
	buf = appendUvarint(buf, uint64(m.PeerId))
	buf = appendUvarint(buf, uint64(m.MyId))
	return buf
}

// TerminalNoticed: "I already had a matching terminal; here is only my id".
type TerminalNoticed struct {
	base
	MyId id.Id
}

func NewTerminalNoticed(k pattern.Kind, myID id.Id) TerminalNoticed {
	return TerminalNoticed{base: base{k, TagTerminalNoticed}, MyId: myID}
}

func (m TerminalNoticed) Marshal(buf []byte) []byte {
	return appendUvarint(buf, uint64(m.MyId))
}

// TerminalRemoved: "the terminal you mapped as PeerId is gone".
type TerminalRemoved struct {
	base
	PeerId id.Id
}

func NewTerminalRemoved(k pattern.Kind, peerID id.Id) TerminalRemoved {
	return TerminalRemoved{base: base{k, TagTerminalRemoved}, PeerId: peerID}
}

func (m TerminalRemoved) Marshal(buf []byte) []byte {
	return appendUvarint(buf, uint64(m.PeerId))
}

// TerminalRemovedAck: "retired".
type TerminalRemovedAck struct {
	base
	MyId id.Id
}

func NewTerminalRemovedAck(k pattern.Kind, myID id.Id) TerminalRemovedAck {
	return TerminalRemovedAck{base: base{k, TagTerminalRemovedAck}, MyId: myID}
}

func (m TerminalRemovedAck) Marshal(buf []byte) []byte {
	return appendUvarint(buf, uint64(m.MyId))
}

// Binding* messages are structurally identical to their Terminal*
// counterparts; they are distinct wire types (distinct tags) because a
// node must not confuse a terminal mapping update with a binding one.

type BindingDescription struct {
	base
	Identifier    id.Identifier
	MyId          id.Id
	HiddenTargets bool
}

func NewBindingDescription(k pattern.Kind, ident id.Identifier, myID id.Id, hiddenTargets bool) BindingDescription {
	return BindingDescription{base: base{k, TagBindingDescription}, Identifier: ident, MyId: myID, HiddenTargets: hiddenTargets}
}

func (m BindingDescription) Marshal(buf []byte) []byte {
	buf = appendUvarint(buf, uint64(m.Identifier.Signature))
	buf = appendString(buf, m.Identifier.Name)
	buf = appendBool(buf, m.HiddenTargets)
	buf = appendUvarint(buf, uint64(m.MyId))
	return buf
}

type BindingMapping struct {
	base
	PeerId id.Id
	MyId   id.Id
}

func NewBindingMapping(k pattern.Kind, peerID, myID id.Id) BindingMapping {
	return BindingMapping{base: base{k, TagBindingMapping}, PeerId: peerID, MyId: myID}
}

func (m BindingMapping) Marshal(buf []byte) []byte {
	buf = appendUvarint(buf, uint64(m.PeerId))
	buf = appendUvarint(buf, uint64(m.MyId))
	return buf
}

type BindingNoticed struct {
	base
	MyId id.Id
}

func NewBindingNoticed(k pattern.Kind, myID id.Id) BindingNoticed {
	return BindingNoticed{base: base{k, TagBindingNoticed}, MyId: myID}
}

func (m BindingNoticed) Marshal(buf []byte) []byte { return appendUvarint(buf, uint64(m.MyId)) }

type BindingRemoved struct {
	base
	PeerId id.Id
}

func NewBindingRemoved(k pattern.Kind, peerID id.Id) BindingRemoved {
	return BindingRemoved{base: base{k, TagBindingRemoved}, PeerId: peerID}
}

func (m BindingRemoved) Marshal(buf []byte) []byte { return appendUvarint(buf, uint64(m.PeerId)) }

type BindingRemovedAck struct {
	base
	MyId id.Id
}

func NewBindingRemovedAck(k pattern.Kind, myID id.Id) BindingRemovedAck {
	return BindingRemovedAck{base: base{k, TagBindingRemovedAck}, MyId: myID}
}

func (m BindingRemovedAck) Marshal(buf []byte) []byte { return appendUvarint(buf, uint64(m.MyId)) }

// BindingEstablished/BindingReleased announce a binding state change.
type BindingEstablished struct {
	base
	Id id.Id
}

func NewBindingEstablished(k pattern.Kind, bindingID id.Id) BindingEstablished {
	return BindingEstablished{base: base{k, TagBindingEstablished}, Id: bindingID}
}

func (m BindingEstablished) Marshal(buf []byte) []byte { return appendUvarint(buf, uint64(m.Id)) }

type BindingReleased struct {
	base
	Id id.Id
}

func NewBindingReleased(k pattern.Kind, bindingID id.Id) BindingReleased {
	return BindingReleased{base: base{k, TagBindingReleased}, Id: bindingID}
}

func (m BindingReleased) Marshal(buf []byte) []byte { return appendUvarint(buf, uint64(m.Id)) }

// Subscribe/Unsubscribe are used by subscribable (publish-subscribe
// family) patterns.
type Subscribe struct {
	base
	Id id.Id
}

func NewSubscribe(k pattern.Kind, termID id.Id) Subscribe {
	return Subscribe{base: base{k, TagSubscribe}, Id: termID}
}

func (m Subscribe) Marshal(buf []byte) []byte { return appendUvarint(buf, uint64(m.Id)) }

type Unsubscribe struct {
	base
	Id id.Id
}

func NewUnsubscribe(k pattern.Kind, termID id.Id) Unsubscribe {
	return Unsubscribe{base: base{k, TagUnsubscribe}, Id: termID}
}

func (m Unsubscribe) Marshal(buf []byte) []byte { return appendUvarint(buf, uint64(m.Id)) }

// Data carries a published payload to terminal Id. FromSlave is set when
// pattern.TraitsOf(kind).SuppressSlaveEcho and the publishing terminal's
// Role is RoleSlave; per §4.6 this does not change routing at the node —
// a receiving leaf whose own bound terminal is itself a slave drops such
// a frame instead of delivering it (see leaf.handleData).
type Data struct {
	base
	Id        id.Id
	FromSlave bool
	Payload   []byte
}

func NewData(k pattern.Kind, termID id.Id, payload []byte) Data {
	return newData(k, termID, false, payload)
}

// NewSlaveData is NewData tagged as having been published by a slave
// terminal of a SuppressSlaveEcho pattern.
func NewSlaveData(k pattern.Kind, termID id.Id, payload []byte) Data {
	return newData(k, termID, true, payload)
}

func newData(k pattern.Kind, termID id.Id, fromSlave bool, payload []byte) Data {
	return Data{base: base{k, TagData}, Id: termID, FromSlave: fromSlave, Payload: payload}
}

func (m Data) Marshal(buf []byte) []byte {
	buf = appendUvarint(buf, uint64(m.Id))
	buf = appendBool(buf, m.FromSlave)
	return append(buf, m.Payload...)
}

// CachedData is Data replayed to a new subscriber from the leaf's cache.
type CachedData struct {
	base
	Id        id.Id
	FromSlave bool
	Payload   []byte
}

func NewCachedData(k pattern.Kind, termID id.Id, payload []byte) CachedData {
	return newCachedData(k, termID, false, payload)
}

// NewSlaveCachedData is NewCachedData tagged as originating from a slave
// publish, per the same rule as NewSlaveData.
func NewSlaveCachedData(k pattern.Kind, termID id.Id, payload []byte) CachedData {
	return newCachedData(k, termID, true, payload)
}

func newCachedData(k pattern.Kind, termID id.Id, fromSlave bool, payload []byte) CachedData {
	return CachedData{base: base{k, TagCachedData}, Id: termID, FromSlave: fromSlave, Payload: payload}
}

func (m CachedData) Marshal(buf []byte) []byte {
	buf = appendUvarint(buf, uint64(m.Id))
	buf = appendBool(buf, m.FromSlave)
	return append(buf, m.Payload...)
}

// Flags is the scatter-gather bitset, bit-exact with the wire format in
// spec §6.
type Flags uint8

const (
	FlagNone             Flags = 0x00
	FlagFinished         Flags = 0x01
	FlagIgnored          Flags = 0x02
	FlagDeaf             Flags = 0x04
	FlagBindingDestroyed Flags = 0x08
	FlagConnectionLost   Flags = 0x10
)

// Scatter fans a request out to target_binding_id under op_id.
type Scatter struct {
	base
	TargetBindingId id.Id
	OpId            uint32
	Payload         []byte
}

func NewScatter(k pattern.Kind, targetBindingID id.Id, opID uint32, payload []byte) Scatter {
	return Scatter{base: base{k, TagScatter}, TargetBindingId: targetBindingID, OpId: opID, Payload: payload}
}

func (m Scatter) Marshal(buf []byte) []byte {
	buf = appendUvarint(buf, uint64(m.TargetBindingId))
	buf = appendUvarint(buf, uint64(m.OpId))
	return append(buf, m.Payload...)
}

// Gather is a scatter response, possibly the terminating one (FINISHED).
type Gather struct {
	base
	OpId    uint32
	Flags   Flags
	Payload []byte
}

func NewGather(k pattern.Kind, opID uint32, flags Flags, payload []byte) Gather {
	return Gather{base: base{k, TagGather}, OpId: opID, Flags: flags, Payload: payload}
}

func (m Gather) Marshal(buf []byte) []byte {
	buf = appendUvarint(buf, uint64(m.OpId))
	buf = append(buf, byte(m.Flags))
	return append(buf, m.Payload...)
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func readUvarint(buf []byte) (uint64, []byte, liberr.Error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, nil, truncated()
	}
	return v, buf[n:], nil
}

func readString(buf []byte) (string, []byte, liberr.Error) {
	l, rest, err := readUvarint(buf)
	if err != nil {
		return "", nil, err
	}
	if uint64(len(rest)) < l {
		return "", nil, truncated()
	}
	return string(rest[:l]), rest[l:], nil
}

func readBool(buf []byte) (bool, []byte, liberr.Error) {
	if len(buf) < 1 {
		return false, nil, truncated()
	}
	return buf[0] != 0, buf[1:], nil
}

func truncated() liberr.Error {
	return fabricerr.ErrBufferTooSmall.Error()
}

// decoders maps each Tag to a function turning a raw payload plus the
// recovered Kind into a concrete Message. Registered once for every
// (Kind, Tag) pair so the codec's global type-id table covers the full
// 9-pattern x message-family space.
var decoders = map[Tag]func(k pattern.Kind, payload []byte) (codec.Message, liberr.Error){
	TagTerminalDescription: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		sig, p, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		name, p, err := readString(p)
		if err != nil {
			return nil, err
		}
		hidden, p, err := readBool(p)
		if err != nil {
			return nil, err
		}
		myID, _, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		return NewTerminalDescription(k, id.Identifier{Signature: uint32(sig), Name: name, Hidden: hidden}, id.Id(myID)), nil
	},
	TagTerminalMapping: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		peer, p, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		my, _, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		return NewTerminalMapping(k, id.Id(peer), id.Id(my)), nil
	},
	TagTerminalNoticed: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		my, _, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		return NewTerminalNoticed(k, id.Id(my)), nil
	},
	TagTerminalRemoved: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		peer, _, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		return NewTerminalRemoved(k, id.Id(peer)), nil
	},
	TagTerminalRemovedAck: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		my, _, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		return NewTerminalRemovedAck(k, id.Id(my)), nil
	},
	TagBindingDescription: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		sig, p, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		name, p, err := readString(p)
		if err != nil {
			return nil, err
		}
		hidden, p, err := readBool(p)
		if err != nil {
			return nil, err
		}
		myID, _, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		return NewBindingDescription(k, id.Identifier{Signature: uint32(sig), Name: name}, id.Id(myID), hidden), nil
	},
	TagBindingMapping: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		peer, p, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		my, _, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		return NewBindingMapping(k, id.Id(peer), id.Id(my)), nil
	},
	TagBindingNoticed: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		my, _, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		return BindingNoticed{base: base{k, TagBindingNoticed}, MyId: id.Id(my)}, nil
	},
	TagBindingRemoved: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		peer, _, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		return BindingRemoved{base: base{k, TagBindingRemoved}, PeerId: id.Id(peer)}, nil
	},
	TagBindingRemovedAck: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		my, _, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		return BindingRemovedAck{base: base{k, TagBindingRemovedAck}, MyId: id.Id(my)}, nil
	},
	TagBindingEstablished: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		v, _, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		return NewBindingEstablished(k, id.Id(v)), nil
	},
	TagBindingReleased: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		v, _, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		return NewBindingReleased(k, id.Id(v)), nil
	},
	TagSubscribe: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		v, _, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		return NewSubscribe(k, id.Id(v)), nil
	},
	TagUnsubscribe: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		v, _, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		return NewUnsubscribe(k, id.Id(v)), nil
	},
	TagData: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		v, p, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		fromSlave, p, err := readBool(p)
		if err != nil {
			return nil, err
		}
		return newData(k, id.Id(v), fromSlave, append([]byte(nil), p...)), nil
	},
	TagCachedData: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		v, p, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		fromSlave, p, err := readBool(p)
		if err != nil {
			return nil, err
		}
		return newCachedData(k, id.Id(v), fromSlave, append([]byte(nil), p...)), nil
	},
	TagScatter: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		target, p, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		op, p, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		return NewScatter(k, id.Id(target), uint32(op), append([]byte(nil), p...)), nil
	},
	TagGather: func(k pattern.Kind, p []byte) (codec.Message, liberr.Error) {
		op, p, err := readUvarint(p)
		if err != nil {
			return nil, err
		}
		if len(p) < 1 {
			return nil, truncated()
		}
		flags := Flags(p[0])
		return NewGather(k, uint32(op), flags, append([]byte(nil), p[1:]...)), nil
	},
}

func init() {
	for _, k := range pattern.AllKinds {
		for tag, decode := range decoders {
			tag, decode := tag, decode
			codec.Register(TypeId(k, tag), func(payload []byte) (codec.Message, liberr.Error) {
				return decode(k, payload)
			})
		}
	}
}
