package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// PacketBuilder constructs A2S packets. Count fields whose value is only
// known after enumeration are reserved first and patched afterwards.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// Header writes the packet magic followed by a type byte.
func (b *PacketBuilder) Header(tag byte) *PacketBuilder {
	return b.WriteUint32(PacketMagic).WriteByte(tag)
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	b.buf.Write(binary.LittleEndian.AppendUint16(nil, v))
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	b.buf.Write(binary.LittleEndian.AppendUint32(nil, v))
	return b
}

// WriteInt32 writes an int32 in little-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	return b.WriteUint32(uint32(v))
}

// WriteFloat32 writes a float32 in little-endian order.
func (b *PacketBuilder) WriteFloat32(v float32) *PacketBuilder {
	return b.WriteUint32(math.Float32bits(v))
}

// WriteNullString writes the raw string bytes and a zero terminator.
// Embedded zero bytes would split the field on the wire, so the string is
// cut at the first one.
func (b *PacketBuilder) WriteNullString(s string) *PacketBuilder {
	if i := bytes.IndexByte([]byte(s), 0); i >= 0 {
		s = s[:i]
	}
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Reserve8 writes a zero byte placeholder and returns its offset.
func (b *PacketBuilder) Reserve8() int {
	off := b.buf.Len()
	b.buf.WriteByte(0)
	return off
}

// Reserve16 writes a zero uint16 placeholder and returns its offset.
func (b *PacketBuilder) Reserve16() int {
	off := b.buf.Len()
	b.buf.Write([]byte{0, 0})
	return off
}

// PatchUint8 overwrites a previously reserved byte.
func (b *PacketBuilder) PatchUint8(off int, v uint8) {
	b.buf.Bytes()[off] = v
}

// PatchUint16 overwrites a previously reserved little-endian uint16.
func (b *PacketBuilder) PatchUint16(off int, v uint16) {
	binary.LittleEndian.PutUint16(b.buf.Bytes()[off:off+2], v)
}

// Truncate discards everything written after n bytes.
func (b *PacketBuilder) Truncate(n int) {
	b.buf.Truncate(n)
}

// Build returns the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// ---- Request constructors ----

// InfoRequest builds an A2S_INFO request.
func InfoRequest() []byte {
	return NewPacketBuilder().Header(ReqInfo).WriteNullString(InfoQueryPayload).Build()
}

// PlayerRequest builds an A2S_PLAYER request carrying a challenge.
// Pass -1 to ask the server for a challenge.
func PlayerRequest(challenge int32) []byte {
	return NewPacketBuilder().Header(ReqPlayer).WriteInt32(challenge).Build()
}

// RulesRequest builds an A2S_RULES request carrying a challenge.
func RulesRequest(challenge int32) []byte {
	return NewPacketBuilder().Header(ReqRules).WriteInt32(challenge).Build()
}

// ChallengeRequest builds an explicit challenge request.
func ChallengeRequest() []byte {
	return NewPacketBuilder().Header(ReqChallenge).Build()
}

// ChallengeResponse builds the server reply carrying a challenge token.
func ChallengeResponse(token int32) []byte {
	return NewPacketBuilder().Header(RespChallenge).WriteInt32(token).Build()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}
