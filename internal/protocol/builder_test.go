package protocol

import (
	"bytes"
	"testing"
)

func TestPacketBuilder_LittleEndian(t *testing.T) {
	b := NewPacketBuilder()
	b.WriteUint16(0x1234).WriteUint32(0xA1B2C3D4).WriteInt32(-1)

	want := []byte{0x34, 0x12, 0xD4, 0xC3, 0xB2, 0xA1, 0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(b.Build(), want) {
		t.Fatalf("got %x, want %x", b.Build(), want)
	}
}

func TestPacketBuilder_ZeroValuesAreZeroBytes(t *testing.T) {
	b := NewPacketBuilder()
	b.WriteInt32(0).WriteFloat32(0)
	if !bytes.Equal(b.Build(), make([]byte, 8)) {
		t.Fatalf("got %x, want eight zero bytes", b.Build())
	}
}

func TestPacketBuilder_NullString(t *testing.T) {
	b := NewPacketBuilder()
	b.WriteNullString("ab").WriteNullString("").WriteNullString("x\x00y")

	want := []byte{'a', 'b', 0, 0, 'x', 0}
	if !bytes.Equal(b.Build(), want) {
		t.Fatalf("got %q, want %q", b.Build(), want)
	}
}

func TestPacketBuilder_Header(t *testing.T) {
	got := NewPacketBuilder().Header(RespInfo).Build()
	want := []byte{0xFF, 0xFF, 0xFF, 0xFF, RespInfo}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestPacketBuilder_PatchPlaceholders(t *testing.T) {
	b := NewPacketBuilder()
	b.Header(RespRules)
	off16 := b.Reserve16()
	b.WriteNullString("k")
	off8 := b.Reserve8()
	b.WriteNullString("v")

	b.PatchUint16(off16, 0x0102)
	b.PatchUint8(off8, 7)

	got := b.Build()
	if got[off16] != 0x02 || got[off16+1] != 0x01 {
		t.Errorf("uint16 patch = %x, want 0201", got[off16:off16+2])
	}
	if got[off8] != 7 {
		t.Errorf("uint8 patch = %d, want 7", got[off8])
	}
	if b.Len() != 5+2+2+1+2 {
		t.Errorf("len = %d, want %d", b.Len(), 12)
	}
}

func TestPacketBuilder_Truncate(t *testing.T) {
	b := NewPacketBuilder()
	b.WriteNullString("keep")
	mark := b.Len()
	b.WriteNullString("drop")
	b.Truncate(mark)
	if string(b.Build()) != "keep\x00" {
		t.Fatalf("got %q", b.Build())
	}
}

func TestInfoRequest(t *testing.T) {
	want := append([]byte{0xFF, 0xFF, 0xFF, 0xFF, 'T'}, []byte("Source Engine Query\x00")...)
	if !bytes.Equal(InfoRequest(), want) {
		t.Fatalf("got %q, want %q", InfoRequest(), want)
	}
}
