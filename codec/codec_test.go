package codec_test

import (
	"testing"

	"github.com/duskforge/opcuacore/codec"
)

func TestStringRoundTrip(t *testing.T) {
	buf := codec.PutString(nil, "opc.tcp://localhost:4840")
	r := codec.NewReader(buf)
	s, isNull, err := r.GetString()
	if err != nil || isNull || s != "opc.tcp://localhost:4840" {
		t.Fatalf("got %q isNull=%v err=%v", s, isNull, err)
	}
}

func TestNullStringRoundTrip(t *testing.T) {
	buf := codec.PutNullString(nil)
	r := codec.NewReader(buf)
	s, isNull, err := r.GetString()
	if err != nil || !isNull || s != "" {
		t.Fatalf("expected null string, got %q isNull=%v err=%v", s, isNull, err)
	}
}

func TestNullByteStringRoundTrip(t *testing.T) {
	buf := codec.PutByteString(nil, nil)
	r := codec.NewReader(buf)
	b, isNull, err := r.GetByteString()
	if err != nil || !isNull || b != nil {
		t.Fatalf("expected null byte string, got %v isNull=%v err=%v", b, isNull, err)
	}
}

func TestUint32RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 42, 0xFFFFFFFF, 0x12345678} {
		buf := codec.PutUint32(nil, v)
		r := codec.NewReader(buf)
		got, err := r.GetUint32()
		if err != nil || got != v {
			t.Fatalf("uint32 roundtrip %d: got %d err=%v", v, got, err)
		}
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := codec.Header{Type: codec.MsgSecure, Flag: codec.ChunkFinal, TotalSize: 128}
	buf := codec.EncodeHeader(nil, h)
	if len(buf) != codec.HeaderSize {
		t.Fatalf("expected %d bytes, got %d", codec.HeaderSize, len(buf))
	}
	r := codec.NewReader(buf)
	got, err := codec.DecodeHeader(r)
	if err != nil || got != h {
		t.Fatalf("header roundtrip: got %+v err=%v", got, err)
	}
}

func TestHelloRoundTrip(t *testing.T) {
	h := codec.HelloBody{
		ProtocolVersion:   0,
		ReceiveBufferSize: 65536,
		SendBufferSize:    65536,
		MaxMessageSize:    1 << 20,
		MaxChunkCount:     512,
		EndpointURL:       "opc.tcp://localhost:4840",
	}
	buf := codec.EncodeHello(nil, h)
	r := codec.NewReader(buf)
	got, err := codec.DecodeHello(r)
	if err != nil || got != h {
		t.Fatalf("hello roundtrip: got %+v err=%v", got, err)
	}
}

func TestDecodeHeaderRejectsUnknownType(t *testing.T) {
	buf := []byte{'X', 'Y', 'Z', 'F', 0, 0, 0, 0}
	_, err := codec.DecodeHeader(codec.NewReader(buf))
	if err == nil {
		t.Fatalf("expected decode error for unknown message type")
	}
}

func TestDecodeHeaderRejectsBadFinalFlagOnHello(t *testing.T) {
	h := codec.Header{Type: codec.MsgHello, Flag: codec.ChunkFinal, TotalSize: 8}
	buf := codec.EncodeHeader(nil, h)
	buf[3] = 'C' // corrupt IsFinal to non-F on a HEL message
	_, err := codec.DecodeHeader(codec.NewReader(buf))
	if err == nil {
		t.Fatalf("expected rejection of HEL with IsFinal != F")
	}
}
