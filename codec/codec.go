// Package codec implements the OPC UA binary encoding: little-endian
// primitives, length-prefixed strings/arrays with -1 for null, and the
// symmetric/asymmetric security header sizing used by secchan. The codec
// is stateless with respect to the protocol stack (spec.md §4.A).
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package codec

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/duskforge/opcuacore/cmn"
)

// DecodeError is returned by Decode on malformed input; it always maps to
// a Transport-kind cmn.Error via AsError.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "decode: " + e.Reason }

func decErr(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// AsError maps a DecodeError (or any error) into the closed cmn.Error
// taxonomy, defaulting to BadCommunicationError.
func AsError(err error) *cmn.Error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*DecodeError); ok {
		return cmn.WrapError(cmn.KindTransport, cmn.BadCommunicationError, err, "wire decode failed")
	}
	return cmn.WrapError(cmn.KindTransport, cmn.BadCommunicationError, err, "codec error")
}

// BufPool pools encode scratch buffers, following the teacher's pattern of
// pooling PDU buffers (transport/pdu.go, memsys) instead of allocating per
// message.
var BufPool = sync.Pool{
	New: func() any { b := make([]byte, 0, 4096); return &b },
}

func GetBuf() []byte {
	p := BufPool.Get().(*[]byte)
	return (*p)[:0]
}

func PutBuf(b []byte) {
	b = b[:0]
	BufPool.Put(&b)
}

// --- primitive encode ---

func PutUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func PutUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func PutUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func PutInt32(buf []byte, v int32) []byte { return PutUint32(buf, uint32(v)) }

func PutByte(buf []byte, v byte) []byte { return append(buf, v) }

// PutString encodes a length-prefixed UTF-8 string; a nil []byte/empty
// sentinel is not used for null — callers pass PutNullString explicitly,
// matching the wire's explicit length=-1 null encoding (spec.md §4.A).
func PutString(buf []byte, s string) []byte {
	buf = PutInt32(buf, int32(len(s)))
	return append(buf, s...)
}

func PutNullString(buf []byte) []byte { return PutInt32(buf, -1) }

func PutByteString(buf []byte, b []byte) []byte {
	if b == nil {
		return PutInt32(buf, -1)
	}
	buf = PutInt32(buf, int32(len(b)))
	return append(buf, b...)
}

// --- primitive decode ---

// Reader is a cursor over a decode buffer; all Get* functions advance it
// and return a *DecodeError on underrun so callers can propagate a single
// error type up through nested struct decodes.
type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

func (r *Reader) remaining() int { return len(r.buf) - r.off }

func (r *Reader) need(n int) error {
	if r.remaining() < n {
		return decErr("buffer underrun: need %d, have %d", n, r.remaining())
	}
	return nil
}

func (r *Reader) GetUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) GetUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) GetUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *Reader) GetInt32() (int32, error) {
	v, err := r.GetUint32()
	return int32(v), err
}

func (r *Reader) GetByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

// GetString decodes a length-prefixed string; length -1 yields "", true
// (null-string marker caller can test via the returned isNull flag).
func (r *Reader) GetString() (s string, isNull bool, err error) {
	n, err := r.GetInt32()
	if err != nil {
		return "", false, err
	}
	if n < 0 {
		return "", true, nil
	}
	if err := r.need(int(n)); err != nil {
		return "", false, err
	}
	s = string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, false, nil
}

func (r *Reader) GetByteString() (b []byte, isNull bool, err error) {
	n, err := r.GetInt32()
	if err != nil {
		return nil, false, err
	}
	if n < 0 {
		return nil, true, nil
	}
	if err := r.need(int(n)); err != nil {
		return nil, false, err
	}
	b = append([]byte(nil), r.buf[r.off:r.off+int(n)]...)
	r.off += int(n)
	return b, false, nil
}

func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) Remaining() []byte { return r.buf[r.off:] }
func (r *Reader) Offset() int       { return r.off }
