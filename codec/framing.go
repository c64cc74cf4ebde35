package codec

import "github.com/duskforge/opcuacore/cmn"

// MessageType is the 3-ASCII-char OPC UA TCP message type (spec.md §6).
type MessageType string

const (
	MsgHello       MessageType = "HEL"
	MsgAck         MessageType = "ACK"
	MsgErr         MessageType = "ERR"
	MsgOpen        MessageType = "OPN"
	MsgClose       MessageType = "CLO"
	MsgSecure      MessageType = "MSG"
	MsgReverseHello MessageType = "RHE"
)

// ChunkFlag is the IsFinal byte of the TCP header.
type ChunkFlag byte

const (
	ChunkIntermediate ChunkFlag = 'C'
	ChunkFinal        ChunkFlag = 'F'
	ChunkAbort        ChunkFlag = 'A'
)

// HeaderSize is the fixed 8-byte common TCP header: 3 ASCII + 1 ASCII + u32.
const HeaderSize = 8

// Header is the decoded common OPC UA TCP header.
type Header struct {
	Type      MessageType
	Flag      ChunkFlag
	TotalSize uint32
}

func EncodeHeader(buf []byte, h Header) []byte {
	buf = append(buf, h.Type[0], h.Type[1], h.Type[2], byte(h.Flag))
	return PutUint32(buf, h.TotalSize)
}

func DecodeHeader(r *Reader) (Header, error) {
	tb, err := r.Bytes(3)
	if err != nil {
		return Header{}, err
	}
	flagByte, err := r.GetByte()
	if err != nil {
		return Header{}, err
	}
	size, err := r.GetUint32()
	if err != nil {
		return Header{}, err
	}
	mt := MessageType(tb)
	switch mt {
	case MsgHello, MsgAck, MsgErr, MsgOpen, MsgClose, MsgSecure, MsgReverseHello:
	default:
		return Header{}, decErr("unknown message type %q", tb)
	}
	flag := ChunkFlag(flagByte)
	switch flag {
	case ChunkIntermediate, ChunkFinal, ChunkAbort:
	default:
		return Header{}, decErr("invalid IsFinal byte %q", flagByte)
	}
	// HEL/ACK/ERR/RHE are never chunked: IsFinal must be F (spec.md §6).
	if (mt == MsgHello || mt == MsgAck || mt == MsgErr || mt == MsgReverseHello) && flag != ChunkFinal {
		return Header{}, decErr("%s must carry IsFinal=F, got %q", mt, flagByte)
	}
	return Header{Type: mt, Flag: flag, TotalSize: size}, nil
}

// HelloBody is the HEL message payload.
type HelloBody struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
	EndpointURL       string
}

func EncodeHello(buf []byte, h HelloBody) []byte {
	buf = PutUint32(buf, h.ProtocolVersion)
	buf = PutUint32(buf, h.ReceiveBufferSize)
	buf = PutUint32(buf, h.SendBufferSize)
	buf = PutUint32(buf, h.MaxMessageSize)
	buf = PutUint32(buf, h.MaxChunkCount)
	return PutString(buf, h.EndpointURL)
}

func DecodeHello(r *Reader) (HelloBody, error) {
	var h HelloBody
	var err error
	if h.ProtocolVersion, err = r.GetUint32(); err != nil {
		return h, err
	}
	if h.ReceiveBufferSize, err = r.GetUint32(); err != nil {
		return h, err
	}
	if h.SendBufferSize, err = r.GetUint32(); err != nil {
		return h, err
	}
	if h.MaxMessageSize, err = r.GetUint32(); err != nil {
		return h, err
	}
	if h.MaxChunkCount, err = r.GetUint32(); err != nil {
		return h, err
	}
	url, _, err := r.GetString()
	h.EndpointURL = url
	return h, err
}

// AckBody mirrors HelloBody without the endpoint URL.
type AckBody struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

func EncodeAck(buf []byte, a AckBody) []byte {
	buf = PutUint32(buf, a.ProtocolVersion)
	buf = PutUint32(buf, a.ReceiveBufferSize)
	buf = PutUint32(buf, a.SendBufferSize)
	buf = PutUint32(buf, a.MaxMessageSize)
	return PutUint32(buf, a.MaxChunkCount)
}

func DecodeAck(r *Reader) (AckBody, error) {
	var a AckBody
	var err error
	if a.ProtocolVersion, err = r.GetUint32(); err != nil {
		return a, err
	}
	if a.ReceiveBufferSize, err = r.GetUint32(); err != nil {
		return a, err
	}
	if a.SendBufferSize, err = r.GetUint32(); err != nil {
		return a, err
	}
	if a.MaxMessageSize, err = r.GetUint32(); err != nil {
		return a, err
	}
	a.MaxChunkCount, err = r.GetUint32()
	return a, err
}

// ErrorBody is the ERR message payload: a StatusCode plus human-readable
// reason (spec.md §6).
type ErrorBody struct {
	Status cmn.StatusCode
	Reason string
}

func EncodeError(buf []byte, e ErrorBody) []byte {
	buf = PutUint32(buf, uint32(e.Status))
	return PutString(buf, e.Reason)
}

func DecodeErrorBody(r *Reader) (ErrorBody, error) {
	var e ErrorBody
	code, err := r.GetUint32()
	if err != nil {
		return e, err
	}
	e.Status = cmn.StatusCode(code)
	reason, _, err := r.GetString()
	e.Reason = reason
	return e, err
}

// AsymmetricSecurityHeader is carried on OPN messages.
type AsymmetricSecurityHeader struct {
	SecurityPolicyURI             string
	SenderCertificate              []byte
	ReceiverCertificateThumbprint []byte
}

func EncodeAsymmetricHeader(buf []byte, h AsymmetricSecurityHeader) []byte {
	buf = PutString(buf, h.SecurityPolicyURI)
	buf = PutByteString(buf, h.SenderCertificate)
	return PutByteString(buf, h.ReceiverCertificateThumbprint)
}

func DecodeAsymmetricHeader(r *Reader) (AsymmetricSecurityHeader, error) {
	var h AsymmetricSecurityHeader
	uri, _, err := r.GetString()
	if err != nil {
		return h, err
	}
	h.SecurityPolicyURI = uri
	cert, _, err := r.GetByteString()
	if err != nil {
		return h, err
	}
	h.SenderCertificate = cert
	thumb, _, err := r.GetByteString()
	h.ReceiverCertificateThumbprint = thumb
	return h, err
}

// SymmetricSecurityHeader is carried on MSG/CLO messages: just the token id.
type SymmetricSecurityHeader struct {
	TokenId uint32
}

func EncodeSymmetricHeader(buf []byte, h SymmetricSecurityHeader) []byte {
	return PutUint32(buf, h.TokenId)
}

func DecodeSymmetricHeader(r *Reader) (SymmetricSecurityHeader, error) {
	t, err := r.GetUint32()
	return SymmetricSecurityHeader{TokenId: t}, err
}

// SequenceHeader carries the per-message sequence number and request id.
type SequenceHeader struct {
	SequenceNumber uint32
	RequestId      uint32
}

func EncodeSequenceHeader(buf []byte, h SequenceHeader) []byte {
	buf = PutUint32(buf, h.SequenceNumber)
	return PutUint32(buf, h.RequestId)
}

func DecodeSequenceHeader(r *Reader) (SequenceHeader, error) {
	var h SequenceHeader
	var err error
	if h.SequenceNumber, err = r.GetUint32(); err != nil {
		return h, err
	}
	h.RequestId, err = r.GetUint32()
	return h, err
}

// SymmetricHeaderSize returns the byte size of the security header for a
// given policy (spec.md §4.A `symmetric_header_size`); every profile
// currently supported uses a fixed-size 4-byte TokenId header, but the
// function is kept policy-parametric since future profiles may not.
func SymmetricHeaderSize(policyURI string) int {
	_ = policyURI
	return 4
}
