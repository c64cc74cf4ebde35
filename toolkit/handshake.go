package toolkit

import (
	"time"

	"github.com/duskforge/opcuacore/cmn"
	"github.com/duskforge/opcuacore/codec"
	"github.com/duskforge/opcuacore/secchan"
)

// openRequestBody is the service-level payload of an OPN request, carried
// after the asymmetric security header and sequence header (spec.md §6
// names the wire framing down to the security headers; the remaining
// service body is ordinary OPC UA request encoding, reduced here to the
// handful of fields the channel state machine actually consults).
type openRequestBody struct {
	SecurityMode      secchan.SecurityMode
	ClientNonce       []byte
	RequestedLifetime time.Duration
}

func decodeOpenRequestBody(r *codec.Reader) (openRequestBody, error) {
	var b openRequestBody
	mode, err := r.GetUint32()
	if err != nil {
		return b, err
	}
	b.SecurityMode = secchan.SecurityMode(mode - 1) // wire enum is 1-based (Invalid=0)
	nonce, _, err := r.GetByteString()
	if err != nil {
		return b, err
	}
	b.ClientNonce = nonce
	lifetimeMs, err := r.GetUint32()
	if err != nil {
		return b, err
	}
	b.RequestedLifetime = time.Duration(lifetimeMs) * time.Millisecond
	return b, nil
}

// openResponseBody mirrors openRequestBody for the OPN response.
type openResponseBody struct {
	ChannelID       uint32
	TokenID         uint32
	RevisedLifetime time.Duration
	ServerNonce     []byte
}

func encodeOpenResponseBody(buf []byte, b openResponseBody) []byte {
	buf = codec.PutUint32(buf, b.ChannelID)
	buf = codec.PutUint32(buf, b.TokenID)
	buf = codec.PutUint32(buf, uint32(b.RevisedLifetime/time.Millisecond))
	return codec.PutByteString(buf, b.ServerNonce)
}

// negotiateToken derives a fresh symmetric token from the request's client
// nonce, generating a server nonce of equal length (spec.md §4.B: the
// token's SymmetricKeySet is derived from both nonces via the channel's
// security profile).
func negotiateToken(profile secchan.Profile, clientNonce []byte, lifetime time.Duration, tokenID uint32) (secchan.Token, []byte, error) {
	serverNonce := secchan.NewNonce()
	_, serverKeys, err := profile.DeriveKeys(clientNonce, serverNonce)
	if err != nil {
		return secchan.Token{}, nil, cmn.WrapError(cmn.KindChannel, cmn.BadSecurityChecksFailed, err, "derive symmetric keys")
	}
	return secchan.Token{
		TokenID:   tokenID,
		Keys:      serverKeys,
		CreatedAt: time.Now(),
		Lifetime:  lifetime,
	}, serverNonce, nil
}
