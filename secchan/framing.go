package secchan

import (
	"time"

	"github.com/duskforge/opcuacore/cmn"
)

// SecureOutbound signs and/or encrypts a MSG chunk body under the channel's
// current token and security mode (spec.md §4.B "Encryption policy"):
// SignAndEncrypt encrypts then signs the ciphertext, Sign only signs the
// plaintext, None passes the body through untouched.
func SecureOutbound(sc *SecureChannel, profile Profile, body []byte) ([]byte, error) {
	sc.mu.Lock()
	mode := sc.SecurityMode
	if sc.Current == nil {
		sc.mu.Unlock()
		return nil, cmn.NewError(cmn.KindChannel, cmn.BadTcpSecureChannelUnknown, "no current token to secure outbound message")
	}
	keys := sc.Current.Keys
	sc.mu.Unlock()

	switch mode {
	case ModeNone:
		return body, nil
	case ModeSign:
		sig, err := profile.Sign(keys.SigningKey, body)
		if err != nil {
			return nil, err
		}
		return append(append([]byte{}, body...), sig...), nil
	case ModeSignAndEncrypt:
		ct, err := profile.Encrypt(keys, body)
		if err != nil {
			return nil, err
		}
		sig, err := profile.Sign(keys.SigningKey, ct)
		if err != nil {
			return nil, err
		}
		return append(ct, sig...), nil
	default:
		return nil, cmn.NewError(cmn.KindChannel, cmn.BadSecurityChecksFailed, "unknown security mode %d", mode)
	}
}

// SecureInbound verifies and/or decrypts an inbound MSG chunk body under the
// token identified by tokenID, resolving to the current or — within the
// renewal overlap window — the previous token (spec.md §4.B "Token
// renewal").
func SecureInbound(sc *SecureChannel, profile Profile, tokenID uint32, raw []byte) ([]byte, error) {
	tok, err := sc.TokenFor(tokenID, time.Now())
	if err != nil {
		return nil, err
	}

	sc.mu.Lock()
	mode := sc.SecurityMode
	sc.mu.Unlock()

	sigSize := profile.SignatureSize()
	switch mode {
	case ModeNone:
		return raw, nil
	case ModeSign:
		if len(raw) < sigSize {
			return nil, cmn.NewError(cmn.KindChannel, cmn.BadSecurityChecksFailed, "message shorter than signature")
		}
		body, sig := raw[:len(raw)-sigSize], raw[len(raw)-sigSize:]
		if err := profile.Verify(tok.Keys.SigningKey, body, sig); err != nil {
			return nil, err
		}
		return body, nil
	case ModeSignAndEncrypt:
		if len(raw) < sigSize {
			return nil, cmn.NewError(cmn.KindChannel, cmn.BadSecurityChecksFailed, "message shorter than signature")
		}
		ct, sig := raw[:len(raw)-sigSize], raw[len(raw)-sigSize:]
		if err := profile.Verify(tok.Keys.SigningKey, ct, sig); err != nil {
			return nil, err
		}
		return profile.Decrypt(tok.Keys, ct)
	default:
		return nil, cmn.NewError(cmn.KindChannel, cmn.BadSecurityChecksFailed, "unknown security mode %d", mode)
	}
}
