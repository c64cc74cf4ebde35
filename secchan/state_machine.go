package secchan

import (
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/duskforge/opcuacore/cmn"
	"github.com/duskforge/opcuacore/cmn/nlog"
)

// maxUnknownReplies closes the channel once this many responses with an
// unrecognized requestId have been discarded (spec.md §4.B "Request-id
// binding").
const maxUnknownReplies = 8

// pkiValidation deduplicates concurrent certificate-chain validations that
// share the same sender-certificate thumbprint, so a validation routine
// invoked from several OPN handshakes landing in the same instant runs
// exactly once per distinct certificate (spec.md §4.B: "validated exactly
// once per new SC").
var pkiValidation singleflight.Group

// PkiProvider is the host-supplied certificate validator (spec.md §6).
type PkiProvider interface {
	Validate(certChain []byte) (cmn.StatusCode, error)
}

// ValidateCertOnce runs provider.Validate(certChain) at most once per
// distinct thumbprint across concurrently-arriving OPN requests.
func ValidateCertOnce(provider PkiProvider, thumbprint string, certChain []byte) (cmn.StatusCode, error) {
	v, err, _ := pkiValidation.Do(thumbprint, func() (any, error) {
		status, verr := provider.Validate(certChain)
		if verr != nil {
			return status, verr
		}
		return status, nil
	})
	if err != nil {
		return cmn.BadSecurityChecksFailed, err
	}
	return v.(cmn.StatusCode), nil
}

// OnHelloSent transitions idle -> hello_sent (client role).
func (sc *SecureChannel) OnHelloSent() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.State != StateIdle {
		return cmn.NewError(cmn.KindChannel, cmn.BadTcpSecureChannelUnknown, "HEL sent from state %s", sc.State)
	}
	sc.State = StateHelloSent
	return nil
}

// OnAckReceived transitions hello_sent -> ack_recv.
func (sc *SecureChannel) OnAckReceived() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.State != StateHelloSent {
		return cmn.NewError(cmn.KindChannel, cmn.BadTcpSecureChannelUnknown, "ACK received in state %s", sc.State)
	}
	sc.State = StateAckRecv
	return nil
}

// OnOpenRequestSent transitions ack_recv -> open_req_sent.
func (sc *SecureChannel) OnOpenRequestSent() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.State != StateAckRecv {
		return cmn.NewError(cmn.KindChannel, cmn.BadTcpSecureChannelUnknown, "OPN sent in state %s", sc.State)
	}
	sc.State = StateOpenReqSent
	return nil
}

// OnOpenResponse installs the first token and transitions to StateOpen.
// channelID is the peer-assigned wire id; requestedLifetime is what the
// peer granted (the Current token's Lifetime).
func (sc *SecureChannel) OnOpenResponse(channelID uint32, token Token, requestedLifetime time.Duration) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	switch sc.State {
	case StateOpenReqSent, StateIdle: // server role accepts directly from idle
	default:
		return cmn.NewError(cmn.KindChannel, cmn.BadTcpSecureChannelUnknown, "OPN response in state %s", sc.State)
	}
	sc.ChannelID = channelID
	sc.Current = &token
	sc.RequestLifetime = requestedLifetime
	sc.State = StateOpen
	return nil
}

// RenewalDue reports whether the channel manager should trigger OPN2: at
// ~75% of the current token's requestedLifetime (spec.md §4.B, tunable via
// cmn.Rom.TokenRenewalFraction).
func (sc *SecureChannel) RenewalDue(now time.Time) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.State != StateOpen || sc.Current == nil {
		return false
	}
	trigger := sc.Current.CreatedAt.Add(time.Duration(float64(sc.Current.Lifetime) * cmn.Rom.TokenRenewalFraction()))
	return !now.Before(trigger)
}

// BeginRenewal moves OPEN -> renewing; the previous token stays valid for
// inbound traffic until overlapUntil.
func (sc *SecureChannel) BeginRenewal() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.State != StateOpen {
		return cmn.NewError(cmn.KindChannel, cmn.BadTcpSecureChannelUnknown, "renewal begun in state %s", sc.State)
	}
	sc.State = StateRenewing
	return nil
}

// CompleteRenewal installs the new token, computes the overlap window for
// the previous one, and returns to StateOpen.
func (sc *SecureChannel) CompleteRenewal(newToken Token) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.State != StateRenewing {
		return cmn.NewError(cmn.KindChannel, cmn.BadTcpSecureChannelUnknown, "OPN2 completed in state %s", sc.State)
	}
	overlap := cmn.TokenOverlap(newToken.Lifetime)
	sc.Previous = sc.Current
	sc.overlapUntil = time.Now().Add(overlap)
	sc.Current = &newToken
	sc.State = StateOpen
	nlog.Infof("sc=%d: renewed token %d -> %d, previous valid until %s", sc.ID, sc.Previous.TokenID, sc.Current.TokenID, sc.overlapUntil)
	return nil
}

// ExpirePrevious discards the previous token once the overlap window has
// elapsed (called by the channel manager's housekeeping tick).
func (sc *SecureChannel) ExpirePrevious(now time.Time) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.Previous != nil && now.After(sc.overlapUntil) {
		sc.Previous = nil
	}
}

// TokenFor resolves which token a given inbound TokenId refers to: the
// current token always matches; the previous token matches only within the
// overlap window (spec.md §4.B "Token renewal").
func (sc *SecureChannel) TokenFor(tokenID uint32, now time.Time) (*Token, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.Current != nil && sc.Current.TokenID == tokenID {
		return sc.Current, nil
	}
	if sc.Previous != nil && sc.Previous.TokenID == tokenID && now.Before(sc.overlapUntil) {
		return sc.Previous, nil
	}
	return nil, cmn.NewError(cmn.KindChannel, cmn.BadSecureChannelTokenUnknown, "unknown or expired token %d", tokenID)
}

// Close moves the channel to StateClosed. Idempotent: closing an already
// closed channel is a no-op, matching the "two closes yield one closure
// event" rule of spec.md §5.
func (sc *SecureChannel) Close() (wasOpen bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	wasOpen = sc.State != StateClosed
	sc.State = StateClosed
	return wasOpen
}

// IsClosed reports whether the channel has reached StateClosed.
func (sc *SecureChannel) IsClosed() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.State == StateClosed
}

// NoteUnknownReply increments the discarded-unknown-requestId counter and
// reports whether the threshold has now been crossed (spec.md §4.B).
func (sc *SecureChannel) NoteUnknownReply() (shouldClose bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.unknownReplyCnt++
	return sc.unknownReplyCnt >= maxUnknownReplies
}
