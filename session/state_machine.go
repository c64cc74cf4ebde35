package session

import (
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/duskforge/opcuacore/cmn"
	"github.com/duskforge/opcuacore/cmn/nlog"
)

// CreateSession moves none -> creating -> created, installing the
// server-generated nonce that ActivateSession's user-token encryption is
// keyed on.
func (s *Session) CreateSession(serverNonce []byte, channelID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State != StateCreating {
		return cmn.NewError(cmn.KindSession, cmn.BadSessionIdInvalid, "CreateSession response in state %s", s.State)
	}
	s.ServerNonce = serverNonce
	s.ChannelID = channelID
	s.State = StateCreated
	s.touch()
	return nil
}

// IssuerKeySet resolves a signing key for a JWT "kid" (IssuedToken
// validation, SPEC_FULL §4.D). Host-supplied; never read from disk.
type IssuerKeySet interface {
	Key(kid string) (any, error)
}

// UserAuthN validates a UserName/X509 token against the host's identity
// store (spec.md §6: "UserAuthN { validate_token(endpoint, token) -> Ok(User)
// | Err(StatusCode) }"). The core never holds credentials itself; hosts
// supply the concrete validator (LDAP bind, cert-chain check, password
// database, ...). A Good status with no error is the only success case;
// endpoint is the endpoint URL the session was created against, since the
// same UserName may be valid on one endpoint's security policy and not
// another's.
type UserAuthN interface {
	ValidateToken(endpoint string, token PresentedToken) (UserIdentity, cmn.StatusCode, error)
}

// ActivateSession carries the presented user token through to `active`.
// Exactly one decrypt+validate pass happens per call, matching spec.md §4.D
// ("decryption and validation happen exactly once per activation").
// Failure yields BadIdentityTokenInvalid/BadIdentityTokenRejected and
// leaves the session in its prior state (`created`, or `active` for a
// re-activation) so the client may retry with a different token.
func (s *Session) ActivateSession(endpoint string, token PresentedToken, authn UserAuthN, keys IssuerKeySet, clientNonce []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State {
	case StateCreated, StateActive:
		// StateActive is allowed: "ReActivateReq (new channel / new user)".
	default:
		return cmn.NewError(cmn.KindSession, cmn.BadSessionIdInvalid, "ActivateSession in state %s", s.State)
	}
	prior := s.State
	s.State = StateUserActivating

	var identity UserIdentity
	switch token.Kind {
	case UserAnonymous:
		identity = UserIdentity{Kind: UserAnonymous, Name: token.Name}

	case UserIssued:
		if err := validateIssuedToken(token.RawJWT, keys); err != nil {
			s.State = prior
			return cmn.WrapError(cmn.KindIdentity, cmn.BadIdentityTokenRejected, err, "issued-token validation failed")
		}
		identity = UserIdentity{Kind: UserIssued, Name: token.Name}

	case UserNamePassword, UserX509:
		if authn == nil {
			s.State = prior
			return cmn.NewError(cmn.KindIdentity, cmn.BadIdentityTokenInvalid, "no UserAuthN configured for %s token", token.Kind)
		}
		validated, status, err := authn.ValidateToken(endpoint, token)
		if err != nil || !status.IsGood() {
			s.State = prior
			if status.IsGood() {
				status = cmn.BadIdentityTokenRejected
			}
			return cmn.WrapError(cmn.KindIdentity, status, err, "user token validation failed")
		}
		identity = validated

	default:
		s.State = prior
		return cmn.NewError(cmn.KindIdentity, cmn.BadIdentityTokenInvalid, "unsupported user token kind %d", token.Kind)
	}

	s.Identity = identity
	s.ClientNonce = clientNonce
	s.State = StateActive
	s.touch()
	return nil
}

// validateIssuedToken parses and verifies an OPC UA 1.05 IssuedToken carried
// as a JWT, resolving the signing key by the token's own "kid" header
// through the host-supplied IssuerKeySet (spec.md §6 dependency-injection
// boundary: the core never holds or fetches keys itself).
func validateIssuedToken(raw string, keys IssuerKeySet) error {
	if keys == nil {
		return cmn.NewError(cmn.KindIdentity, cmn.BadIdentityTokenInvalid, "no issuer key set configured")
	}
	_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return keys.Key(kid)
	})
	if err != nil {
		return err
	}
	return nil
}

// Rebind moves the session onto a new channel (ReActivateReq over a new
// channel, spec.md §4.D "Channel rebinding"). Once this returns, messages
// arriving on the previous channel for this SessionId must be rejected by
// the dispatcher with BadSessionIdInvalid; the dispatcher enforces this
// through its SessionBinder (sessmgr.Manager.Verify, whose channel index
// sessmgr.Manager.Rebind updates), not by any state kept here.
func (s *Session) Rebind(newChannelID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State {
	case StateActive, StateOrphaned:
	default:
		return cmn.NewError(cmn.KindSession, cmn.BadSessionIdInvalid, "Rebind in state %s", s.State)
	}
	s.ChannelID = newChannelID
	s.State = StateActive
	s.touch()
	return nil
}

// Orphan moves active -> orphaned on SC_Lost, retaining all session state
// for a possible re-activation until Timeout elapses.
func (s *Session) Orphan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State == StateActive {
		s.State = StateOrphaned
		s.ChannelID = 0
		nlog.Infof("session=%d: orphaned on SC loss", s.ID)
	}
}

// BeginClose moves {created,userActivating,active,orphaned} -> closing on CloseReq.
func (s *Session) BeginClose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State {
	case StateCreated, StateActive, StateOrphaned, StateUserActivating:
	default:
		return cmn.NewError(cmn.KindSession, cmn.BadSessionIdInvalid, "CloseSession in state %s", s.State)
	}
	s.State = StateClosing
	return nil
}

// Close finalizes closing -> closed, or any state -> closed for abrupt
// terminations (ClientAbort/ServerErr, expiry).
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateClosed
}

// CheckTimeout reports whether the session has exceeded its configured
// sessionTimeout with no traffic, per spec.md §4.D "Timeout": probed "on
// each message receipt and on a periodic tick" by the caller (sessmgr, via
// the shared hk wheel).
func (s *Session) CheckTimeout(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State {
	case StateActive, StateOrphaned, StateCreated:
	default:
		return false
	}
	return now.Sub(s.LastActivity) >= s.Timeout
}

// Touch records traffic on the session, resetting the timeout clock.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
}
