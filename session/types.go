// Package session implements the Session state machine (spec.md §4.D):
// creation, user activation, channel rebinding/re-activation, orphaning,
// and timeout enforcement.
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package session

import (
	"sync"
	"time"
)

// State is the session activation state (spec.md §3, §4.D diagram).
type State int

const (
	StateNone State = iota
	StateCreating
	StateCreated
	StateUserActivating
	StateActive
	StateClosing
	StateClosed
	StateOrphaned
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateCreating:
		return "creating"
	case StateCreated:
		return "created"
	case StateUserActivating:
		return "userActivating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateOrphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// UserTokenKind enumerates the supported UserIdentityToken shapes.
type UserTokenKind int

const (
	UserAnonymous UserTokenKind = iota
	UserNamePassword
	UserX509
	UserIssued // JWT-backed "IssuedToken", per OPC UA 1.05 (SPEC_FULL §4.D)
)

func (k UserTokenKind) String() string {
	switch k {
	case UserAnonymous:
		return "anonymous"
	case UserNamePassword:
		return "userNamePassword"
	case UserX509:
		return "x509"
	case UserIssued:
		return "issued"
	default:
		return "unknown"
	}
}

// UserIdentity is the activated identity carried by a session, installed
// only after ActivateSession's validation pass has succeeded.
type UserIdentity struct {
	Kind  UserTokenKind
	Name  string   // UserName, the certificate subject, or the JWT subject for IssuedToken
	Roles []string
}

// PresentedToken is the not-yet-validated credential a client hands to
// ActivateSession (spec.md §4.D). UserNamePassword/UserX509 carry the
// decrypted secret bytes ActivateSession hands to the host's UserAuthN;
// UserIssued carries the raw JWT. The secret is never stored on the
// Session — only the validated UserIdentity survives past ActivateSession.
type PresentedToken struct {
	Kind     UserTokenKind
	Name     string // UserName (UserNamePassword) or certificate subject (UserX509)
	Password []byte // decrypted password bytes, UserNamePassword only
	Cert     []byte // DER-encoded certificate, UserX509 only
	RawJWT   string // IssuedToken only
}

// Session is the full runtime state of one OPC UA session (spec.md §3).
type Session struct {
	mu sync.Mutex

	ID            uint64
	AuthToken     []byte // opaque, server-generated
	State         State
	Identity      UserIdentity
	ServerNonce   []byte
	ClientNonce   []byte
	Locales       []string
	Timeout       time.Duration
	LastActivity  time.Time

	// ChannelID is the runtime id (secchan.SecureChannel.ID) of the
	// currently bound channel; zero means none (orphaned or not yet
	// activated). Only an id is stored, never a pointer to the channel
	// itself, breaking the Session<->Channel reference cycle per spec.md
	// §9.
	ChannelID uint64
}

func NewSession(id uint64, authToken []byte, timeout time.Duration) *Session {
	return &Session{
		ID:           id,
		AuthToken:    authToken,
		State:        StateCreating,
		Timeout:      timeout,
		LastActivity: time.Now(),
	}
}

func (s *Session) touch() { s.LastActivity = time.Now() }

// Snapshot returns a read-only copy of state relevant to callers deciding
// whether to forward a request (dispatch component F).
type Snapshot struct {
	State     State
	ChannelID uint64
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.State, ChannelID: s.ChannelID}
}
