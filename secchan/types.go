// Package secchan implements the Secure Channel state machine (spec.md
// §4.B): TCP framing lifecycle, chunk assembly wiring, symmetric/asymmetric
// cryptography, token renewal, and sequence-number/request-id ordering.
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package secchan

import (
	"sync"
	"time"

	"github.com/duskforge/opcuacore/codec/chunk"
)

// Role distinguishes which side of the OPN exchange a channel plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// SecurityMode is the OPC UA MessageSecurityMode (spec.md §3).
type SecurityMode int

const (
	ModeNone SecurityMode = iota
	ModeSign
	ModeSignAndEncrypt
)

// State is the channel lifecycle state (spec.md §4.B diagram).
type State int

const (
	StateIdle State = iota
	StateHelloSent
	StateAckRecv
	StateOpenReqSent
	StateOpen
	StateRenewing // OPN2 in flight; previous token still OPEN-equivalent
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHelloSent:
		return "hello_sent"
	case StateAckRecv:
		return "ack_recv"
	case StateOpenReqSent:
		return "open_req_sent"
	case StateOpen:
		return "open"
	case StateRenewing:
		return "renewing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SymmetricKeySet is the derived (signing, encryption, IV) triple for one
// channel token (spec.md §3).
type SymmetricKeySet struct {
	SigningKey    []byte
	EncryptionKey []byte
	IV            []byte
}

// Token is one (TokenId, SymmetricKeySet) pair plus its validity window.
type Token struct {
	TokenID    uint32
	Keys       SymmetricKeySet
	CreatedAt  time.Time
	Lifetime   time.Duration
}

func (t *Token) ExpiresAt() time.Time { return t.CreatedAt.Add(t.Lifetime) }

// SecureChannel is the full runtime state of one channel (spec.md §3).
type SecureChannel struct {
	mu sync.Mutex

	ID        uint64 // process-local runtime id (SC_Id)
	ChannelID uint32 // peer-assigned wire SC_ChannelId
	Role      Role
	State     State

	SecurityMode   SecurityMode
	SecurityPolicy string

	PeerSeqNum  uint32 // last accepted inbound sequence number
	LocalSeqNum uint32 // last emitted outbound sequence number
	haveSeen    bool

	Current  *Token
	Previous *Token // valid only during the renewal overlap window
	overlapUntil time.Time

	RequestLifetime time.Duration
	unknownReplyCnt int

	// socket handle: opaque to secchan; chanmgr owns the actual net.Conn.
	SocketID uint64

	Assembler *chunk.Assembler

	pkiValidated bool // OPN cert-chain validated exactly once per new SC
}

// NewSecureChannel constructs a channel in StateIdle, ready to begin the
// HEL/ACK/OPN handshake.
func NewSecureChannel(id uint64, role Role, mode SecurityMode, policy string) *SecureChannel {
	return &SecureChannel{
		ID:             id,
		Role:           role,
		State:          StateIdle,
		SecurityMode:   mode,
		SecurityPolicy: policy,
		Assembler:      chunk.NewAssembler(512, 16*1024*1024),
	}
}
