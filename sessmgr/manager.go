// Package sessmgr multiplexes Sessions over SecureChannels: request-handle
// bookkeeping, per-session deadlines, and session lookup by (SC_Id,
// SessionId) for the server role or by local handle on the client role
// (spec.md §4.E).
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package sessmgr

import (
	"sync"
	"time"

	"github.com/duskforge/opcuacore/cmn"
	"github.com/duskforge/opcuacore/hk"
	"github.com/duskforge/opcuacore/session"
)

// PendingRequest is the application-level context a RequestHandle maps to
// (spec.md §3 "Request context").
type PendingRequest struct {
	SessionID uint64
	Deadline  time.Time
	Complete  func(err error) // invoked with nil on success, or a synthetic failure
}

// Manager owns every live Session plus the RequestHandle bijection for its
// in-flight requests.
type Manager struct {
	mu       sync.Mutex
	sessions map[uint64]*session.Session
	byChan   map[uint64]map[uint64]bool // channelID -> set of sessionIDs bound to it
	handles  map[uint32]*PendingRequest
	nextH    uint32
	hkName   string
	sweepIvl time.Duration
}

// New creates a manager and registers its deadline sweep with the shared
// housekeeper (spec.md §9 "a single timer wheel shared by token renewal,
// session timeouts, and publish keep-alives").
func New(name string, hook *hk.Housekeeper, sweep time.Duration) *Manager {
	m := &Manager{
		sessions: make(map[uint64]*session.Session),
		byChan:   make(map[uint64]map[uint64]bool),
		handles:  make(map[uint32]*PendingRequest),
		hkName:   name,
		sweepIvl: sweep,
	}
	if hook != nil {
		hook.Reg(name, sweep, m.sweep)
	}
	return m
}

// Add registers a new session under the manager.
func (m *Manager) Add(s *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	ch := s.Snapshot().ChannelID
	m.bindLocked(s.ID, ch)
}

func (m *Manager) bindLocked(sessionID, channelID uint64) {
	if channelID == 0 {
		return
	}
	set, ok := m.byChan[channelID]
	if !ok {
		set = make(map[uint64]bool)
		m.byChan[channelID] = set
	}
	set[sessionID] = true
}

// Get resolves a session by id.
func (m *Manager) Get(sessionID uint64) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Verify implements dispatch.SessionBinder: it confirms claimedSessionID is
// currently bound to channelID before a session-bound service is forwarded
// (spec.md §4.F point 4).
func (m *Manager) Verify(channelID uint64, claimedSessionID uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.byChan[channelID]
	if !ok || !set[claimedSessionID] {
		return 0, cmn.NewError(cmn.KindSession, cmn.BadSessionIdInvalid, "session %d not bound to channel %d", claimedSessionID, channelID)
	}
	return claimedSessionID, nil
}

// Bound reports the sessions currently bound to a given channel, used by
// the dispatcher to verify SessionId+SC binding (spec.md §4.F point 4).
func (m *Manager) Bound(channelID uint64) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.byChan[channelID]
	out := make([]uint64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Rebind moves a session's binding to a new channel, updating the
// channel-index alongside session.Session.Rebind.
func (m *Manager) Rebind(sessionID, newChannelID uint64) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return cmn.NewError(cmn.KindSession, cmn.BadSessionIdInvalid, "rebind: unknown session %d", sessionID)
	}
	old := s.Snapshot().ChannelID
	m.mu.Unlock()

	if err := s.Rebind(newChannelID); err != nil {
		return err
	}

	m.mu.Lock()
	if set, ok := m.byChan[old]; ok {
		delete(set, sessionID)
	}
	m.bindLocked(sessionID, newChannelID)
	m.mu.Unlock()
	return nil
}

// OrphanChannel orphans every session bound to a lost channel (spec.md
// §4.D "SC_Lost -> orphaned"), fired by the channel manager's LostListener.
func (m *Manager) OrphanChannel(channelID uint64) {
	m.mu.Lock()
	set, ok := m.byChan[channelID]
	if !ok {
		m.mu.Unlock()
		return
	}
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	delete(m.byChan, channelID)
	m.mu.Unlock()

	for _, id := range ids {
		if s, ok := m.Get(id); ok {
			s.Orphan()
		}
	}
}

// Close removes a session and fires a synthetic BadSessionClosed completion
// for every outstanding handle that belonged to it (spec.md §4.E "On
// session closure, every outstanding handle receives a synthetic
// BadSessionClosed completion before the table is freed").
func (m *Manager) Close(sessionID uint64) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sessionID)
	ch := s.Snapshot().ChannelID
	if set, ok := m.byChan[ch]; ok {
		delete(set, sessionID)
	}

	var toFail []*PendingRequest
	for h, pr := range m.handles {
		if pr.SessionID == sessionID {
			toFail = append(toFail, pr)
			delete(m.handles, h)
		}
	}
	m.mu.Unlock()

	s.Close()
	for _, pr := range toFail {
		if pr.Complete != nil {
			pr.Complete(cmn.NewError(cmn.KindSession, cmn.BadSessionClosed, "session closed"))
		}
	}
}

// NewHandle allocates the next monotonic RequestHandle and registers its
// deadline (spec.md §3 "Request context", §4.E "bijection from
// RequestHandle to in-flight application context").
func (m *Manager) NewHandle(sessionID uint64, deadline time.Time, complete func(error)) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextH++
	h := m.nextH
	m.handles[h] = &PendingRequest{SessionID: sessionID, Deadline: deadline, Complete: complete}
	return h
}

// Resolve consults the RequestHandle table for an inbound response, removing
// the entry. ok is false for unknown handles, which dispatch logs and drops.
func (m *Manager) Resolve(h uint32) (*PendingRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.handles[h]
	if ok {
		delete(m.handles, h)
	}
	return pr, ok
}

// sweep is the housekeeper hook: expires stale handles with a synthetic
// Timeout completion, and expires idle sessions (spec.md §4.D "Timeout").
func (m *Manager) sweep() time.Duration {
	now := time.Now()

	m.mu.Lock()
	var timedOut []*PendingRequest
	for h, pr := range m.handles {
		if now.After(pr.Deadline) {
			timedOut = append(timedOut, pr)
			delete(m.handles, h)
		}
	}
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, pr := range timedOut {
		if pr.Complete != nil {
			pr.Complete(cmn.NewError(cmn.KindTimeout, cmn.BadTimeout, "request handle deadline elapsed"))
		}
	}
	for _, s := range sessions {
		if s.CheckTimeout(now) {
			m.Close(s.ID)
		}
	}
	return m.sweepIvl // rearm: the same job keeps firing on the housekeeper wheel
}

// Len reports the number of currently tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
