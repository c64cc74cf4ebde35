// Package chanmgr implements the channel manager (spec.md §4.C): the
// bounded table of live Secure Channels, socket binding, socket-loss
// handling, and the idle-close LRU that frees capacity for new
// connections without ever touching a channel that has a bound session.
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package chanmgr

import (
	"container/heap"
	"sync"

	"github.com/duskforge/opcuacore/cmn"
	"github.com/duskforge/opcuacore/cmn/nlog"
	"github.com/duskforge/opcuacore/secchan"
)

// LostListener is notified exactly once per channel when its socket is
// lost (spec.md §4.C).
type LostListener func(channelRuntimeID uint64)

// entry pairs a channel with its idle-close bookkeeping; only entries with
// HasSession==false are ever present in the eviction heap, mirroring the
// teacher's transport.collector heap-over-ticks idiom (transport/collect.go)
// generalized from "idle stream" to "session-less channel".
type entry struct {
	ch         *secchan.SecureChannel
	hasSession bool
	heapIndex  int // -1 when not in the heap
	socketID   uint64
}

type evictHeap []*entry

func (h evictHeap) Len() int           { return len(h) }
func (h evictHeap) Less(i, j int) bool { return h[i].ch.ID < h[j].ch.ID } // oldest (lowest runtime id) first
func (h evictHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *evictHeap) Push(x any) {
	e := x.(*entry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *evictHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}

// Manager owns the bounded table of live channels.
type Manager struct {
	mu       sync.Mutex
	cap      int
	byID     map[uint64]*entry
	bySocket map[uint64]*entry
	evictable evictHeap
	lostCB   LostListener
}

func NewManager(capacity int, onLost LostListener) *Manager {
	return &Manager{
		cap:      capacity,
		byID:     make(map[uint64]*entry),
		bySocket: make(map[uint64]*entry),
		lostCB:   onLost,
	}
}

// Add registers a new channel, evicting the oldest session-less channel if
// the table is at capacity (spec.md §4.C). Returns BadResourceUnavailable
// if at capacity with nothing evictable (every live channel has a bound
// session).
func (m *Manager) Add(ch *secchan.SecureChannel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.byID) >= m.cap {
		if len(m.evictable) == 0 {
			return cmn.NewError(cmn.KindResource, cmn.BadResourceUnavailable, "channel table full, no session-less channel to evict")
		}
		victim := heap.Pop(&m.evictable).(*entry)
		delete(m.byID, victim.ch.ID)
		if victim.socketID != 0 {
			delete(m.bySocket, victim.socketID)
		}
		victim.ch.Close()
		nlog.Infof("chanmgr: evicted idle channel sc=%d to admit a new connection", victim.ch.ID)
	}

	e := &entry{ch: ch, heapIndex: -1}
	m.byID[ch.ID] = e
	heap.Push(&m.evictable, e)
	return nil
}

// BindSocket pairs a channel with its socket handle (HEL for server role,
// ACK for client role, per spec.md §4.C).
func (m *Manager) BindSocket(channelRuntimeID, socketID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[channelRuntimeID]
	if !ok {
		return
	}
	e.socketID = socketID
	m.bySocket[socketID] = e
}

// BindSession marks the channel as carrying a session, pinning it out of
// the idle-close heap: "channels with sessions are never auto-closed"
// (spec.md §4.C).
func (m *Manager) BindSession(channelRuntimeID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[channelRuntimeID]
	if !ok || e.hasSession {
		return
	}
	e.hasSession = true
	if e.heapIndex >= 0 {
		heap.Remove(&m.evictable, e.heapIndex)
	}
}

// UnbindSession reverses BindSession once a channel no longer carries any
// active session, making it eligible for idle eviction again.
func (m *Manager) UnbindSession(channelRuntimeID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[channelRuntimeID]
	if !ok || !e.hasSession {
		return
	}
	e.hasSession = false
	heap.Push(&m.evictable, e)
}

// SocketLost marks the channel closed and fires the LostListener exactly
// once (spec.md §4.C, §5 "SC_Lost... exactly once").
func (m *Manager) SocketLost(socketID uint64) {
	m.mu.Lock()
	e, ok := m.bySocket[socketID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.bySocket, socketID)
	delete(m.byID, e.ch.ID)
	if e.heapIndex >= 0 {
		heap.Remove(&m.evictable, e.heapIndex)
	}
	m.mu.Unlock()

	wasOpen := e.ch.Close()
	if wasOpen && m.lostCB != nil {
		m.lostCB(e.ch.ID)
	}
}

// Get returns the channel for a runtime id, if live.
func (m *Manager) Get(channelRuntimeID uint64) (*secchan.SecureChannel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[channelRuntimeID]
	if !ok {
		return nil, false
	}
	return e.ch, true
}

// ForEach iterates over every currently-connected channel (spec.md §4.C
// "expose iterators").
func (m *Manager) ForEach(fn func(*secchan.SecureChannel)) {
	m.mu.Lock()
	chans := make([]*secchan.SecureChannel, 0, len(m.byID))
	for _, e := range m.byID {
		chans = append(chans, e.ch)
	}
	m.mu.Unlock()
	for _, ch := range chans {
		fn(ch)
	}
}

// Len reports the number of currently live channels.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}
