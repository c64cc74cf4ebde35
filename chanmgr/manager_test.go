package chanmgr_test

import (
	"testing"

	"github.com/duskforge/opcuacore/chanmgr"
	"github.com/duskforge/opcuacore/secchan"
)

func newCh(id uint64) *secchan.SecureChannel {
	return secchan.NewSecureChannel(id, secchan.RoleServer, secchan.ModeNone, "none")
}

func TestIdleChannelEvictedWhenFull(t *testing.T) {
	m := chanmgr.NewManager(2, nil)
	c1, c2 := newCh(1), newCh(2)
	if err := m.Add(c1); err != nil {
		t.Fatalf("add c1: %v", err)
	}
	if err := m.Add(c2); err != nil {
		t.Fatalf("add c2: %v", err)
	}

	c3 := newCh(3)
	if err := m.Add(c3); err != nil {
		t.Fatalf("add c3 should evict oldest idle channel: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("expected table to stay at capacity 2, got %d", m.Len())
	}
	if _, ok := m.Get(1); ok {
		t.Fatalf("expected oldest channel (1) to have been evicted")
	}
}

func TestChannelsWithSessionsNeverEvicted(t *testing.T) {
	m := chanmgr.NewManager(1, nil)
	c1 := newCh(1)
	if err := m.Add(c1); err != nil {
		t.Fatalf("add c1: %v", err)
	}
	m.BindSession(1)

	c2 := newCh(2)
	if err := m.Add(c2); err == nil {
		t.Fatalf("expected resource-unavailable error: the only channel has a bound session")
	}
}

func TestSocketLostFiresOnce(t *testing.T) {
	var lostCount int
	m := chanmgr.NewManager(4, func(uint64) { lostCount++ })
	c1 := newCh(1)
	if err := m.Add(c1); err != nil {
		t.Fatalf("add: %v", err)
	}
	m.BindSocket(1, 100)
	m.SocketLost(100)
	m.SocketLost(100) // idempotent: socket already removed from the table
	if lostCount != 1 {
		t.Fatalf("expected exactly one SC_Lost callback, got %d", lostCount)
	}
}
