package session_test

import (
	"testing"
	"time"

	"github.com/duskforge/opcuacore/cmn"
	"github.com/duskforge/opcuacore/session"
)

func newCreated(t *testing.T, timeout time.Duration) *session.Session {
	t.Helper()
	s := session.NewSession(1, []byte("authtoken"), timeout)
	if err := s.CreateSession([]byte("nonce"), 10); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return s
}

func anonToken() session.PresentedToken {
	return session.PresentedToken{Kind: session.UserAnonymous}
}

// passwordAuthN is a fake UserAuthN that accepts exactly one (name,
// password) pair, mirroring how a host would wrap a real credential store.
type passwordAuthN struct {
	name, password string
}

func (a passwordAuthN) ValidateToken(endpoint string, token session.PresentedToken) (session.UserIdentity, cmn.StatusCode, error) {
	if token.Name != a.name || string(token.Password) != a.password {
		return session.UserIdentity{}, cmn.BadIdentityTokenRejected, nil
	}
	return session.UserIdentity{Kind: session.UserNamePassword, Name: token.Name, Roles: []string{"operator"}}, cmn.Good, nil
}

func TestCreateThenActivateAnonymous(t *testing.T) {
	s := newCreated(t, time.Minute)
	if err := s.ActivateSession("", anonToken(), nil, nil, []byte("cnonce")); err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}
	snap := s.Snapshot()
	if snap.State != session.StateActive {
		t.Fatalf("expected active, got %s", snap.State)
	}
	if snap.ChannelID != 10 {
		t.Fatalf("expected channel 10, got %d", snap.ChannelID)
	}
}

func TestActivateFailureLeavesSessionCreated(t *testing.T) {
	s := newCreated(t, time.Minute)
	token := session.PresentedToken{Kind: session.UserIssued, RawJWT: "not-a-jwt"}
	err := s.ActivateSession("", token, nil, nil, nil)
	if err == nil {
		t.Fatalf("expected failure for missing issuer key set")
	}
	if got := s.Snapshot().State; got != session.StateCreated {
		t.Fatalf("expected session to remain in created after failed activation, got %s", got)
	}
}

// TestBadPasswordThenRetry exercises the "bad password -> BadIdentityTokenRejected,
// retry succeeds" scenario (spec.md §8 scenario 2, §4.D "decryption and
// validation happen exactly once per activation").
func TestBadPasswordThenRetry(t *testing.T) {
	s := newCreated(t, time.Minute)
	authn := passwordAuthN{name: "user1", password: "correct-horse"}

	bad := session.PresentedToken{Kind: session.UserNamePassword, Name: "user1", Password: []byte("wrong")}
	err := s.ActivateSession("opc.tcp://localhost", bad, authn, nil, nil)
	if err == nil {
		t.Fatalf("expected bad password to be rejected")
	}
	if cmn.StatusOf(err) != cmn.BadIdentityTokenRejected {
		t.Fatalf("expected BadIdentityTokenRejected, got %v", err)
	}
	if got := s.Snapshot().State; got != session.StateCreated {
		t.Fatalf("expected session to remain in created after bad password, got %s", got)
	}

	good := session.PresentedToken{Kind: session.UserNamePassword, Name: "user1", Password: []byte("correct-horse")}
	if err := s.ActivateSession("opc.tcp://localhost", good, authn, nil, nil); err != nil {
		t.Fatalf("expected retry with correct password to succeed: %v", err)
	}
	if got := s.Snapshot().State; got != session.StateActive {
		t.Fatalf("expected active after successful retry, got %s", got)
	}
}

func TestActivateWithoutUserAuthNConfiguredIsRejected(t *testing.T) {
	s := newCreated(t, time.Minute)
	token := session.PresentedToken{Kind: session.UserX509, Cert: []byte("der-bytes")}
	err := s.ActivateSession("", token, nil, nil, nil)
	if err == nil {
		t.Fatalf("expected activation to fail with no UserAuthN configured")
	}
	if cmn.StatusOf(err) != cmn.BadIdentityTokenInvalid {
		t.Fatalf("expected BadIdentityTokenInvalid, got %v", err)
	}
}

func TestRebindOverNewChannel(t *testing.T) {
	s := newCreated(t, time.Minute)
	_ = s.ActivateSession("", anonToken(), nil, nil, nil)
	if err := s.Rebind(99); err != nil {
		t.Fatalf("Rebind: %v", err)
	}
	if got := s.Snapshot().ChannelID; got != 99 {
		t.Fatalf("expected rebind to channel 99, got %d", got)
	}
}

func TestOrphanOnChannelLossThenRebind(t *testing.T) {
	s := newCreated(t, time.Minute)
	_ = s.ActivateSession("", anonToken(), nil, nil, nil)
	s.Orphan()
	snap := s.Snapshot()
	if snap.State != session.StateOrphaned || snap.ChannelID != 0 {
		t.Fatalf("expected orphaned with no channel, got state=%s channel=%d", snap.State, snap.ChannelID)
	}
	if err := s.Rebind(7); err != nil {
		t.Fatalf("Rebind from orphaned: %v", err)
	}
	if got := s.Snapshot().State; got != session.StateActive {
		t.Fatalf("expected active after rebind, got %s", got)
	}
}

func TestTimeoutClosesIdleSession(t *testing.T) {
	s := newCreated(t, time.Millisecond)
	_ = s.ActivateSession("", anonToken(), nil, nil, nil)
	time.Sleep(5 * time.Millisecond)
	if !s.CheckTimeout(time.Now()) {
		t.Fatalf("expected session to be past its timeout")
	}
	s.Touch()
	if s.CheckTimeout(time.Now()) {
		t.Fatalf("expected Touch to reset the idle clock")
	}
}

func TestCloseIsTerminal(t *testing.T) {
	s := newCreated(t, time.Minute)
	if err := s.BeginClose(); err != nil {
		t.Fatalf("BeginClose: %v", err)
	}
	s.Close()
	if got := s.Snapshot().State; got != session.StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}
}
