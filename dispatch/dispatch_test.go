package dispatch_test

import (
	"sync"
	"testing"
	"time"

	"github.com/duskforge/opcuacore/dispatch"
	"github.com/duskforge/opcuacore/session"
	"github.com/duskforge/opcuacore/sessmgr"
)

func classifier(serviceNode uint32) dispatch.ServiceClass {
	switch serviceNode {
	case 1:
		return dispatch.ClassDiscovery
	case 2:
		return dispatch.ClassSessionTreatment
	default:
		return dispatch.ClassSessionService
	}
}

func TestRepliesFlushInArrivalOrderDespiteOutOfOrderCompletion(t *testing.T) {
	mgr := sessmgr.New("sweep", nil, time.Second)
	s := session.NewSession(1, []byte("tok"), time.Minute)
	_ = s.CreateSession([]byte("n"), 10)
	_ = s.ActivateSession("", session.PresentedToken{Kind: session.UserAnonymous}, nil, nil, nil)
	mgr.Add(s)

	var mu sync.Mutex
	var sent []uint32

	d := dispatch.New(classifier, mgr, mgr)
	release := make(chan struct{})
	d.SetHandlers(nil, nil, func(cc *dispatch.CallContext, body []byte) ([]byte, error) {
		if cc.RequestID == 100 {
			<-release // request 100 arrives first but finishes last
		}
		return body, nil
	})

	send := func(msg dispatch.OutboundMessage) {
		mu.Lock()
		sent = append(sent, msg.RequestID)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.HandleServer(dispatch.InboundMessage{Kind: dispatch.KindRequest, ChannelID: 10, RequestID: 100, ServiceNode: 99}, 1, send)
	}()
	// Ensure req 100 is registered into the FIFO order before req 101 is handled.
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		d.HandleServer(dispatch.InboundMessage{Kind: dispatch.KindRequest, ChannelID: 10, RequestID: 101, ServiceNode: 99}, 1, send)
	}()

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 2 || sent[0] != 100 || sent[1] != 101 {
		t.Fatalf("expected FIFO order [100 101], got %v", sent)
	}
}

func TestSessionBindingRejectsUnboundChannel(t *testing.T) {
	mgr := sessmgr.New("sweep", nil, time.Second)
	s := session.NewSession(1, []byte("tok"), time.Minute)
	_ = s.CreateSession([]byte("n"), 10)
	_ = s.ActivateSession("", session.PresentedToken{Kind: session.UserAnonymous}, nil, nil, nil)
	mgr.Add(s)

	called := false
	d := dispatch.New(classifier, mgr, mgr)
	d.SetHandlers(nil, nil, func(cc *dispatch.CallContext, body []byte) ([]byte, error) {
		called = true
		return body, nil
	})

	var got []dispatch.OutboundMessage
	send := func(msg dispatch.OutboundMessage) { got = append(got, msg) }

	// session 1 is bound to channel 10, not channel 20.
	d.HandleServer(dispatch.InboundMessage{Kind: dispatch.KindRequest, ChannelID: 20, RequestID: 1, ServiceNode: 99}, 1, send)

	if called {
		t.Fatalf("expected handler not to run for a session not bound to this channel")
	}
	if len(got) != 0 {
		t.Fatalf("expected no reply to be sent for a rejected binding, got %v", got)
	}
}

func TestClientRoleRoutesResponseByRequestID(t *testing.T) {
	mgr := sessmgr.New("sweep", nil, time.Second)
	d := dispatch.New(classifier, mgr, mgr)

	var gotBody []byte
	var gotErr error
	d.RegisterClientRequest(42, func(kind dispatch.Kind, body []byte, err error) {
		gotBody, gotErr = body, err
	})

	d.HandleClient(dispatch.InboundMessage{Kind: dispatch.KindResponse, RequestID: 42, Body: []byte("reply")})
	if gotErr != nil || string(gotBody) != "reply" {
		t.Fatalf("expected reply body to be routed to the registered callback, got body=%q err=%v", gotBody, gotErr)
	}

	// Unknown requestId is silently dropped (a warning only), not panicking
	// and not matching any registered callback twice.
	d.HandleClient(dispatch.InboundMessage{Kind: dispatch.KindResponse, RequestID: 999, Body: []byte("ignored")})
}
