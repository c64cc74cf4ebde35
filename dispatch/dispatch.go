// Package dispatch implements the I/O dispatcher (spec.md §4.F): the single
// ingress for decoded messages from any socket, classification into
// request/response/error/open/close, service-class routing, session
// binding verification, and FIFO-ordered reply delivery per socket.
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package dispatch

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/duskforge/opcuacore/cmn"
	"github.com/duskforge/opcuacore/cmn/nlog"
	"github.com/duskforge/opcuacore/sessmgr"
)

// Kind classifies a decoded inbound message (spec.md §4.F point 1).
type Kind int

const (
	KindOpen Kind = iota
	KindClose
	KindRequest
	KindResponse
	KindError
)

// ServiceClass buckets server-role requests by OPC UA service node-id
// (spec.md §4.F point 3).
type ServiceClass int

const (
	ClassDiscovery ServiceClass = iota
	ClassSessionTreatment
	ClassSessionService
	ClassServiceFault
)

// ServiceClassifier maps a service NodeId to its class. Hosts register the
// concrete NodeId->class table; the dispatcher ships with none baked in
// (spec.md §6: the core never hard-codes the address space).
type ServiceClassifier func(serviceNodeID uint32) ServiceClass

// CallContext carries the per-request OpenTelemetry span across the
// Sockets -> SecureChannels -> Services hand-off (SPEC_FULL §4.F), plus the
// plain routing facts the dispatcher itself needs.
type CallContext struct {
	ctx        context.Context
	span       trace.Span
	ChannelID  uint64
	RequestID  uint32
	SessionID  uint64
	Class      ServiceClass
}

// End closes the span; handlers call this once they've produced (or failed
// to produce) a reply.
func (c *CallContext) End() {
	if c.span != nil {
		c.span.End()
	}
}

var tracer = otel.Tracer("opcuacore/dispatch")

func newCallContext(channelID uint64, requestID uint32) *CallContext {
	ctx, span := tracer.Start(context.Background(), "opcua.request")
	return &CallContext{ctx: ctx, span: span, ChannelID: channelID, RequestID: requestID}
}

// InboundMessage is what the SecureChannels layer hands the dispatcher for
// one fully reassembled, decrypted message (spec.md §4 data flow).
type InboundMessage struct {
	Kind         Kind
	ChannelID    uint64
	RequestID    uint32
	ServiceNode  uint32 // meaningful only for KindRequest
	Body         []byte
}

// OutboundMessage is a reply the dispatcher hands back to the socket layer,
// tagged with the original RequestId (spec.md §4.F point 5).
type OutboundMessage struct {
	ChannelID uint64
	RequestID uint32
	Body      []byte
}

// Handler executes a classified request and returns the reply body (or an
// error, mapped to a ServiceFault/ERR by the caller).
type Handler func(cc *CallContext, body []byte) ([]byte, error)

// SessionBinder resolves and verifies the SessionId carried in a
// session-bound request against the channel it arrived on (spec.md §4.F
// point 4).
type SessionBinder interface {
	// Verify returns the bound session id for channelID, or an error if no
	// session is currently bound to it (BadSessionIdInvalid).
	Verify(channelID uint64, claimedSessionID uint64) (uint64, error)
}

// socketQueue serializes outbound replies for one socket so they are
// emitted in FIFO order even though handlers complete out of order
// (spec.md §4.F "Ordering").
type socketQueue struct {
	mu      sync.Mutex
	pending map[uint32][]byte // requestID -> completed reply body, once known
	order   []uint32          // arrival order of requestIDs awaiting a reply
	nextIdx int
	send    func(OutboundMessage)
}

func newSocketQueue(send func(OutboundMessage)) *socketQueue {
	return &socketQueue{pending: make(map[uint32][]byte), send: send}
}

func (q *socketQueue) expect(requestID uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.order = append(q.order, requestID)
}

// complete records a handler's result and flushes every reply that is now
// at the front of the arrival-ordered queue.
func (q *socketQueue) complete(channelID uint64, requestID uint32, body []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[requestID] = body
	for q.nextIdx < len(q.order) {
		id := q.order[q.nextIdx]
		body, ready := q.pending[id]
		if !ready {
			break
		}
		delete(q.pending, id)
		q.nextIdx++
		q.send(OutboundMessage{ChannelID: channelID, RequestID: id, Body: body})
	}
}

// Dispatcher is the single ingress point described by spec.md §4.F.
type Dispatcher struct {
	classify ServiceClassifier
	binder   SessionBinder
	sessions *sessmgr.Manager

	discovery Handler
	sessionTx Handler // CreateSession/ActivateSession/CloseSession/Cancel
	service   Handler // all on-session services

	mu      sync.Mutex
	queues  map[uint64]*socketQueue // keyed by channel runtime id (server role == one socket per channel here)
	clientPending map[uint32]func(kind Kind, body []byte, err error) // client role: requestId -> completion
}

func New(classify ServiceClassifier, binder SessionBinder, sessions *sessmgr.Manager) *Dispatcher {
	return &Dispatcher{
		classify:      classify,
		binder:        binder,
		sessions:      sessions,
		queues:        make(map[uint64]*socketQueue),
		clientPending: make(map[uint32]func(Kind, []byte, error)),
	}
}

// SetHandlers wires the three server-role handler groups (spec.md §4.F
// point 3's three non-fault classes; ServiceFault is synthesized by the
// dispatcher itself from handler errors).
func (d *Dispatcher) SetHandlers(discovery, sessionTreatment, sessionService Handler) {
	d.discovery = discovery
	d.sessionTx = sessionTreatment
	d.service = sessionService
}

func (d *Dispatcher) queueFor(channelID uint64, send func(OutboundMessage)) *socketQueue {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[channelID]
	if !ok {
		q = newSocketQueue(send)
		d.queues[channelID] = q
	}
	return q
}

// DropChannel discards the FIFO queue for a channel that has closed, so a
// handler that completes late for a dead channel doesn't leak.
func (d *Dispatcher) DropChannel(channelID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.queues, channelID)
}

// HandleServer processes one inbound message on the server role, invoking
// the appropriate handler and scheduling its reply through the channel's
// FIFO queue (spec.md §4.F points 2-5).
func (d *Dispatcher) HandleServer(msg InboundMessage, sessionID uint64, send func(OutboundMessage)) {
	q := d.queueFor(msg.ChannelID, send)
	q.expect(msg.RequestID)

	switch msg.Kind {
	case KindError, KindClose:
		// Errors/closes never get a reply body; release the slot so FIFO
		// flushing isn't blocked waiting on one.
		q.complete(msg.ChannelID, msg.RequestID, nil)
		return
	}

	cc := newCallContext(msg.ChannelID, msg.RequestID)
	defer cc.End()

	class := d.classify(msg.ServiceNode)
	cc.Class = class

	var handler Handler
	switch class {
	case ClassDiscovery:
		handler = d.discovery
	case ClassSessionTreatment:
		handler = d.sessionTx
	case ClassSessionService:
		bound, err := d.binder.Verify(msg.ChannelID, sessionID)
		if err != nil {
			q.complete(msg.ChannelID, msg.RequestID, nil)
			nlog.Warningf("dispatch: session binding rejected sc=%d session=%d: %v", msg.ChannelID, sessionID, err)
			return
		}
		cc.SessionID = bound
		handler = d.service
	default:
		handler = nil
	}

	if handler == nil {
		q.complete(msg.ChannelID, msg.RequestID, nil)
		nlog.Warningf("dispatch: no handler for service class %d (sc=%d req=%d)", class, msg.ChannelID, msg.RequestID)
		return
	}

	reply, err := handler(cc, msg.Body)
	if err != nil {
		nlog.Warningf("dispatch: handler failed sc=%d req=%d: %v", msg.ChannelID, msg.RequestID, err)
		reply = nil
	}
	q.complete(msg.ChannelID, msg.RequestID, reply)
}

// RegisterClientRequest records a completion callback for an outbound
// client-role request, keyed by the requestId the caller chose (spec.md
// §4.F point 2).
func (d *Dispatcher) RegisterClientRequest(requestID uint32, complete func(kind Kind, body []byte, err error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clientPending[requestID] = complete
}

// HandleClient routes an inbound response on the client role by requestId;
// unknown ids are dropped with a warning (spec.md §4.F point 2).
func (d *Dispatcher) HandleClient(msg InboundMessage) {
	d.mu.Lock()
	complete, ok := d.clientPending[msg.RequestID]
	if ok {
		delete(d.clientPending, msg.RequestID)
	}
	d.mu.Unlock()

	if !ok {
		nlog.Warningf("dispatch: response for unknown requestId=%d dropped", msg.RequestID)
		return
	}
	if msg.Kind == KindError {
		complete(msg.Kind, nil, cmn.NewError(cmn.KindTransport, cmn.BadCommunicationError, "peer returned ERR"))
		return
	}
	complete(msg.Kind, msg.Body, nil)
}
