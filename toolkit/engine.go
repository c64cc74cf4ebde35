package toolkit

import (
	"context"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/duskforge/opcuacore/chanmgr"
	"github.com/duskforge/opcuacore/cmn"
	"github.com/duskforge/opcuacore/cmn/nlog"
	"github.com/duskforge/opcuacore/codec"
	"github.com/duskforge/opcuacore/codec/chunk"
	"github.com/duskforge/opcuacore/dispatch"
	"github.com/duskforge/opcuacore/hk"
	"github.com/duskforge/opcuacore/secchan"
)

// RequestPrelude is what SecureChannels extracts from a decoded MSG body
// before handing it to Services: the service-node id used for
// classification (spec.md §4.F point 3) and the claimed session id used
// for binding verification (spec.md §4.F point 4). Full binary decoding of
// an OPC UA service RequestHeader/TypeId is outside this core's wire-codec
// scope (spec.md §4.A only frames the TCP layer); hosts supply a
// PreludeParser that knows their concrete service dictionary.
type RequestPrelude struct {
	ServiceNode uint32
	SessionID   uint64
	Body        []byte
}

// PreludeParser extracts a RequestPrelude from one reassembled MSG body.
type PreludeParser func(body []byte) (RequestPrelude, error)

// Config bundles everything the engine needs to run the server role of
// spec.md §5's three-goroutine core. Config never reads environment
// variables or files itself (spec.md §6); callers populate it from their
// own ServerConfig/ClientConfig.
type Config struct {
	ListenAddr      string
	Profile         secchan.Profile
	PKI             secchan.PkiProvider
	MaxChannels     int
	MaxChunks       int
	MaxBodySize     uint32
	TokenLifetime   time.Duration
	ParsePrelude    PreludeParser
}

// Engine runs the Sockets / SecureChannels / Services cooperative core
// (spec.md §5) over one listening address, dispatching fully-assembled
// server-role requests into a caller-configured *dispatch.Dispatcher.
type Engine struct {
	cfg     Config
	chans   *chanmgr.Manager
	disp    *dispatch.Dispatcher
	hk      *hk.Housekeeper
	sockets *socketTable

	listener net.Listener

	rawCh chan rawFrame // Sockets -> SecureChannels
	msgCh chan svcJob   // SecureChannels -> Services
}

// svcJob is one fully-assembled, decrypted message ready for Services.
type svcJob struct {
	msg       dispatch.InboundMessage
	sessionID uint64
	send      func(dispatch.OutboundMessage)
}

// New builds an Engine. disp must already have its handlers wired
// (dispatch.Dispatcher.SetHandlers) by the caller; the engine only drives
// transport, framing and routing around it.
func New(cfg Config, disp *dispatch.Dispatcher, housekeeper *hk.Housekeeper) *Engine {
	e := &Engine{
		cfg:     cfg,
		disp:    disp,
		hk:      housekeeper,
		sockets: newSocketTable(),
		rawCh:   make(chan rawFrame, 256),
		msgCh:   make(chan svcJob, 256),
	}
	e.chans = chanmgr.NewManager(cfg.MaxChannels, e.onChannelLost)
	return e
}

// Run starts the three cooperating goroutines and blocks until ctx is
// canceled or one of them returns a fatal error, at which point the other
// two are torn down too (golang.org/x/sync/errgroup.WithContext), mirroring
// how the teacher starts/stops its cooperating stream goroutines as a unit
// (fs/walkbck.go, dsort/dsort.go).
func (e *Engine) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.cfg.ListenAddr)
	if err != nil {
		return cmn.WrapError(cmn.KindTransport, cmn.BadCommunicationError, err, "listen %s", e.cfg.ListenAddr)
	}
	e.listener = ln

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.runSockets(gctx) })
	g.Go(func() error { return e.runSecureChannels(gctx) })
	g.Go(func() error { return e.runServices(gctx) })

	<-gctx.Done()
	if err := ln.Close(); err != nil {
		nlog.Warningf("toolkit: close listener: %v", err)
	}
	return g.Wait()
}

func (e *Engine) onChannelLost(channelRuntimeID uint64) {
	e.disp.DropChannel(channelRuntimeID)
	nlog.Infof("toolkit: channel sc=%d lost, dispatcher queue dropped", channelRuntimeID)
}

// --- Sockets goroutine (spec.md §5 "Sockets thread owns I/O") ---

func (e *Engine) runSockets(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := e.listener.Close(); err != nil {
			nlog.Warningf("toolkit: close listener: %v", err)
		}
		e.sockets.closeAll()
	}()

	for {
		conn, err := e.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return cmn.WrapError(cmn.KindTransport, cmn.BadCommunicationError, err, "accept")
			}
		}
		sid := nextSocketID()
		sc := &socketConn{id: sid, conn: conn, outCh: make(chan []byte, 64)}
		e.sockets.add(sc)
		go e.writerLoop(ctx, sc)
		go e.readerLoop(ctx, sc)
	}
}

func (e *Engine) writerLoop(ctx context.Context, sc *socketConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-sc.outCh:
			if !ok {
				return
			}
			if _, err := sc.conn.Write(data); err != nil {
				nlog.Warningf("toolkit: socket %d write failed: %v", sc.id, err)
				e.dropSocket(sc)
				return
			}
		}
	}
}

func (e *Engine) readerLoop(ctx context.Context, sc *socketConn) {
	defer e.dropSocket(sc)
	for {
		hdr, body, err := readFrame(sc.conn)
		if err != nil {
			if !sc.closed.Load() {
				nlog.Warningf("toolkit: socket %d read failed: %v", sc.id, err)
			}
			return
		}
		select {
		case e.rawCh <- rawFrame{socketID: sc.id, header: hdr, body: body}:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) dropSocket(sc *socketConn) {
	if sc.closed.Swap(true) {
		return
	}
	close(sc.outCh)
	closeQuietly(sc.conn)
	e.sockets.remove(sc.id)
	e.chans.SocketLost(sc.id)
}

func (e *Engine) sendRaw(socketID uint64, data []byte) {
	sc, ok := e.sockets.get(socketID)
	if !ok {
		return
	}
	select {
	case sc.outCh <- data:
	default:
		nlog.Warningf("toolkit: socket %d outbound queue full, dropping frame", socketID)
	}
}

// --- SecureChannels goroutine (spec.md §5 "SecureChannels thread owns
// crypto-heavy framing") ---

func (e *Engine) runSecureChannels(ctx context.Context) error {
	// one channel per socket for the server role (spec.md §4.C "binds
	// (socketHandle <-> SC_Id)" — one HEL/OPN negotiates exactly one SC).
	bySocket := make(map[uint64]*secchan.SecureChannel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case fr := <-e.rawCh:
			e.handleRawFrame(ctx, fr, bySocket)
		}
	}
}

func (e *Engine) handleRawFrame(ctx context.Context, fr rawFrame, bySocket map[uint64]*secchan.SecureChannel) {
	switch fr.header.Type {
	case codec.MsgHello:
		e.handleHello(fr)
	case codec.MsgOpen:
		e.handleOpen(fr, bySocket)
	case codec.MsgSecure:
		e.handleMsg(ctx, fr, bySocket)
	case codec.MsgClose:
		e.handleClose(fr, bySocket)
	default:
		nlog.Warningf("toolkit: unexpected message type %q on socket %d", fr.header.Type, fr.socketID)
	}
}

func (e *Engine) handleHello(fr rawFrame) {
	r := codec.NewReader(fr.body)
	if _, err := codec.DecodeHello(r); err != nil {
		nlog.Warningf("toolkit: malformed HEL on socket %d: %v", fr.socketID, err)
		e.dropSocketByID(fr.socketID)
		return
	}
	ack := codec.AckBody{ProtocolVersion: 0, ReceiveBufferSize: e.cfg.MaxBodySize, SendBufferSize: e.cfg.MaxBodySize, MaxMessageSize: e.cfg.MaxBodySize, MaxChunkCount: uint32(e.cfg.MaxChunks)}
	buf := codec.EncodeHeader(nil, codec.Header{Type: codec.MsgAck, Flag: codec.ChunkFinal})
	body := codec.EncodeAck(nil, ack)
	buf = patchSize(buf, body)
	e.sendRaw(fr.socketID, buf)
}

func (e *Engine) handleOpen(fr rawFrame, bySocket map[uint64]*secchan.SecureChannel) {
	r := codec.NewReader(fr.body)
	asym, err := codec.DecodeAsymmetricHeader(r)
	if err != nil {
		nlog.Warningf("toolkit: malformed OPN asymmetric header on socket %d: %v", fr.socketID, err)
		e.dropSocketByID(fr.socketID)
		return
	}
	seq, err := codec.DecodeSequenceHeader(r)
	if err != nil {
		nlog.Warningf("toolkit: malformed OPN sequence header on socket %d: %v", fr.socketID, err)
		e.dropSocketByID(fr.socketID)
		return
	}
	reqBody, err := decodeOpenRequestBody(r)
	if err != nil {
		nlog.Warningf("toolkit: malformed OPN body on socket %d: %v", fr.socketID, err)
		e.dropSocketByID(fr.socketID)
		return
	}

	if e.cfg.PKI != nil && reqBody.SecurityMode != secchan.ModeNone {
		if status, verr := secchan.ValidateCertOnce(e.cfg.PKI, string(asym.SenderCertificate), asym.SenderCertificate); verr != nil || !status.IsGood() {
			nlog.Warningf("toolkit: OPN cert validation failed on socket %d: %v", fr.socketID, verr)
			e.dropSocketByID(fr.socketID)
			return
		}
	}

	runtimeID := secchan.NextRuntimeID()
	sc := secchan.NewSecureChannel(runtimeID, secchan.RoleServer, reqBody.SecurityMode, asym.SecurityPolicyURI)
	sc.SocketID = fr.socketID
	if err := e.chans.Add(sc); err != nil {
		nlog.Warningf("toolkit: channel table full, rejecting OPN on socket %d: %v", fr.socketID, err)
		e.dropSocketByID(fr.socketID)
		return
	}
	e.chans.BindSocket(runtimeID, fr.socketID)

	lifetime := reqBody.RequestedLifetime
	if lifetime <= 0 {
		lifetime = e.cfg.TokenLifetime
	}
	token, serverNonce, err := negotiateToken(e.cfg.Profile, reqBody.ClientNonce, lifetime, 1)
	if err != nil {
		nlog.Warningf("toolkit: key derivation failed sc=%d: %v", runtimeID, err)
		e.dropSocketByID(fr.socketID)
		return
	}
	if err := sc.OnOpenResponse(uint32(runtimeID), token, lifetime); err != nil {
		nlog.Warningf("toolkit: OPN state transition failed sc=%d: %v", runtimeID, err)
		return
	}
	if err := sc.AcceptInboundSeq(seq.SequenceNumber); err != nil {
		nlog.Warningf("toolkit: OPN sequence rejected sc=%d: %v", runtimeID, err)
		sc.Close()
		return
	}
	bySocket[fr.socketID] = sc

	resp := encodeOpenResponseBody(nil, openResponseBody{
		ChannelID:       uint32(runtimeID),
		TokenID:         token.TokenID,
		RevisedLifetime: lifetime,
		ServerNonce:     serverNonce,
	})
	outSeq, err := sc.NextOutboundSeq()
	if err != nil {
		nlog.Warningf("toolkit: OPN response sequence failed sc=%d: %v", runtimeID, err)
		return
	}
	buf := codec.EncodeHeader(nil, codec.Header{Type: codec.MsgOpen, Flag: codec.ChunkFinal})
	buf = codec.EncodeAsymmetricHeader(buf, codec.AsymmetricSecurityHeader{SecurityPolicyURI: asym.SecurityPolicyURI})
	buf = codec.EncodeSequenceHeader(buf, codec.SequenceHeader{SequenceNumber: outSeq, RequestId: seq.RequestId})
	buf = append(buf, resp...)
	buf = patchSize(buf, nil)
	e.sendRaw(fr.socketID, buf)

	e.scheduleRenewal(sc)
}

func (e *Engine) handleMsg(ctx context.Context, fr rawFrame, bySocket map[uint64]*secchan.SecureChannel) {
	sc, ok := bySocket[fr.socketID]
	if !ok {
		nlog.Warningf("toolkit: MSG on socket %d with no open channel", fr.socketID)
		return
	}

	r := codec.NewReader(fr.body)
	symHdr, err := codec.DecodeSymmetricHeader(r)
	if err != nil {
		nlog.Warningf("toolkit: malformed MSG symmetric header sc=%d: %v", sc.ID, err)
		e.closeChannel(sc)
		return
	}
	seq, err := codec.DecodeSequenceHeader(r)
	if err != nil {
		nlog.Warningf("toolkit: malformed MSG sequence header sc=%d: %v", sc.ID, err)
		e.closeChannel(sc)
		return
	}
	if err := sc.AcceptInboundSeq(seq.SequenceNumber); err != nil {
		nlog.Warningf("toolkit: sequence rejected sc=%d: %v", sc.ID, err)
		e.closeChannel(sc)
		return
	}

	plaintext, err := secchan.SecureInbound(sc, e.cfg.Profile, symHdr.TokenId, r.Remaining())
	if err != nil {
		nlog.Warningf("toolkit: MSG security check failed sc=%d: %v", sc.ID, err)
		e.closeChannel(sc)
		return
	}

	body, final, err := sc.Assembler.Feed(sc.ChannelID, seq, fr.header.Flag, plaintext)
	if err != nil {
		if err == chunk.ErrAborted {
			return // clean discard, no service-visible event (spec.md §9)
		}
		nlog.Warningf("toolkit: chunk reassembly failed sc=%d: %v", sc.ID, err)
		e.closeChannel(sc)
		return
	}
	if !final {
		return
	}

	prelude, err := e.cfg.ParsePrelude(body)
	if err != nil {
		nlog.Warningf("toolkit: request prelude parse failed sc=%d req=%d: %v", sc.ID, seq.RequestId, err)
		return
	}

	scID := sc.ID
	job := svcJob{
		msg: dispatch.InboundMessage{
			Kind:        dispatch.KindRequest,
			ChannelID:   scID,
			RequestID:   seq.RequestId,
			ServiceNode: prelude.ServiceNode,
			Body:        prelude.Body,
		},
		sessionID: prelude.SessionID,
		send:      func(out dispatch.OutboundMessage) { e.sendOutbound(sc, out) },
	}
	select {
	case e.msgCh <- job:
	case <-ctx.Done():
	}
}

func (e *Engine) handleClose(fr rawFrame, bySocket map[uint64]*secchan.SecureChannel) {
	sc, ok := bySocket[fr.socketID]
	if !ok {
		return
	}
	delete(bySocket, fr.socketID)
	e.closeChannel(sc)
}

func (e *Engine) closeChannel(sc *secchan.SecureChannel) {
	if sc.Close() {
		e.disp.DropChannel(sc.ID)
		e.onChannelLost(sc.ID)
	}
	e.dropSocketByID(sc.SocketID)
}

func (e *Engine) dropSocketByID(socketID uint64) {
	if sc, ok := e.sockets.get(socketID); ok {
		e.dropSocket(sc)
	}
}

// sendOutbound re-frames, signs/encrypts and transmits a Services-produced
// reply body on its originating channel (spec.md §4.F point 5 + §4.B
// "Encryption policy").
func (e *Engine) sendOutbound(sc *secchan.SecureChannel, out dispatch.OutboundMessage) {
	if out.Body == nil {
		return
	}
	secured, err := secchan.SecureOutbound(sc, e.cfg.Profile, out.Body)
	if err != nil {
		nlog.Warningf("toolkit: securing outbound reply failed sc=%d req=%d: %v", sc.ID, out.RequestID, err)
		return
	}
	outSeq, err := sc.NextOutboundSeq()
	if err != nil {
		nlog.Warningf("toolkit: outbound sequence exhausted sc=%d: %v", sc.ID, err)
		e.closeChannel(sc)
		return
	}
	buf := codec.EncodeHeader(nil, codec.Header{Type: codec.MsgSecure, Flag: codec.ChunkFinal})
	buf = codec.EncodeSymmetricHeader(buf, codec.SymmetricSecurityHeader{TokenId: sc.Current.TokenID})
	buf = codec.EncodeSequenceHeader(buf, codec.SequenceHeader{SequenceNumber: outSeq, RequestId: out.RequestID})
	buf = append(buf, secured...)
	buf = patchSize(buf, nil)
	e.sendRaw(sc.SocketID, buf)
}

// scheduleRenewal registers this channel's OPN2 trigger with the shared
// housekeeper wheel (spec.md §5 "Channel token renewal... share the same
// timer wheel"). Actual OPN2 initiation for the server role is peer
// (client)-driven per spec.md §4.B; the server side only tracks
// RenewalDue/ExpirePrevious so a host-side proxy can act on it.
func (e *Engine) scheduleRenewal(sc *secchan.SecureChannel) {
	if e.hk == nil {
		return
	}
	name := channelHKName(sc.ID)
	e.hk.Reg(name, e.cfg.TokenLifetime/4, func() time.Duration {
		if sc.IsClosed() {
			return 0 // unregister; channel is gone
		}
		now := time.Now()
		sc.ExpirePrevious(now)
		if sc.RenewalDue(now) {
			nlog.Infof("toolkit: sc=%d token renewal due", sc.ID)
		}
		return e.cfg.TokenLifetime / 4
	})
}

func channelHKName(id uint64) string {
	return "sc-renewal-" + strconv.FormatUint(id, 10)
}

// patchSize fills in the MessageSize field of a header-prefixed buffer
// once the full frame (header + any already-appended bytes + tail) is
// known, avoiding a second allocation pass.
func patchSize(buf []byte, tail []byte) []byte {
	buf = append(buf, tail...)
	total := uint32(len(buf))
	buf[4] = byte(total)
	buf[5] = byte(total >> 8)
	buf[6] = byte(total >> 16)
	buf[7] = byte(total >> 24)
	return buf
}

// --- Services goroutine (spec.md §5 "Services thread owns all SC,
// session, dispatcher and service state") ---

func (e *Engine) runServices(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-e.msgCh:
			e.disp.HandleServer(job.msg, job.sessionID, job.send)
		}
	}
}
