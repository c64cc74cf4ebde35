// Package toolkit wires secchan, chanmgr, codec, dispatch and hk into the
// three-goroutine cooperative core of spec.md §5: a Sockets goroutine
// owning raw I/O, a SecureChannels goroutine owning framing and crypto, and
// a Services goroutine running the dispatcher (sessmgr and services are
// attached by the caller through dispatch). Inbound frames and assembled
// requests pass between the stages over Go channels; replies do not: each
// job's send callback frames and secures the reply on the Services
// goroutine, reading and advancing the originating SecureChannel and the
// socket table directly. The layout mirrors the teacher's transport.collector goroutine
// (transport/collect.go) generalized from one collector to the three
// cooperating stages this protocol needs.
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package toolkit

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/duskforge/opcuacore/cmn"
	"github.com/duskforge/opcuacore/cmn/nlog"
	"github.com/duskforge/opcuacore/codec"
)

// rawFrame is one decoded common-header frame read off a socket, still
// carrying its security-header-and-body payload undecoded (spec.md §4.A:
// the codec layer below only splits the fixed 8-byte header from the
// rest; everything past it is interpreted by SecureChannels).
type rawFrame struct {
	socketID uint64
	header   codec.Header
	body     []byte // bytes immediately following the common header
}

// socketConn is the Sockets goroutine's per-connection bookkeeping: one
// conn, its assigned socket id, and a dedicated outbound queue so writes
// for different sockets never block one another.
type socketConn struct {
	id     uint64
	conn   net.Conn
	outCh  chan []byte
	closed atomic.Bool
}

var socketIDSeq uint64

func nextSocketID() uint64 { return atomic.AddUint64(&socketIDSeq, 1) }

// readFrame reads exactly one common-header-delimited frame from conn.
func readFrame(conn net.Conn) (codec.Header, []byte, error) {
	hdr := make([]byte, codec.HeaderSize)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return codec.Header{}, nil, err
	}
	r := codec.NewReader(hdr)
	h, err := codec.DecodeHeader(r)
	if err != nil {
		return codec.Header{}, nil, err
	}
	if h.TotalSize < codec.HeaderSize {
		return codec.Header{}, nil, cmn.NewError(cmn.KindTransport, cmn.BadTcpMessageTooLarge, "message size %d smaller than header", h.TotalSize)
	}
	rest := make([]byte, h.TotalSize-codec.HeaderSize)
	if _, err := io.ReadFull(conn, rest); err != nil {
		return codec.Header{}, nil, err
	}
	return h, rest, nil
}

// socketTable is the Sockets goroutine's private registry; nothing else
// reads it (spec.md §5 "the sockets thread owns a SocketId -> buffer
// table; nothing else reads it").
type socketTable struct {
	mu   sync.Mutex
	byID map[uint64]*socketConn
}

func newSocketTable() *socketTable {
	return &socketTable{byID: make(map[uint64]*socketConn)}
}

func (t *socketTable) add(sc *socketConn) {
	t.mu.Lock()
	t.byID[sc.id] = sc
	t.mu.Unlock()
}

func (t *socketTable) get(id uint64) (*socketConn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sc, ok := t.byID[id]
	return sc, ok
}

func (t *socketTable) remove(id uint64) {
	t.mu.Lock()
	delete(t.byID, id)
	t.mu.Unlock()
}

// closeAll closes every still-registered connection, used on engine
// shutdown so in-flight reader/writer goroutines unblock promptly instead
// of lingering until their peer disconnects.
func (t *socketTable) closeAll() {
	t.mu.Lock()
	conns := make([]net.Conn, 0, len(t.byID))
	for _, sc := range t.byID {
		conns = append(conns, sc.conn)
	}
	t.mu.Unlock()
	for _, c := range conns {
		closeQuietly(c)
	}
}

func closeQuietly(conn net.Conn) {
	if err := conn.Close(); err != nil {
		nlog.Warningf("toolkit: close socket: %v", err)
	}
}
