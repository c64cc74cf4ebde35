package toolkit_test

import (
	"context"
	"io"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/duskforge/opcuacore/codec"
	"github.com/duskforge/opcuacore/dispatch"
	"github.com/duskforge/opcuacore/secchan"
	"github.com/duskforge/opcuacore/sessmgr"
	"github.com/duskforge/opcuacore/toolkit"
)

// parsePrelude treats the reassembled MSG body as serviceNode(u32) ||
// sessionID(u64) || rest, a stand-in for the host's real RequestHeader/
// TypeId decode (toolkit.PreludeParser is a host-supplied hook; this test
// only needs something deterministic).
func parsePrelude(body []byte) (toolkit.RequestPrelude, error) {
	r := codec.NewReader(body)
	node, err := r.GetUint32()
	if err != nil {
		return toolkit.RequestPrelude{}, err
	}
	sid, err := r.GetUint64()
	if err != nil {
		return toolkit.RequestPrelude{}, err
	}
	return toolkit.RequestPrelude{ServiceNode: node, SessionID: sid, Body: r.Remaining()}, nil
}

func readExact(conn net.Conn, n int) []byte {
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	return buf
}

func readFrame(conn net.Conn) (codec.Header, []byte) {
	hdr := readExact(conn, codec.HeaderSize)
	r := codec.NewReader(hdr)
	h, err := codec.DecodeHeader(r)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	body := readExact(conn, int(h.TotalSize)-codec.HeaderSize)
	return h, body
}

var _ = Describe("Engine", func() {
	var (
		cancel context.CancelFunc
		addr   string
		done   chan struct{}
	)

	BeforeEach(func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addr = ln.Addr().String()
		Expect(ln.Close()).To(Succeed())

		classify := func(serviceNodeID uint32) dispatch.ServiceClass { return dispatch.ClassDiscovery }
		sessions := sessmgr.New("toolkit-test-sessions", nil, time.Minute)
		disp := dispatch.New(classify, sessions, sessions)
		disp.SetHandlers(func(cc *dispatch.CallContext, body []byte) ([]byte, error) {
			out := append([]byte{}, body...)
			out = append(out, "-pong"...)
			return out, nil
		}, nil, nil)

		cfg := toolkit.Config{
			ListenAddr:    addr,
			Profile:       secchan.NewBasic256Sha256(),
			MaxChannels:   4,
			MaxChunks:     16,
			MaxBodySize:   64 * 1024,
			TokenLifetime: time.Minute,
			ParsePrelude:  parsePrelude,
		}
		engine := toolkit.New(cfg, disp, nil)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan struct{})
		go func() {
			defer close(done)
			_ = engine.Run(ctx)
		}()

		// give the listener a moment to come up.
		Eventually(func() error {
			c, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
			if err == nil {
				c.Close()
			}
			return err
		}, time.Second, 10*time.Millisecond).Should(Succeed())
	})

	AfterEach(func() {
		cancel()
		Eventually(done, time.Second).Should(BeClosed())
	})

	It("completes HEL/ACK then OPN/MSG round trip under SecurityMode None", func() {
		conn, err := net.Dial("tcp", addr)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		// HEL -> ACK
		hel := codec.EncodeHeader(nil, codec.Header{Type: codec.MsgHello, Flag: codec.ChunkFinal})
		hel = codec.EncodeHello(hel, codec.HelloBody{ProtocolVersion: 0, ReceiveBufferSize: 64 * 1024, SendBufferSize: 64 * 1024, MaxMessageSize: 64 * 1024, MaxChunkCount: 16, EndpointURL: "opc.tcp://localhost"})
		patch(hel)
		_, err = conn.Write(hel)
		Expect(err).NotTo(HaveOccurred())

		ackHdr, ackBody := readFrame(conn)
		Expect(ackHdr.Type).To(Equal(codec.MsgAck))
		_, err = codec.DecodeAck(codec.NewReader(ackBody))
		Expect(err).NotTo(HaveOccurred())

		// OPN -> OPN response
		clientNonce := make([]byte, 32)
		for i := range clientNonce {
			clientNonce[i] = byte(i + 1)
		}
		opn := codec.EncodeHeader(nil, codec.Header{Type: codec.MsgOpen, Flag: codec.ChunkFinal})
		opn = codec.EncodeAsymmetricHeader(opn, codec.AsymmetricSecurityHeader{SecurityPolicyURI: secchan.NewBasic256Sha256().URI()})
		opn = codec.EncodeSequenceHeader(opn, codec.SequenceHeader{SequenceNumber: 1, RequestId: 1})
		opn = codec.PutUint32(opn, uint32(secchan.ModeNone)+1) // wire enum is 1-based
		opn = codec.PutByteString(opn, clientNonce)
		opn = codec.PutUint32(opn, 60000) // requested lifetime, ms
		patch(opn)
		_, err = conn.Write(opn)
		Expect(err).NotTo(HaveOccurred())

		opnRespHdr, opnRespBody := readFrame(conn)
		Expect(opnRespHdr.Type).To(Equal(codec.MsgOpen))
		r := codec.NewReader(opnRespBody)
		_, err = codec.DecodeAsymmetricHeader(r)
		Expect(err).NotTo(HaveOccurred())
		seqHdr, err := codec.DecodeSequenceHeader(r)
		Expect(err).NotTo(HaveOccurred())
		Expect(seqHdr.RequestId).To(Equal(uint32(1)))
		_, err = r.GetUint32() // ChannelID, unused by the client in this test
		Expect(err).NotTo(HaveOccurred())
		tokenID, err := r.GetUint32()
		Expect(err).NotTo(HaveOccurred())
		Expect(tokenID).To(Equal(uint32(1)))

		// MSG carrying a prelude-framed request body; server echoes "<body>-pong".
		reqBody := codec.PutUint32(nil, 0)    // serviceNode (ClassDiscovery)
		reqBody = codec.PutUint64(reqBody, 0) // claimed sessionID, unused for discovery
		reqBody = append(reqBody, "ping"...)

		msg := codec.EncodeHeader(nil, codec.Header{Type: codec.MsgSecure, Flag: codec.ChunkFinal})
		msg = codec.EncodeSymmetricHeader(msg, codec.SymmetricSecurityHeader{TokenId: tokenID})
		msg = codec.EncodeSequenceHeader(msg, codec.SequenceHeader{SequenceNumber: 2, RequestId: 7})
		msg = append(msg, reqBody...)
		patch(msg)
		_, err = conn.Write(msg)
		Expect(err).NotTo(HaveOccurred())

		replyHdr, replyBody := readFrame(conn)
		Expect(replyHdr.Type).To(Equal(codec.MsgSecure))
		rr := codec.NewReader(replyBody)
		_, err = codec.DecodeSymmetricHeader(rr)
		Expect(err).NotTo(HaveOccurred())
		replySeq, err := codec.DecodeSequenceHeader(rr)
		Expect(err).NotTo(HaveOccurred())
		Expect(replySeq.RequestId).To(Equal(uint32(7)))
		Expect(string(rr.Remaining())).To(Equal("ping-pong"))
	})
})

// patch fills in the already-appended buffer's MessageSize in place,
// mirroring toolkit's own patchSize but over a buffer with no further
// bytes to append (the test always builds the whole frame before sending).
func patch(buf []byte) {
	total := uint32(len(buf))
	buf[4] = byte(total)
	buf[5] = byte(total >> 8)
	buf[6] = byte(total >> 16)
	buf[7] = byte(total >> 24)
}
