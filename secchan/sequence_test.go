package secchan_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/duskforge/opcuacore/secchan"
)

var _ = Describe("sequence monotonicity", func() {
	var sc *secchan.SecureChannel

	BeforeEach(func() {
		sc = secchan.NewSecureChannel(1, secchan.RoleClient, secchan.ModeNone, "none")
	})

	It("accepts strictly increasing inbound sequence numbers", func() {
		Expect(sc.AcceptInboundSeq(1)).To(Succeed())
		Expect(sc.AcceptInboundSeq(2)).To(Succeed())
		Expect(sc.AcceptInboundSeq(10)).To(Succeed())
	})

	It("closes the channel on a replayed sequence number", func() {
		Expect(sc.AcceptInboundSeq(5)).To(Succeed())
		err := sc.AcceptInboundSeq(5)
		Expect(err).To(HaveOccurred())
		Expect(sc.State).To(Equal(secchan.StateClosed))
	})

	It("closes the channel on an out-of-order (lower) sequence number", func() {
		Expect(sc.AcceptInboundSeq(9)).To(Succeed())
		err := sc.AcceptInboundSeq(3)
		Expect(err).To(HaveOccurred())
	})

	It("advances outbound sequence numbers by exactly one each call", func() {
		n1, err := sc.NextOutboundSeq()
		Expect(err).NotTo(HaveOccurred())
		n2, err := sc.NextOutboundSeq()
		Expect(err).NotTo(HaveOccurred())
		Expect(n2).To(Equal(n1 + 1))
	})
})

var _ = Describe("token renewal overlap", func() {
	It("accepts the previous token only within the overlap window", func() {
		sc := secchan.NewSecureChannel(2, secchan.RoleServer, secchan.ModeNone, "none")
		first := secchan.Token{TokenID: 1, CreatedAt: time.Now(), Lifetime: time.Hour}
		Expect(sc.OnOpenResponse(100, first, time.Hour)).To(Succeed())

		Expect(sc.BeginRenewal()).To(Succeed())
		second := secchan.Token{TokenID: 2, CreatedAt: time.Now(), Lifetime: 20 * time.Second}
		Expect(sc.CompleteRenewal(second)).To(Succeed())

		_, err := sc.TokenFor(1, time.Now())
		Expect(err).NotTo(HaveOccurred(), "previous token must still validate within the overlap window")

		_, err = sc.TokenFor(1, time.Now().Add(10*time.Second))
		Expect(err).To(HaveOccurred(), "previous token must be rejected once the overlap window elapses")

		tok, err := sc.TokenFor(2, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(tok.TokenID).To(Equal(uint32(2)))
	})
})

var _ = Describe("channel close idempotence", func() {
	It("reports closure exactly once", func() {
		sc := secchan.NewSecureChannel(3, secchan.RoleClient, secchan.ModeNone, "none")
		Expect(sc.Close()).To(BeTrue())
		Expect(sc.Close()).To(BeFalse())
	})
})
