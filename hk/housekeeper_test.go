package hk_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/duskforge/opcuacore/hk"
)

var _ = Describe("Housekeeper", func() {
	It("fires a one-shot job once", func() {
		fired := make(chan struct{}, 1)
		hk.DefaultHK.Reg("one-shot", 15*time.Millisecond, func() time.Duration {
			fired <- struct{}{}
			return 0
		})
		Eventually(fired, time.Second).Should(Receive())
		Consistently(fired, 100*time.Millisecond).ShouldNot(Receive())
	})

	It("rearms a recurring job until it self-cancels", func() {
		count := make(chan int, 8)
		n := 0
		hk.DefaultHK.Reg("recurring", 10*time.Millisecond, func() time.Duration {
			n++
			count <- n
			if n >= 3 {
				return 0
			}
			return 10 * time.Millisecond
		})
		var last int
		for i := 0; i < 3; i++ {
			Eventually(count, time.Second).Should(Receive(&last))
		}
		Expect(last).To(Equal(3))
	})

	It("drops an unregistered job", func() {
		fired := make(chan struct{}, 1)
		hk.DefaultHK.Reg("cancel-me", 50*time.Millisecond, func() time.Duration {
			fired <- struct{}{}
			return 0
		})
		hk.DefaultHK.Unreg("cancel-me")
		Consistently(fired, 150*time.Millisecond).ShouldNot(Receive())
	})
})
