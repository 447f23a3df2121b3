package monitor_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/balancir/internal/monitor"
)

var _ = Describe("Window", func() {
	It("should evict the oldest outcomes first", func() {
		w := monitor.NewWindow(3)
		w.Record(true)
		w.Record(false)
		w.Record(false)
		w.Record(true)

		Expect(w.Outcomes()).To(Equal([]bool{false, false, true}))
		Expect(w.Successes()).To(Equal(1))
	})

	It("should never exceed its size", func() {
		w := monitor.NewWindow(10)
		for i := 0; i < 35; i++ {
			w.Record(i%3 == 0)
			Expect(w.Len()).To(BeNumerically("<=", 10))
		}
		Expect(w.Len()).To(Equal(10))
	})

	It("should trim when resized down", func() {
		w := monitor.NewWindow(5)
		for _, ok := range []bool{true, true, false, true, false} {
			w.Record(ok)
		}

		w.Resize(2)
		Expect(w.Outcomes()).To(Equal([]bool{true, false}))
		Expect(w.Successes()).To(Equal(1))
	})
})

var _ = Describe("Threshold", func() {
	DescribeTable("Validate",
		func(t monitor.Threshold, valid bool) {
			if valid {
				Expect(t.Validate()).To(Succeed())
			} else {
				Expect(t.Validate()).To(MatchError(monitor.ErrInvalidThreshold))
			}
		},
		Entry("10 of 10", monitor.Threshold{RequiredSuccesses: 10, WindowSize: 10}, true),
		Entry("7 of 10", monitor.Threshold{RequiredSuccesses: 7, WindowSize: 10}, true),
		Entry("more successes than window", monitor.Threshold{RequiredSuccesses: 11, WindowSize: 10}, false),
		Entry("zero successes", monitor.Threshold{RequiredSuccesses: 0, WindowSize: 10}, false),
		Entry("zero window", monitor.Threshold{RequiredSuccesses: 1, WindowSize: 0}, false),
		Entry("negative successes", monitor.Threshold{RequiredSuccesses: -1, WindowSize: 10}, false),
	)

	It("names the offending field", func() {
		err := monitor.Threshold{RequiredSuccesses: 11, WindowSize: 10}.Validate()
		Expect(err).To(MatchError(ContainSubstring("RequiredSuccesses: must not exceed window_size")))
	})

	It("is met on a partial window", func() {
		t := monitor.Threshold{RequiredSuccesses: 2, WindowSize: 10}
		w := monitor.NewWindow(t.WindowSize)
		w.Record(true)
		Expect(t.Met(w)).To(BeFalse())
		w.Record(true)
		Expect(t.Met(w)).To(BeTrue())
	})
})
