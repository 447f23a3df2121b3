package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/balancir/internal/connector"
	"github.com/angeloszaimis/balancir/internal/strategy"
)

var _ = Describe("WeightedRoundRobinStrategy", func() {
	var (
		strat      strategy.Strategy
		candidates []strategy.Candidate
	)

	BeforeEach(func() {
		strat = strategy.NewWeightedRoundRobinStrategy()
	})

	Context("with equal weights", func() {
		BeforeEach(func() {
			candidates = []strategy.Candidate{
				{Connector: newStub("http://localhost:8081"), Weight: 1},
				{Connector: newStub("http://localhost:8082"), Weight: 1},
				{Connector: newStub("http://localhost:8083"), Weight: 1},
			}
		})

		It("should distribute requests evenly", func() {
			counts := make(map[connector.Connector]int)

			for i := 0; i < 300; i++ {
				c := strat.Select(candidates)
				Expect(c).NotTo(BeNil())
				counts[c]++
			}

			Expect(counts).To(HaveLen(3))
			for _, count := range counts {
				Expect(count).To(Equal(100))
			}
		})
	})

	Context("with different weights", func() {
		BeforeEach(func() {
			candidates = []strategy.Candidate{
				{Connector: newStub("http://localhost:8081"), Weight: 5},
				{Connector: newStub("http://localhost:8082"), Weight: 3},
				{Connector: newStub("http://localhost:8083"), Weight: 1},
			}
		})

		It("should distribute requests proportionally to weights", func() {
			counts := make(map[connector.Connector]int)

			for i := 0; i < 900; i++ {
				counts[strat.Select(candidates)]++
			}

			Expect(counts[candidates[0].Connector]).To(Equal(500))
			Expect(counts[candidates[1].Connector]).To(Equal(300))
			Expect(counts[candidates[2].Connector]).To(Equal(100))
		})
	})

	Context("edge cases", func() {
		It("should return nil for no candidates", func() {
			Expect(strat.Select(nil)).To(BeNil())
		})

		It("should skip candidates with zero weight", func() {
			candidates = []strategy.Candidate{
				{Connector: newStub("http://localhost:8081"), Weight: 0},
				{Connector: newStub("http://localhost:8082"), Weight: 5},
			}

			for i := 0; i < 20; i++ {
				Expect(strat.Select(candidates)).To(Equal(candidates[1].Connector))
			}
		})

		It("should return nil when all weights are zero", func() {
			candidates = []strategy.Candidate{
				{Connector: newStub("http://localhost:8081"), Weight: 0},
			}
			Expect(strat.Select(candidates)).To(BeNil())
		})
	})

	Context("dynamic membership", func() {
		It("should only pick connectors still in the active set", func() {
			candidates = []strategy.Candidate{
				{Connector: newStub("http://localhost:8081"), Weight: 1},
				{Connector: newStub("http://localhost:8082"), Weight: 1},
				{Connector: newStub("http://localhost:8083"), Weight: 1},
			}
			for i := 0; i < 10; i++ {
				strat.Select(candidates)
			}

			remaining := candidates[:2]
			picked := make(map[connector.Connector]int)
			for i := 0; i < 100; i++ {
				c := strat.Select(remaining)
				picked[c]++
			}

			Expect(picked).To(HaveLen(2))
			Expect(picked).NotTo(HaveKey(candidates[2].Connector))
		})
	})

	Context("smooth weighted distribution", func() {
		It("should interleave the heavier connector", func() {
			candidates = []strategy.Candidate{
				{Connector: newStub("http://localhost:8081"), Weight: 5},
				{Connector: newStub("http://localhost:8082"), Weight: 1},
			}

			heavy := 0
			for i := 0; i < 18; i++ {
				if strat.Select(candidates) == candidates[0].Connector {
					heavy++
				}
			}

			Expect(heavy).To(Equal(15))
		})
	})
})
