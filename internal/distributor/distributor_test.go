package distributor_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/balancir/internal/connector"
	"github.com/angeloszaimis/balancir/internal/distributor"
	"github.com/angeloszaimis/balancir/internal/strategy"
)

const somePath = "/some/path"

var _ = Describe("Distributor", func() {
	var (
		dist    *distributor.Distributor
		tracker *recordingTracker
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		tracker = &recordingTracker{}
		dist = distributor.New(strategy.NewWeightedRandomStrategy(), slog.New(slog.NewTextHandler(io.Discard, nil)))
		dist.SetTracker(tracker)
	})

	Describe("AddConnector", func() {
		It("should reject a nil connector", func() {
			err := dist.AddConnector(nil, 10)
			Expect(err).To(MatchError(connector.ErrInvalidConnector))
		})

		It("should reject non-positive weights", func() {
			c := newFake("http://first-cluster.mycompany.com", true)
			Expect(dist.AddConnector(c, 0)).To(MatchError(distributor.ErrInvalidWeight))
			Expect(dist.AddConnector(c, -3)).To(MatchError(distributor.ErrInvalidWeight))
			Expect(dist.Active()).To(BeEmpty())
		})

		It("should overwrite the weight on re-registration", func() {
			c := newFake("http://first-cluster.mycompany.com", true)
			Expect(dist.AddConnector(c, 10)).To(Succeed())
			Expect(dist.AddConnector(c, 30)).To(Succeed())
			Expect(dist.Active()).To(Equal(map[string]int{"http://first-cluster.mycompany.com": 30}))
		})
	})

	Context("with a single connector", func() {
		var c *fakeConnector

		BeforeEach(func() {
			c = newFake("http://first-cluster.mycompany.com", true)
			Expect(dist.AddConnector(c, 100)).To(Succeed())
		})

		It("passes on calls to Get", func() {
			res, err := dist.Get(ctx, somePath)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Successful()).To(BeTrue())
			Expect(c.Paths()).To(Equal([]string{somePath}))
		})
	})

	Context("with no active connectors", func() {
		It("fails with ErrNoConnectorsAvailable", func() {
			_, err := dist.Get(ctx, somePath)
			Expect(err).To(MatchError(distributor.ErrNoConnectorsAvailable))
		})

		It("fails once the only connector has been demoted", func() {
			c := newFake("http://first-cluster.mycompany.com", false)
			Expect(dist.AddConnector(c, 50)).To(Succeed())

			_, err := dist.Get(ctx, somePath)
			Expect(err).NotTo(HaveOccurred())

			_, err = dist.Get(ctx, somePath)
			Expect(err).To(MatchError(distributor.ErrNoConnectorsAvailable))
			Expect(c.Calls()).To(Equal(1))
		})
	})

	Context("with two well-behaved connectors", func() {
		var a, b *fakeConnector

		BeforeEach(func() {
			a = newFake("http://first-cluster.mycompany.com", true)
			b = newFake("http://second-cluster.mycompany.com", true)
			Expect(dist.AddConnector(a, 50)).To(Succeed())
			Expect(dist.AddConnector(b, 50)).To(Succeed())
		})

		It("distributes calls between them", func() {
			for i := 0; i < 4000; i++ {
				_, err := dist.Get(ctx, somePath)
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(a.Calls()).To(BeNumerically("~", 2000, 200))
			Expect(b.Calls()).To(BeNumerically("~", 2000, 200))
		})

		It("follows uneven weights", func() {
			Expect(dist.AddConnector(b, 150)).To(Succeed())

			for i := 0; i < 4000; i++ {
				_, err := dist.Get(ctx, somePath)
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(a.Calls()).To(BeNumerically("~", 1000, 150))
			Expect(b.Calls()).To(BeNumerically("~", 3000, 150))
		})
	})

	Context("with two connectors, one well-behaved, one not", func() {
		var good, bad *fakeConnector

		BeforeEach(func() {
			good = newFake("http://first-cluster.mycompany.com", true)
			bad = newFake("http://second-cluster.mycompany.com", false)
			Expect(dist.AddConnector(good, 50)).To(Succeed())
			Expect(dist.AddConnector(bad, 50)).To(Succeed())
		})

		It("disables the failing connector on its first failure", func() {
			for bad.Calls() == 0 {
				_, err := dist.Get(ctx, somePath)
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(dist.IsActive(bad)).To(BeFalse())
			Expect(dist.IsFailed(bad)).To(BeTrue())
			Expect(dist.Failed()).To(Equal([]string{"http://second-cluster.mycompany.com"}))
			Expect(tracker.Tracked()).To(ConsistOf(bad))
		})

		It("returns the unsuccessful response to the caller", func() {
			var last connector.Response
			for bad.Calls() == 0 {
				res, _ := dist.Get(ctx, somePath)
				last = res
			}
			Expect(last.Successful()).To(BeFalse())
		})

		It("distributes all calls to the good connector afterwards", func() {
			for bad.Calls() == 0 {
				_, _ = dist.Get(ctx, somePath)
			}
			before := good.Calls()

			for i := 0; i < 20; i++ {
				_, err := dist.Get(ctx, somePath)
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(good.Calls()).To(Equal(before + 20))
			Expect(bad.Calls()).To(Equal(1))
		})

		It("re-enables the failed connector through AddConnector", func() {
			for bad.Calls() == 0 {
				_, _ = dist.Get(ctx, somePath)
			}

			Expect(dist.AddConnector(bad, 50)).To(Succeed())

			Expect(dist.IsActive(bad)).To(BeTrue())
			Expect(dist.IsFailed(bad)).To(BeFalse())
			Expect(tracker.Untracked()).To(ContainElement(bad))
		})
	})

	Context("when the connector returns an error", func() {
		It("propagates the error and demotes the connector", func() {
			c := newFake("http://first-cluster.mycompany.com", true)
			c.refuse = true
			Expect(dist.AddConnector(c, 50)).To(Succeed())

			_, err := dist.Get(ctx, somePath)
			Expect(err).To(MatchError(errConnRefused))
			Expect(dist.IsFailed(c)).To(BeTrue())
			Expect(tracker.Tracked()).To(ConsistOf(c))
		})

		It("demotes a connector that hangs past the caller's deadline", func() {
			c := &hungConnector{id: "http://first-cluster.mycompany.com"}
			Expect(dist.AddConnector(c, 50)).To(Succeed())

			short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()

			_, err := dist.Get(short, somePath)
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(dist.IsFailed(c)).To(BeTrue())
			Expect(tracker.Tracked()).To(ConsistOf(c))

			_, err = dist.Get(ctx, somePath)
			Expect(err).To(MatchError(distributor.ErrNoConnectorsAvailable))
			Expect(c.Calls()).To(Equal(1))
		})

		It("demotes even when the caller cancelled", func() {
			c := newFake("http://first-cluster.mycompany.com", true)
			c.refuse = true
			Expect(dist.AddConnector(c, 50)).To(Succeed())

			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			_, err := dist.Get(cancelled, somePath)
			Expect(err).To(HaveOccurred())
			Expect(dist.IsFailed(c)).To(BeTrue())
			Expect(tracker.Tracked()).To(ConsistOf(c))
		})
	})

	Describe("State", func() {
		It("reports an active connector as untracked", func() {
			c := newFake("http://first-cluster.mycompany.com", false)
			Expect(dist.AddConnector(c, 50)).To(Succeed())

			active, tracked := dist.State(c)
			Expect(active).To(BeTrue())
			Expect(tracked).To(BeFalse())
		})

		It("reports a demoted connector as tracked", func() {
			c := newFake("http://first-cluster.mycompany.com", false)
			Expect(dist.AddConnector(c, 50)).To(Succeed())
			_, _ = dist.Get(ctx, somePath)

			active, tracked := dist.State(c)
			Expect(active).To(BeFalse())
			Expect(tracked).To(BeTrue())
		})
	})

	Context("concurrent dispatch", func() {
		It("demotes a failing connector exactly once", func() {
			bad := newFake("http://second-cluster.mycompany.com", false)
			Expect(dist.AddConnector(bad, 50)).To(Succeed())

			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = dist.Get(ctx, somePath)
				}()
			}
			wg.Wait()

			Expect(tracker.Tracked()).To(HaveLen(1))
			Expect(dist.Active()).To(BeEmpty())
			Expect(dist.Failed()).To(HaveLen(1))
		})
	})
})
