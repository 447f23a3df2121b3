package metrics_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/balancir/internal/metrics"
)

var _ = Describe("Collector", func() {
	var (
		collector *metrics.Collector
		log       *slog.Logger
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		ctx, cancel = context.WithCancel(context.Background())
		collector = metrics.NewCollector(100, log)
	})

	AfterEach(func() {
		cancel()
	})

	connectorMetrics := func() metrics.ConnectorMetrics {
		return collector.Snapshot("weighted-random").Connectors["http://localhost:8081"]
	}

	Describe("event processing", func() {
		BeforeEach(func() {
			collector.Start(ctx)
		})

		It("should process EventRequestDispatched", func() {
			collector.Emit(metrics.MetricEvent{
				Type:      metrics.EventRequestDispatched,
				Timestamp: time.Now(),
				Connector: "http://localhost:8081",
				Duration:  100 * time.Millisecond,
				Success:   true,
			})

			Eventually(func() int64 { return connectorMetrics().Dispatches }).Should(Equal(int64(1)))
			Expect(connectorMetrics().AvgResponse).To(Equal(100 * time.Millisecond))
		})

		It("should process demotion then revival", func() {
			collector.Emit(metrics.MetricEvent{Type: metrics.EventConnectorRegistered, Connector: "http://localhost:8081"})
			collector.Emit(metrics.MetricEvent{Type: metrics.EventConnectorDemoted, Connector: "http://localhost:8081"})

			Eventually(func() int64 { return connectorMetrics().Demotions }).Should(Equal(int64(1)))
			Expect(connectorMetrics().Active).To(BeFalse())

			collector.Emit(metrics.MetricEvent{Type: metrics.EventConnectorRevived, Connector: "http://localhost:8081"})

			Eventually(func() bool { return connectorMetrics().Active }).Should(BeTrue())
		})

		It("should process EventProbeCompleted", func() {
			collector.Emit(metrics.MetricEvent{Type: metrics.EventProbeCompleted, Connector: "http://localhost:8081", Success: true})
			collector.Emit(metrics.MetricEvent{Type: metrics.EventProbeCompleted, Connector: "http://localhost:8081"})

			Eventually(func() int64 { return connectorMetrics().Probes }).Should(Equal(int64(2)))
			Expect(connectorMetrics().ProbeSuccesses).To(Equal(int64(1)))
		})
	})

	It("should drain events on context cancellation", func() {
		for i := 0; i < 5; i++ {
			collector.Emit(metrics.MetricEvent{
				Type:      metrics.EventRequestDispatched,
				Connector: "http://localhost:8081",
				Success:   true,
			})
		}

		cancel()
		collector.Start(ctx)

		Eventually(func() int64 { return connectorMetrics().Dispatches }).Should(Equal(int64(5)))
	})

	It("should drop events instead of blocking when the buffer is full", func() {
		small := metrics.NewCollector(1, log)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for i := 0; i < 10; i++ {
				small.Emit(metrics.MetricEvent{Type: metrics.EventRequestDispatched, Connector: "x"})
			}
		}()

		Eventually(done).Should(BeClosed())
	})

	Describe("handlers", func() {
		BeforeEach(func() {
			collector.Start(ctx)
			collector.Emit(metrics.MetricEvent{
				Type:      metrics.EventRequestDispatched,
				Connector: "http://localhost:8081",
				Duration:  time.Millisecond,
				Success:   false,
			})
			Eventually(func() int64 { return connectorMetrics().Dispatches }).Should(Equal(int64(1)))
		})

		It("should serve the JSON snapshot", func() {
			w := httptest.NewRecorder()
			collector.Handler("weighted-random")(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(Equal("application/json"))
			Expect(w.Body.String()).To(ContainSubstring(`"strategy":"weighted-random"`))
		})

		It("should serve Prometheus metrics", func() {
			srv := httptest.NewServer(collector.PrometheusHandler())
			defer srv.Close()

			res, err := http.Get(srv.URL)
			Expect(err).NotTo(HaveOccurred())
			defer res.Body.Close()

			body, err := io.ReadAll(res.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`balancir_dispatches_total{connector="http://localhost:8081",outcome="failure"} 1`))
		})
	})
})
