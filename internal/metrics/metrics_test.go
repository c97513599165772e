package metrics_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/prefix-proxy/internal/metrics"
)

func TestMetrics(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Metrics Suite")
}

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("Snapshot", func() {
		It("should start empty", func() {
			snap := m.Snapshot()

			Expect(snap.TotalRequests).To(BeZero())
			Expect(snap.NoRoute).To(BeZero())
			Expect(snap.Targets).To(BeEmpty())
		})

		It("should aggregate per-target outcomes and byte counts", func() {
			m.IncrementRequests()
			m.IncrementRequests()
			m.RecordOutcome("10.0.0.1:9001", "completed", 10*time.Millisecond, 200, 100, 2000)
			m.RecordOutcome("10.0.0.1:9001", "stream_failed", 5*time.Millisecond, 200, 50, 0)
			m.RecordOutcome("10.0.0.2:9002", "completed", 3*time.Millisecond, 404, 0, 10)

			snap := m.Snapshot()

			Expect(snap.TotalRequests).To(Equal(int64(2)))

			first := snap.Targets["10.0.0.1:9001"]
			Expect(first.Requests).To(Equal(int64(2)))
			Expect(first.Outcomes["completed"]).To(Equal(int64(1)))
			Expect(first.Outcomes["stream_failed"]).To(Equal(int64(1)))
			Expect(first.BytesToBackend).To(Equal(int64(150)))
			Expect(first.BytesToClient).To(Equal(int64(2000)))
			Expect(first.StatusCodes[200]).To(Equal(int64(2)))

			second := snap.Targets["10.0.0.2:9002"]
			Expect(second.Requests).To(Equal(int64(1)))
			Expect(second.StatusCodes[404]).To(Equal(int64(1)))
		})

		It("should count unrouted requests separately", func() {
			m.RecordNoRoute()
			m.RecordNoRoute()

			snap := m.Snapshot()

			Expect(snap.NoRoute).To(Equal(int64(2)))
			Expect(snap.Targets).To(BeEmpty())
		})

		It("should skip status codes for requests that never got a response", func() {
			m.RecordOutcome("10.0.0.1:9001", "connect_failed", time.Millisecond, 0, 0, 0)

			snap := m.Snapshot()

			Expect(snap.Targets["10.0.0.1:9001"].StatusCodes).To(BeEmpty())
		})
	})

	Describe("duration percentiles", func() {
		It("should compute average and percentiles over recorded samples", func() {
			for i := 1; i <= 100; i++ {
				m.RecordOutcome("10.0.0.1:9001", "completed", time.Duration(i)*time.Millisecond, 200, 0, 0)
			}

			tm := m.Snapshot().Targets["10.0.0.1:9001"]

			Expect(tm.AvgDuration).To(Equal(50500 * time.Microsecond))
			Expect(tm.P50Duration).To(Equal(50 * time.Millisecond))
			Expect(tm.P95Duration).To(Equal(95 * time.Millisecond))
			Expect(tm.P99Duration).To(Equal(99 * time.Millisecond))
		})

		It("should handle a single sample", func() {
			m.RecordOutcome("10.0.0.1:9001", "completed", 7*time.Millisecond, 200, 0, 0)

			tm := m.Snapshot().Targets["10.0.0.1:9001"]

			Expect(tm.AvgDuration).To(Equal(7 * time.Millisecond))
			Expect(tm.P50Duration).To(Equal(7 * time.Millisecond))
			Expect(tm.P99Duration).To(Equal(7 * time.Millisecond))
		})
	})
})

var _ = Describe("Collector", func() {
	var (
		collector *metrics.Collector
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		log := slog.New(slog.NewTextHandler(os.Stdout, nil))
		collector = metrics.NewCollector(16, log)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		collector.Start(ctx)
	})

	AfterEach(func() {
		cancel()
	})

	It("should process received and completed events", func() {
		collector.EventChannel() <- metrics.MetricEvent{Type: metrics.EventRequestReceived, Timestamp: time.Now()}
		collector.EventChannel() <- metrics.MetricEvent{
			Type:          metrics.EventRequestCompleted,
			Timestamp:     time.Now(),
			Target:        "10.0.0.1:9001",
			Outcome:       "completed",
			Duration:      time.Millisecond,
			StatusCode:    200,
			BytesToClient: 42,
		}

		Eventually(func() int64 {
			return collector.Snapshot().Targets["10.0.0.1:9001"].Requests
		}, time.Second, 10*time.Millisecond).Should(Equal(int64(1)))

		snap := collector.Snapshot()
		Expect(snap.TotalRequests).To(Equal(int64(1)))
		Expect(snap.Targets["10.0.0.1:9001"].BytesToClient).To(Equal(int64(42)))
	})

	It("should treat a completed event without a target as unrouted", func() {
		collector.EventChannel() <- metrics.MetricEvent{
			Type:      metrics.EventRequestCompleted,
			Timestamp: time.Now(),
			Outcome:   "no_route",
		}

		Eventually(func() int64 {
			return collector.Snapshot().NoRoute
		}, time.Second, 10*time.Millisecond).Should(Equal(int64(1)))
	})

	It("should drain buffered events on shutdown", func() {
		for i := 0; i < 10; i++ {
			collector.EventChannel() <- metrics.MetricEvent{Type: metrics.EventRequestReceived, Timestamp: time.Now()}
		}
		cancel()

		Eventually(func() int64 {
			return collector.Snapshot().TotalRequests
		}, time.Second, 10*time.Millisecond).Should(Equal(int64(10)))
	})
})
