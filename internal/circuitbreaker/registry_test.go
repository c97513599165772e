package circuitbreaker_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/prefix-proxy/internal/circuitbreaker"
)

var _ = Describe("Registry", func() {
	var registry *circuitbreaker.Registry

	BeforeEach(func() {
		registry = circuitbreaker.NewRegistry(5, 30*time.Second)
	})

	Describe("GetBreaker", func() {
		It("should create a new breaker for an unknown target", func() {
			cb := registry.GetBreaker("127.0.0.1:9001")
			Expect(cb).NotTo(BeNil())
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should return the same breaker for the same target", func() {
			cb1 := registry.GetBreaker("127.0.0.1:9001")
			cb2 := registry.GetBreaker("127.0.0.1:9001")
			Expect(cb1).To(BeIdenticalTo(cb2))
		})

		It("should return different breakers for different targets", func() {
			cb1 := registry.GetBreaker("127.0.0.1:9001")
			cb2 := registry.GetBreaker("127.0.0.1:9002")
			Expect(cb1).NotTo(BeIdenticalTo(cb2))
		})

		It("should be safe for concurrent use", func() {
			var wg sync.WaitGroup
			breakers := make([]*circuitbreaker.CircuitBreaker, 10)

			for i := range breakers {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					breakers[i] = registry.GetBreaker("127.0.0.1:9001")
				}(i)
			}
			wg.Wait()

			for _, cb := range breakers {
				Expect(cb).To(BeIdenticalTo(breakers[0]))
			}
		})
	})

	Describe("Stats", func() {
		It("should report the state of every known breaker", func() {
			registry.GetBreaker("127.0.0.1:9001")
			registry.GetBreaker("127.0.0.1:9002")

			stats := registry.Stats()
			Expect(stats).To(HaveLen(2))
			Expect(stats["127.0.0.1:9001"]).To(Equal(circuitbreaker.StateClosed))
		})
	})

	Describe("Reset", func() {
		It("should discard all breakers", func() {
			old := registry.GetBreaker("127.0.0.1:9001")
			registry.Reset()

			fresh := registry.GetBreaker("127.0.0.1:9001")
			Expect(fresh).NotTo(BeIdenticalTo(old))
		})
	})
})
