package main

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/prefix-proxy/config"
)

func TestMain(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Main Suite")
}

var _ = Describe("buildTable", func() {
	var cfg *config.Config

	BeforeEach(func() {
		cfg = &config.Config{
			Routes: []config.RouteConfig{
				{Prefix: "/api", Addr: "127.0.0.1:9001"},
			},
		}
	})

	Context("valid routes", func() {
		It("should build a table from a single route", func() {
			table, err := buildTable(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(table.Len()).To(Equal(1))
		})

		It("should build a table from multiple routes", func() {
			cfg.Routes = []config.RouteConfig{
				{Prefix: "/api/v2", Addr: "127.0.0.1:9002", StripPrefix: true},
				{Prefix: "/api", Addr: "127.0.0.1:9001"},
				{Prefix: "/", Addr: "127.0.0.1:9000"},
			}
			table, err := buildTable(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(table.Len()).To(Equal(3))

			entry, path, ok := table.Resolve("/api/v2/users")
			Expect(ok).To(BeTrue())
			Expect(entry.Addr).To(Equal("127.0.0.1:9002"))
			Expect(path).To(Equal("/users"))
		})
	})

	Context("invalid routes", func() {
		It("should reject a route without a port", func() {
			cfg.Routes[0].Addr = "127.0.0.1"
			_, err := buildTable(cfg)
			Expect(err).To(HaveOccurred())
		})

		It("should reject duplicate prefixes", func() {
			cfg.Routes = append(cfg.Routes, config.RouteConfig{Prefix: "/api", Addr: "127.0.0.1:9002"})
			_, err := buildTable(cfg)
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("parseDurations", func() {
	var cfg *config.Config

	BeforeEach(func() {
		cfg = &config.Config{
			Timeouts: config.TimeoutConfig{Connect: "5s", IdleRead: "30s", Total: "0s"},
			Pool:     config.PoolConfig{IdleLifetime: "90s"},
			Breaker:  config.BreakerConfig{ResetTimeout: "30s"},
		}
	})

	It("should parse all configured durations", func() {
		d, err := parseDurations(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.connect).To(Equal(5 * time.Second))
		Expect(d.idleRead).To(Equal(30 * time.Second))
		Expect(d.total).To(BeZero())
		Expect(d.idleLifetime).To(Equal(90 * time.Second))
		Expect(d.breakerReset).To(Equal(30 * time.Second))
	})

	It("should fail on a malformed duration", func() {
		cfg.Timeouts.Connect = "five seconds"
		_, err := parseDurations(cfg)
		Expect(err).To(HaveOccurred())
	})
})
