package handler_test

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/prefix-proxy/internal/connector"
	"github.com/angeloszaimis/prefix-proxy/internal/handler"
	"github.com/angeloszaimis/prefix-proxy/internal/metrics"
	"github.com/angeloszaimis/prefix-proxy/internal/pipeline"
	"github.com/angeloszaimis/prefix-proxy/internal/routetable"
)

func TestHandler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Handler Suite")
}

var _ = Describe("ProxyHandler", func() {
	var (
		log       *slog.Logger
		backend   *httptest.Server
		conn      *connector.Connector
		collector *metrics.Collector
		h         *handler.ProxyHandler
		cancel    context.CancelFunc
	)

	backendAddr := func() string {
		u, err := url.Parse(backend.URL)
		Expect(err).NotTo(HaveOccurred())
		return u.Host
	}

	newHandler := func(addr string) *handler.ProxyHandler {
		table, err := routetable.BuildEntries([]routetable.Entry{
			{Prefix: "/svc", Addr: addr, StripPrefix: true},
		})
		Expect(err).NotTo(HaveOccurred())

		conn = connector.New(connector.Config{
			ConnectTimeout: 2 * time.Second,
			PoolEnabled:    true,
		}, nil, log)

		fwd := pipeline.New(routetable.NewHolder(table), conn, pipeline.Config{}, log)
		return handler.NewProxyHandler(log, fwd, collector)
	}

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(os.Stdout, nil))

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		collector = metrics.NewCollector(64, log)
		collector.Start(ctx)

		backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("backend"))
		}))

		h = newHandler(backendAddr())
	})

	AfterEach(func() {
		cancel()
		conn.Close()
		backend.Close()
	})

	Describe("ServeHTTP", func() {
		It("should proxy a matching request to the backend", func() {
			req := httptest.NewRequest(http.MethodGet, "/svc/items", nil)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(Equal("backend"))
		})

		It("should answer 404 when no route matches", func() {
			req := httptest.NewRequest(http.MethodGet, "/other", nil)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("should record request outcomes in the metrics snapshot", func() {
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/svc/a", nil))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

			Eventually(func() int64 {
				return collector.Snapshot().TotalRequests
			}, time.Second, 10*time.Millisecond).Should(Equal(int64(2)))

			Eventually(func() int64 {
				return collector.Snapshot().NoRoute
			}, time.Second, 10*time.Millisecond).Should(Equal(int64(1)))

			snap := collector.Snapshot()
			target := snap.Targets[backendAddr()]
			Expect(target.Requests).To(Equal(int64(1)))
			Expect(target.Outcomes[string(pipeline.OutcomeCompleted)]).To(Equal(int64(1)))
			Expect(target.BytesToClient).To(Equal(int64(len("backend"))))
		})
	})

	Describe("mid-stream failures", func() {
		It("should abort the client connection", func() {
			listener, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			defer listener.Close()

			go func() {
				c, err := listener.Accept()
				if err != nil {
					return
				}
				buf := make([]byte, 4096)
				c.Read(buf)
				fmt.Fprintf(c, "HTTP/1.1 200 OK\r\nContent-Length: 50\r\n\r\ntruncated")
				c.Close()
			}()

			conn.Close()
			h = newHandler(listener.Addr().String())

			req := httptest.NewRequest(http.MethodGet, "/svc/items", nil)
			w := httptest.NewRecorder()

			Expect(func() {
				h.ServeHTTP(w, req)
			}).To(PanicWith(http.ErrAbortHandler))
		})
	})
})
