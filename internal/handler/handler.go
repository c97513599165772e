package handler

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/angeloszaimis/prefix-proxy/internal/metrics"
	"github.com/angeloszaimis/prefix-proxy/internal/pipeline"
)

type ProxyHandler struct {
	logger           *slog.Logger
	pipeline         *pipeline.Pipeline
	metricsCollector *metrics.Collector
}

func NewProxyHandler(logger *slog.Logger, p *pipeline.Pipeline, collector *metrics.Collector) *ProxyHandler {
	return &ProxyHandler{
		logger:           logger,
		pipeline:         p,
		metricsCollector: collector,
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)

	h.logger.Info("Received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto),
		slog.String("host", r.Host))

	h.emitEvent(metrics.MetricEvent{
		Type:      metrics.EventRequestReceived,
		Timestamp: time.Now(),
	})

	result := h.pipeline.Handle(w, r)

	h.emitEvent(metrics.MetricEvent{
		Type:           metrics.EventRequestCompleted,
		Timestamp:      time.Now(),
		Target:         result.Target,
		Outcome:        string(result.Outcome),
		Duration:       result.Duration,
		StatusCode:     result.StatusCode,
		BytesToBackend: result.BytesToBackend,
		BytesToClient:  result.BytesToClient,
	})

	if result.Completed() {
		h.logger.Info("Request completed",
			slog.String("client", clientIP),
			slog.String("target", result.Target),
			slog.Int("status", result.StatusCode),
			slog.Int64("bytes_to_backend", result.BytesToBackend),
			slog.Int64("bytes_to_client", result.BytesToClient),
			slog.Duration("duration", result.Duration))
	} else {
		h.logger.Warn("Request failed",
			slog.String("client", clientIP),
			slog.String("target", result.Target),
			slog.String("outcome", string(result.Outcome)),
			slog.Any("err", result.Err),
			slog.Duration("duration", result.Duration))
	}

	// Response bytes already reached the client; the only honest way to
	// signal the failure is to cut the connection.
	if result.Aborted {
		panic(http.ErrAbortHandler)
	}
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (h *ProxyHandler) emitEvent(event metrics.MetricEvent) {
	if h.metricsCollector == nil {
		return
	}

	select {
	case h.metricsCollector.EventChannel() <- event:
	default:
	}
}
