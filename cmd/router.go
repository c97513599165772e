package main

import (
	"net/http"

	"github.com/angeloszaimis/prefix-proxy/internal/handler"
	"github.com/angeloszaimis/prefix-proxy/internal/metrics"
)

func setupRouter(proxyHandler *handler.ProxyHandler, metricsCollector *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", proxyHandler.ServeHTTP)
	mux.HandleFunc("/metrics", metricsCollector.Handler())

	return mux
}
