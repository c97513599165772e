// Package handler implements the inbound HTTP handler for the proxy.
// It hands each request to the forwarding pipeline, logs the outcome, and
// emits metric events.
package handler
