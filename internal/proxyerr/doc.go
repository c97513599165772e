// Package proxyerr defines the closed set of failure types the proxy can
// produce: configuration errors at build time, connect errors before any
// bytes were exchanged with a backend, and stream errors while relaying.
package proxyerr
