// Package connector manages connections to backend targets. It dials with a
// bounded connect timeout, keeps an idle pool per target for reuse, and
// refuses to pool any connection implicated in a failure, since reusing a
// connection left mid-stream can corrupt the next request's framing.
package connector
