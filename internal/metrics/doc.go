// Package metrics collects per-request proxy outcomes through a buffered
// event channel so the hot path never blocks on bookkeeping. A single
// collector goroutine aggregates events into per-target counters, byte
// totals and duration percentiles, exposed as a JSON snapshot.
package metrics
