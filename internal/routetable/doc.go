// Package routetable implements the immutable prefix-to-backend routing
// table. A table is built once from configuration, read concurrently by all
// in-flight requests without locking, and replaced wholesale on reload via
// an atomic swap.
package routetable
