package connector

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/angeloszaimis/prefix-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/prefix-proxy/internal/proxyerr"
)

// ErrClosed is returned by Acquire after the connector has been shut down.
var ErrClosed = errors.New("connector closed")

// Config holds connector and pool settings.
type Config struct {
	// ConnectTimeout bounds DNS resolution plus TCP connect for one dial.
	ConnectTimeout time.Duration

	// PoolEnabled controls whether healthy connections are kept for reuse.
	PoolEnabled bool

	// MaxIdlePerTarget caps the idle pool per target address. Beyond the
	// cap the oldest idle connection is evicted first.
	MaxIdlePerTarget int

	// IdleLifetime is how long a connection may sit idle before it is
	// closed instead of reused.
	IdleLifetime time.Duration
}

// Conn is a live connection to one backend target. It is owned by exactly
// one in-flight request between Acquire and Release.
type Conn struct {
	net.Conn
	target    string
	idleSince time.Time
}

// Target returns the backend address this connection is dialed to.
func (c *Conn) Target() string {
	return c.target
}

// Connector dials backend targets and pools idle connections per target.
// The idle pool is the only mutable shared structure on the hot path; all
// access to it goes through the mutex.
type Connector struct {
	mutex    sync.Mutex
	idle     map[string][]*Conn
	closed   bool
	config   Config
	breakers *circuitbreaker.Registry
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a connector. breakers may be nil to disable circuit breaking.
func New(cfg Config, breakers *circuitbreaker.Registry, logger *slog.Logger) *Connector {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.MaxIdlePerTarget <= 0 {
		cfg.MaxIdlePerTarget = 8
	}
	if cfg.IdleLifetime == 0 {
		cfg.IdleLifetime = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connector{
		idle:     make(map[string][]*Conn),
		config:   cfg,
		breakers: breakers,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	if cfg.PoolEnabled {
		go c.sweepIdle()
	}

	return c
}

// Acquire returns a connection to target, reusing an idle pooled connection
// when one is available and dialing otherwise. The caller owns the
// connection exclusively until it calls Release.
func (c *Connector) Acquire(ctx context.Context, target string) (*Conn, error) {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil, &proxyerr.ConnectError{Target: target, Reason: proxyerr.ReasonPoolClosed, Err: ErrClosed}
	}

	for {
		conns := c.idle[target]
		if len(conns) == 0 {
			break
		}

		// LIFO: the most recently released connection is the most likely
		// to still be alive.
		conn := conns[len(conns)-1]
		c.idle[target] = conns[:len(conns)-1]
		c.mutex.Unlock()

		if c.usable(conn) {
			return conn, nil
		}
		conn.Conn.Close()

		c.mutex.Lock()
		if c.closed {
			c.mutex.Unlock()
			return nil, &proxyerr.ConnectError{Target: target, Reason: proxyerr.ReasonPoolClosed, Err: ErrClosed}
		}
	}
	c.mutex.Unlock()

	return c.dial(ctx, target)
}

// Release returns a connection after a request completes. Healthy
// connections go back to the idle pool when pooling is enabled; anything
// else is closed immediately and never reused.
func (c *Connector) Release(conn *Conn, healthy bool) {
	if conn == nil {
		return
	}

	if !healthy || !c.config.PoolEnabled {
		conn.Conn.Close()
		return
	}

	// Clear any deadline carried over from the request that just finished.
	if err := conn.Conn.SetDeadline(time.Time{}); err != nil {
		conn.Conn.Close()
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		conn.Conn.Close()
		return
	}

	conn.idleSince = time.Now()
	conns := append(c.idle[conn.target], conn)

	// Evict oldest beyond the per-target cap.
	for len(conns) > c.config.MaxIdlePerTarget {
		conns[0].Conn.Close()
		conns = conns[1:]
	}

	c.idle[conn.target] = conns
}

// IdleCount returns the number of idle pooled connections for target.
func (c *Connector) IdleCount(target string) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.idle[target])
}

// Close shuts the connector down, closing every idle connection. In-flight
// connections are closed as they are released.
func (c *Connector) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for _, conns := range c.idle {
		for _, conn := range conns {
			conn.Conn.Close()
		}
	}
	c.idle = make(map[string][]*Conn)

	return nil
}

func (c *Connector) dial(ctx context.Context, target string) (*Conn, error) {
	var cb *circuitbreaker.CircuitBreaker
	if c.breakers != nil {
		cb = c.breakers.GetBreaker(target)
		if !cb.Allow() {
			return nil, &proxyerr.ConnectError{Target: target, Reason: proxyerr.ReasonCircuitOpen}
		}
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		if cb != nil {
			cb.RecordFailure()
		}
		return nil, &proxyerr.ConnectError{Target: target, Reason: dialReason(err), Err: err}
	}

	if cb != nil {
		cb.RecordSuccess()
	}

	return &Conn{Conn: raw, target: target, idleSince: time.Now()}, nil
}

// usable checks an idle connection before handing it out: not past its idle
// lifetime, and not closed by the peer while pooled. The peer check is a
// zero-deadline read; a healthy idle connection has nothing to read and
// times out immediately.
func (c *Connector) usable(conn *Conn) bool {
	if c.config.IdleLifetime > 0 && time.Since(conn.idleSince) > c.config.IdleLifetime {
		return false
	}

	if err := conn.Conn.SetReadDeadline(time.Now()); err != nil {
		return false
	}

	var probe [1]byte
	_, err := conn.Conn.Read(probe[:])
	if resetErr := conn.Conn.SetReadDeadline(time.Time{}); resetErr != nil {
		return false
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// sweepIdle periodically closes idle connections past their lifetime.
func (c *Connector) sweepIdle() {
	interval := c.config.IdleLifetime / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mutex.Lock()
			if c.closed {
				c.mutex.Unlock()
				return
			}
			now := time.Now()
			for target, conns := range c.idle {
				kept := conns[:0]
				for _, conn := range conns {
					if now.Sub(conn.idleSince) > c.config.IdleLifetime {
						conn.Conn.Close()
					} else {
						kept = append(kept, conn)
					}
				}
				if len(kept) == 0 {
					delete(c.idle, target)
				} else {
					c.idle[target] = kept
				}
			}
			c.mutex.Unlock()
		}
	}
}

func dialReason(err error) string {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return proxyerr.ReasonTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return proxyerr.ReasonResolve
	}
	return proxyerr.ReasonRefused
}
