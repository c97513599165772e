package pipeline

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/prefix-proxy/internal/connector"
	"github.com/angeloszaimis/prefix-proxy/internal/proxyerr"
	"github.com/angeloszaimis/prefix-proxy/internal/routetable"
)

// Config holds the pipeline's timeout settings.
type Config struct {
	// IdleReadTimeout bounds how long the backend may go without
	// producing bytes while a response is expected. Zero disables it.
	IdleReadTimeout time.Duration

	// TotalTimeout bounds one whole request/response cycle. Zero
	// disables it.
	TotalTimeout time.Duration
}

// Pipeline runs proxied request/response cycles against the current route
// table snapshot. It is safe for concurrent use; every request gets its own
// ephemeral state and the pipeline itself holds nothing mutable.
type Pipeline struct {
	tables    *routetable.Holder
	connector *connector.Connector
	config    Config
	logger    *slog.Logger
}

func New(tables *routetable.Holder, conn *connector.Connector, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		tables:    tables,
		connector: conn,
		config:    cfg,
		logger:    logger,
	}
}

// Handle proxies one request. It writes either the backend's response or a
// synthetic error response to w, and reports the terminal outcome. When the
// returned result has Aborted set, the caller must terminate the client
// connection; the response was already partially written.
func (p *Pipeline) Handle(w http.ResponseWriter, r *http.Request) (res Result) {
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	entry, effectivePath, ok := p.tables.Load().Resolve(r.URL.Path)
	if !ok {
		res.Outcome = OutcomeNoRoute
		res.StatusCode = http.StatusNotFound
		http.Error(w, "no route for path", http.StatusNotFound)
		return res
	}
	res.Prefix = entry.Prefix
	res.Target = entry.Addr

	ctx := r.Context()
	if p.config.TotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TotalTimeout)
		defer cancel()
	}

	conn, err := p.connector.Acquire(ctx, entry.Addr)
	if err != nil {
		res.Outcome = OutcomeConnectFailed
		res.StatusCode = http.StatusBadGateway
		res.Err = err
		http.Error(w, "backend unavailable", http.StatusBadGateway)
		return res
	}

	// A client disconnect or total timeout forces the connection deadline
	// into the past, aborting any in-flight backend read or write. The
	// watcher is stopped and joined before Release so a released
	// connection can never be poked afterwards.
	healthy := false
	watchStop := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-ctx.Done():
			conn.SetDeadline(time.Unix(1, 0))
		case <-watchStop:
		}
	}()
	defer func() {
		close(watchStop)
		<-watchDone
		p.connector.Release(conn, healthy)
	}()

	body := &countingReader{rc: r.Body}
	outreq := outboundRequest(ctx, r, effectivePath, body)

	// Relay the request body upstream while reading the response as soon
	// as it starts arriving; the two directions stream independently.
	var g errgroup.Group
	g.Go(func() error {
		return outreq.Write(conn)
	})

	br := bufio.NewReader(&idleReader{ctx: ctx, conn: conn, timeout: p.config.IdleReadTimeout})
	resp, readErr := http.ReadResponse(br, outreq)
	if readErr != nil {
		// The body writer may still be blocked on a backend that stopped
		// reading; force the deadline so the wait below is bounded.
		conn.SetDeadline(time.Unix(1, 0))
		writeErr := g.Wait()
		res.Outcome = OutcomeStreamFailed
		res.StatusCode = http.StatusBadGateway
		res.Err = relayError(writeErr, readErr)
		res.BytesToBackend = body.n
		// Nothing has reached the client yet, so a clean error response
		// is still possible.
		http.Error(w, "backend error", http.StatusBadGateway)
		return res
	}
	defer resp.Body.Close()

	respHeader := resp.Header.Clone()
	stripHopByHop(respHeader)
	copyHeader(w.Header(), respHeader)
	w.Header().Set("X-Backend-Server", entry.Addr)
	w.WriteHeader(resp.StatusCode)
	res.StatusCode = resp.StatusCode

	flusher, _ := w.(http.Flusher)
	copied, copyErr := io.Copy(&flushWriter{w: w, flusher: flusher}, resp.Body)

	// The backend may legally respond in full without draining the request
	// body (a 413, say). Force the deadline so a stuck body write cannot
	// hold the request open; Release clears it again before pooling.
	conn.SetDeadline(time.Unix(1, 0))
	writeErr := g.Wait()

	res.BytesToClient = copied
	res.BytesToBackend = body.n

	switch {
	case copyErr != nil:
		res.Outcome = OutcomeStreamFailed
		res.Err = &proxyerr.StreamError{Direction: proxyerr.DirectionDownstream, Err: copyErr}
		res.Aborted = true
	default:
		// The response reached the client in full; an undelivered request
		// body only disqualifies the connection from reuse.
		res.Outcome = OutcomeCompleted
		// Reuse only a connection whose exchange ended with clean
		// framing: keep-alive response, body fully drained, nothing
		// unexpected left buffered.
		healthy = writeErr == nil && !resp.Close && br.Buffered() == 0 && ctx.Err() == nil
		if !healthy {
			p.logger.Debug("connection not reusable",
				slog.String("target", entry.Addr),
				slog.Bool("close", resp.Close),
				slog.Int("buffered", br.Buffered()),
				slog.Any("write_err", writeErr))
		}
	}

	return res
}

// outboundRequest clones the inbound request for the backend: the effective
// path replaces the original, hop-by-hop headers are dropped, and the
// client address is appended to X-Forwarded-For. Everything else passes
// through unmodified.
func outboundRequest(ctx context.Context, r *http.Request, effectivePath string, body io.ReadCloser) *http.Request {
	outreq := r.Clone(ctx)

	if effectivePath == "" {
		effectivePath = "/"
	}
	outreq.URL.Path = effectivePath
	outreq.URL.RawPath = ""
	outreq.URL.Scheme = "http"
	outreq.RequestURI = ""
	outreq.Host = r.Host
	outreq.Body = body
	outreq.Close = false

	stripHopByHop(outreq.Header)
	appendForwardedFor(outreq.Header, r.RemoteAddr)

	return outreq
}

func relayError(writeErr, readErr error) error {
	if writeErr != nil {
		return &proxyerr.StreamError{Direction: proxyerr.DirectionUpstream, Err: writeErr}
	}
	return &proxyerr.StreamError{Direction: proxyerr.DirectionDownstream, Err: readErr}
}

// idleReader bumps the read deadline before every read so a backend that
// stops producing bytes fails the request instead of hanging it.
type idleReader struct {
	ctx     context.Context
	conn    net.Conn
	timeout time.Duration
}

func (ir *idleReader) Read(p []byte) (int, error) {
	if err := ir.ctx.Err(); err != nil {
		return 0, err
	}
	if ir.timeout > 0 {
		if err := ir.conn.SetReadDeadline(time.Now().Add(ir.timeout)); err != nil {
			return 0, err
		}
	}
	return ir.conn.Read(p)
}

type countingReader struct {
	rc io.ReadCloser
	n  int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.rc.Read(p)
	cr.n += int64(n)
	return n, err
}

func (cr *countingReader) Close() error {
	return cr.rc.Close()
}

// flushWriter pushes response bytes to the client as they arrive instead of
// letting them sit in the server's write buffer.
type flushWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.flusher != nil && n > 0 {
		fw.flusher.Flush()
	}
	return n, err
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
