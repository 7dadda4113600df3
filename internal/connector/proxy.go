package connector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/syncutil"
	"github.com/c2h5oh/datasize"
)

// Dialer dials upstream connections.  It is modeled after [net.Dialer].
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (conn net.Conn, err error)
}

// ProxyHandlerConfig is the configuration structure for a *ProxyHandler.
type ProxyHandlerConfig struct {
	// Logger is used to log the operation of the handler.  It must not be nil.
	Logger *slog.Logger

	// Dialer is used to connect to the upstream.  If nil, a [net.Dialer] with
	// DialTimeout is used.
	Dialer Dialer

	// Upstream is the TCP address of the upstream server.  It must not be
	// empty.
	Upstream string

	// BufferSize is the size of the copy buffers.  It must be positive.
	BufferSize datasize.ByteSize

	// DialTimeout is the timeout for connecting to the upstream.
	DialTimeout time.Duration
}

// ProxyHandler is a [Handler] that forwards the data of every endpoint to an
// upstream server and back.
type ProxyHandler struct {
	logger   *slog.Logger
	dialer   Dialer
	bufPool  *syncutil.Pool[[]byte]
	upstream string
}

// NewProxyHandler returns a new properly initialized *ProxyHandler.  c must not
// be nil.
func NewProxyHandler(c *ProxyHandlerConfig) (h *ProxyHandler) {
	d := c.Dialer
	if d == nil {
		d = &net.Dialer{
			Timeout: c.DialTimeout,
		}
	}

	return &ProxyHandler{
		logger: c.Logger,
		dialer: d,
		// #nosec G115 -- The size is validated in the configuration.
		bufPool:  syncutil.NewSlicePool[byte](int(c.BufferSize.Bytes())),
		upstream: c.Upstream,
	}
}

// type check
var _ Handler = (*ProxyHandler)(nil)

// ServeConn implements the [Handler] interface for *ProxyHandler.
func (h *ProxyHandler) ServeConn(ctx context.Context, ep net.Conn) (err error) {
	defer func() { err = errors.Annotate(err, "proxying to %s: %w", h.upstream) }()

	up, err := h.dialer.DialContext(ctx, "tcp", h.upstream)
	if err != nil {
		return fmt.Errorf("dialing: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, up.Close()) }()

	h.logger.DebugContext(ctx, "proxying", "raddr", ep.RemoteAddr(), "upstream", up.RemoteAddr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.copy(up, ep)
	}()

	downErr := h.copy(ep, up)

	// The upstream is done, so stop waiting for a client that may never
	// half-close its side.
	err = ep.SetReadDeadline(time.Now())
	if err != nil {
		h.logger.DebugContext(ctx, "interrupting client reads", slogutil.KeyError, err)
	}

	upErr := <-errCh
	if errors.Is(upErr, os.ErrDeadlineExceeded) {
		upErr = nil
	}

	return errors.Join(upErr, downErr)
}

// copy copies data from src to dst until EOF and then closes the writing side
// of dst, if it supports that.
func (h *ProxyHandler) copy(dst, src net.Conn) (err error) {
	bufPtr := h.bufPool.Get()
	defer h.bufPool.Put(bufPtr)

	_, err = io.CopyBuffer(dst, src, *bufPtr)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	if cw, ok := dst.(interface{ CloseWrite() (err error) }); ok {
		_ = cw.CloseWrite()
	}

	return nil
}
