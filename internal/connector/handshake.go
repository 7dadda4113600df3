package connector

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/AdguardTeam/golibs/errors"
)

// Handshaker performs the protocol handshake of an accepted connection.
type Handshaker interface {
	// Handshake performs the handshake on conn and returns the endpoint that
	// is passed to the handler.  ep may be conn itself.
	Handshake(ctx context.Context, conn net.Conn) (ep net.Conn, err error)
}

// TLSHandshaker is a [Handshaker] that performs a TLS server handshake.
type TLSHandshaker struct {
	conf *tls.Config
}

// NewTLSHandshaker returns a new *TLSHandshaker.  conf must not be nil and
// must contain at least one certificate.
func NewTLSHandshaker(conf *tls.Config) (h *TLSHandshaker) {
	return &TLSHandshaker{
		conf: conf,
	}
}

// type check
var _ Handshaker = (*TLSHandshaker)(nil)

// Handshake implements the [Handshaker] interface for *TLSHandshaker.
func (h *TLSHandshaker) Handshake(ctx context.Context, conn net.Conn) (ep net.Conn, err error) {
	tlsConn := tls.Server(conn, h.conf)
	err = tlsConn.HandshakeContext(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "tls handshake: %w")
	}

	return tlsConn, nil
}

// HandshakerFunc is a function that implements the [Handshaker] interface.
type HandshakerFunc func(ctx context.Context, conn net.Conn) (ep net.Conn, err error)

// type check
var _ Handshaker = HandshakerFunc(nil)

// Handshake implements the [Handshaker] interface for HandshakerFunc.
func (f HandshakerFunc) Handshake(ctx context.Context, conn net.Conn) (ep net.Conn, err error) {
	return f(ctx, conn)
}
