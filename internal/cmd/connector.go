package cmd

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/AdguardTeam/AcceptGuard/internal/connector"
	"github.com/AdguardTeam/AcceptGuard/internal/errcoll"
	"github.com/AdguardTeam/AcceptGuard/internal/sched"
	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/c2h5oh/datasize"
)

// connectorConfig is the configuration of a single TCP connector.
type connectorConfig struct {
	// TLS are the certificates of the connector.  If empty, the connections
	// are passed to the upstream without a handshake.
	TLS tlsConfigCerts `yaml:"tls"`

	// Name is the unique name of the connector.  It is used in the logs, the
	// metrics, and the governor configurations.
	Name string `yaml:"name"`

	// Address is the TCP address to listen on.
	Address string `yaml:"address"`

	// Upstream is the TCP address to which the connections are proxied.
	Upstream string `yaml:"upstream"`

	// HandshakeTimeout is the maximum duration of the TLS handshake.
	HandshakeTimeout timeutil.Duration `yaml:"handshake_timeout"`

	// DialTimeout is the timeout for connecting to the upstream.
	DialTimeout timeutil.Duration `yaml:"dial_timeout"`

	// BufferSize is the size of the buffers used for proxying.
	BufferSize datasize.ByteSize `yaml:"buffer_size"`

	// ReceiveBufferSize is the size of the socket receive buffer.  Zero means
	// the default of the operating system.
	ReceiveBufferSize datasize.ByteSize `yaml:"receive_buffer_size"`

	// ReusePort defines whether the SO_REUSEPORT option is set on the
	// listener.
	ReusePort bool `yaml:"reuse_port"`
}

// type check
var _ validate.Interface = (*connectorConfig)(nil)

// Validate implements the [validate.Interface] interface for *connectorConfig.
func (c *connectorConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotEmpty("name", c.Name),
		validate.NotNegative("handshake_timeout", c.HandshakeTimeout),
		validate.NotNegative("dial_timeout", c.DialTimeout),
		validate.Positive("buffer_size", c.BufferSize),
		validate.NoGreaterThan("buffer_size", c.BufferSize, math.MaxInt32),
		validate.NoGreaterThan("receive_buffer_size", c.ReceiveBufferSize, math.MaxInt32),
	}

	_, _, err = netutil.SplitHostPort(c.Address)
	if err != nil {
		errs = append(errs, fmt.Errorf("address: %w", err))
	}

	_, _, err = netutil.SplitHostPort(c.Upstream)
	if err != nil {
		errs = append(errs, fmt.Errorf("upstream: %w", err))
	}

	errs = validate.Append(errs, "tls", c.TLS)

	return errors.Join(errs...)
}

// toInternal returns a new TCP connector built from c.  c must be valid.
func (c *connectorConfig) toInternal(
	baseLogger *slog.Logger,
	errColl errcoll.Interface,
	mtrc connector.Metrics,
	s sched.Scheduler,
) (conn *connector.TCP, err error) {
	var hs connector.Handshaker
	tlsConf, err := c.TLS.toInternal()
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	} else if tlsConf != nil {
		hs = connector.NewTLSHandshaker(tlsConf)
	}

	prefix := "connector/" + c.Name

	return connector.NewTCP(&connector.TCPConfig{
		Logger:    baseLogger.With(slogutil.KeyPrefix, prefix),
		ErrColl:   errColl,
		Metrics:   mtrc,
		Scheduler: s,
		ListenConfig: connector.NewListenConfig(&connector.ControlConfig{
			// #nosec G115 -- The value is validated to fit into an int32.
			RcvBufSize: int(c.ReceiveBufferSize.Bytes()),
			ReusePort:  c.ReusePort,
		}),
		Handshaker: hs,
		Handler: connector.NewProxyHandler(&connector.ProxyHandlerConfig{
			Logger:      baseLogger.With(slogutil.KeyPrefix, prefix+"/proxy"),
			Upstream:    c.Upstream,
			BufferSize:  c.BufferSize,
			DialTimeout: time.Duration(c.DialTimeout),
		}),
		Name:             c.Name,
		Addr:             c.Address,
		HandshakeTimeout: time.Duration(c.HandshakeTimeout),
	}), nil
}

// connectorConfigs are the configurations of the connectors.  A valid instance
// of connectorConfigs has at least one item, no nil items, and unique names.
type connectorConfigs []*connectorConfig

// type check
var _ validate.Interface = connectorConfigs(nil)

// Validate implements the [validate.Interface] interface for connectorConfigs.
func (cs connectorConfigs) Validate() (err error) {
	if len(cs) == 0 {
		return errors.ErrEmptyValue
	}

	var errs []error
	names := container.NewMapSet[string]()
	for i, c := range cs {
		err = c.Validate()
		if err != nil {
			errs = append(errs, fmt.Errorf("at index %d: %w", i, err))

			continue
		}

		if names.Has(c.Name) {
			errs = append(errs, fmt.Errorf("at index %d: name: %w: %q", i, errors.ErrDuplicated, c.Name))
		}

		names.Add(c.Name)
	}

	return errors.Join(errs...)
}

// names returns the set of the names of the connectors.
func (cs connectorConfigs) names() (names *container.MapSet[string]) {
	names = container.NewMapSet[string]()
	for _, c := range cs {
		names.Add(c.Name)
	}

	return names
}

// tlsConfigCert is a single TLS certificate.
type tlsConfigCert struct {
	// Certificate is the path to the TLS certificate.
	Certificate string `yaml:"certificate"`

	// Key is the path to the TLS private key.
	Key string `yaml:"key"`
}

// tlsConfigCerts are TLS certificates.  A valid instance of tlsConfigCerts has
// no nil items.
type tlsConfigCerts []*tlsConfigCert

// type check
var _ validate.Interface = tlsConfigCerts(nil)

// Validate implements the [validate.Interface] interface for tlsConfigCerts.
func (certs tlsConfigCerts) Validate() (err error) {
	var errs []error
	for i, c := range certs {
		if c == nil {
			errs = append(errs, fmt.Errorf("at index %d: %w", i, errors.ErrNoValue))

			continue
		}

		err = errors.Join(
			validate.NotEmpty("certificate", c.Certificate),
			validate.NotEmpty("key", c.Key),
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("at index %d: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// toInternal converts certs to a TLS configuration.  certs must be valid.  If
// certs is empty, conf is nil.
func (certs tlsConfigCerts) toInternal() (conf *tls.Config, err error) {
	if len(certs) == 0 {
		return nil, nil
	}

	tlsCerts := make([]tls.Certificate, len(certs))
	for i, c := range certs {
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(c.Certificate, c.Key)
		if err != nil {
			return nil, fmt.Errorf("certificate at index %d: %w", i, err)
		}

		var leaf *x509.Certificate
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("invalid leaf, certificate at index %d: %w", i, err)
		}

		cert.Leaf = leaf
		tlsCerts[i] = cert
	}

	return &tls.Config{
		Certificates: tlsCerts,
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS13,
	}, nil
}
