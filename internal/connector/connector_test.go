package connector_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/AdguardTeam/AcceptGuard/internal/agtest"
	"github.com/AdguardTeam/AcceptGuard/internal/connector"
	"github.com/AdguardTeam/AcceptGuard/internal/sched"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/require"
)

// testConnName is the common connector name for tests.
const testConnName = "test_connector"

// testLocalAddr is the common listening address for tests.
const testLocalAddr = "127.0.0.1:0"

// event is a recorded call of an [connector.AcceptListener] method.
type event struct {
	conn net.Conn
	err  error
	kind string
}

// Event kinds.
const (
	kindAccepting    = "accepting"
	kindAccepted     = "accepted"
	kindAcceptFailed = "accept_failed"
)

// newRecordingListener returns an *agtest.AcceptListener that sends every call
// into the returned channel.
func newRecordingListener() (l *agtest.AcceptListener, events chan event) {
	events = make(chan event, 16)
	l = &agtest.AcceptListener{
		OnOnAccepting: func(_ context.Context, conn net.Conn) {
			events <- event{conn: conn, kind: kindAccepting}
		},
		OnOnAccepted: func(_ context.Context, conn, _ net.Conn) {
			events <- event{conn: conn, kind: kindAccepted}
		},
		OnOnAcceptFailed: func(_ context.Context, conn net.Conn, err error) {
			events <- event{conn: conn, err: err, kind: kindAcceptFailed}
		},
	}

	return l, events
}

// newTestTCP returns a started *connector.TCP for tests.  c is modified to
// contain the defaults for unset fields.
func newTestTCP(tb testing.TB, c *connector.TCPConfig) (conn *connector.TCP) {
	tb.Helper()

	if c.Logger == nil {
		c.Logger = slogutil.NewDiscardLogger()
	}

	if c.ErrColl == nil {
		c.ErrColl = agtest.NewErrorCollector()
	}

	if c.Scheduler == nil {
		c.Scheduler = &agtest.Scheduler{
			OnSchedule: func(
				_ context.Context,
				_ func(ctx context.Context),
				_ time.Duration,
			) (t sched.Task) {
				panic(testutil.UnexpectedCall())
			},
		}
	}

	if c.Handler == nil {
		c.Handler = connector.HandlerFunc(func(_ context.Context, _ net.Conn) (err error) {
			return nil
		})
	}

	c.Name = testConnName
	c.Addr = testLocalAddr

	conn = connector.NewTCP(c)

	ctx := testutil.ContextWithTimeout(tb, agtest.Timeout)
	require.NoError(tb, conn.Start(ctx))
	testutil.CleanupAndRequireSuccess(tb, func() (err error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), agtest.Timeout)
		defer cancel()

		return conn.Shutdown(shutdownCtx)
	})

	return conn
}

// dial connects to c and registers the closing of the client connection.
func dial(tb testing.TB, c *connector.TCP) (client net.Conn) {
	tb.Helper()

	client, err := net.DialTimeout("tcp", c.LocalAddr().String(), agtest.Timeout)
	require.NoError(tb, err)

	tb.Cleanup(func() { _ = client.Close() })

	return client
}
