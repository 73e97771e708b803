package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialerFor(t *testing.T) {
	base := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 15 * time.Second}

	d := dialerFor(withConnectTimeout(context.Background(), 6*time.Second), base)
	assert.Equal(t, 6*time.Second, d.Timeout)
	assert.Equal(t, 15*time.Second, d.KeepAlive)
	assert.Equal(t, 30*time.Second, base.Timeout, "base dialer must not change")

	d = dialerFor(withConnectTimeout(context.Background(), 0), base)
	assert.Equal(t, 30*time.Second, d.Timeout)

	d = dialerFor(context.Background(), base)
	assert.Equal(t, 30*time.Second, d.Timeout)
}

func TestDialContext_UsesConnectTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	dial := dialContext(&net.Dialer{Timeout: 30 * time.Second})

	conn, err := dial(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.Close()

	// A deadline that already passed fails the dial before connecting.
	_, err = dial(withConnectTimeout(context.Background(), time.Nanosecond), "tcp", ln.Addr().String())

	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}
