package rat

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func boundPort(t *testing.T, addr net.Addr) int {
	t.Helper()
	udpAddr, ok := addr.(*net.UDPAddr)
	require.True(t, ok, "expected *net.UDPAddr, got %T", addr)
	return udpAddr.Port
}

// TestHandshakeThreeWayOpen drives a real UDP listener/connector pair
// through Listen/Accept/Connect and checks both ends land in ESTABLISHED
// with a matching stream id.
func TestHandshakeThreeWayOpen(t *testing.T) {
	listener := New(nil)
	require.NoError(t, listener.Listen("127.0.0.1", 0, 1))
	port := boundPort(t, listener.LocalAddr())

	acceptErr := make(chan error, 1)
	var child *Socket
	go func() {
		c, err := listener.Accept()
		child = c
		acceptErr <- err
	}()

	client := New(nil)
	require.NoError(t, client.Connect("127.0.0.1", port, 0))
	require.NoError(t, <-acceptErr)

	require.Equal(t, Established, client.State())
	require.Equal(t, Established, child.State())
	require.Equal(t, child.streamID, client.streamID)
}

// TestConnectTimesOutWithNoListener checks that a bounded retry budget
// against an address nobody is listening on ends in ErrNoResponse, not a
// hang.
func TestConnectTimesOutWithNoListener(t *testing.T) {
	client := New(nil)
	client.retryBound = 2
	client.replyTimeout = 20 * time.Millisecond

	// Port 1 is reserved and nothing should be listening there during a
	// test run; any closed UDP port works equally well as "no listener".
	err := client.Connect("127.0.0.1", 1, 0)
	require.ErrorIs(t, err, ErrNoResponse)
	require.Equal(t, Unopened, client.State())
}

// TestGracefulClose drives an established pair through Close/passive
// teardown and checks both land in CLOSED.
func TestGracefulClose(t *testing.T) {
	listener := New(nil)
	require.NoError(t, listener.Listen("127.0.0.1", 0, 1))
	port := boundPort(t, listener.LocalAddr())

	acceptErr := make(chan error, 1)
	var child *Socket
	go func() {
		c, err := listener.Accept()
		child = c
		acceptErr <- err
	}()

	client := New(nil)
	require.NoError(t, client.Connect("127.0.0.1", port, 0))
	require.NoError(t, <-acceptErr)

	passiveDone := make(chan struct{})
	go func() {
		// The child observes the client's BYE in-band via Recv.
		_, _ = child.Recv()
		close(passiveDone)
	}()

	require.NoError(t, client.Close())
	require.Equal(t, Closed, client.State())

	select {
	case <-passiveDone:
	case <-time.After(2 * time.Second):
		t.Fatal("passive side never observed BYE")
	}
	require.Equal(t, Closed, child.State())

	require.ErrorIs(t, client.Close(), ErrInvalidState)
}

