package rat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowgate/rat/pkg/transport"
	"github.com/flowgate/rat/pkg/wire"
)

// establishedPair builds two Sockets wired to an in-memory Loopback pair
// and already in ESTABLISHED, skipping the handshake itself so these tests
// exercise only the send/receive data path.
func establishedPair(t *testing.T, mtu int) (*Socket, *Socket, *transport.Loopback, *transport.Loopback) {
	t.Helper()
	a, b := transport.NewLoopbackPair()

	client := New(nil)
	server := New(nil)
	for _, pair := range []struct {
		s *Socket
		t transport.Transport
		r transport.Transport
	}{
		{client, a, b},
		{server, b, a},
	} {
		pair.s.transport = pair.t
		pair.s.remoteAddr = pair.r.LocalAddr()
		pair.s.localAddr = pair.t.LocalAddr()
		pair.s.currentState = Established
		pair.s.streamID = 777
		pair.s.seqNum = 1
		pair.s.recvExpected = 1
		pair.s.windowSize = DefaultWindow
		pair.s.retryBound = 3
		pair.s.replyTimeout = 200 * time.Millisecond
		pair.s.byeTimeout = 100 * time.Millisecond
		pair.s.mtu = mtu
	}
	return client, server, a, b
}

func TestSendRecvShortEcho(t *testing.T) {
	client, server, _, _ := establishedPair(t, PayloadMTU)

	done := make(chan []byte, 1)
	errs := make(chan error, 1)
	go func() {
		data, err := server.Recv()
		done <- data
		errs <- err
	}()

	require.NoError(t, client.Send([]byte("hello")))
	require.NoError(t, <-errs)
	require.Equal(t, []byte("hello"), <-done)
}

func TestSendRecvMultiSegment(t *testing.T) {
	// MTU of 4 bytes forces "hello world!" into multiple segments, still
	// within the default window of 5.
	client, server, _, _ := establishedPair(t, 4)

	done := make(chan []byte, 1)
	errs := make(chan error, 1)
	go func() {
		data, err := server.Recv()
		done <- data
		errs <- err
	}()

	payload := []byte("hello world!")
	require.NoError(t, client.Send(payload))
	require.NoError(t, <-errs)
	require.Equal(t, payload, <-done)
}

func TestSendRecvLossThenNack(t *testing.T) {
	client, server, _, serverSide := establishedPair(t, 4)
	payload := []byte("ABCDEFGH") // two 4-byte segments: seq 1, seq 2 (terminal ACK)

	var once sync.Once
	dropped := make(chan struct{})
	serverSide.Drop = func(seq int, raw []byte) bool {
		if len(raw) < wire.HeaderSize {
			return false
		}
		hdr, err := wire.Decode(raw[:wire.HeaderSize])
		if err != nil {
			return false
		}
		if hdr.SeqNum == 1 {
			drop := false
			once.Do(func() { drop = true; close(dropped) })
			return drop
		}
		return false
	}

	done := make(chan []byte, 1)
	errs := make(chan error, 1)
	go func() {
		data, err := server.Recv()
		done <- data
		errs <- err
	}()

	require.NoError(t, client.Send(payload))
	require.NoError(t, <-errs)
	require.Equal(t, payload, <-done)

	select {
	case <-dropped:
	default:
		t.Fatal("test never actually exercised the drop hook")
	}
}

func TestSetWindowRenegotiatesPeerWindow(t *testing.T) {
	client, server, _, serverSide := establishedPair(t, PayloadMTU)

	// Stand in for the peer's Send/Recv loop, which would otherwise
	// interpret SWIN itself: read one datagram, apply it, ACK it.
	go func() {
		buf := make([]byte, wire.HeaderSize+4)
		n, from, err := serverSide.ReadFrom(buf)
		if err != nil {
			return
		}
		hdr, err := wire.Decode(buf[:wire.HeaderSize])
		if err != nil || !hdr.Flags.Has(wire.SWIN) {
			return
		}
		words, _ := wire.DecodeAuxWords(buf[wire.HeaderSize:n], int(hdr.Offset))
		if len(words) > 0 {
			server.mu.Lock()
			server.windowSize = words[0]
			server.mu.Unlock()
		}
		ack := wire.Header{StreamID: hdr.StreamID, Flags: wire.NewFlagSet(wire.ACK)}
		raw := ack.Encode()
		_, _ = serverSide.WriteTo(raw[:], from)
	}()

	require.NoError(t, client.SetWindow(3))
	require.Equal(t, uint16(3), server.WindowSize())
}

func TestRecvObservesInbandBye(t *testing.T) {
	client, server, clientSide, _ := establishedPair(t, PayloadMTU)
	_ = client

	go func() {
		bye := wire.Header{StreamID: 777, Flags: wire.NewFlagSet(wire.BYE)}
		raw := bye.Encode()
		_, _ = clientSide.WriteTo(raw[:], nil)
	}()

	_, err := server.Recv()
	require.ErrorIs(t, err, ErrClosed)
	require.Equal(t, Closed, server.State())
}
