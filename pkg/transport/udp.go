package transport

import (
	"context"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// UDP is the production Transport, backed by a real *net.UDPConn. It sets
// SO_REUSEADDR on bind via golang.org/x/sys/unix, since the stdlib net
// package doesn't expose that socket option directly.
type UDP struct {
	address string
	port    int
	conn    *net.UDPConn
}

// NewUDP binds a UDP endpoint to address:port. Port 0 asks the OS for an
// ephemeral port, matching RatSocket.connect's local_port=0 default.
func NewUDP(address string, port int) (Transport, error) {
	u := &UDP{address: address, port: port}
	if err := u.bind(); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *UDP) bind() error {
	addr := net.JoinHostPort(u.address, strconv.Itoa(u.port))

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return errors.Wrap(err, "transport: bind udp")
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return errors.New("transport: expected *net.UDPConn")
	}
	u.conn = conn
	// Record the port actually bound, so Rebind() reuses it.
	if a, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		u.port = a.Port
	}
	return nil
}

// Rebind closes and recreates the underlying socket on the same local
// address, used by the handshake retry loop on timeout.
func (u *UDP) Rebind() error {
	if u.conn != nil {
		_ = u.conn.Close()
	}
	return u.bind()
}

func (u *UDP) ReadFrom(buf []byte) (int, net.Addr, error) {
	return u.conn.ReadFromUDP(buf)
}

func (u *UDP) WriteTo(buf []byte, addr net.Addr) (int, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			return 0, errors.Wrap(err, "transport: resolve remote addr")
		}
		udpAddr = resolved
	}
	return u.conn.WriteToUDP(buf, udpAddr)
}

func (u *UDP) SetReadDeadline(t time.Time) error {
	return u.conn.SetReadDeadline(t)
}

func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDP) Close() error {
	return u.conn.Close()
}
