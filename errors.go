package rat

import "github.com/pkg/errors"

// Sentinel errors surfaced to callers of the Socket API.
var (
	// ErrInvalidState is returned when an operation is attempted from a
	// connection state that does not permit it.
	ErrInvalidState = errors.New("rat: operation disallowed in current state")

	// ErrMalformedHeader is returned when a received datagram cannot be
	// decoded as an 8-byte RAT header.
	ErrMalformedHeader = errors.New("rat: malformed header")

	// ErrNoResponse is returned when the retry bound is exhausted while
	// waiting for a handshake or window reply.
	ErrNoResponse = errors.New("rat: no response from peer")

	// ErrBufferOverflow names a receive buffer being exceeded by the
	// current window. No operation in this package returns it: Recv does
	// not check for overflow.
	ErrBufferOverflow = errors.New("rat: receive buffer overflow")

	// ErrMisalignedAuxiliary names a NACK/SWIN auxiliary payload that is
	// not a whole multiple of 16 bits. No operation in this package
	// returns it: Send and Recv decode only the whole words present and
	// ignore a trailing odd byte.
	ErrMisalignedAuxiliary = errors.New("rat: misaligned auxiliary payload")

	// ErrNumberOutOfRange is returned when a value does not fit the wire
	// field it is destined for.
	ErrNumberOutOfRange = errors.New("rat: number out of range for field width")

	// ErrClosed is returned by Send and Recv when they observe the peer's
	// BYE and complete the passive tear-down. I/O attempted on a socket
	// already in CLOSED fails with ErrInvalidState instead.
	ErrClosed = errors.New("rat: socket is closed")
)
