// Package rat implements the RAT protocol engine: a connection-oriented,
// reliable, ordered byte-stream transport layered on an unreliable
// datagram service. This file carries the package doc and the wire-level
// defaults.
package rat

import "time"

// Wire and protocol defaults.
const (
	// MaxSeqNum and MaxStreamID are the largest values either 16-bit
	// field can hold; both fields wrap modulo 2^16.
	MaxSeqNum   = 65535
	MaxStreamID = 65535

	// PayloadMTU is the default maximum payload bytes per segment.
	PayloadMTU = 512

	// DefaultWindow is the initial send/receive window, in segments.
	DefaultWindow = 5

	// ReplyTimeout bounds a single wait-for-reply step in the handshake
	// and window protocols.
	ReplyTimeout = 4 * time.Second

	// ByeTimeout bounds the optional final ACK during tear-down.
	ByeTimeout = ReplyTimeout / 4

	// RetryBound is the number of retransmit attempts before a pending
	// operation gives up with ErrNoResponse.
	RetryBound = 5

	// maxOverheadWords is the largest aux-word count representable in the
	// 8-bit Offset field (255 words * 16 bits = 4080 bits of overhead).
	maxOverheadWords = 255
)
