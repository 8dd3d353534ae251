package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// HeaderSize is the fixed RAT header length in bytes.
const HeaderSize = 8

// ErrMalformedHeader is returned by Decode when the input is not exactly
// HeaderSize bytes long.
var ErrMalformedHeader = errors.New("wire: malformed header")

// ErrMisalignedAuxiliary is returned when an auxiliary word payload is not
// a whole multiple of 16 bits.
var ErrMisalignedAuxiliary = errors.New("wire: misaligned auxiliary payload")

// Header is the decoded form of an 8-byte RAT segment header.
type Header struct {
	StreamID uint16
	SeqNum   uint16
	Length   uint16
	Flags    FlagSet
	Offset   uint8
}

// Encode serializes h into an 8-byte big-endian wire header.
func (h Header) Encode() [HeaderSize]byte {
	var out [HeaderSize]byte
	binary.BigEndian.PutUint16(out[0:2], h.StreamID)
	binary.BigEndian.PutUint16(out[2:4], h.SeqNum)
	binary.BigEndian.PutUint16(out[4:6], h.Length)
	out[6] = byte(h.Flags)
	out[7] = h.Offset
	return out
}

// Decode parses an 8-byte wire header. It is total: any input that is not
// exactly HeaderSize bytes yields ErrMalformedHeader and a zero Header.
func Decode(raw []byte) (Header, error) {
	if len(raw) != HeaderSize {
		return Header{}, errors.Wrapf(ErrMalformedHeader, "got %d bytes, want %d", len(raw), HeaderSize)
	}
	return Header{
		StreamID: binary.BigEndian.Uint16(raw[0:2]),
		SeqNum:   binary.BigEndian.Uint16(raw[2:4]),
		Length:   binary.BigEndian.Uint16(raw[4:6]),
		Flags:    FlagSet(raw[6]),
		Offset:   raw[7],
	}, nil
}

// EncodeAuxWords packs a list of 16-bit words, big-endian, consecutively.
// Used for NACK sequence-number lists and the single SWIN window-size word.
func EncodeAuxWords(words []uint16) []byte {
	out := make([]byte, len(words)*2)
	for i, w := range words {
		binary.BigEndian.PutUint16(out[i*2:i*2+2], w)
	}
	return out
}

// DecodeAuxWords unpacks up to numWords 16-bit words from data. It tolerates
// data that is longer than numWords*2 bytes (the Offset field and Length
// field may disagree; numWords wins) but never reads
// past the number of whole words actually present.
func DecodeAuxWords(data []byte, numWords int) ([]uint16, error) {
	if numWords < 0 {
		numWords = 0
	}
	available := len(data) / 2
	if available < numWords {
		numWords = available
	}
	words := make([]uint16, 0, numWords)
	for i := 0; i < numWords; i++ {
		words = append(words, binary.BigEndian.Uint16(data[i*2:i*2+2]))
	}
	return words, nil
}

// CheckAligned returns ErrMisalignedAuxiliary if length is not a whole
// number of 16-bit words.
func CheckAligned(length int) error {
	if length%2 != 0 {
		return ErrMisalignedAuxiliary
	}
	return nil
}
