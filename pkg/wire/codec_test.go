package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	h := Header{StreamID: 42, SeqNum: 7, Length: 3, Flags: NewFlagSet(ACK, HLO), Offset: 0}
	raw := h.Encode()

	got, err := Decode(raw[:])
	require.NoError(t, err)
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFlagSetOrderIndependent(t *testing.T) {
	assert.Equal(t, NewFlagSet(HLO, ACK), NewFlagSet(ACK, HLO))
	assert.True(t, NewFlagSet(ACK, HLO).Has(ACK))
	assert.True(t, NewFlagSet(ACK, HLO).Has(HLO))
	assert.False(t, NewFlagSet(ACK, HLO).Has(BYE))
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	_, err := Decode(make([]byte, 7))
	if err == nil {
		t.Fatal("expected error for short header")
	}
	_, err = Decode(make([]byte, 9))
	if err == nil {
		t.Fatal("expected error for long header")
	}
}

func TestAuxWordsRoundTrip(t *testing.T) {
	words := []uint16{1, 2, 300, 65535}
	raw := EncodeAuxWords(words)
	if len(raw)%2 != 0 {
		t.Fatalf("aux payload not 16-bit aligned: %d bytes", len(raw))
	}
	got, err := DecodeAuxWords(raw, len(words))
	require.NoError(t, err)
	assert.Equal(t, words, got)
}

func TestCheckAligned(t *testing.T) {
	assert.NoError(t, CheckAligned(4))
	assert.ErrorIs(t, CheckAligned(3), ErrMisalignedAuxiliary)
}

func TestControlOnlySegmentIsValid(t *testing.T) {
	h := Header{Flags: NewFlagSet(ACK)}
	raw := h.Encode()
	got, err := Decode(raw[:])
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.Length)
}
