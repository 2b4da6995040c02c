package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeALaw_SilenceIsZero(t *testing.T) {
	// 0xD5 is A-law digital silence (RFC 3551 convention used by the PBX).
	alaw := make([]byte, 160)
	for i := range alaw {
		alaw[i] = 0xD5
	}

	pcm := DecodeALaw(alaw)
	require.Len(t, pcm, 320)
	for i := 0; i < len(pcm); i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		assert.InDelta(t, 0, sample, 8)
	}
}

func TestEncodeALaw_RejectsOddLength(t *testing.T) {
	_, err := EncodeALaw([]byte{0x01, 0x02, 0x03})
	require.ErrorIs(t, err, ErrOddLength)
}

func TestALaw_RoundTripIsFixedPoint(t *testing.T) {
	// Once PCM has passed through one alaw->pcm16 decode, re-encoding and
	// decoding again must reproduce exactly the same PCM (the companding
	// curve is lossy but idempotent past the first pass).
	alaw := make([]byte, 256)
	for i := range alaw {
		alaw[i] = byte(i)
	}

	pcm1 := DecodeALaw(alaw)
	reEncoded, err := EncodeALaw(pcm1)
	require.NoError(t, err)
	pcm2 := DecodeALaw(reEncoded)

	assert.Equal(t, pcm1, pcm2)
}

func TestEncodeALaw_SizeHalves(t *testing.T) {
	pcm := make([]byte, 320)
	alaw, err := EncodeALaw(pcm)
	require.NoError(t, err)
	assert.Len(t, alaw, 160)
}
