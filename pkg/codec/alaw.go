// Package codec implements the G.711 A-law transcoding used on the RTP leg
// of the bridge (payload type 8, 8 kHz, RFC 3551). It converts between the
// PBX's 8-bit logarithmic samples and the linear PCM16 the rest of the
// pipeline operates on.
package codec

import "fmt"

// ErrOddLength is returned when a PCM16 buffer has an odd number of bytes
// and therefore cannot be split into 16-bit samples.
var ErrOddLength = fmt.Errorf("codec: pcm16 buffer has odd length")

const alawSign = 0x80

// alawToLinearTable is a precomputed lookup from an A-law octet to its
// signed 16-bit linear value. Built once in init from the standard
// decode formula so the hot path (one call per sample, 8000/s per session)
// is a slice index.
var alawToLinearTable [256]int16

// linearToAlawTable would need 65536 entries to be a pure lookup; instead
// encoding goes through encodeSample, which mirrors the ITU-T G.711
// reference implementation's segment search.
func init() {
	for i := 0; i < 256; i++ {
		alawToLinearTable[i] = decodeSample(byte(i))
	}
}

// decodeSample implements the A-law decode formula from ITU-T G.711.
func decodeSample(alaw byte) int16 {
	alaw ^= 0x55
	sign := alaw & alawSign
	exponent := (alaw >> 4) & 0x07
	mantissa := alaw & 0x0F

	sample := int(mantissa) << 4
	sample += 8
	if exponent != 0 {
		sample += 0x100
		sample <<= uint(exponent - 1)
	}
	if sign == 0 {
		sample = -sample
	}
	return int16(sample)
}

// encodeSample implements the A-law encode formula from ITU-T G.711,
// searching the exponent segment a sample falls into.
func encodeSample(pcm int16) byte {
	const clip = 32635

	sample := int(pcm)
	sign := byte(0x80)
	if sample < 0 {
		sample = -sample - 1
		sign = 0
	}
	if sample > clip {
		sample = clip
	}

	var exponent byte
	for seg := 7; seg >= 1; seg-- {
		if sample >= (1 << uint(seg+7)) {
			exponent = byte(seg)
			break
		}
	}

	shift := uint(exponent) + 3
	if exponent == 0 {
		shift = 4
	}
	mantissa := byte(sample>>shift) & 0x0F
	alaw := sign | (exponent << 4) | mantissa
	return alaw ^ 0x55
}

// DecodeALaw converts an A-law byte stream to little-endian linear PCM16.
// Output length is always 2x the input length.
func DecodeALaw(alaw []byte) []byte {
	out := make([]byte, len(alaw)*2)
	for i, b := range alaw {
		sample := uint16(alawToLinearTable[b])
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}

// EncodeALaw converts little-endian linear PCM16 to A-law. pcm must have an
// even length; ErrOddLength is returned otherwise.
func EncodeALaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]byte, len(pcm)/2)
	for i := range out {
		sample := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		out[i] = encodeSample(sample)
	}
	return out, nil
}
