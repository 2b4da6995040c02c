// Package resample converts linear PCM16 between the bridge's two native
// rates: 8 kHz on the RTP leg and 24 kHz on the Realtime model leg. The
// ratio is always a small rational (1:3 or 3:1), so a linear-interpolating
// polyphase pass is enough to stay deterministic and stateless per call —
// there is no pitch-correction or arbitrary-ratio requirement here.
package resample

import "encoding/binary"

// PCM16 resamples little-endian linear PCM16 from rateIn to rateOut. It
// produces floor(len(samples)*rateOut/rateIn) output samples, is stateless
// (no carry between calls), and returns the input unchanged when the rates
// match.
func PCM16(pcm []byte, rateIn, rateOut int) []byte {
	if rateIn == rateOut || len(pcm) < 2 {
		out := make([]byte, len(pcm)&^1)
		copy(out, pcm)
		return out
	}

	in := bytesToSamples(pcm)
	outLen := len(in) * rateOut / rateIn
	out := make([]int16, outLen)

	// Polyphase interpolation: for each output sample, find its fractional
	// position in the input stream and linearly blend the two neighbours.
	step := float64(rateIn) / float64(rateOut)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		var s0, s1 int16
		if idx < len(in) {
			s0 = in[idx]
		} else if len(in) > 0 {
			s0 = in[len(in)-1]
		}
		if idx+1 < len(in) {
			s1 = in[idx+1]
		} else {
			s1 = s0
		}

		out[i] = int16(float64(s0) + frac*float64(s1-s0))
	}

	return samplesToBytes(out)
}

func bytesToSamples(pcm []byte) []int16 {
	n := len(pcm) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
