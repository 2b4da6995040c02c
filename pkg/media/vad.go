package media

import (
	"encoding/binary"
	"math"
)

// DefaultVADRMSThreshold and DefaultBargeInFrames are the fallback energy
// threshold and consecutive-frame run length used when a session isn't
// configured with its own VAD_RMS_THRESHOLD and BARGE_IN_FRAMES values.
const (
	DefaultVADRMSThreshold = 0.08
	DefaultBargeInFrames = 2
)

// VAD is a cheap energy-based voice-activity detector over 20ms PCM16
// frames, driving both the barge-in decision and (eventually) any upstream
// silence reporting. It is not safe for concurrent use; each session owns
// exactly one, consumed from the ingress goroutine only.
type VAD struct {
	threshold float64
	bargeInFrames int
	consecutiveHigh int
}

// NewVAD constructs a VAD. A non-positive threshold or bargeInFrames falls
// back to the package defaults.
func NewVAD(threshold float64, bargeInFrames int) *VAD {
	if threshold <= 0 {
		threshold = DefaultVADRMSThreshold
	}
	if bargeInFrames <= 0 {
		bargeInFrames = DefaultBargeInFrames
	}
	return &VAD{threshold: threshold, bargeInFrames: bargeInFrames}
}

// RMS computes the normalized root-mean-square amplitude of a little-endian
// PCM16 frame, in [0,1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		f := float64(sample)
		sumSquares += f * f
	}
	rms := math.Sqrt(sumSquares / float64(n))
	return rms / 32768.0
}

// Observe feeds one 20ms frame through the detector. It returns the frame's
// RMS, whether the frame itself is above threshold, and whether this
// observation completes a barge-in trigger (consecutiveHigh reaching the
// configured run length). The counter resets to 0 on any frame below
// threshold and after a trigger fires.
func (v *VAD) Observe(pcm []byte) (rms float64, isSpeech bool, bargeIn bool) {
	rms = RMS(pcm)
	isSpeech = rms >= v.threshold

	if !isSpeech {
		v.consecutiveHigh = 0
		return rms, isSpeech, false
	}

	v.consecutiveHigh++
	if v.consecutiveHigh >= v.bargeInFrames {
		v.consecutiveHigh = 0
		return rms, isSpeech, true
	}
	return rms, isSpeech, false
}
