package resample

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func makePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestPCM16_IdentityRatio(t *testing.T) {
	in := makePCM([]int16{1, 2, 3, 4, 5})
	out := PCM16(in, 8000, 8000)
	assert.Equal(t, in, out)
}

func TestPCM16_UpsampleLength(t *testing.T) {
	in := makePCM(make([]int16, 160)) // 20ms @ 8kHz
	out := PCM16(in, 8000, 24000)
	assert.Len(t, out, 160*3*2)
}

func TestPCM16_DownsampleLength(t *testing.T) {
	in := makePCM(make([]int16, 480)) // 20ms @ 24kHz
	out := PCM16(in, 24000, 8000)
	assert.Len(t, out, 320)
}

func TestPCM16_SilenceStaysSilent(t *testing.T) {
	in := makePCM(make([]int16, 320))
	out := PCM16(in, 8000, 24000)
	for _, b := range out {
		assert.Zero(t, b)
	}
}

func TestPCM16_EmptyInput(t *testing.T) {
	out := PCM16(nil, 8000, 24000)
	assert.Empty(t, out)
}
