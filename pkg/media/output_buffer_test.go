package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputBuffer_ChunksIntoFixedFrames(t *testing.T) {
	ob := NewOutputBuffer(0, nil, nil)

	ob.Write(make([]byte, 320*3+100))
	assert.Equal(t, 3, ob.Depth())

	for i := 0; i < 3; i++ {
		frame, ok := ob.Pop()
		require.True(t, ok)
		assert.Len(t, frame, FrameBytes)
	}
	_, ok := ob.Pop()
	assert.False(t, ok)
}

func TestOutputBuffer_CarriesSubFrameTailAcrossWrites(t *testing.T) {
	ob := NewOutputBuffer(0, nil, nil)

	ob.Write(make([]byte, 200))
	assert.Equal(t, 0, ob.Depth())

	ob.Write(make([]byte, 200))
	assert.Equal(t, 1, ob.Depth())
}

func TestOutputBuffer_DropsOldestOnOverflow(t *testing.T) {
	ob := NewOutputBuffer(2, nil, nil)

	ob.Write(make([]byte, FrameBytes*5))
	assert.Equal(t, 2, ob.Depth())
	assert.Equal(t, uint64(3), ob.Dropped())
}

func TestOutputBuffer_FlushDiscardsFramesAndTail(t *testing.T) {
	ob := NewOutputBuffer(0, nil, nil)

	ob.Write(make([]byte, FrameBytes*2+50))
	discarded := ob.Flush()

	assert.Equal(t, 2, discarded)
	assert.Equal(t, 0, ob.Depth())

	_, ok := ob.Pop()
	assert.False(t, ok)

	// The sub-frame tail must not resurface after flush.
	ob.Write(make([]byte, 270))
	assert.Equal(t, 0, ob.Depth())
}
