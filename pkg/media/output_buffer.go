package media

import (
	"log/slog"
	"sync"

	"github.com/arzzra/voicebridge/internal/metrics"
)

// FrameBytes is the size in bytes of one 20ms PCM16 frame at 8 kHz, the
// fixed unit the RTP leg sends.
const FrameBytes = 320

// DefaultOutputMaxFrames bounds how many reframed-but-unsent frames the
// egress direction will hold before dropping the oldest.
const DefaultOutputMaxFrames = 200

// OutputBuffer reframes the model's arbitrarily-sized PCM16 bursts (after
// resampling to 8 kHz) into exact 320-byte/20ms frames for the RTP Paced
// Sender to pull from. Unlike the ingress JitterBuffer it does not pace
// itself — pacing is the sender's job — it only accumulates, chunks, and
// bounds the queue.
type OutputBuffer struct {
	mu sync.Mutex

	pending []byte // bytes written but not yet a full frame
	frames [][]byte // complete frames awaiting Pop

	maxFrames int
	dropped uint64

	log *slog.Logger
	metrics *metrics.Collector
}

// NewOutputBuffer constructs an egress reframing buffer. maxFrames <= 0
// falls back to DefaultOutputMaxFrames. m may be nil.
func NewOutputBuffer(maxFrames int, m *metrics.Collector, log *slog.Logger) *OutputBuffer {
	if maxFrames <= 0 {
		maxFrames = DefaultOutputMaxFrames
	}
	if log == nil {
		log = slog.Default()
	}
	return &OutputBuffer{maxFrames: maxFrames, log: log, metrics: m}
}

// Write appends model PCM16 (already resampled to 8 kHz) and chunks off as
// many complete 320-byte frames as the accumulated bytes allow. Overflow
// drops the oldest queued frame, mirroring the ingress policy.
func (ob *OutputBuffer) Write(pcm []byte) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.pending = append(ob.pending, pcm...)
	for len(ob.pending) >= FrameBytes {
		frame := make([]byte, FrameBytes)
		copy(frame, ob.pending[:FrameBytes])
		ob.pending = ob.pending[FrameBytes:]
		ob.frames = append(ob.frames, frame)
	}

	for len(ob.frames) > ob.maxFrames {
		ob.frames = ob.frames[1:]
		ob.dropped++
		if ob.metrics != nil {
			ob.metrics.OutputBufferDropped.Inc()
		}
		ob.log.Warn("output buffer overflow, dropped oldest frame",
			"depth", len(ob.frames), "max", ob.maxFrames, "total_dropped", ob.dropped)
	}
}

// Pop removes and returns the oldest ready frame. ok is false when the
// buffer holds no complete frame; the paced sender then sends nothing for
// that tick.
func (ob *OutputBuffer) Pop() (frame []byte, ok bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if len(ob.frames) == 0 {
		return nil, false
	}
	frame = ob.frames[0]
	ob.frames = ob.frames[1:]
	return frame, true
}

// Depth reports the number of complete frames currently queued.
func (ob *OutputBuffer) Depth() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return len(ob.frames)
}

// Dropped reports the number of frames discarded to overflow.
func (ob *OutputBuffer) Dropped() uint64 {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.dropped
}

// Flush discards every queued frame and any sub-frame tail — used on
// barge-in (the dialog entering UserSpeaking from a model turn), where bot
// speech already buffered for send must not be heard. It returns the number of whole frames
// that were discarded, for logging/metrics.
func (ob *OutputBuffer) Flush() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	n := len(ob.frames)
	ob.frames = nil
	ob.pending = nil
	return n
}

// DrainAndPop removes and returns every complete frame currently queued,
// in order, discarding only the sub-frame tail. Used at normal call
// teardown, where whatever the model already finished saying should
// still reach the caller instead of being cut off like a barge-in.
func (ob *OutputBuffer) DrainAndPop() [][]byte {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	frames := ob.frames
	ob.frames = nil
	ob.pending = nil
	return frames
}
