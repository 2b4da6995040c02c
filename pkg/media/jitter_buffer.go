package media

import (
	"log/slog"
	"sync"
	"time"

	"github.com/arzzra/voicebridge/internal/metrics"
)

const (
	// FrameInterval is the fixed cadence of one 20ms PCM16 frame, the unit
	// the whole pipeline reclocks to.
	FrameInterval = 20 * time.Millisecond

	// DefaultJitterTargetMS and DefaultJitterMaxFrames are the ingress
	// jitter buffer's defaults from: a 40ms (2 frame) target depth and
	// a 200 frame ceiling before drop-oldest kicks in.
	DefaultJitterTargetMS = 40
	DefaultJitterMaxFrames = 200
)

// JitterBuffer reclocks the caller's arriving 20ms frames to a steady 20ms
// output cadence. It is oblivious to RTP sequence numbers — frames
// are assumed already in arrival order, as they are for a single RTP flow.
//
// Fill (Push) and drain (the internal emission loop) run concurrently;
// Push only touches the guarded deque, the loop is the sole reader and sole
// writer of the output channel, matching the single-owner TX rule of
// applied to the ingress direction.
type JitterBuffer struct {
	mu sync.Mutex
	frames [][]byte

	targetDepth int
	maxDepth int

	received uint64
	dropped uint64
	emitted uint64

	out chan []byte
	stopCh chan struct{}
	wg sync.WaitGroup
	stopped bool

	log *slog.Logger
	metrics *metrics.Collector
}

// NewJitterBuffer creates an ingress jitter buffer and starts its emission
// loop. targetMS is rounded down to a whole number of 20ms frames (minimum
// one); maxFrames <= 0 falls back to DefaultJitterMaxFrames. m may be nil.
func NewJitterBuffer(targetMS, maxFrames int, m *metrics.Collector, log *slog.Logger) *JitterBuffer {
	if targetMS <= 0 {
		targetMS = DefaultJitterTargetMS
	}
	if maxFrames <= 0 {
		maxFrames = DefaultJitterMaxFrames
	}
	target := targetMS / 20
	if target < 1 {
		target = 1
	}
	if log == nil {
		log = slog.Default()
	}

	jb := &JitterBuffer{
		targetDepth: target,
		maxDepth: maxFrames,
		out: make(chan []byte, maxFrames),
		stopCh: make(chan struct{}),
		log: log,
		metrics: m,
	}

	jb.wg.Add(1)
	go jb.run()

	return jb
}

// Push enqueues one 20ms PCM16 frame. On overflow the oldest queued frame
// is dropped, preserving recency over completeness.
func (jb *JitterBuffer) Push(frame []byte) {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	if jb.stopped {
		return
	}

	jb.received++
	jb.frames = append(jb.frames, frame)
	if len(jb.frames) > jb.maxDepth {
		jb.frames = jb.frames[1:]
		jb.dropped++
		if jb.metrics != nil {
			jb.metrics.JitterBufferDropped.Inc()
		}
		jb.log.Warn("jitter buffer overflow, dropped oldest frame",
			"depth", len(jb.frames), "max", jb.maxDepth, "total_dropped", jb.dropped)
	}
}

// Out returns the channel frames are emitted on, at the reclocked cadence.
func (jb *JitterBuffer) Out() <-chan []byte { return jb.out }

func (jb *JitterBuffer) depth() int {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return len(jb.frames)
}

func (jb *JitterBuffer) popFront() ([]byte, bool) {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	if len(jb.frames) == 0 {
		return nil, false
	}
	f := jb.frames[0]
	jb.frames = jb.frames[1:]
	return f, true
}

func (jb *JitterBuffer) run() {
	defer jb.wg.Done()

	var lastEmit time.Time
	for {
		select {
		case <-jb.stopCh:
			return
		default:
		}

		depth := jb.depth()
		switch {
		case depth >= jb.targetDepth:
			frame, ok := jb.popFront()
			if !ok {
				continue
			}
			if !lastEmit.IsZero() {
				if elapsed := time.Since(lastEmit); elapsed < FrameInterval {
					time.Sleep(FrameInterval - elapsed)
				}
			}
			select {
			case jb.out <- frame:
				jb.emitted++
			case <-jb.stopCh:
				return
			}
			lastEmit = time.Now()
		case depth >= 1:
			// Arrival burst: not enough depth yet to emit at cadence.
			// Retry at half the frame interval instead of starving.
			time.Sleep(FrameInterval / 2)
		default:
			time.Sleep(FrameInterval)
		}
	}
}

// Stats reports the buffer's running counters, primarily for metrics export
// and test assertions.
type JitterBufferStats struct {
	Received uint64
	Dropped uint64
	Emitted uint64
	Depth int
}

func (jb *JitterBuffer) Stats() JitterBufferStats {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return JitterBufferStats{
		Received: jb.received,
		Dropped: jb.dropped,
		Emitted: jb.emitted,
		Depth: len(jb.frames),
	}
}

// Close stops the emission loop and releases the buffer. Any frames still
// queued are discarded — the ingress direction has no flush requirement,
// unlike the egress Output Buffer.
func (jb *JitterBuffer) Close() {
	jb.mu.Lock()
	if jb.stopped {
		jb.mu.Unlock()
		return
	}
	jb.stopped = true
	jb.mu.Unlock()

	close(jb.stopCh)
	jb.wg.Wait()
}
