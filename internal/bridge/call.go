// Package bridge wires one call's pieces together: the RTP-facing
// media.Session, its realtime dialog.Client, and the resampling loops
// that carry PCM between the two legs' native sample rates.
package bridge

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/arzzra/voicebridge/internal/metrics"
	"github.com/arzzra/voicebridge/pkg/dialog"
	"github.com/arzzra/voicebridge/pkg/media"
	"github.com/arzzra/voicebridge/pkg/resample"
	"github.com/arzzra/voicebridge/pkg/rtpio"
)

// Call owns the goroutines that move audio between the RTP leg (8 kHz,
// reclocked to 20ms frames by the session's buffers) and the dialog
// client's realtime connection (24 kHz, arbitrary burst sizes).
type Call struct {
	Session *media.Session
	Dialog *dialog.Client
	Sender *rtpio.PacedSender
	Transcript io.Closer // nil when transcript logging is disabled

	metrics *metrics.Collector
	log *slog.Logger

	stopCh chan struct{}
	wg sync.WaitGroup
}

// NewCall assembles a call's runtime state. The caller is responsible for
// having already called Dialog.Connect and Sender construction.
func NewCall(session *media.Session, dialogClient *dialog.Client, sender *rtpio.PacedSender, transcriptSink io.Closer, m *metrics.Collector, log *slog.Logger) *Call {
	if log == nil {
		log = slog.Default()
	}
	return &Call{
		Session: session,
		Dialog: dialogClient,
		Sender: sender,
		Transcript: transcriptSink,
		metrics: m,
		log: log.With("session_id", session.ID),
		stopCh: make(chan struct{}),
	}
}

// Start launches the ingress and egress resampling loops and the paced
// sender. Connect must already have succeeded on the dialog client.
func (c *Call) Start() {
	c.Sender.Start()
	c.wg.Add(2)
	go c.ingressLoop()
	go c.egressLoop()
}

// ingressLoop drains the session's reclocked 8 kHz frames, resamples them
// up to the model's 24 kHz, and forwards them to the dialog client.
func (c *Call) ingressLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case frame, ok := <-c.Session.Jitter.Out():
			if !ok {
				return
			}
			pcm24k := resample.PCM16(frame, media.TelephonySampleRateHz, media.ModelSampleRateHz)
			if err := c.Dialog.SendAudio(pcm24k); err != nil {
				c.log.Warn("failed to forward audio to realtime model", "error", err)
			}
			if c.metrics != nil {
				c.metrics.JitterBufferDepth.Set(float64(c.Session.Jitter.Stats().Depth))
			}
		}
	}
}

// egressLoop drains the model's 24 kHz audio bursts, resamples them down
// to 8 kHz, and hands them to the session's output buffer for the paced
// sender to drain at RTP cadence.
func (c *Call) egressLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case pcm24k, ok := <-c.Dialog.AudioOut:
			if !ok {
				return
			}
			pcm8k := resample.PCM16(pcm24k, media.ModelSampleRateHz, media.TelephonySampleRateHz)
			c.Session.Output.Write(pcm8k)
			if c.metrics != nil {
				c.metrics.OutputBufferDepth.Set(float64(c.Session.Output.Depth()))
			}
		}
	}
}

// BargeIn forwards a local-VAD barge-in trigger to the dialog client and
// counts it in metrics.
func (c *Call) BargeIn(ctx context.Context) {
	if err := c.Dialog.BargeIn(ctx); err != nil {
		c.log.Debug("barge-in had no effect", "reason", err)
		return
	}
	if c.metrics != nil {
		c.metrics.BargeInsTotal.Inc()
	}
}

// Stop halts both resampling loops and the paced sender, drains and sends
// whatever complete frames the model had already queued up before
// teardown started, then closes the dialog client and session buffers.
func (c *Call) Stop() {
	close(c.stopCh)
	c.Sender.Stop()
	c.Sender.DrainAndSend()
	c.Dialog.Close()
	c.Session.Close()
	c.wg.Wait()
	if c.Transcript != nil {
		c.Transcript.Close()
	}
}
