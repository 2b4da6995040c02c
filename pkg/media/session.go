// Package media implements the per-call audio pipeline: RTP-facing
// sequencing state, the A-law codec split out to pkg/codec, the ingress
// jitter buffer and egress output buffer that reclock and reframe audio
// around the fixed-cadence rules of the RTP leg, and a cheap VAD for
// barge-in detection.
package media

import (
	"log/slog"
	"net"
	"sync"

	"github.com/arzzra/voicebridge/internal/metrics"
	"github.com/arzzra/voicebridge/pkg/codec"
)

// SamplesPerFrame is the number of 8 kHz PCM16 samples in one 20ms frame —
// the RTP timestamp advances by this amount per packet sent.
const SamplesPerFrame = 160

// inboundQueueDepth bounds the number of RTP payloads a session will buffer
// between the demux read loop and its own ingress worker. The handoff must
// never block the read loop, which is shared by every call on the socket;
// a session whose worker falls behind drops payloads rather than stalling
// receipt for everyone else.
const inboundQueueDepth = 64

// TelephonySampleRateHz and ModelSampleRateHz are the two native sample
// rates a call's audio crosses between: the SIP/RTP leg stays at
// telephony rate, the realtime dialog leg runs at the model's rate.
const (
	TelephonySampleRateHz = 8000
	ModelSampleRateHz = 24000
)

// Config carries the per-session tuning knobs a Session is built with, all
// sourced from environment configuration rather than package globals.
type Config struct {
	JitterTargetMS int
	JitterMaxFrames int
	OutputMaxFrames int
	VADThreshold float64
	BargeInFrames int
}

// Session holds everything the pipeline needs to carry one call's audio in
// both directions: the RTP sequencing state latched from (or assigned to)
// the wire, and the buffers and detector that sit between the RTP leg and
// the dialog client. It does not know about the dialog state machine
// itself — SetDialogState/SetActiveResponseID are plain accessors the
// dialog package drives from its FSM callbacks, keeping this package free
// of a dependency on it.
type Session struct {
	ID string
	PeerAddr *net.UDPAddr

	Jitter *JitterBuffer
	Output *OutputBuffer
	VAD *VAD

	mu sync.Mutex

	inboundLatched bool
	inboundPT uint8
	inboundSSRC uint32

	seqOut uint16
	tsOut uint32
	ssrcOut uint32

	dialogState string
	activeResponse string

	inbound chan inboundPayload
	stopIngest chan struct{}
	ingestWG sync.WaitGroup

	log *slog.Logger
	metrics *metrics.Collector
}

type inboundPayload struct {
	pt uint8
	payload []byte
}

// NewSession constructs a session with fresh buffers and VAD, and an
// initial outbound SSRC (the caller picks this, typically at random — the
// spec leaves SSRC generation to the transport layer). It starts its own
// ingress worker goroutine immediately; onBargeIn, if non-nil, is called
// from that goroutine whenever a payload completes a barge-in trigger. m
// may be nil.
func NewSession(id string, peer *net.UDPAddr, ssrcOut uint32, cfg Config, onBargeIn func(sessionID string), m *metrics.Collector, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		ID: id,
		PeerAddr: peer,
		Jitter: NewJitterBuffer(cfg.JitterTargetMS, cfg.JitterMaxFrames, m, log.With("dir", "ingress")),
		Output: NewOutputBuffer(cfg.OutputMaxFrames, m, log.With("dir", "egress")),
		VAD: NewVAD(cfg.VADThreshold, cfg.BargeInFrames),
		ssrcOut: ssrcOut,
		inbound: make(chan inboundPayload, inboundQueueDepth),
		stopIngest: make(chan struct{}),
		log: log.With("session_id", id),
		metrics: m,
	}
	s.ingestWG.Add(1)
	go s.ingestLoop(onBargeIn)
	return s
}

// ingestLoop is the session's one ingress worker: it drains the bounded
// queue the demux read loop hands payloads to and runs VAD and jitter-buffer
// reclocking off the shared socket's read path.
func (s *Session) ingestLoop(onBargeIn func(sessionID string)) {
	defer s.ingestWG.Done()
	for {
		select {
		case <-s.stopIngest:
			return
		case pkt, ok := <-s.inbound:
			if !ok {
				return
			}
			_, _, bargeIn, err := s.handleInboundPayload(pkt.pt, pkt.payload)
			if err != nil {
				s.log.Warn("dropping unprocessable inbound payload", "payload_type", pkt.pt, "error", err)
				continue
			}
			if bargeIn && onBargeIn != nil {
				onBargeIn(s.ID)
			}
		}
	}
}

// LatchInbound records the RTP payload type and SSRC of the first inbound
// packet. Later packets do not overwrite it; it returns whether
// this call performed the latch.
func (s *Session) LatchInbound(pt uint8, ssrc uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inboundLatched {
		return false
	}
	s.inboundPT = pt
	s.inboundSSRC = ssrc
	s.inboundLatched = true
	s.log.Info("latched inbound stream", "payload_type", pt, "ssrc", ssrc)
	return true
}

// InboundMeta reports the latched payload type and SSRC, and whether a
// packet has been seen yet.
func (s *Session) InboundMeta() (pt uint8, ssrc uint32, latched bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inboundPT, s.inboundSSRC, s.inboundLatched
}

// NextRTPMeta allocates the sequence number and timestamp for the next
// outbound packet and advances both — sequence by one, timestamp by one
// frame's worth of samples — then returns them together with the fixed
// outbound SSRC. The state is guarded by the session mutex; its callers
// are the paced sender and the registrar's one priming packet.
func (s *Session) NextRTPMeta() (seq uint16, ts uint32, ssrc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqOut++
	seq = s.seqOut
	ts = s.tsOut
	s.tsOut += SamplesPerFrame
	ssrc = s.ssrcOut
	return seq, ts, ssrc
}

// DialogState and SetDialogState expose the session's view of the dialog
// FSM's current state, for logging and metrics; the dialog package is the
// only writer.
func (s *Session) DialogState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialogState
}

func (s *Session) SetDialogState(state string) {
	s.mu.Lock()
	s.dialogState = state
	s.mu.Unlock()
}

// ActiveResponseID and SetActiveResponseID track the model response
// currently being played out, so an interruption can tell the dialog
// client which response it is cancelling.
func (s *Session) ActiveResponseID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeResponse
}

func (s *Session) SetActiveResponseID(id string) {
	s.mu.Lock()
	s.activeResponse = id
	s.mu.Unlock()
}

// PayloadTypePCMA is the RTP payload type for G.711 A-law (RFC 3551).
// Anything else arriving on the wire is treated as already-linear PCM16.
const PayloadTypePCMA = 8

// EnqueueInboundPayload hands one arriving RTP payload off to the session's
// ingress worker without blocking the caller. The demux read loop is shared
// by every call on the socket, so handoff here must never stall waiting on
// one session's processing; if the queue is full the payload is dropped and
// logged. payload is copied, since the caller's receive buffer is reused
// for the next read.
func (s *Session) EnqueueInboundPayload(pt uint8, payload []byte) {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case s.inbound <- inboundPayload{pt: pt, payload: buf}:
		if s.metrics != nil {
			s.metrics.PacketsReceived.Inc()
		}
	default:
		s.log.Warn("dropping inbound RTP payload, ingress queue full", "payload_type", pt)
	}
}

// handleInboundPayload converts one arriving RTP payload to PCM16 — A-law
// decode when pt is PayloadTypePCMA, passed through unchanged otherwise —
// runs the barge-in VAD against it immediately (ahead of jitter-buffer
// reclocking, so a local barge-in fires as fast as possible), and enqueues
// the PCM into the ingress jitter buffer. A non-A-law payload whose length
// isn't a whole number of PCM16 samples is rejected. Called only from
// ingestLoop.
func (s *Session) handleInboundPayload(pt uint8, payload []byte) (rms float64, isSpeech, bargeIn bool, err error) {
	var pcm []byte
	if pt == PayloadTypePCMA {
		pcm = codec.DecodeALaw(payload)
	} else {
		if len(payload)%2 != 0 {
			return 0, false, false, newError(ErrorCodeCodec, s.ID, "decode inbound payload", codec.ErrOddLength)
		}
		pcm = payload
	}
	rms, isSpeech, bargeIn = s.VAD.Observe(pcm)
	s.Jitter.Push(pcm)
	return rms, isSpeech, bargeIn, nil
}

// EncodeOutboundFrame converts one 320-byte PCM16 frame popped from the
// output buffer into its A-law RTP payload.
func (s *Session) EncodeOutboundFrame(pcm []byte) ([]byte, error) {
	alaw, err := codec.EncodeALaw(pcm)
	if err != nil {
		return nil, newError(ErrorCodeCodec, s.ID, "encode outbound frame", err)
	}
	return alaw, nil
}

// Close stops the ingress worker and releases the session's buffers. The
// caller is responsible for having already stopped feeding it.
func (s *Session) Close() {
	select {
	case <-s.stopIngest:
	default:
		close(s.stopIngest)
	}
	s.ingestWG.Wait()
	s.Jitter.Close()
}
