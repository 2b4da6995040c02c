package rtpio

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/arzzra/voicebridge/internal/metrics"
	"github.com/arzzra/voicebridge/pkg/media"
)

// emptyQueueLivenessWindow is how long the output buffer may sit empty
// before the sender logs a liveness warning — a persistently empty queue
// usually means the dialog client has stalled, not that the caller is
// being polite.
const emptyQueueLivenessWindow = time.Second

// PacketWriter is the subset of *net.UDPConn the paced sender needs,
// narrowed so tests can substitute a recorder.
type PacketWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// PacedSender pulls frames from one session's output buffer and writes
// RTP packets to its peer at a steady 20ms cadence. One sender instance
// owns one session's transmit path; seq_out, ts_out and ssrc_out are
// allocated through media.Session.NextRTPMeta, which the registrar's
// priming packet also draws on.
type PacedSender struct {
	conn PacketWriter
	session *media.Session
	payloadType uint8

	stopCh chan struct{}
	wg sync.WaitGroup
	log *slog.Logger
	metrics *metrics.Collector

	emptySince time.Time
	warned bool
}

// NewPacedSender constructs a sender for one session. payloadType is the
// RTP payload type to stamp on outbound packets (8, for PCMA, unless the
// inbound leg latched something else and the bridge is asked to mirror it).
// m may be nil.
func NewPacedSender(conn PacketWriter, session *media.Session, payloadType uint8, m *metrics.Collector, log *slog.Logger) *PacedSender {
	if log == nil {
		log = slog.Default()
	}
	return &PacedSender{
		conn: conn,
		session: session,
		payloadType: payloadType,
		stopCh: make(chan struct{}),
		log: log.With("session_id", session.ID),
		metrics: m,
	}
}

// Start launches the pacing loop in its own goroutine.
func (s *PacedSender) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop halts the pacing loop and waits for it to exit.
func (s *PacedSender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *PacedSender) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(media.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sendOne()
		}
	}
}

func (s *PacedSender) sendOne() {
	frame, ok := s.session.Output.Pop()
	if !ok {
		s.noteEmpty()
		return
	}
	s.emptySince = time.Time{}
	s.warned = false
	s.sendFrame(frame)
}

func (s *PacedSender) sendFrame(frame []byte) {
	payload, err := s.session.EncodeOutboundFrame(frame)
	if err != nil {
		s.log.Error("failed to encode outbound frame", "error", err)
		return
	}

	seq, ts, ssrc := s.session.NextRTPMeta()
	packet := BuildPacket(s.payloadType, seq, ts, ssrc, payload)

	data, err := packet.Marshal()
	if err != nil {
		s.log.Error("failed to marshal RTP packet", "error", err)
		return
	}

	if _, err := s.conn.WriteToUDP(data, s.session.PeerAddr); err != nil {
		s.log.Warn("failed to write RTP packet", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.PacketsSent.Inc()
	}
}

// DrainAndSend flushes every complete frame still queued in the session's
// output buffer out as RTP packets, in order, before teardown — unlike
// the pacing loop this sends back-to-back with no 20ms cadence, since the
// call is ending and nothing is listening for real-time pacing anymore.
func (s *PacedSender) DrainAndSend() {
	for _, frame := range s.session.Output.DrainAndPop() {
		s.sendFrame(frame)
	}
}

func (s *PacedSender) noteEmpty() {
	if s.emptySince.IsZero() {
		s.emptySince = time.Now()
		return
	}
	if !s.warned && time.Since(s.emptySince) >= emptyQueueLivenessWindow {
		s.warned = true
		s.log.Warn("output buffer has been empty for over a second, pausing emission",
			"since", s.emptySince)
	}
}
