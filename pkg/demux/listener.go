package demux

import (
	"bytes"
	"context"
	"log/slog"
	"math/rand/v2"
	"net"

	"github.com/google/uuid"

	"github.com/arzzra/voicebridge/pkg/rtpio"
)

// selfTestSentinel is the payload prefix a PBX health check sends to prove
// the UDP socket is alive without it being mistaken for an RTP packet.
// Only honored from loopback, matching the original probe's intent.
var selfTestSentinel = []byte("TEST-UDP-SELF")

// Listener owns the single UDP socket every call's RTP arrives on and
// routes each packet to its session by peer address. It is the
// only reader of the socket; sends go through each session's own
// rtpio.PacedSender writing to the same *net.UDPConn. Barge-in detection
// itself happens off this goroutine, in each session's own ingress worker
// (see media.Session.EnqueueInboundPayload) — the read loop here only
// demultiplexes and hands payloads off, never blocking on one call's
// processing.
type Listener struct {
	conn *net.UDPConn
	registry *Registry
	log *slog.Logger

	bufferSize int
}

// NewListener binds the shared UDP socket at addr.
func NewListener(addr string, registry *Registry, log *slog.Logger) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		conn: conn,
		registry: registry,
		log: log,
		bufferSize: 1500,
	}, nil
}

// Conn exposes the shared socket so paced senders can write through it.
func (l *Listener) Conn() *net.UDPConn { return l.conn }

// Close releases the socket.
func (l *Listener) Close() error { return l.conn.Close() }

// Run reads packets until ctx is cancelled or the socket closes. It never
// returns an error for a single malformed or unroutable packet — those are
// logged and dropped instead, since a bad peer should never take down the
// whole listener.
func (l *Listener) Run(ctx context.Context) error {
	buf := make([]byte, l.bufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, peer, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}

		l.handlePacket(peer, buf[:n])
	}
}

func (l *Listener) handlePacket(peer *net.UDPAddr, data []byte) {
	if peer.IP.IsLoopback() && bytes.HasPrefix(data, selfTestSentinel) {
		return
	}

	sess, ok := l.registry.ByPeer(peer)
	if !ok {
		// No prior /register call bound this peer — a PBX can start
		// sending RTP without a pre-registration handshake, so a session
		// is lazily created for it here rather than dropped.
		sessionID := uuid.NewString()
		sess, _ = l.registry.Register(sessionID, peer, rand.Uint32())
		l.log.Info("lazily created session for unregistered peer", "peer", peer, "session_id", sessionID)
	}

	packet, err := rtpio.ParsePacket(data)
	if err != nil {
		l.log.Warn("dropping unparseable RTP packet", "peer", peer, "error", err)
		return
	}

	sess.LatchInbound(packet.PayloadType, packet.SSRC)
	latchedPT, _, _ := sess.InboundMeta()
	sess.EnqueueInboundPayload(latchedPT, packet.Payload)
}
