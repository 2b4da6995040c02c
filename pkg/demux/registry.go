// Package demux implements the telephony-facing side of the bridge: a
// single shared UDP socket multiplexing many calls by peer address, and
// the HTTP registrar that pre-binds a session ID to a peer address before
// that peer's first RTP packet ever arrives.
package demux

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/arzzra/voicebridge/internal/metrics"
	"github.com/arzzra/voicebridge/pkg/media"
)

// Registry is the shared session table keyed two ways: by the peer
// address RTP actually arrives from, and by the session ID the call
// control layer assigned. Both the registrar (writer) and the demux read
// loop (reader, and writer when it lazily creates a session) use it
// concurrently, so every access is mutex-guarded —
// it is the one piece of state genuinely shared across goroutines rather
// than owned by a single one.
type Registry struct {
	mu sync.RWMutex
	byPeer map[string]*media.Session
	bySessionID map[string]*media.Session

	sessionConfig media.Config
	onBargeIn func(sessionID string)
	metrics *metrics.Collector
	log *slog.Logger

	onCreated func(*media.Session)
	onClosed func(sessionID string)
}

// NewRegistry constructs an empty registry. sessionConfig is applied to
// every session it creates; onBargeIn is wired into each session's own
// ingress worker and may be nil. m may be nil.
func NewRegistry(sessionConfig media.Config, onBargeIn func(sessionID string), m *metrics.Collector, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		byPeer: make(map[string]*media.Session),
		bySessionID: make(map[string]*media.Session),
		sessionConfig: sessionConfig,
		onBargeIn: onBargeIn,
		metrics: m,
		log: log,
	}
}

// Register binds sessionID to peer, creating the session if it doesn't
// exist yet. Calling it again with the same ID and address is a no-op
// that returns the existing session (idempotent) — re-registering
// under a new address updates the peer binding, which covers a PBX
// retrying registration after a NAT rebind.
func (r *Registry) Register(sessionID string, peer *net.UDPAddr, ssrcOut uint32) (sess *media.Session, created bool) {
	r.mu.Lock()

	if existing, ok := r.bySessionID[sessionID]; ok {
		if existing.PeerAddr.String() != peer.String() {
			delete(r.byPeer, existing.PeerAddr.String())
			existing.PeerAddr = peer
			r.byPeer[peer.String()] = existing
		}
		r.mu.Unlock()
		return existing, false
	}

	sess = media.NewSession(sessionID, peer, ssrcOut, r.sessionConfig, r.onBargeIn, r.metrics, r.log)
	r.bySessionID[sessionID] = sess
	r.byPeer[peer.String()] = sess
	onCreated := r.onCreated
	r.mu.Unlock()

	if onCreated != nil {
		onCreated(sess)
	}
	return sess, true
}

// Unregister removes a session from both indices and returns it so the
// caller can close its buffers and stop its paced sender. Unregistering an
// unknown session ID is a no-op, matching the idempotent contract of
// Register.
func (r *Registry) Unregister(sessionID string) (*media.Session, bool) {
	r.mu.Lock()

	sess, ok := r.bySessionID[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.bySessionID, sessionID)
	delete(r.byPeer, sess.PeerAddr.String())
	onClosed := r.onClosed
	r.mu.Unlock()

	if onClosed != nil {
		onClosed(sessionID)
	}
	return sess, true
}

// ByPeer looks up the session currently bound to a peer address — the hot
// path the demux read loop calls for every inbound packet.
func (r *Registry) ByPeer(peer *net.UDPAddr) (*media.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byPeer[peer.String()]
	return sess, ok
}

// BySessionID looks up a session by its call-control-assigned ID.
func (r *Registry) BySessionID(sessionID string) (*media.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.bySessionID[sessionID]
	return sess, ok
}

// OnSessionCreated registers a callback invoked every time Register
// creates a brand-new session, after it's visible in both indices — the
// orchestrator uses this to connect that session's dialog client and
// start its paced sender.
func (r *Registry) OnSessionCreated(fn func(*media.Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCreated = fn
}

// OnSessionClosed registers a callback invoked every time Unregister
// removes a session, before it tears its own buffers down — the
// orchestrator uses this to stop that session's dialog client and sender.
func (r *Registry) OnSessionClosed(fn func(sessionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClosed = fn
}

// Count reports the number of active sessions, for the health endpoint.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySessionID)
}

// ErrUnknownSession is returned by operations that require an existing
// session when none is registered under the given ID.
type ErrUnknownSession struct{ SessionID string }

func (e *ErrUnknownSession) Error() string {
	return fmt.Sprintf("demux: no session registered for %q", e.SessionID)
}
