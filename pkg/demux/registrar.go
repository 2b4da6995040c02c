package demux

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arzzra/voicebridge/pkg/rtpio"
)

// primingPayload is one frame of A-law silence, sent the moment a session
// registers.
var primingPayload = func() []byte {
	p := make([]byte, 160)
	for i := range p {
		p[i] = 0xD5
	}
	return p
}()

type registerRequest struct {
	SessionID string `json:"session_id"`
	Host string `json:"host"`
	Port int `json:"port"`
}

type registerResponse struct {
	SessionID string `json:"session_id"`
	Status string `json:"status"`
}

type unregisterRequest struct {
	SessionID string `json:"session_id"`
}

// Registrar exposes the call-control-facing HTTP surface: register a
// session's peer address before RTP ever arrives, and unregister it on
// teardown. It is a thin chi router; all state lives in the Registry.
type Registrar struct {
	registry *Registry
	listener *Listener
	log *slog.Logger
}

// NewRegistrar builds the router. listener supplies the shared socket the
// priming packet goes out on.
func NewRegistrar(registry *Registry, listener *Listener, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	reg := &Registrar{registry: registry, listener: listener, log: log}

	r := chi.NewRouter()
	r.Post("/register", reg.handleRegister)
	r.Post("/unregister", reg.handleUnregister)
	return r
}

func (reg *Registrar) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Host == "" || req.Port == 0 {
		http.Error(w, "session_id, host and port are required", http.StatusBadRequest)
		return
	}

	peer := &net.UDPAddr{IP: net.ParseIP(req.Host), Port: req.Port}
	if peer.IP == nil {
		http.Error(w, "host is not a valid IP address", http.StatusBadRequest)
		return
	}

	sess, created := reg.registry.Register(req.SessionID, peer, rand.Uint32())
	reg.log.Info("session registered", "session_id", sess.ID, "peer", peer, "new", created)

	if created {
		reg.sendPrimingPacket(sess.ID, peer)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(registerResponse{SessionID: sess.ID, Status: "registered"})
}

func (reg *Registrar) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var req unregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, ok := reg.registry.Unregister(req.SessionID)
	if ok {
		sess.Close()
		reg.log.Info("session unregistered", "session_id", req.SessionID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(registerResponse{SessionID: req.SessionID, Status: "unregistered"})
}

func (reg *Registrar) sendPrimingPacket(sessionID string, peer *net.UDPAddr) {
	sess, ok := reg.registry.BySessionID(sessionID)
	if !ok {
		return
	}
	seq, ts, ssrc := sess.NextRTPMeta()
	packet := rtpio.BuildPacket(8, seq, ts, ssrc, primingPayload)
	data, err := packet.Marshal()
	if err != nil {
		reg.log.Warn("failed to marshal priming packet", "session_id", sessionID, "error", err)
		return
	}
	if _, err := reg.listener.Conn().WriteToUDP(data, peer); err != nil {
		reg.log.Warn("failed to send priming packet", "session_id", sessionID, "error", err)
	}
}
