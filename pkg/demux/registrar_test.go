package demux

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRegistrar(t *testing.T) (http.Handler, *Registry, *Listener) {
	t.Helper()
	registry := NewRegistry(testConfig(), nil, nil, nil)
	l, err := NewListener("127.0.0.1:0", registry, nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	return NewRegistrar(registry, l, nil), registry, l
}

func TestRegistrar_RegisterCreatesSessionAndPrimes(t *testing.T) {
	handler, registry, l := newTestRegistrar(t)

	clientConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer clientConn.Close()
	peer := clientConn.LocalAddr().(*net.UDPAddr)

	body, _ := json.Marshal(registerRequest{SessionID: "call-1", Host: peer.IP.String(), Port: peer.Port})
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := registry.BySessionID("call-1")
	require.True(t, ok)

	_ = l
	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1500)
	n, _, err := clientConn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Greater(t, n, 0)
}

func TestRegistrar_RegisterIsIdempotentOverHTTP(t *testing.T) {
	handler, registry, _ := newTestRegistrar(t)

	clientConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer clientConn.Close()
	peer := clientConn.LocalAddr().(*net.UDPAddr)

	body, _ := json.Marshal(registerRequest{SessionID: "call-1", Host: peer.IP.String(), Port: peer.Port})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.Equal(t, 1, registry.Count())
}

func TestRegistrar_UnregisterRemovesSession(t *testing.T) {
	handler, registry, _ := newTestRegistrar(t)

	clientConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer clientConn.Close()
	peer := clientConn.LocalAddr().(*net.UDPAddr)

	regBody, _ := json.Marshal(registerRequest{SessionID: "call-1", Host: peer.IP.String(), Port: peer.Port})
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(regBody))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	unregBody, _ := json.Marshal(unregisterRequest{SessionID: "call-1"})
	req2 := httptest.NewRequest(http.MethodPost, "/unregister", bytes.NewReader(unregBody))
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	require.Equal(t, http.StatusOK, rec2.Code)
	require.Equal(t, 0, registry.Count())
}

func TestRegistrar_RegisterRejectsMissingFields(t *testing.T) {
	handler, _, _ := newTestRegistrar(t)

	body, _ := json.Marshal(registerRequest{SessionID: "call-1"})
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
