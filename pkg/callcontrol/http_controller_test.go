package callcontrol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPController_CreateBridgeReturnsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bridges", r.URL.Path)
		json.NewEncoder(w).Encode(Bridge{ID: "bridge-1"})
	}))
	defer srv.Close()

	c := NewHTTPController(srv.URL, nil, nil)
	defer c.Close()

	b, err := c.CreateBridge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bridge-1", b.ID)
}

func TestHTTPController_CreateExternalMediaChannelCarriesSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Channel{ID: "chan-1"})
	}))
	defer srv.Close()

	c := NewHTTPController(srv.URL, nil, nil)
	defer c.Close()

	ch, err := c.CreateExternalMediaChannel(context.Background(), "sess-1", "127.0.0.1", 40000)
	require.NoError(t, err)
	assert.Equal(t, "chan-1", ch.ID)
	assert.Equal(t, "sess-1", ch.SessionID)
}

func TestHTTPController_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPController(srv.URL, nil, nil)
	defer c.Close()

	_, err := c.CreateBridge(context.Background())
	assert.Error(t, err)
}

func TestHTTPController_PushEventDeliversToChannel(t *testing.T) {
	c := NewHTTPController("http://example.invalid", nil, nil)
	defer c.Close()

	c.PushEvent(Event{Kind: EventChannelArrived, ChannelID: "chan-1"})

	ev := <-c.Events()
	assert.Equal(t, EventChannelArrived, ev.Kind)
}
