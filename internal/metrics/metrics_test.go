package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_HealthzReportsActiveCalls(t *testing.T) {
	c := NewCollector("voicebridge_test", func() int { return 3 })
	handler := c.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active_calls":3`)
}

func TestCollector_MetricsEndpointExportsRegisteredCounters(t *testing.T) {
	c := NewCollector("voicebridge_test2", nil)
	c.PacketsSent.Add(5)

	handler := c.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "packets_sent_total")
}

func TestNewCollector_CanBeConstructedMultipleTimes(t *testing.T) {
	c1 := NewCollector("voicebridge_multi1", nil)
	c2 := NewCollector("voicebridge_multi2", nil)
	assert.NotNil(t, c1)
	assert.NotNil(t, c2)
}
