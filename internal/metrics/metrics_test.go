package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserversIncrementExposedMetrics(t *testing.T) {
	m := New()

	m.ObservePublish(3)
	m.ObserveFetch()
	m.ObserveAck()
	m.ObserveFail()

	body := scrape(t, m)

	assert.Contains(t, body, "syncd_engine_publishes_total 1")
	assert.Contains(t, body, "syncd_engine_fetches_total 1")
	assert.Contains(t, body, "syncd_engine_acks_total 1")
	assert.Contains(t, body, "syncd_engine_fails_total 1")
	assert.Contains(t, body, "syncd_engine_fanout_recipients")
}

func TestHandlerServesValidExpositionFormat(t *testing.T) {
	m := New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return strings.ReplaceAll(rec.Body.String(), "\n\n", "\n")
}
