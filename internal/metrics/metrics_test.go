package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObservationHelpersDoNotPanic(t *testing.T) {
	ObserveCheck("passport", "live", "valid", 250*time.Millisecond)
	ObserveCheck("passport", "cache", "valid", 0)
	ObserveRetry("debt")
	ObserveCacheEvent("debt", "hit")
	ObserveCacheEvent("debt", "stale_fallback")
	SetBreakerPhase("fines", "closed")
	SetBreakerPhase("fines", "half_open")
	SetBreakerPhase("fines", "open")
	ObserveCaptchaSolve("image", "success")
	IncBrowserSessions()
	DecBrowserSessions()
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveCheck("entry_ban", "live", "not_found", time.Second)
	SetBreakerPhase("entry_ban", "closed")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "checkgate_checks_total")
	require.Contains(t, body, "checkgate_breaker_phase")
}
