package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/migrapass/checkgate/internal/browser"
	memorycache "github.com/migrapass/checkgate/internal/cache/memory"
	"github.com/migrapass/checkgate/internal/captcha"
	"github.com/migrapass/checkgate/internal/checks"
	"github.com/migrapass/checkgate/internal/clock/system"
	"github.com/migrapass/checkgate/internal/config"
	"github.com/migrapass/checkgate/internal/gateway"
	"github.com/migrapass/checkgate/internal/hash/sha256"
)

type fakeIDGen struct{ id string }

func (g *fakeIDGen) NewID() (string, error) { return g.id, nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	clock := system.New()
	pool := browser.New(browser.Config{}, zap.NewNop())
	t.Cleanup(pool.Close)
	solver := captcha.New(captcha.Config{}, nil, clock, zap.NewNop())

	cfg := config.Config{Server: config.ServerConfig{Port: 8080, RequestTimeoutMs: 5000}}
	registry := checks.NewRegistry(cfg, checks.Deps{
		Pool:   pool,
		Solver: solver,
		Cache:  memorycache.New(0, clock),
		Clock:  clock,
		Hasher: sha256.New(),
		Logger: zap.NewNop(),
	})

	return NewServer(registry, pool, solver, &fakeIDGen{id: "req-1"}, cfg, zap.NewNop())
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status         string            `json:"status"`
		BrowserRunning bool              `json:"browser_running"`
		Breakers       map[string]string `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ready", body.Status)
	require.False(t, body.BrowserRunning)
	require.Len(t, body.Breakers, 7)
}

func TestServer_ListChecks(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/v1/checks/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Checks []string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body.Checks, "passport")
	require.Len(t, body.Checks, 7)
}

func TestServer_RunCheck_UnknownType(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/v1/checks/visa/", `{}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RunCheck_BadJSON(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/v1/checks/passport/", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RunCheck_DisabledCheckReturnsEnvelope(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/v1/checks/passport/", `{"document_series":"4510","document_number":"123456"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result gateway.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, gateway.CheckPassport, result.Check)
	require.Equal(t, gateway.StatusUnknown, result.Status)
	require.Equal(t, gateway.SourceFallback, result.Source)
	require.NotEmpty(t, result.Warning)
}

func TestServer_InvalidateCache(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := do(t, s, http.MethodDelete, "/v1/checks/passport/cache", `{"document_number":"123456"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodDelete, "/v1/checks/visa/cache", `{}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_")
}
