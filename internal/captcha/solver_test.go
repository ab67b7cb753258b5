package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/migrapass/checkgate/internal/gateway"
)

// fakeClock sleeps instantly and can simulate the solve deadline expiring
// after a fixed number of polls.
type fakeClock struct {
	mu          sync.Mutex
	now         time.Time
	sleeps      int
	failAfter   int
	failWithErr error
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps++
	c.now = c.now.Add(d)
	if c.failAfter > 0 && c.sleeps > c.failAfter {
		return c.failWithErr
	}
	return ctx.Err()
}

type providerFixture struct {
	mu          sync.Mutex
	submitForms []map[string]string
	polls       int
	readyAfter  int
	answer      string
	submitReply string
}

func (p *providerFixture) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/in.php", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form := make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		p.mu.Lock()
		p.submitForms = append(p.submitForms, form)
		reply := p.submitReply
		p.mu.Unlock()
		if reply == "" {
			reply = `{"status":1,"request":"task-42"}`
		}
		w.Write([]byte(reply))
	})
	mux.HandleFunc("/res.php", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") == "getbalance" {
			w.Write([]byte(`{"status":1,"request":"12.34"}`))
			return
		}
		p.mu.Lock()
		p.polls++
		ready := p.polls >= p.readyAfter
		answer := p.answer
		p.mu.Unlock()
		if ready {
			w.Write([]byte(`{"status":1,"request":"` + answer + `"}`))
			return
		}
		w.Write([]byte(`{"status":0,"request":"CAPCHA_NOT_READY"}`))
	})
	return mux
}

func newTestSolver(t *testing.T, fixture *providerFixture, clock gateway.Clock) *Solver {
	t.Helper()
	srv := httptest.NewServer(fixture.handler(t))
	t.Cleanup(srv.Close)
	return New(Config{
		Enabled:      true,
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		SolveTimeout: 10 * time.Second,
		PollInterval: time.Second,
	}, srv.Client(), clock, zap.NewNop())
}

func TestSolver_DisabledShortCircuits(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, nil, &fakeClock{now: time.Now()}, zap.NewNop())

	sol := s.SolveImage(context.Background(), "aGVsbG8=")
	require.Equal(t, OutcomeDisabled, sol.Outcome)
	require.Error(t, sol.Err())
	require.Nil(t, s.Balance(context.Background()))
}

func TestSolver_EnabledRequiresKey(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, nil, &fakeClock{now: time.Now()}, zap.NewNop())
	require.False(t, s.Enabled())
}

func TestSolver_SolveImageSuccess(t *testing.T) {
	t.Parallel()
	fixture := &providerFixture{readyAfter: 2, answer: "h3ll0"}
	s := newTestSolver(t, fixture, &fakeClock{now: time.Now()})

	sol := s.SolveImage(context.Background(), "aGVsbG8=")

	require.Equal(t, OutcomeSuccess, sol.Outcome)
	require.Equal(t, "h3ll0", sol.Text)
	require.NoError(t, sol.Err())

	require.Len(t, fixture.submitForms, 1)
	form := fixture.submitForms[0]
	require.Equal(t, "base64", form["method"])
	require.Equal(t, "aGVsbG8=", form["body"])
	require.Equal(t, "test-key", form["key"])
	require.Equal(t, "1", form["json"])
}

func TestSolver_SolveRecaptchaV2(t *testing.T) {
	t.Parallel()
	fixture := &providerFixture{readyAfter: 1, answer: "g-recaptcha-token"}
	s := newTestSolver(t, fixture, &fakeClock{now: time.Now()})

	sol := s.SolveRecaptchaV2(context.Background(), "site-key", "https://example.gov/check")

	require.Equal(t, OutcomeSuccess, sol.Outcome)
	require.Equal(t, "g-recaptcha-token", sol.Text)

	form := fixture.submitForms[0]
	require.Equal(t, "userrecaptcha", form["method"])
	require.Equal(t, "site-key", form["googlekey"])
	require.Equal(t, "https://example.gov/check", form["pageurl"])
}

func TestSolver_SolveRecaptchaV3(t *testing.T) {
	t.Parallel()
	fixture := &providerFixture{readyAfter: 1, answer: "v3-token"}
	s := newTestSolver(t, fixture, &fakeClock{now: time.Now()})

	sol := s.SolveRecaptchaV3(context.Background(), "site-key", "https://example.gov/check", "submit", 0.5)

	require.Equal(t, OutcomeSuccess, sol.Outcome)
	form := fixture.submitForms[0]
	require.Equal(t, "v3", form["version"])
	require.Equal(t, "submit", form["action"])
	require.Equal(t, "0.50", form["min_score"])
}

func TestSolver_SubmitRejection(t *testing.T) {
	t.Parallel()
	fixture := &providerFixture{submitReply: `{"status":0,"request":"ERROR_ZERO_BALANCE"}`}
	s := newTestSolver(t, fixture, &fakeClock{now: time.Now()})

	sol := s.SolveImage(context.Background(), "aGVsbG8=")

	require.Equal(t, OutcomeError, sol.Outcome)
	require.Contains(t, sol.Reason, "ERROR_ZERO_BALANCE")
	var solveErr *gateway.CaptchaSolveError
	require.ErrorAs(t, sol.Err(), &solveErr)
	require.False(t, solveErr.Timeout)
}

func TestSolver_TimeoutWhileAnswerPending(t *testing.T) {
	t.Parallel()
	fixture := &providerFixture{readyAfter: 100}
	clock := &fakeClock{now: time.Now(), failAfter: 3, failWithErr: context.DeadlineExceeded}
	s := newTestSolver(t, fixture, clock)

	sol := s.SolveImage(context.Background(), "aGVsbG8=")

	require.Equal(t, OutcomeTimeout, sol.Outcome)
	var solveErr *gateway.CaptchaSolveError
	require.ErrorAs(t, sol.Err(), &solveErr)
	require.True(t, solveErr.Timeout)
}

func TestSolver_Balance(t *testing.T) {
	t.Parallel()
	fixture := &providerFixture{}
	s := newTestSolver(t, fixture, &fakeClock{now: time.Now()})

	balance := s.Balance(context.Background())
	require.NotNil(t, balance)
	require.InDelta(t, 12.34, *balance, 0.001)
}
