// Package captcha offloads anti-bot challenges to a third-party solving
// service using the rucaptcha/2captcha submit-and-poll wire protocol.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/migrapass/checkgate/internal/gateway"
	"github.com/migrapass/checkgate/internal/metrics"
)

// Outcome tags how a solve attempt ended.
type Outcome string

// Solve outcomes. Timeout and error are retryable by the resilience
// wrapper; disabled means the adapter should not have been called.
const (
	OutcomeSuccess  Outcome = "success"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeDisabled Outcome = "disabled"
	OutcomeError    Outcome = "error"
)

// Solution is the adapter's tagged result. Solver methods never return
// errors; callers branch on Outcome.
type Solution struct {
	Outcome Outcome
	Text    string
	Reason  string
}

// Err converts a non-success solution into the wrapper's error taxonomy.
func (s Solution) Err() error {
	switch s.Outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeTimeout:
		return &gateway.CaptchaSolveError{Timeout: true}
	case OutcomeDisabled:
		return &gateway.CaptchaSolveError{Reason: "solver disabled"}
	default:
		return &gateway.CaptchaSolveError{Reason: s.Reason}
	}
}

// Config controls the provider connection.
type Config struct {
	Enabled      bool
	APIKey       string
	BaseURL      string
	SolveTimeout time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://rucaptcha.com"
	}
	if c.SolveTimeout <= 0 {
		c.SolveTimeout = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

// Solver submits challenges to the provider and polls for answers, bounded
// by the configured solve timeout.
type Solver struct {
	cfg    Config
	client *http.Client
	clock  gateway.Clock
	logger *zap.Logger
}

// New constructs a Solver. A nil client gets a default with a sane
// per-request timeout.
func New(cfg Config, client *http.Client, clock gateway.Clock, logger *zap.Logger) *Solver {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{cfg: cfg, client: client, clock: clock, logger: logger}
}

// Enabled reports whether solving is turned on and a credential is present.
func (s *Solver) Enabled() bool {
	return s.cfg.Enabled && s.cfg.APIKey != ""
}

// SolveImage submits a base64-encoded challenge image.
func (s *Solver) SolveImage(ctx context.Context, base64Image string) Solution {
	form := url.Values{}
	form.Set("method", "base64")
	form.Set("body", base64Image)
	return s.solve(ctx, "image", form)
}

// SolveRecaptchaV2 submits a reCAPTCHA v2 challenge for the given site.
func (s *Solver) SolveRecaptchaV2(ctx context.Context, siteKey, pageURL string) Solution {
	form := url.Values{}
	form.Set("method", "userrecaptcha")
	form.Set("googlekey", siteKey)
	form.Set("pageurl", pageURL)
	return s.solve(ctx, "recaptcha_v2", form)
}

// SolveRecaptchaV3 submits a reCAPTCHA v3 challenge with the expected
// action and minimum score.
func (s *Solver) SolveRecaptchaV3(ctx context.Context, siteKey, pageURL, action string, minScore float64) Solution {
	form := url.Values{}
	form.Set("method", "userrecaptcha")
	form.Set("version", "v3")
	form.Set("googlekey", siteKey)
	form.Set("pageurl", pageURL)
	form.Set("action", action)
	form.Set("min_score", strconv.FormatFloat(minScore, 'f', 2, 64))
	return s.solve(ctx, "recaptcha_v3", form)
}

// Balance queries remaining solving credits. Advisory only: returns nil on
// any failure instead of propagating it.
func (s *Solver) Balance(ctx context.Context) *float64 {
	if !s.Enabled() {
		return nil
	}
	body, err := s.get(ctx, s.resURL(url.Values{"action": []string{"getbalance"}}))
	if err != nil {
		s.logger.Debug("balance query failed", zap.Error(err))
		return nil
	}
	var resp providerResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Status != 1 {
		return nil
	}
	balance, err := strconv.ParseFloat(resp.Request, 64)
	if err != nil {
		return nil
	}
	return &balance
}

func (s *Solver) solve(ctx context.Context, kind string, form url.Values) Solution {
	if !s.Enabled() {
		metrics.ObserveCaptchaSolve(kind, string(OutcomeDisabled))
		return Solution{Outcome: OutcomeDisabled}
	}

	solveCtx, cancel := context.WithTimeout(ctx, s.cfg.SolveTimeout)
	defer cancel()

	taskID, err := s.submit(solveCtx, form)
	if err != nil {
		return s.finish(kind, s.classify(solveCtx, err))
	}

	for {
		if err := s.clock.Sleep(solveCtx, s.cfg.PollInterval); err != nil {
			return s.finish(kind, s.classify(solveCtx, err))
		}
		answer, ready, err := s.poll(solveCtx, taskID)
		if err != nil {
			return s.finish(kind, s.classify(solveCtx, err))
		}
		if ready {
			return s.finish(kind, Solution{Outcome: OutcomeSuccess, Text: answer})
		}
	}
}

func (s *Solver) finish(kind string, sol Solution) Solution {
	metrics.ObserveCaptchaSolve(kind, string(sol.Outcome))
	if sol.Outcome != OutcomeSuccess {
		s.logger.Warn("captcha solve failed",
			zap.String("kind", kind),
			zap.String("outcome", string(sol.Outcome)),
			zap.String("reason", sol.Reason),
		)
	}
	return sol
}

// classify maps transport/provider failures to timeout vs. error outcomes.
func (s *Solver) classify(ctx context.Context, err error) Solution {
	if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return Solution{Outcome: OutcomeTimeout}
	}
	return Solution{Outcome: OutcomeError, Reason: err.Error()}
}

type providerResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// submit posts the challenge and returns the provider task id.
func (s *Solver) submit(ctx context.Context, form url.Values) (string, error) {
	form.Set("key", s.cfg.APIKey)
	form.Set("json", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := s.do(req)
	if err != nil {
		return "", err
	}
	var resp providerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if resp.Status != 1 {
		return "", fmt.Errorf("provider rejected challenge: %s", resp.Request)
	}
	return resp.Request, nil
}

// poll asks for the answer; ready is false while the provider is still
// working on it.
func (s *Solver) poll(ctx context.Context, taskID string) (string, bool, error) {
	body, err := s.get(ctx, s.resURL(url.Values{"action": []string{"get"}, "id": []string{taskID}}))
	if err != nil {
		return "", false, err
	}
	var resp providerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false, fmt.Errorf("decode poll response: %w", err)
	}
	if resp.Status == 1 {
		return resp.Request, true, nil
	}
	if resp.Request == "CAPCHA_NOT_READY" {
		return "", false, nil
	}
	return "", false, fmt.Errorf("provider error: %s", resp.Request)
}

func (s *Solver) resURL(extra url.Values) string {
	q := url.Values{}
	q.Set("key", s.cfg.APIKey)
	q.Set("json", "1")
	for k, vs := range extra {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	return s.cfg.BaseURL + "/res.php?" + q.Encode()
}

func (s *Solver) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return s.do(req)
}

func (s *Solver) do(req *http.Request) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	return body, nil
}
