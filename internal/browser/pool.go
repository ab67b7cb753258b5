// Package browser owns the shared headless Chrome process and hands out
// isolated browsing sessions for scrape-based checks.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/migrapass/checkgate/internal/gateway"
)

// ErrPoolClosed indicates the pool has been shut down.
var ErrPoolClosed = errors.New("browser pool closed")

// Config controls browser behavior and per-page defaults.
type Config struct {
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
	SettleDelay       time.Duration
	MaxParallel       int
	HostQPS           float64
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.SelectorTimeout <= 0 {
		c.SelectorTimeout = 10 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
	return c
}

// Pool lazily launches one shared Chrome process and creates isolated
// sessions from it. Safe for concurrent use; only the first launch is
// serialized.
type Pool struct {
	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closed        bool

	sem          chan struct{}
	hostLimiters sync.Map
}

// New creates a Pool. The browser process is not started until the first
// session is requested.
func New(cfg Config, logger *zap.Logger) *Pool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	var sem chan struct{}
	if cfg.MaxParallel > 0 {
		sem = make(chan struct{}, cfg.MaxParallel)
	}
	return &Pool{cfg: cfg, logger: logger, sem: sem}
}

// browser returns the shared browser context, launching the process on
// first use. Concurrent first callers block on the mutex and reuse the
// handle launched by the winner.
func (p *Pool) browser() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if p.browserCtx != nil {
		return p.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.UserAgent(p.cfg.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	p.logger.Info("browser launched", zap.Bool("headless", p.cfg.Headless))
	p.allocCancel = allocCancel
	p.browserCtx = browserCtx
	p.browserCancel = browserCancel
	return p.browserCtx, nil
}

// Running reports whether the shared browser process has been launched.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.browserCtx != nil && !p.closed
}

// FetchRenderedHTML navigates a fresh isolated session to url, waits for
// rendering and returns the full markup. The session is always closed, on
// success and failure paths alike.
func (p *Pool) FetchRenderedHTML(ctx context.Context, rawURL, waitSelector string) (string, error) {
	sess, err := p.OpenSession(ctx, SessionOptions{})
	if err != nil {
		return "", err
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, rawURL, waitSelector); err != nil {
		return "", err
	}
	return sess.HTML(ctx)
}

// Close tears down the shared browser if one is running. Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.browserCancel != nil {
		p.browserCancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	p.browserCtx = nil
	p.logger.Info("browser pool closed")
}

func (p *Pool) acquireSlot(ctx context.Context) (func(), error) {
	if p.sem == nil {
		return func() {}, nil
	}
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, nil
	case <-ctx.Done():
		return nil, gateway.Transient("acquire browser slot", ctx.Err())
	}
}

// waitHostBudget enforces the per-host QPS budget before a navigation.
func (p *Pool) waitHostBudget(ctx context.Context, rawURL string) error {
	if p.cfg.HostQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := p.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(p.cfg.HostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return gateway.Transient("wait host budget", err)
	}
	return nil
}

// forwardCancel propagates cancellation from the caller's context into a
// chromedp task context, and returns a stop func for the success path.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
