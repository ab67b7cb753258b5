package browser

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/migrapass/checkgate/internal/gateway"
	"github.com/migrapass/checkgate/internal/metrics"
)

// SessionOptions customizes the isolated browsing context.
type SessionOptions struct {
	Locale       string
	UserAgent    string
	ExtraHeaders http.Header
}

// Session is an isolated browsing context with its own cookie jar, owned by
// exactly one in-flight check. It is destroyed on completion or error and
// never reused, so challenge cookies cannot leak between checks.
type Session struct {
	pool      *Pool
	tabCtx    context.Context
	tabCancel context.CancelFunc
	contextID cdp.BrowserContextID
	release   func()
	closeOnce sync.Once
	logger    *zap.Logger
}

// OpenSession creates a fresh isolated context and a page inside it. The
// caller must Close the session on every path.
func (p *Pool) OpenSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	release, err := p.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}

	browserCtx, err := p.browser()
	if err != nil {
		release()
		return nil, err
	}

	c := chromedp.FromContext(browserCtx)
	execCtx := cdp.WithExecutor(browserCtx, c.Browser)

	contextID, err := target.CreateBrowserContext().WithDisposeOnDetach(true).Do(execCtx)
	if err != nil {
		release()
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	targetID, err := target.CreateTarget("about:blank").WithBrowserContextID(contextID).Do(execCtx)
	if err != nil {
		release()
		return nil, fmt.Errorf("create target: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(targetID))

	sess := &Session{
		pool:      p,
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
		contextID: contextID,
		release:   release,
		logger:    p.logger,
	}
	if err := sess.setup(ctx, opts); err != nil {
		sess.Close()
		return nil, err
	}
	metrics.IncBrowserSessions()
	return sess, nil
}

func (s *Session) setup(ctx context.Context, opts SessionOptions) error {
	ua := opts.UserAgent
	if ua == "" {
		ua = s.pool.cfg.UserAgent
	}
	uaAction := emulation.SetUserAgentOverride(ua)
	if opts.Locale != "" {
		uaAction = uaAction.WithAcceptLanguage(opts.Locale)
	}
	actions := chromedp.Tasks{
		network.Enable(),
		uaAction,
	}
	if len(opts.ExtraHeaders) > 0 {
		actions = append(actions, network.SetExtraHTTPHeaders(toNetworkHeaders(opts.ExtraHeaders)))
	}
	if err := s.run(ctx, s.pool.cfg.NavigationTimeout, actions); err != nil {
		return fmt.Errorf("session setup: %w", err)
	}
	return nil
}

// Navigate loads rawURL, waits for the body and, when waitSelector is set,
// for that selector. A missing selector is logged and tolerated: optional
// confirmation banners are frequently absent.
func (s *Session) Navigate(ctx context.Context, rawURL, waitSelector string) error {
	if err := s.pool.waitHostBudget(ctx, rawURL); err != nil {
		return err
	}

	nav := chromedp.Tasks{
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := s.run(ctx, s.pool.cfg.NavigationTimeout, nav); err != nil {
		return gateway.Transient("navigate", err)
	}

	if waitSelector != "" {
		wait := chromedp.Tasks{chromedp.WaitVisible(waitSelector, chromedp.ByQuery)}
		if err := s.run(ctx, s.pool.cfg.SelectorTimeout, wait); err != nil {
			s.logger.Warn("wait selector not found, continuing",
				zap.String("url", rawURL),
				zap.String("selector", waitSelector),
			)
		}
	}

	settle := chromedp.Tasks{chromedp.Sleep(s.pool.cfg.SettleDelay)}
	if err := s.run(ctx, s.pool.cfg.NavigationTimeout, settle); err != nil {
		return gateway.Transient("settle", err)
	}
	return nil
}

// HTML returns the current rendered markup of the page.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	actions := chromedp.Tasks{chromedp.OuterHTML("html", &html, chromedp.ByQuery)}
	if err := s.run(ctx, s.pool.cfg.NavigationTimeout, actions); err != nil {
		return "", gateway.Transient("outer html", err)
	}
	return html, nil
}

// Screenshot captures a PNG of the named element, or the full page when
// selector is empty. Returns nil bytes without error if the element cannot
// be located within the selector timeout.
func (s *Session) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	var actions chromedp.Tasks
	if selector == "" {
		actions = chromedp.Tasks{chromedp.CaptureScreenshot(&buf)}
	} else {
		actions = chromedp.Tasks{chromedp.Screenshot(selector, &buf, chromedp.NodeVisible, chromedp.ByQuery)}
	}
	if err := s.run(ctx, s.pool.cfg.SelectorTimeout, actions); err != nil {
		if selector != "" {
			s.logger.Warn("screenshot element not found", zap.String("selector", selector))
			return nil, nil
		}
		return nil, gateway.Transient("screenshot", err)
	}
	return buf, nil
}

// SendKeys focuses selector and types value into it.
func (s *Session) SendKeys(ctx context.Context, selector, value string) error {
	actions := chromedp.Tasks{
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	}
	if err := s.run(ctx, s.pool.cfg.SelectorTimeout, actions); err != nil {
		return gateway.Transient("send keys", err)
	}
	return nil
}

// SetValue writes value directly into the first element matching selector,
// without keystroke emulation. Used for hidden challenge-response fields.
func (s *Session) SetValue(ctx context.Context, selector, value string) error {
	actions := chromedp.Tasks{chromedp.SetValue(selector, value, chromedp.ByQuery)}
	if err := s.run(ctx, s.pool.cfg.SelectorTimeout, actions); err != nil {
		return gateway.Transient("set value", err)
	}
	return nil
}

// Click clicks the first element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	actions := chromedp.Tasks{
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	}
	if err := s.run(ctx, s.pool.cfg.SelectorTimeout, actions); err != nil {
		return gateway.Transient("click", err)
	}
	return nil
}

// Visible reports whether selector shows up within the given wait.
func (s *Session) Visible(ctx context.Context, selector string, within time.Duration) bool {
	if within <= 0 {
		within = s.pool.cfg.SelectorTimeout
	}
	actions := chromedp.Tasks{chromedp.WaitVisible(selector, chromedp.ByQuery)}
	return s.run(ctx, within, actions) == nil
}

// run executes actions on the session page under a hard timeout, honoring
// cancellation from the caller's context.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions chromedp.Tasks) error {
	taskCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()

	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(taskCtx, actions); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Close disposes the isolated context and releases the parallelism slot.
// Safe to call multiple times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		disposeCtx, cancel := context.WithTimeout(s.tabCtx, 5*time.Second)
		if err := chromedp.Run(disposeCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			return target.DisposeBrowserContext(s.contextID).Do(ctx)
		})); err != nil {
			s.logger.Debug("dispose browser context", zap.Error(err))
		}
		cancel()
		s.tabCancel()
		s.release()
		metrics.DecBrowserSessions()
	})
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
