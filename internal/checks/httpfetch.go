package checks

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/migrapass/checkgate/internal/gateway"
)

// httpFetcher performs direct HTTP calls for checks whose upstream exposes
// a stable endpoint and needs no JS rendering.
type httpFetcher struct {
	userAgent     string
	timeout       time.Duration
	baseCollector *colly.Collector
}

func newHTTPFetcher(userAgent string, timeout time.Duration) *httpFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &httpFetcher{
		userAgent:     userAgent,
		timeout:       timeout,
		baseCollector: c,
	}
}

// Get fetches rawURL and returns the response body.
func (f *httpFetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return f.visit(ctx, rawURL, nil)
}

// PostForm submits form data to rawURL and returns the response body.
func (f *httpFetcher) PostForm(ctx context.Context, rawURL string, form map[string]string) ([]byte, error) {
	return f.visit(ctx, rawURL, form)
}

func (f *httpFetcher) visit(ctx context.Context, rawURL string, form map[string]string) ([]byte, error) {
	collector := f.baseCollector.Clone()
	if f.userAgent != "" {
		collector.UserAgent = f.userAgent
	}
	collector.SetRequestTimeout(f.timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		if form != nil {
			done <- collector.Post(rawURL, form)
			return
		}
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, gateway.Transient("http fetch", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, gateway.Transient("http fetch", err)
		}
		if fetchErr != nil {
			return nil, gateway.Transient("http fetch", fetchErr)
		}
		return body, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
