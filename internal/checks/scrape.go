// Package checks composes one resilience wrapper per check type and
// supplies the fetch-and-parse functions that drive the browser pool,
// the captcha solver and direct HTTP endpoints.
package checks

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/migrapass/checkgate/internal/browser"
	"github.com/migrapass/checkgate/internal/captcha"
	"github.com/migrapass/checkgate/internal/config"
	"github.com/migrapass/checkgate/internal/gateway"
)

// Extractor turns a rendered document into a check outcome. Extraction is
// deliberately pluggable: upstream layouts drift and only this function
// changes when they do.
type Extractor func(doc *goquery.Document, in gateway.Input) (gateway.Outcome, error)

// formFiller drives the upstream's search form inside a session.
type formFiller func(ctx context.Context, sess *browser.Session, in gateway.Input) error

// scrapeCheck is a browser-driven check: navigate, fill the form (solving a
// challenge when one shows up), submit, extract.
type scrapeCheck struct {
	pool    *browser.Pool
	solver  *captcha.Solver
	cfg     config.CheckConfig
	locale  string
	fill    formFiller
	extract Extractor
}

// perform runs one live attempt. The session is scoped to this call and
// closed on every path.
func (c *scrapeCheck) perform(ctx context.Context, in gateway.Input) (gateway.Outcome, error) {
	sess, err := c.pool.OpenSession(ctx, browser.SessionOptions{Locale: c.locale})
	if err != nil {
		return gateway.Outcome{}, err
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, c.cfg.ServiceURL, c.cfg.WaitSelector); err != nil {
		return gateway.Outcome{}, err
	}
	if c.fill != nil {
		if err := c.fill(ctx, sess, in); err != nil {
			return gateway.Outcome{}, err
		}
	}

	html, err := sess.HTML(ctx)
	if err != nil {
		return gateway.Outcome{}, err
	}
	doc, err := parseDoc(html)
	if err != nil {
		return gateway.Outcome{}, err
	}
	return c.extract(doc, in)
}

// Selectors shared by the government form pages this gateway targets. The
// services render the same challenge widget across their check flows.
const (
	captchaImageSelector      = "img.captcha-img, img#captcha, div.captcha img"
	captchaInputSelector      = "input[name=captcha], input#captcha-input"
	recaptchaResponseSelector = "textarea[name=g-recaptcha-response], input[name=g-recaptcha-response]"
	submitSelector            = "button[type=submit], input[type=submit]"
)

// solveChallenge handles whichever anti-bot challenge the check is known to
// carry: a reCAPTCHA when the check has a site key configured, an image
// challenge otherwise.
func solveChallenge(ctx context.Context, sess *browser.Session, solver *captcha.Solver, cfg config.CheckConfig) error {
	if cfg.CaptchaSiteKey != "" {
		if !solver.Enabled() {
			return &gateway.CaptchaSolveError{Reason: "challenge present but solver disabled"}
		}
		sol := solver.SolveRecaptchaV2(ctx, cfg.CaptchaSiteKey, cfg.ServiceURL)
		if err := sol.Err(); err != nil {
			return err
		}
		return sess.SetValue(ctx, recaptchaResponseSelector, sol.Text)
	}
	return solveImageChallenge(ctx, sess, solver)
}

// solveImageChallenge detects an image challenge on the current page,
// captures it, asks the solver for an answer and types it in. Absence of a
// challenge is not an error.
func solveImageChallenge(ctx context.Context, sess *browser.Session, solver *captcha.Solver) error {
	png, err := sess.Screenshot(ctx, captchaImageSelector)
	if err != nil {
		return err
	}
	if png == nil {
		return nil
	}
	if !solver.Enabled() {
		return &gateway.CaptchaSolveError{Reason: "challenge present but solver disabled"}
	}

	sol := solver.SolveImage(ctx, base64.StdEncoding.EncodeToString(png))
	if err := sol.Err(); err != nil {
		return err
	}
	return sess.SendKeys(ctx, captchaInputSelector, sol.Text)
}

// parseDoc builds a goquery document from rendered markup.
func parseDoc(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &gateway.ParseError{Reason: "malformed document", Err: err}
	}
	return doc, nil
}

// pageContains reports whether the page text includes any of the phrases,
// case-insensitively.
func pageContains(doc *goquery.Document, phrases ...string) bool {
	text := strings.ToLower(doc.Text())
	for _, p := range phrases {
		if strings.Contains(text, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// cellText returns trimmed text of the i-th cell in a row selection.
func cellText(row *goquery.Selection, i int) string {
	return strings.TrimSpace(row.Find("td").Eq(i).Text())
}
