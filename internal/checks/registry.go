package checks

import (
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/migrapass/checkgate/internal/browser"
	"github.com/migrapass/checkgate/internal/captcha"
	"github.com/migrapass/checkgate/internal/config"
	"github.com/migrapass/checkgate/internal/gateway"
)

// Deps holds the shared collaborators injected into every check.
type Deps struct {
	Pool      *browser.Pool
	Solver    *captcha.Solver
	Cache     gateway.Cache
	Clock     gateway.Clock
	Hasher    gateway.Hasher
	Logger    *zap.Logger
	UserAgent string
	Locale    string
}

// Registry owns one configured resilience wrapper per check type. Adding a
// check type means registering another (config, perform) pair here; the
// wrapper and breaker logic stay untouched.
type Registry struct {
	gateways map[gateway.CheckType]*gateway.Gateway
}

// NewRegistry builds wrappers for every known check type using the
// per-check sections in cfg.
func NewRegistry(cfg config.Config, deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	fetcher := newHTTPFetcher(deps.UserAgent, httpTimeout(cfg))

	r := &Registry{gateways: make(map[gateway.CheckType]*gateway.Gateway)}
	for _, check := range gateway.AllCheckTypes() {
		checkCfg := cfg.Check(check)
		perform := buildPerform(check, checkCfg, deps, fetcher)
		r.gateways[check] = gateway.New(
			checkCfg.Gateway(check),
			perform,
			deps.Cache,
			deps.Clock,
			deps.Hasher,
			deps.Logger.Named(string(check)),
		)
	}
	return r
}

func buildPerform(check gateway.CheckType, checkCfg config.CheckConfig, deps Deps, fetcher *httpFetcher) gateway.Perform {
	scrape := func(fill formFiller, extract Extractor) gateway.Perform {
		c := &scrapeCheck{
			pool:    deps.Pool,
			solver:  deps.Solver,
			cfg:     checkCfg,
			locale:  deps.Locale,
			fill:    fill,
			extract: extract,
		}
		return c.perform
	}

	switch check {
	case gateway.CheckDebt:
		return scrape(debtFiller(deps.Solver, checkCfg), extractDebt)
	case gateway.CheckFines:
		return finesPerform(fetcher, checkCfg.ServiceURL)
	case gateway.CheckPatent:
		return scrape(permitFiller(deps.Solver, checkCfg), extractPermit)
	case gateway.CheckWorkPermit:
		return scrape(permitFiller(deps.Solver, checkCfg), extractPermit)
	case gateway.CheckPassport:
		return scrape(passportFiller(deps.Solver, checkCfg), extractPassport)
	case gateway.CheckTaxID:
		return taxIDPerform(fetcher, checkCfg.ServiceURL)
	case gateway.CheckEntryBan:
		return scrape(entryBanFiller(deps.Solver, checkCfg), extractEntryBan)
	default:
		return scrape(nil, func(_ *goquery.Document, _ gateway.Input) (gateway.Outcome, error) {
			return gateway.Outcome{}, &gateway.ParseError{Reason: "unregistered check type"}
		})
	}
}

// Gateway returns the wrapper for the requested check type.
func (r *Registry) Gateway(check gateway.CheckType) (*gateway.Gateway, bool) {
	g, ok := r.gateways[check]
	return g, ok
}

// Types lists the registered check types in registration order.
func (r *Registry) Types() []gateway.CheckType {
	return gateway.AllCheckTypes()
}

// BreakerPhases reports the breaker phase per check for health output.
func (r *Registry) BreakerPhases() map[string]string {
	phases := make(map[string]string, len(r.gateways))
	for check, g := range r.gateways {
		phases[string(check)] = string(g.BreakerPhase())
	}
	return phases
}

// httpTimeout derives the direct-HTTP fetch timeout from the strictest
// HTTP-backed check, so a colly visit never outlives its wrapper attempt.
func httpTimeout(cfg config.Config) time.Duration {
	timeout := 15 * time.Second
	for _, check := range []gateway.CheckType{gateway.CheckFines, gateway.CheckTaxID} {
		if t := cfg.Check(check).Gateway(check).Timeout; t > 0 && t < timeout {
			timeout = t
		}
	}
	return timeout
}
