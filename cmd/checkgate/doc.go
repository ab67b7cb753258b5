// Package main hosts the verification gateway service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and check endpoints. A POST to
//     /v1/checks/{check_type} decodes the subject's identity fields and hands them to the matching
//     resilience wrapper; the response is always a uniform envelope with provenance (live, cache,
//     fallback) so clients never see raw upstream failures.
//   - Resilience wrapper: internal/gateway.Gateway fronts every check with a cache-first read,
//     a per-check circuit breaker (closed/open/half_open), bounded retry with capped exponential
//     backoff, and a stale-cache fallback when the upstream is unavailable. Breaker state and
//     cache entries are per check type and shared across concurrent requests.
//   - Check registry: internal/checks binds each check type (debt, fines, patent, work_permit,
//     passport, tax_id, entry_ban) to its retrieval function. Browser-driven checks render the
//     government form in an isolated headless Chrome session; JSON-backed checks go through the
//     Colly fetcher directly.
//   - Browser pool: internal/browser owns one shared Chrome process, launched lazily. Each check
//     runs in its own browser context (separate cookie jar), throttled by a parallelism semaphore
//     and a per-host rate limiter. Contexts are disposed when the check finishes.
//   - Captcha: internal/captcha submits image and reCAPTCHA challenges to the configured solving
//     provider and polls for the answer. Outcomes are tagged (success, timeout, disabled, error)
//     so the wrapper can distinguish a solver outage from an upstream one.
//   - Configuration & plumbing: Viper populates config from env/files with a per-check-type
//     section; zap provides structured logging; Prometheus metrics are exported on /metrics.
//     Results cache in memory by default or in Redis for multi-instance deployments.
//
// Operational notes:
//   - Concurrency model: browser sessions are bounded by browser.max_parallel; everything else is
//     request-scoped. Shutdown drains the HTTP server, then closes the browser and Redis.
//   - Rate limiting: one rate.Limiter per upstream host keeps the gateway a polite client even
//     when many subjects are checked against the same service.
//   - Observability: zap logs carry the check type and attempt number at each transition;
//     Prometheus tracks check outcomes, durations, retries, cache events, breaker phases, captcha
//     solves, and live browser sessions.
//
// Quick checklist:
//   - Configure env vars: CHECKGATE_SERVER_PORT, CHECKGATE_BROWSER_HEADLESS,
//     CHECKGATE_CAPTCHA_API_KEY, CHECKGATE_CACHE_BACKEND=memory/redis, and the per-check
//     CHECKGATE_CHECKS_* sections when the defaults need tightening.
//   - Run locally: go run ./cmd/checkgate -config config.yaml (or rely solely on env overrides).
package main
