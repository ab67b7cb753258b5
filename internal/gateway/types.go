// Package gateway defines the core types for the verification gateway and
// the resilience wrapper that every status check runs through.
package gateway

import (
	"context"
	"strings"
	"time"
)

// CheckType identifies one upstream verification service.
type CheckType string

// Check types served by the gateway.
const (
	CheckDebt       CheckType = "debt"
	CheckFines      CheckType = "fines"
	CheckPatent     CheckType = "patent"
	CheckWorkPermit CheckType = "work_permit"
	CheckPassport   CheckType = "passport"
	CheckTaxID      CheckType = "tax_id"
	CheckEntryBan   CheckType = "entry_ban"
)

// AllCheckTypes lists every check type in registration order.
func AllCheckTypes() []CheckType {
	return []CheckType{
		CheckDebt,
		CheckFines,
		CheckPatent,
		CheckWorkPermit,
		CheckPassport,
		CheckTaxID,
		CheckEntryBan,
	}
}

// ParseCheckType resolves a request path segment to a known check type.
func ParseCheckType(s string) (CheckType, bool) {
	t := CheckType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllCheckTypes() {
		if t == known {
			return known, true
		}
	}
	return "", false
}

// Status is the verdict of a single check.
type Status string

// Statuses shared across check types. Individual checks use the subset
// that makes sense for them.
const (
	StatusValid    Status = "valid"
	StatusInvalid  Status = "invalid"
	StatusExpired  Status = "expired"
	StatusFound    Status = "found"
	StatusNotFound Status = "not_found"
	StatusUnknown  Status = "unknown"
	StatusError    Status = "error"
)

// Source tags where a result came from.
type Source string

// Provenance values carried on every result.
const (
	SourceLive     Source = "live"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

// Input carries the validated, check-specific identity fields supplied by
// the API layer. Unused fields stay empty; the cache key is derived only
// from the populated ones.
type Input struct {
	DocumentSeries string `json:"document_series,omitempty"`
	DocumentNumber string `json:"document_number,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	FirstName      string `json:"first_name,omitempty"`
	MiddleName     string `json:"middle_name,omitempty"`
	BirthDate      string `json:"birth_date,omitempty"`
	TaxID          string `json:"tax_id,omitempty"`
	Citizenship    string `json:"citizenship,omitempty"`
	Region         string `json:"region,omitempty"`
}

// fields returns the identifying values in a fixed order for key derivation.
func (in Input) fields() []string {
	return []string{
		in.DocumentSeries,
		in.DocumentNumber,
		in.LastName,
		in.FirstName,
		in.MiddleName,
		in.BirthDate,
		in.TaxID,
		in.Citizenship,
		in.Region,
	}
}

// Outcome is what a check's perform function reports on success.
type Outcome struct {
	Status  Status
	Payload any
}

// Result is the envelope returned to the API layer for every execution,
// successful or degraded.
type Result struct {
	Check      CheckType `json:"check"`
	Status     Status    `json:"status"`
	Payload    any       `json:"payload,omitempty"`
	Source     Source    `json:"source"`
	CheckedAt  time.Time `json:"checked_at"`
	Error      string    `json:"error,omitempty"`
	Warning    string    `json:"warning,omitempty"`
	Retryable  bool      `json:"retryable,omitempty"`
	RetryAfter int       `json:"retry_after_seconds,omitempty"`
}

// Perform executes one live fetch-and-parse attempt for a check.
type Perform func(ctx context.Context, in Input) (Outcome, error)

// Clock supplies time and cancellable sleeps so retry/backoff behavior is
// testable with a fake.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Hasher computes digests for cache-key derivation.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// CacheEntry is a snapshot of a successful live result.
type CacheEntry struct {
	Result   Result        `json:"result"`
	CachedAt time.Time     `json:"cached_at"`
	TTL      time.Duration `json:"ttl"`
}

// Fresh reports whether the entry is still within its TTL.
func (e CacheEntry) Fresh(now time.Time) bool {
	return now.Sub(e.CachedAt) < e.TTL
}

// Cache stores check results keyed by derived input keys. Get returns
// expired entries too; freshness is the wrapper's decision, since stale
// entries still serve as degraded fallbacks.
type Cache interface {
	Get(ctx context.Context, key string) (CacheEntry, bool, error)
	Set(ctx context.Context, key string, entry CacheEntry) error
	Delete(ctx context.Context, key string) error
}
