package checks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/migrapass/checkgate/internal/clock/system"
	"github.com/migrapass/checkgate/internal/config"
	"github.com/migrapass/checkgate/internal/gateway"
	"github.com/migrapass/checkgate/internal/hash/sha256"
)

type nopCache struct{}

func (nopCache) Get(context.Context, string) (gateway.CacheEntry, bool, error) {
	return gateway.CacheEntry{}, false, nil
}
func (nopCache) Set(context.Context, string, gateway.CacheEntry) error { return nil }
func (nopCache) Delete(context.Context, string) error                  { return nil }

func testDeps() Deps {
	return Deps{
		Cache:  nopCache{},
		Clock:  system.New(),
		Hasher: sha256.New(),
		Logger: zap.NewNop(),
	}
}

func TestRegistry_CoversAllCheckTypes(t *testing.T) {
	t.Parallel()
	r := NewRegistry(config.Config{}, testDeps())

	for _, check := range gateway.AllCheckTypes() {
		g, ok := r.Gateway(check)
		require.True(t, ok, "missing gateway for %s", check)
		require.Equal(t, check, g.Check())
	}
	require.Len(t, r.Types(), 7)
}

func TestRegistry_BreakerPhasesStartClosed(t *testing.T) {
	t.Parallel()
	r := NewRegistry(config.Config{}, testDeps())

	phases := r.BreakerPhases()
	require.Len(t, phases, 7)
	for check, phase := range phases {
		require.Equal(t, string(gateway.PhaseClosed), phase, "check %s", check)
	}
}

func TestRegistry_DisabledCheckAnswersWithoutUpstream(t *testing.T) {
	t.Parallel()
	// Zero config leaves every check disabled, so no pool or solver is needed.
	r := NewRegistry(config.Config{}, testDeps())

	g, ok := r.Gateway(gateway.CheckPassport)
	require.True(t, ok)

	result := g.Execute(context.Background(), gateway.Input{DocumentSeries: "45", DocumentNumber: "1"})
	require.Equal(t, gateway.StatusUnknown, result.Status)
	require.Equal(t, gateway.SourceFallback, result.Source)
	require.NotEmpty(t, result.Warning)
}

func TestHTTPTimeout_UsesStrictestConfiguredCheck(t *testing.T) {
	t.Parallel()
	cfg := config.Config{Checks: map[string]config.CheckConfig{
		"fines":  {TimeoutMs: 8000},
		"tax_id": {TimeoutMs: 12000},
	}}
	require.Equal(t, 8*time.Second, httpTimeout(cfg))

	require.Equal(t, 15*time.Second, httpTimeout(config.Config{}))
}
