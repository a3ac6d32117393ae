package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contractsFixture(now time.Time) []Contract {
	return []Contract{
		{Symbol: "ESU26", BaseInstrument: "ES", ExpiresAt: now.Add(3 * 24 * time.Hour), DailyVolume: 900000},
		{Symbol: "ESZ26", BaseInstrument: "ES", ExpiresAt: now.Add(45 * 24 * time.Hour), DailyVolume: 1200000},
		{Symbol: "ESH27", BaseInstrument: "ES", ExpiresAt: now.Add(135 * 24 * time.Hour), DailyVolume: 50000},
	}
}

func TestResolveSymbol_PicksHighestVolumeContractBeyondSevenDays(t *testing.T) {
	now := time.Now()
	resolver := NewSymbolResolver(
		func(ctx context.Context, base string) ([]Contract, error) { return contractsFixture(now), nil },
		func(base string) int { return 0 },
	)

	symbol, err := resolver.ResolveSymbol(context.Background(), "ES", false)
	require.NoError(t, err)
	assert.Equal(t, "ESZ26", symbol)
	assert.Equal(t, RolloverNormal, resolver.Status("ES"))
}

func TestResolveSymbol_FallsBackToTwoDayFilterWhenNoneBeyondSevenDays(t *testing.T) {
	now := time.Now()
	contracts := []Contract{
		{Symbol: "ESU26", BaseInstrument: "ES", ExpiresAt: now.Add(5 * 24 * time.Hour), DailyVolume: 800000},
		{Symbol: "ESZ26", BaseInstrument: "ES", ExpiresAt: now.Add(3 * 24 * time.Hour), DailyVolume: 600000},
	}
	resolver := NewSymbolResolver(
		func(ctx context.Context, base string) ([]Contract, error) { return contracts, nil },
		func(base string) int { return 0 },
	)

	symbol, err := resolver.ResolveSymbol(context.Background(), "ES", false)
	require.NoError(t, err)
	assert.Equal(t, "ESU26", symbol)
	assert.Equal(t, RolloverWarning, resolver.Status("ES"))
}

func TestResolveSymbol_NoQualifyingContractIsAnError(t *testing.T) {
	now := time.Now()
	contracts := []Contract{
		{Symbol: "ESU26", BaseInstrument: "ES", ExpiresAt: now.Add(1 * 24 * time.Hour), DailyVolume: 800000},
	}
	resolver := NewSymbolResolver(
		func(ctx context.Context, base string) ([]Contract, error) { return contracts, nil },
		func(base string) int { return 0 },
	)

	_, err := resolver.ResolveSymbol(context.Background(), "ES", false)
	assert.Error(t, err)
}

func TestResolveSymbol_NeverSwitchesWhilePositionOpenAndNearExpiry(t *testing.T) {
	now := time.Now()
	resolver := NewSymbolResolver(
		func(ctx context.Context, base string) ([]Contract, error) { return contractsFixture(now), nil },
		func(base string) int { return 0 },
	)

	// First resolution picks ESZ26 (the >7-day, highest-volume contract).
	first, err := resolver.ResolveSymbol(context.Background(), "ES", false)
	require.NoError(t, err)
	require.Equal(t, "ESZ26", first)

	// Simulate ESZ26 now sitting inside 3 days to expiry with an open position.
	closeContracts := []Contract{
		{Symbol: "ESZ26", BaseInstrument: "ES", ExpiresAt: now.Add(2 * 24 * time.Hour), DailyVolume: 1200000},
		{Symbol: "ESH27", BaseInstrument: "ES", ExpiresAt: now.Add(92 * 24 * time.Hour), DailyVolume: 900000},
	}
	resolver.contractsByBase = func(ctx context.Context, base string) ([]Contract, error) { return closeContracts, nil }
	resolver.openPositionQty = func(base string) int { return 3 }

	second, err := resolver.ResolveSymbol(context.Background(), "ES", true)
	require.NoError(t, err)
	assert.Equal(t, "ESZ26", second, "must not roll the contract while a position is open near expiry")
	assert.Equal(t, RolloverImminent, resolver.Status("ES"))
}

func TestCheckRollover_SeverityThresholds(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name     string
		expiry   time.Duration
		expected RolloverSeverity
	}{
		{"beyond a week", 10 * 24 * time.Hour, SeverityNone},
		{"inside a week", 5 * 24 * time.Hour, SeverityWarning},
		{"inside three days", 2 * 24 * time.Hour, SeverityCritical},
		{"inside a day", 12 * time.Hour, SeverityEmergency},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolver := NewSymbolResolver(
				func(ctx context.Context, base string) ([]Contract, error) {
					return []Contract{{Symbol: "ESZ26", BaseInstrument: "ES", ExpiresAt: now.Add(30 * 24 * time.Hour), DailyVolume: 1}}, nil
				},
				func(base string) int { return 0 },
			)
			_, err := resolver.ResolveSymbol(context.Background(), "ES", false)
			require.NoError(t, err)

			// ResolveSymbol only picks contracts more than 2 days from expiry, so
			// the resolved contract's expiry is moved to the case's horizon here.
			resolver.mu.Lock()
			resolver.states["ES"].RolloverDate = now.Add(tc.expiry)
			resolver.mu.Unlock()

			severity, _, err := resolver.CheckRollover(context.Background(), "ESZ26")
			require.NoError(t, err)
			assert.Equal(t, tc.expected, severity)
		})
	}
}

func TestCheckRollover_UnknownSymbolReturnsNone(t *testing.T) {
	resolver := NewSymbolResolver(
		func(ctx context.Context, base string) ([]Contract, error) { return nil, nil },
		func(base string) int { return 0 },
	)
	severity, next, err := resolver.CheckRollover(context.Background(), "NQZ26")
	require.NoError(t, err)
	assert.Equal(t, SeverityNone, severity)
	assert.Empty(t, next)
}
