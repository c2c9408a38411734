package stocktake

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarianceSign(t *testing.T) {
	require.InDelta(t, 3, Variance(13, 10), 1e-9)
	require.InDelta(t, -2, Variance(8, 10), 1e-9)
	require.InDelta(t, 0, Variance(10, 10), 1e-9)
}

func TestAggregate(t *testing.T) {
	lines := []Line{
		{SystemQty: 10, CountedQty: 13},
		{SystemQty: 5, CountedQty: 3},
		{SystemQty: 7, CountedQty: 7},
	}

	totals := Aggregate(lines)
	require.InDelta(t, 22, totals.TotalSystem, 1e-9)
	require.InDelta(t, 23, totals.TotalCounted, 1e-9)
	require.InDelta(t, 1, totals.TotalVariance, 1e-9)
}

func TestToleranceExceeds(t *testing.T) {
	cfg := Config{}.Normalize()
	require.InDelta(t, DefaultTolerance, cfg.Tolerance, 1e-9)

	require.False(t, cfg.Exceeds(0))
	require.False(t, cfg.Exceeds(0.01))
	require.False(t, cfg.Exceeds(-0.01))
	require.True(t, cfg.Exceeds(0.011))
	require.True(t, cfg.Exceeds(-0.02))
}
