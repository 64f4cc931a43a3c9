package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateTokens_CeilsCharsOverFour(t *testing.T) {
	require.Equal(t, 0, EstimateTokens(nil))
	require.Equal(t, 1, EstimateTokens([]string{"abc"}))
	require.Equal(t, 2, EstimateTokens([]string{"abcde"}))
	require.Equal(t, 2, EstimateTokens([]string{"abcd", "efgh"}))
}

func TestCostUSD_UsesKnownModelRate(t *testing.T) {
	require.InDelta(t, 0.02, CostUSD("text-embedding-3-small", 1_000_000), 1e-9)
	require.InDelta(t, 0.13, CostUSD("text-embedding-3-large", 1_000_000), 1e-9)
}

func TestCostUSD_FallsBackToSmallModelRateForUnknown(t *testing.T) {
	require.InDelta(t, CostUSD(defaultModel, 500), CostUSD("some-unlisted-model", 500), 1e-12)
}

func TestDimensionForModel(t *testing.T) {
	require.Equal(t, 1536, DimensionForModel("text-embedding-3-small"))
	require.Equal(t, 3072, DimensionForModel("text-embedding-3-large"))
	require.Equal(t, 1536, DimensionForModel("unknown-model"))
}

func TestDeterministic_IsStableAcrossCalls(t *testing.T) {
	d := NewDeterministic(64)
	ctx := context.Background()

	r1, err := d.EmbedBatch(ctx, []string{"hello world"})
	require.NoError(t, err)
	r2, err := d.EmbedBatch(ctx, []string{"hello world"})
	require.NoError(t, err)
	require.Equal(t, r1.Vectors[0], r2.Vectors[0])
}

func TestDeterministic_DifferentTextsDifferentVectors(t *testing.T) {
	d := NewDeterministic(64)
	ctx := context.Background()

	r, err := d.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.NotEqual(t, r.Vectors[0], r.Vectors[1])
}

func TestDeterministic_ReportsConfiguredDimension(t *testing.T) {
	d := NewDeterministic(256)
	require.Equal(t, 256, d.Dimension())

	r, err := d.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, r.Vectors[0], 256)
}
