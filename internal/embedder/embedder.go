// Package embedder converts chunk text into embedding vectors and accounts
// for the tokens/cost spent doing so.
package embedder

import (
	"context"
	"errors"
	"math"
)

// Failure modes. Unavailable is retryable; the others are fatal for the
// current attempt (BadRequest) or for the tenant until its key changes (Auth).
var (
	ErrUnavailable = errors.New("embedder: service unavailable")
	ErrBadRequest  = errors.New("embedder: bad request")
	ErrAuth        = errors.New("embedder: authentication failed")
)

// Result is the outcome of one EmbedBatch call.
type Result struct {
	Vectors    [][]float32
	TokensUsed int
	CostUSD    float64
}

// Embedder converts text into vectors for a fixed model/dimension.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) (Result, error)
	Name() string
	Dimension() int
}

type modelInfo struct {
	Dimension           int
	USDPerMillionTokens float64
}

// knownModels holds the known output dimension and price per embedding
// model. Unknown models fall back to the small-model rate.
var knownModels = map[string]modelInfo{
	"text-embedding-3-small": {Dimension: 1536, USDPerMillionTokens: 0.02},
	"text-embedding-ada-002": {Dimension: 1536, USDPerMillionTokens: 0.10},
	"text-embedding-3-large": {Dimension: 3072, USDPerMillionTokens: 0.13},
}

const defaultModel = "text-embedding-3-small"

// DimensionForModel returns the known output dimension for a model, or the
// default model's dimension if unrecognized.
func DimensionForModel(model string) int {
	if info, ok := knownModels[model]; ok {
		return info.Dimension
	}
	return knownModels[defaultModel].Dimension
}

// EstimateTokens approximates token count when a provider does not report
// exact usage: ceil(total_chars / 4).
func EstimateTokens(texts []string) int {
	total := 0
	for _, t := range texts {
		total += len([]rune(t))
	}
	return int(math.Ceil(float64(total) / 4))
}

// CostUSD prices tokens at model's known rate, defaulting to the
// small-model rate for unrecognized models.
func CostUSD(model string, tokens int) float64 {
	rate := knownModels[defaultModel].USDPerMillionTokens
	if info, ok := knownModels[model]; ok {
		rate = info.USDPerMillionTokens
	}
	return float64(tokens) / 1_000_000 * rate
}
