package embedder

import (
	"context"
	"hash/fnv"
	"math"
)

// Deterministic hashes byte 3-grams into a fixed-size, L2-normalized
// vector. It never calls out to a network and is used in tests and, for
// every tenant, whenever the process's EMBEDDER_PROVIDER is not "openai".
type Deterministic struct {
	dim   int
	model string
}

// NewDeterministic constructs a deterministic embedder at the given
// dimension (defaults to 1536, the small-model dimension, if non-positive).
func NewDeterministic(dim int) *Deterministic {
	if dim <= 0 {
		dim = 1536
	}
	return &Deterministic{dim: dim, model: "deterministic"}
}

var _ Embedder = (*Deterministic)(nil)

func (d *Deterministic) Name() string   { return d.model }
func (d *Deterministic) Dimension() int { return d.dim }

func (d *Deterministic) EmbedBatch(_ context.Context, texts []string) (Result, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = d.embedOne(t)
	}
	tokens := EstimateTokens(texts)
	return Result{Vectors: vectors, TokensUsed: tokens, CostUSD: CostUSD(defaultModel, tokens)}, nil
}

func (d *Deterministic) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	b := []byte(s)
	if len(b) == 0 {
		return v
	}
	if len(b) < 3 {
		hashInto(b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			hashInto(b[i:i+3], v)
		}
	}

	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq > 0 {
		inv := float32(1.0 / math.Sqrt(sumSq))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

func hashInto(gram []byte, v []float32) {
	h := fnv.New64a()
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
