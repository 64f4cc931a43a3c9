package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// maxBatchSize caps how many chunks are sent to the embeddings endpoint in
// one request; larger batches are split.
const maxBatchSize = 256

// OpenAICompatible calls an OpenAI-compatible embeddings endpoint. A
// per-tenant API key and optional base URL let each tenant use its own
// account or a self-hosted embedding server.
type OpenAICompatible struct {
	client sdk.Client
	model  string
	dim    int
}

// NewOpenAICompatible constructs a client bound to one tenant's API key.
// baseURL may be empty to use the default OpenAI endpoint.
func NewOpenAICompatible(apiKey, baseURL, model string, httpClient *http.Client) *OpenAICompatible {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if model == "" {
		model = defaultModel
	}
	return &OpenAICompatible{
		client: sdk.NewClient(opts...),
		model:  model,
		dim:    DimensionForModel(model),
	}
}

var _ Embedder = (*OpenAICompatible)(nil)

func (o *OpenAICompatible) Name() string   { return o.model }
func (o *OpenAICompatible) Dimension() int { return o.dim }

func (o *OpenAICompatible) EmbedBatch(ctx context.Context, texts []string) (Result, error) {
	if len(texts) == 0 {
		return Result{}, nil
	}

	var out Result
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := o.embedOneBatch(ctx, texts[start:end])
		if err != nil {
			return out, err
		}
		out.Vectors = append(out.Vectors, batch.Vectors...)
		out.TokensUsed += batch.TokensUsed
		out.CostUSD += batch.CostUSD
	}
	return out, nil
}

func (o *OpenAICompatible) embedOneBatch(ctx context.Context, texts []string) (Result, error) {
	resp, err := o.client.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Input: sdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          sdk.EmbeddingModel(o.model),
		EncodingFormat: sdk.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return Result{}, classifyError(err)
	}

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(vectors) {
			continue
		}
		v := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			v[i] = float32(f)
		}
		vectors[idx] = v
	}

	tokens := int(resp.Usage.TotalTokens)
	if tokens == 0 {
		tokens = EstimateTokens(texts)
	}
	return Result{
		Vectors:    vectors,
		TokensUsed: tokens,
		CostUSD:    CostUSD(o.model, tokens),
	}, nil
}

func classifyError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrAuth, apiErr.Message)
		case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
			return fmt.Errorf("%w: %s", ErrBadRequest, apiErr.Message)
		default:
			return fmt.Errorf("%w: %s", ErrUnavailable, apiErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
