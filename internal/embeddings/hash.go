package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimension is the hash provider's default output size.
const DefaultHashDimension = 256

// HashProvider embeds text by summing a pseudo-random unit vector per word.
// Texts sharing words land near each other, which is enough for retrieval
// without a model. Output is deterministic across processes.
type HashProvider struct {
	dimension int
}

// NewHashProvider returns a provider producing vectors of size dim.
// Non-positive dim selects DefaultHashDimension.
func NewHashProvider(dim int) *HashProvider {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashProvider{dimension: dim}
}

func (h *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.embed(text), nil
}

func (h *HashProvider) Dimension() int { return h.dimension }

func (h *HashProvider) Close() error { return nil }

func (h *HashProvider) embed(text string) []float32 {
	vec := make([]float64, h.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New64a()
		_, _ = f.Write([]byte(w))
		seed := f.Sum64()
		for i := range vec {
			// LCG step, mapped to [-1, 1].
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[i] += float64(int64(seed)) / float64(math.MaxInt64)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, h.dimension)
	if norm == 0 {
		out[0] = 1
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
