package judge

import (
	"context"
	"math"
)

type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// EmbeddingBackend compares texts by cosine similarity of their embeddings.
type EmbeddingBackend struct {
	embedder Embedder
}

func NewEmbeddingBackend(embedder Embedder) *EmbeddingBackend {
	return &EmbeddingBackend{embedder: embedder}
}

func (b *EmbeddingBackend) Similarities(ctx context.Context, master string, guesses []string) ([]float64, error) {
	inputs := make([]string, 0, len(guesses)+1)
	inputs = append(inputs, master)
	inputs = append(inputs, guesses...)
	vectors, err := b.embedder.Embed(ctx, inputs)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(guesses))
	for i := range guesses {
		out[i] = Cosine(vectors[0], vectors[i+1])
	}
	return out, nil
}

// Cosine returns dot(a,b)/(|a||b|) clamped to [0,1]. Mismatched or zero
// vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return clamp(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
