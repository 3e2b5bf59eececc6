package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed returns one vector per input, in input order.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	model := strings.TrimSpace(c.cfg.EmbeddingModel)
	if model == "" {
		return nil, errors.New("OpenAI embedding model is not configured")
	}
	cleaned := make([]string, 0, len(inputs))
	for _, input := range inputs {
		candidate := strings.TrimSpace(input)
		if candidate == "" {
			return nil, errors.New("embedding input cannot be empty")
		}
		cleaned = append(cleaned, candidate)
	}
	if len(cleaned) == 0 {
		return nil, errors.New("embedding input cannot be empty")
	}

	var parsed embeddingResponse
	if err := c.post(ctx, "/embeddings", "embedding", embeddingRequest{Model: model, Input: cleaned}, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, fmt.Errorf("OpenAI embedding error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) != len(cleaned) {
		return nil, errors.New("OpenAI embedding response count mismatch")
	}

	out := make([][]float32, len(cleaned))
	dims := 0
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(cleaned) {
			return nil, errors.New("OpenAI embedding response index out of range")
		}
		if dims == 0 {
			dims = len(item.Embedding)
		}
		if len(item.Embedding) == 0 || len(item.Embedding) != dims {
			return nil, fmt.Errorf("unexpected embedding size: got %d, expected %d", len(item.Embedding), dims)
		}
		out[item.Index] = item.Embedding
	}
	for i := range out {
		if out[i] == nil {
			return nil, errors.New("missing embedding in OpenAI response")
		}
	}
	return out, nil
}
