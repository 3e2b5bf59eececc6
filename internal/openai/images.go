package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateImage renders prompt and returns a locator for the image. Base64
// responses come back as a data URL.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("image prompt cannot be empty")
	}
	model := strings.TrimSpace(c.cfg.ImageModel)
	if model == "" {
		return "", errors.New("OpenAI image model is not configured")
	}
	var parsed imageResponse
	req := imageRequest{Model: model, Prompt: prompt, N: 1, Size: c.cfg.ImageSize}
	if err := c.post(ctx, "/images/generations", "image", req, &parsed); err != nil {
		return "", err
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", fmt.Errorf("OpenAI image error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 {
		return "", errors.New("OpenAI image response was empty")
	}
	if url := strings.TrimSpace(parsed.Data[0].URL); url != "" {
		return url, nil
	}
	if b64 := strings.TrimSpace(parsed.Data[0].B64JSON); b64 != "" {
		return "data:image/png;base64," + b64, nil
	}
	return "", errors.New("OpenAI image response had no locator")
}
