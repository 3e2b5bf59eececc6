// Package openai is a small HTTP client for the OpenAI embeddings and image
// generation endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1"

var ErrNotConfigured = errors.New("OpenAI API key is not configured")

type Config struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	ImageModel     string
	ImageSize      string
	Timeout        time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type apiError struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func parseErrorMessage(body []byte) string {
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error == nil {
		return ""
	}
	return strings.TrimSpace(parsed.Error.Message)
}

// post sends a JSON request and decodes a 2xx JSON response into out.
func (c *Client) post(ctx context.Context, path, what string, in, out any) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return ErrNotConfigured
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to build OpenAI %s request: %w", what, err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build OpenAI %s request: %w", what, err)
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.APIKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach OpenAI %s: %w", what, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read OpenAI %s response: %w", what, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg := parseErrorMessage(body); msg != "" {
			return fmt.Errorf("OpenAI %s request failed (%d): %s", what, resp.StatusCode, msg)
		}
		return fmt.Errorf("OpenAI %s request failed (%d)", what, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse OpenAI %s response: %w", what, err)
	}
	return nil
}
