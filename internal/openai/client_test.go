package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		APIKey:         "test-key",
		BaseURL:        srv.URL,
		EmbeddingModel: "text-embedding-3-small",
		ImageModel:     "dall-e-3",
		ImageSize:      "1024x1024",
	})
}

func TestEmbedOrdersByIndex(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header %q", got)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(req.Input) != 2 || req.Input[0] != "a cat" {
			t.Fatalf("unexpected input %v", req.Input)
		}
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	})

	vectors, err := client.Embed(context.Background(), []string{" a cat ", "a dog"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Fatalf("vectors out of order: %v", vectors)
	}
}

func TestEmbedSurfacesAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down"}}`))
	})
	_, err := client.Embed(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "slow down") {
		t.Fatalf("expected api error message, got %v", err)
	}
}

func TestEmbedRejectsCountMismatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	})
	if _, err := client.Embed(context.Background(), []string{"x", "y"}); err == nil {
		t.Fatal("expected count mismatch error")
	}
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	client := New(Config{APIKey: "k", EmbeddingModel: "m"})
	if _, err := client.Embed(context.Background(), []string{"  "}); err == nil {
		t.Fatal("expected empty input error")
	}
}

func TestMissingKey(t *testing.T) {
	client := New(Config{EmbeddingModel: "m", ImageModel: "m"})
	if _, err := client.Embed(context.Background(), []string{"x"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := client.GenerateImage(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestGenerateImage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req imageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Prompt != "a lighthouse at dusk" || req.Size != "1024x1024" || req.N != 1 {
			t.Fatalf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"data":[{"url":"https://img.test/1.png"}]}`))
	})
	url, err := client.GenerateImage(context.Background(), "a lighthouse at dusk")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if url != "https://img.test/1.png" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestGenerateImageBase64(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"b64_json":"AAAA"}]}`))
	})
	url, err := client.GenerateImage(context.Background(), "x")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if url != "data:image/png;base64,AAAA" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestGenerateImageServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if _, err := client.GenerateImage(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}
