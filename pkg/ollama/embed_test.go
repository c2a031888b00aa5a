package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbed(t *testing.T) {
	var got ollamaEmbedReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %q, want /api/embeddings", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.25, -1, 3}})
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "nomic-embed-text")
	vec, err := c.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.25 || vec[1] != -1 || vec[2] != 3 {
		t.Errorf("vec = %v, want [0.25 -1 3]", vec)
	}
	if got.Model != "nomic-embed-text" || got.Prompt != "hello world" {
		t.Errorf("request = %+v", got)
	}
	if got.Options != nil {
		t.Errorf("options sent without ForceCPU: %v", got.Options)
	}
}

func TestEmbedForceCPU(t *testing.T) {
	var got ollamaEmbedReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{1}})
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "all-minilm")
	c.ForceCPU()
	if _, err := c.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got.Options == nil {
		t.Fatal("ForceCPU did not set request options")
	}
	if n, ok := got.Options["num_gpu"].(float64); !ok || n != 0 {
		t.Errorf("num_gpu = %v, want 0", got.Options["num_gpu"])
	}
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "missing")
	if _, err := c.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 404")
	}
}
