// Package ollama is a minimal client for Ollama's embedding API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EmbedClient talks to a local Ollama server over HTTP.
type EmbedClient struct {
	baseURL string
	model   string
	cpuOnly bool
	client  *http.Client
}

// NewEmbedClient points a client at an Ollama server, usually on localhost.
func NewEmbedClient(baseURL, model string) *EmbedClient {
	return &EmbedClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ForceCPU disables GPU offload on subsequent requests. Low-memory hosts
// pair this with a lighter model.
func (c *EmbedClient) ForceCPU() {
	c.cpuOnly = true
}

// Model reports the model name requests are issued against.
func (c *EmbedClient) Model() string { return c.model }

type ollamaEmbedReq struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding vector for text.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := ollamaEmbedReq{Model: c.model, Prompt: text}
	if c.cpuOnly {
		reqBody.Options = map[string]any{"num_gpu": 0}
	}
	body, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: embed status %d", resp.StatusCode)
	}

	var reply ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("ollama: decode embedding: %w", err)
	}

	vec := make([]float32, 0, len(reply.Embedding))
	for _, v := range reply.Embedding {
		vec = append(vec, float32(v))
	}
	return vec, nil
}

// EmbedBatch embeds each text sequentially; Ollama has no batch endpoint.
func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("ollama: batch item %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}
