package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/scoutline/scoutd/pkg/ollama"
)

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const (
	ollamaModelDefault = "nomic-embed-text"
	ollamaModelLight   = "all-minilm"

	// Hosts with less available memory than this get the light model and
	// CPU-only execution.
	lowMemoryBytes = 1536 << 20
)

// NewOllamaEmbedder returns an Embedder backed by a local Ollama server.
// An empty model picks one suited to the host's available memory.
func NewOllamaEmbedder(addr, model string) Embedder {
	if addr == "" {
		addr = "http://localhost:11434"
	}
	cpuOnly := false
	if model == "" {
		model, cpuOnly = pickOllamaModel()
	}
	c := ollama.NewEmbedClient(addr, model)
	if cpuOnly {
		c.ForceCPU()
	}
	return c
}

func pickOllamaModel() (model string, cpuOnly bool) {
	avail, err := memAvailableBytes()
	if err != nil {
		return ollamaModelDefault, false
	}
	if avail < lowMemoryBytes {
		return ollamaModelLight, true
	}
	return ollamaModelDefault, false
}

// memAvailableBytes reads MemAvailable from /proc/meminfo.
func memAvailableBytes() (uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("memory: MemAvailable not found")
}

// GenAIEmbedder generates embeddings through the Gemini API.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
}

// NewGenAIEmbedder creates a Gemini-backed embedder. An empty model uses
// gemini-embedding-001.
func NewGenAIEmbedder(ctx context.Context, apiKey, model string) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("memory: genai embedder requires an API key")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("memory: genai client: %w", err)
	}
	return &GenAIEmbedder{client: client, model: model}, nil
}

// Embed implements Embedder.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, fmt.Errorf("memory: genai embed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("memory: genai embed: empty response")
	}
	return result.Embeddings[0].Values, nil
}

// Close releases the underlying client. The genai client keeps no
// long-lived connections, so there is nothing to tear down.
func (e *GenAIEmbedder) Close() error {
	return nil
}
