package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/scoutline/scoutd/engine/domain"
)

const (
	anthropicDefaultModel = "claude-sonnet-4-5"
	anthropicVersion      = "2023-06-01"
	anthropicBaseURL      = "https://api.anthropic.com"

	// anthropicMaxTokens applies when the invocation does not cap output.
	anthropicMaxTokens = 4096
)

// AnthropicProvider talks to the Anthropic Messages API over plain HTTP.
// No streaming: the engine only consumes final turns.
type AnthropicProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewAnthropicProvider creates the provider. An empty model selects
// claude-sonnet-4-5.
func NewAnthropicProvider(apiKey, model string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("agent: anthropic: %w", domain.MissingConfig("ANTHROPIC_API_KEY"))
	}
	if model == "" {
		model = anthropicDefaultModel
	}
	return &AnthropicProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: anthropicBaseURL,
		client: &http.Client{
			Timeout:   180 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// SetBaseURL overrides the API endpoint. Tests point it at a local server.
func (p *AnthropicProvider) SetBaseURL(u string) {
	p.baseURL = strings.TrimRight(u, "/")
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     *map[string]any `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	InputSchema *Schema `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}

	body := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  anthropicMessages(req.Messages),
		Tools:     anthropicTools(req.Tools),
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("agent: anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return Response{}, fmt.Errorf("agent: anthropic: build request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, domain.Transient("anthropic", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Response{}, domain.Transient("anthropic read", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, anthropicStatusErr(resp.StatusCode, data)
	}

	var out anthropicResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, fmt.Errorf("agent: anthropic: decode response: %w", err)
	}
	return anthropicToResponse(out), nil
}

// anthropicMessages maps neutral messages onto Messages API turns.
func anthropicMessages(msgs []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		var blocks []anthropicBlock
		if m.Text != "" {
			blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Text})
		}
		for _, call := range m.Calls {
			args := call.Args
			if args == nil {
				args = map[string]any{}
			}
			blocks = append(blocks, anthropicBlock{
				Type:  "tool_use",
				ID:    call.ID,
				Name:  call.Name,
				Input: &args,
			})
		}
		for _, res := range m.Results {
			blocks = append(blocks, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: res.CallID,
				Content:   res.Text,
				IsError:   res.IsError,
			})
		}
		if len(blocks) == 0 {
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		out = append(out, anthropicMessage{Role: role, Content: blocks})
	}
	return out
}

func anthropicTools(decls []ToolDecl) []anthropicTool {
	if len(decls) == 0 {
		return nil
	}
	out := make([]anthropicTool, 0, len(decls))
	for _, d := range decls {
		schema := d.Params
		if schema == nil {
			schema = &Schema{Type: "object", Properties: map[string]*Schema{}}
		}
		out = append(out, anthropicTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: schema,
		})
	}
	return out
}

func anthropicToResponse(resp anthropicResponse) Response {
	var out Response
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case "tool_use":
			var args map[string]any
			if b.Input != nil {
				args = *b.Input
			}
			out.Calls = append(out.Calls, ToolCall{ID: b.ID, Name: b.Name, Args: args})
		}
	}
	return out
}

func anthropicStatusErr(status int, data []byte) error {
	msg := "status " + fmt.Sprint(status)
	var body anthropicErrorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		msg = body.Error.Type + ": " + body.Error.Message
	}
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("agent: anthropic: %s: %w", msg, domain.ErrRateLimited)
	case status == http.StatusNotFound:
		return fmt.Errorf("agent: anthropic: %s: %w", msg, domain.ErrNotFound)
	case status >= 500:
		return domain.Transient("anthropic", fmt.Errorf("%s", msg))
	default:
		return fmt.Errorf("agent: anthropic: %s", msg)
	}
}
