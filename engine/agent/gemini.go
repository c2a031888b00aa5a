package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/scoutline/scoutd/engine/domain"
)

const (
	geminiDefaultModel = "gemini-2.5-flash"
	geminiImageModel   = "imagen-3.0-generate-002"
)

// GeminiProvider talks to the Gemini API through google.golang.org/genai.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates the provider. An empty model selects
// gemini-2.5-flash.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("agent: gemini: %w", domain.MissingConfig("GEMINI_API_KEY"))
	}
	if model == "" {
		model = geminiDefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("agent: gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "gemini" }

// Complete implements Provider.
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		cfg.Tools = geminiTools(req.Tools)
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, geminiContents(req.Messages), cfg)
	if err != nil {
		return Response{}, geminiError(err)
	}
	return geminiResponse(resp), nil
}

// GenerateImage renders prompt into PNG bytes through the Imagen model.
func (p *GeminiProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := p.client.Models.GenerateImages(ctx, geminiImageModel, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return nil, geminiError(err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, fmt.Errorf("agent: gemini: image response empty")
	}
	return resp.GeneratedImages[0].Image.ImageBytes, nil
}

// Close releases the underlying client. The genai client keeps no
// long-lived connections, so there is nothing to tear down.
func (p *GeminiProvider) Close() error {
	return nil
}

// geminiContents maps neutral messages onto genai contents. Tool results
// travel as function-response parts in a user turn, matching what the API
// expects back after a function call.
func geminiContents(msgs []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		var parts []*genai.Part
		if m.Text != "" {
			parts = append(parts, &genai.Part{Text: m.Text})
		}
		for _, call := range m.Calls {
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
				ID:   call.ID,
				Name: call.Name,
				Args: call.Args,
			}})
		}
		for _, res := range m.Results {
			body := map[string]any{"output": res.Text}
			if res.IsError {
				body = map[string]any{"error": res.Text}
			}
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       res.CallID,
				Name:     res.Name,
				Response: body,
			}})
		}
		if len(parts) == 0 {
			continue
		}
		role := string(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = string(genai.RoleModel)
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out
}

// geminiTools maps neutral tool declarations onto genai function
// declarations.
func geminiTools(decls []ToolDecl) []*genai.Tool {
	fns := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		fns = append(fns, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  geminiSchema(d.Params),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fns}}
}

func geminiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        geminiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
		Items:       geminiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = geminiSchema(v)
		}
	}
	return out
}

func geminiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

// geminiResponse flattens the first candidate into the neutral shape.
func geminiResponse(resp *genai.GenerateContentResponse) Response {
	var out Response
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += part.Text
		}
		if part.FunctionCall != nil {
			out.Calls = append(out.Calls, ToolCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}
	return out
}

// geminiError maps SDK errors onto the engine taxonomy.
func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("agent: gemini: %s: %w", apiErr.Message, domain.ErrRateLimited)
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("agent: gemini: %s: %w", apiErr.Message, domain.ErrNotFound)
		case apiErr.Code >= 500:
			return domain.Transient("gemini", err)
		}
		return fmt.Errorf("agent: gemini: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Transient("gemini", err)
	}
	return fmt.Errorf("agent: gemini: %w", err)
}
