// Package agent is the LLM runtime: chat providers behind one interface, a
// bounded tool-call loop, system prompt assembly, and the structured item
// output the executor consumes.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/pkg/resilience"
)

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is the model asking for one tool execution.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult answers one tool call. IsError marks failures so the model can
// route around a broken tool instead of aborting the run.
type ToolResult struct {
	CallID  string
	Name    string
	Text    string
	IsError bool
}

// Message is one provider-neutral conversation turn. Assistant turns may
// carry tool calls next to text; user turns may carry tool results.
type Message struct {
	Role    Role
	Text    string
	Calls   []ToolCall
	Results []ToolResult
}

// Schema is the JSON-schema subset both providers accept for tool
// parameters. Type is one of object, array, string, integer, number,
// boolean.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// ToolDecl declares one callable tool to the provider.
type ToolDecl struct {
	Name        string
	Description string
	Params      *Schema
}

// Request is one provider completion call.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDecl
	Temperature float64
	MaxTokens   int
}

// Response is the provider's reply to one Request. A reply with tool calls
// continues the loop; a reply without them ends it.
type Response struct {
	Text  string
	Calls []ToolCall
}

// Provider is a chat completion backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// Tool is a capability bound into a run; the model calls it by name and
// receives plain text back.
type Tool interface {
	Decl() ToolDecl
	Call(ctx context.Context, args map[string]any) (string, error)
}

const (
	// DefaultProvider is used when generation_config names none.
	DefaultProvider = "gemini"

	// defaultTemperature applies when the invocation leaves it unset.
	defaultTemperature = 0.7

	// kickoff is the user turn for invocations whose whole ask sits in the
	// system prompt. Both provider APIs require a non-empty user message.
	kickoff = "Carry out your goal now."

	tracerName = "engine/agent"
)

// Options tunes the runtime.
type Options struct {
	// MaxRounds caps the tool-call loop per invocation.
	MaxRounds int
	// Breaker configures the per-provider circuit breaker.
	Breaker resilience.BreakerOpts
	// Limiter paces completion calls per provider, keeping tool-loop
	// bursts inside the provider's request quota.
	Limiter resilience.LimiterOpts
}

// DefaultOptions returns the runtime defaults.
func DefaultOptions() Options {
	return Options{
		MaxRounds: 8,
		Breaker:   resilience.DefaultBreakerOpts,
		Limiter:   resilience.DefaultLimiterOpts,
	}
}

type guarded struct {
	provider Provider
	breaker  *resilience.Breaker
	limiter  *resilience.Limiter
}

// Runtime drives chat invocations through registered providers with a
// bounded tool-call loop and a circuit breaker per provider.
type Runtime struct {
	providers map[string]*guarded
	opts      Options
	log       *slog.Logger
}

// New creates a runtime. Providers are added with Register.
func New(log *slog.Logger, opts Options) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultOptions().MaxRounds
	}
	return &Runtime{
		providers: make(map[string]*guarded),
		opts:      opts,
		log:       log,
	}
}

// Register adds a provider under its own name, replacing any previous one.
func (r *Runtime) Register(p Provider) {
	r.providers[p.Name()] = &guarded{
		provider: p,
		breaker:  resilience.NewBreaker(r.opts.Breaker),
		limiter:  resilience.NewLimiter(r.opts.Limiter),
	}
}

// Has reports whether a provider is registered under name.
func (r *Runtime) Has(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// Invocation describes one runtime call.
type Invocation struct {
	// Scout and Kind annotate the span and the run log.
	Scout string
	Kind  string

	// Provider selects the backend; empty means DefaultProvider. Model and
	// Temperature pass through generation_config; zero values pick the
	// provider default and 0.7 respectively.
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int

	// System is the assembled system prompt; Prompt is the user turn. An
	// empty Prompt gets a neutral kick-off line.
	System string
	Prompt string

	// Tools are bound for the loop. Plain completions leave this nil.
	Tools []Tool
}

// Generate runs the tool loop and returns the model's final text.
func (r *Runtime) Generate(ctx context.Context, inv Invocation) (string, error) {
	resp, err := r.run(ctx, inv)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// GenerateItems runs the tool loop expecting the structured item list as the
// final turn. Malformed output comes back as a StructuredOutputError, which
// the executor never retries.
func (r *Runtime) GenerateItems(ctx context.Context, inv Invocation) ([]domain.Item, error) {
	if inv.System == "" {
		inv.System = structuredOutput
	} else {
		inv.System += "\n\n" + structuredOutput
	}
	resp, err := r.run(ctx, inv)
	if err != nil {
		return nil, err
	}
	return ParseItems(resp.Text)
}

func (r *Runtime) run(ctx context.Context, inv Invocation) (Response, error) {
	name := inv.Provider
	if name == "" {
		name = DefaultProvider
	}
	g, ok := r.providers[name]
	if !ok {
		return Response{}, fmt.Errorf("agent: unknown provider %q", name)
	}

	temp := inv.Temperature
	if temp <= 0 {
		temp = defaultTemperature
	}
	prompt := inv.Prompt
	if prompt == "" {
		prompt = kickoff
	}

	decls := make([]ToolDecl, 0, len(inv.Tools))
	byName := make(map[string]Tool, len(inv.Tools))
	for _, t := range inv.Tools {
		d := t.Decl()
		decls = append(decls, d)
		byName[d.Name] = t
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.invoke", trace.WithAttributes(
		attribute.String("scout", inv.Scout),
		attribute.String("kind", inv.Kind),
		attribute.String("provider", name),
		attribute.String("model", inv.Model),
	))
	defer span.End()

	req := Request{
		Model:       inv.Model,
		System:      inv.System,
		Tools:       decls,
		Temperature: temp,
		MaxTokens:   inv.MaxTokens,
	}
	msgs := []Message{{Role: RoleUser, Text: prompt}}

	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}

		req.Messages = msgs
		resp, err := r.complete(ctx, name, g, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Response{}, err
		}
		if len(resp.Calls) == 0 {
			return resp, nil
		}
		if round+1 >= r.opts.MaxRounds {
			err := fmt.Errorf("agent: tool loop exceeded %d rounds", r.opts.MaxRounds)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Response{}, err
		}

		msgs = append(msgs, Message{Role: RoleAssistant, Text: resp.Text, Calls: resp.Calls})
		results := make([]ToolResult, 0, len(resp.Calls))
		for _, call := range resp.Calls {
			results = append(results, r.execute(ctx, inv.Scout, byName, call))
		}
		msgs = append(msgs, Message{Role: RoleUser, Results: results})
	}
}

// complete calls the provider through its limiter and breaker. Pacing comes
// first so a burst of tool rounds sits out the quota instead of failing; an
// open breaker surfaces as a transient fault so the scheduler simply tries
// again next fire.
func (r *Runtime) complete(ctx context.Context, name string, g *guarded, req Request) (Response, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}
	var resp Response
	start := time.Now()
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.provider.Complete(ctx, req)
		return err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return Response{}, domain.Transient("provider "+name, err)
		}
		return Response{}, err
	}
	r.log.Debug("provider turn",
		"provider", name,
		"model", req.Model,
		"tool_calls", len(resp.Calls),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return resp, nil
}

func (r *Runtime) execute(ctx context.Context, scout string, tools map[string]Tool, call ToolCall) ToolResult {
	t, ok := tools[call.Name]
	if !ok {
		r.log.Warn("model called unbound tool", "scout", scout, "tool", call.Name)
		return ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Text:    fmt.Sprintf("unknown tool %q", call.Name),
			IsError: true,
		}
	}

	r.log.Info("tool call", "scout", scout, "tool", call.Name)
	out, err := t.Call(ctx, call.Args)
	if err != nil {
		r.log.Warn("tool call failed", "scout", scout, "tool", call.Name, "error", err)
		return ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Text:    "Error: " + err.Error(),
			IsError: true,
		}
	}
	return ToolResult{CallID: call.ID, Name: call.Name, Text: out}
}
