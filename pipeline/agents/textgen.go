package agents

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	oaioption "github.com/openai/openai-go/option"
	"github.com/sony/gobreaker"

	"github.com/aios-systems/aios/core"
	"github.com/aios-systems/aios/envelope"
)

// textGenerator is the narrow single-prompt/single-reply contract a
// text-generation backend satisfies, letting TextGenExpert stay agnostic
// to which provider SDK is underneath.
type textGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// anthropicGenerator calls the Anthropic Messages API, reduced to the
// single-prompt/single-reply contract this tier's archetype needs.
type anthropicGenerator struct {
	client *sdk.MessageService
	model  string
}

func newAnthropicGenerator(apiKey, model string) *anthropicGenerator {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &anthropicGenerator{client: &client.Messages, model: model}
}

func (g *anthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := g.client.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(g.model),
		MaxTokens: 1024,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic: response had no text content")
}

// openaiGenerator calls the Chat Completions API via the official
// openai-go SDK.
type openaiGenerator struct {
	client openai.Client
	model  string
}

func newOpenAIGenerator(apiKey, model string) *openaiGenerator {
	return &openaiGenerator{
		client: openai.NewClient(oaioption.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (g *openaiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat.completions.new: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: response had no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// TextGenExpert is the text-generation expert archetype named in the agent
// tier's contract: a single prompt in, a single text reply out. The
// underlying provider call is wrapped in a sony/gobreaker circuit breaker
// scoped to this one expert, distinct from the
// resilience.CircuitBreaker type — a misbehaving adapter trips
// only its own breaker, not the whole tier.
type TextGenExpert struct {
	id     string
	name   string
	gen    textGenerator
	breaker *gobreaker.CircuitBreaker[string]
	caps   []string
	strengths []string
	logger core.Logger
}

func newTextGenExpert(name string, gen textGenerator, caps, strengths []string, logger core.Logger) *TextGenExpert {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(n string, from, to gobreaker.State) {
			logger.Warn("expert circuit breaker state change", map[string]interface{}{
				"expert": n, "from": from.String(), "to": to.String(),
			})
		},
	}
	return &TextGenExpert{
		id:        name,
		name:      name,
		gen:       gen,
		breaker:   gobreaker.NewCircuitBreaker[string](settings),
		caps:      caps,
		strengths: strengths,
		logger:    logger,
	}
}

// NewAnthropicExpert builds a text-generation expert backed by Claude.
func NewAnthropicExpert(name, apiKey, model string, logger core.Logger) *TextGenExpert {
	return newTextGenExpert(name, newAnthropicGenerator(apiKey, model),
		[]string{"text_generation", "reasoning", "summarization"},
		[]string{"long_form_reasoning"}, logger)
}

// NewOpenAIExpert builds a text-generation expert backed by an OpenAI
// chat-completions model.
func NewOpenAIExpert(name, apiKey, model string, logger core.Logger) *TextGenExpert {
	return newTextGenExpert(name, newOpenAIGenerator(apiKey, model),
		[]string{"text_generation", "code_generation"},
		[]string{"fast_turnaround"}, logger)
}

func (e *TextGenExpert) Initialize(ctx context.Context) error { return nil }
func (e *TextGenExpert) Shutdown(ctx context.Context) error   { return nil }
func (e *TextGenExpert) GetID() string                        { return e.id }
func (e *TextGenExpert) GetName() string                      { return e.name }
func (e *TextGenExpert) GetType() core.ComponentType           { return core.ComponentTypeExpert }
func (e *TextGenExpert) Capabilities() []string                { return e.caps }
func (e *TextGenExpert) Strengths() []string                   { return e.strengths }

// HealthCheck reports the expert unhealthy while its circuit breaker is open.
func (e *TextGenExpert) HealthCheck(ctx context.Context) error {
	if e.breaker.State() == gobreaker.StateOpen {
		return core.NewCoreError(core.LayerAgents, core.KindAgent, "expert_circuit_open",
			fmt.Sprintf("expert %s circuit breaker is open", e.name), true, core.ErrCircuitBreakerOpen)
	}
	return nil
}

// Execute runs the prompt through the underlying provider via the
// per-expert circuit breaker.
func (e *TextGenExpert) Execute(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
	text, err := e.breaker.Execute(func() (string, error) {
		return e.gen.Generate(ctx, req.Content)
	})
	if err != nil {
		return nil, core.NewCoreError(core.LayerAgents, core.KindAgent, "text_generation_failed",
			fmt.Sprintf("expert %s generation failed", e.name), true, err)
	}
	resp := envelope.NewResponse(req.RequestID).WithContent(text, true, "")
	return resp, nil
}
