package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	dossierotel "github.com/dossier-io/dossier/internal/otel"
)

// OpenAIInvoker implements Invoker against an OpenAI-compatible endpoint.
type OpenAIInvoker struct {
	client *openai.Client
}

// NewOpenAIInvoker creates an invoker with the given API key.
func NewOpenAIInvoker(apiKey string) *OpenAIInvoker {
	return &OpenAIInvoker{client: openai.NewClient(apiKey)}
}

// NewOpenAIInvokerWithBaseURL creates an invoker against a custom base URL
// (e.g. a mock server in e2e tests). baseURL is scheme+host without path.
func NewOpenAIInvokerWithBaseURL(apiKey, baseURL string) *OpenAIInvoker {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL + "/v1"
	return &OpenAIInvoker{client: openai.NewClientWithConfig(config)}
}

// Name returns the backend identifier.
func (p *OpenAIInvoker) Name() string { return "openai" }

// Invoke sends a chat completion request with the tool registry attached and
// JSON output forced. Guardrail refusals, whether surfaced as an API error
// or inline in the completion text, are returned as GuardrailRejectionError.
func (p *OpenAIInvoker) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error) {
	ctx, span := tracer.Start(ctx, "gen_ai.invoke",
		trace.WithAttributes(
			dossierotel.GenAISystem.String("openai"),
			dossierotel.GenAIRequestModel.String(req.Model),
			dossierotel.GenAIRequestTemperature.Float64(req.Temperature),
			dossierotel.GenAIRequestMaxTokens.Int(req.MaxTokens),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, TimeoutInvoke)
	defer cancel()

	system := req.System
	if budgets := formatToolBudgets(req.ToolBudgets, req.Tools); budgets != "" {
		system += "\n\n" + budgets
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	if req.Context != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: "Context:\n" + req.Context,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Question,
	})

	tools := make([]openai.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Tools:       tools,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		if id, ok := ParseGuardrailID(err.Error()); ok {
			return nil, &GuardrailRejectionError{GuardrailID: id, Message: err.Error()}
		}
		span.RecordError(err)
		return nil, fmt.Errorf("openai invoke: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai invoke: %w", ErrEmptyCompletion)
	}

	choice := resp.Choices[0]
	if id, ok := ParseGuardrailID(choice.Message.Content); ok {
		return nil, &GuardrailRejectionError{GuardrailID: id, Message: choice.Message.Content}
	}

	var toolCalls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, ToolCall{
			ID:    tc.ID,
			Tool:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}

	span.SetAttributes(
		dossierotel.GenAIUsageInputTokens.Int(resp.Usage.PromptTokens),
		dossierotel.GenAIUsageOutputTokens.Int(resp.Usage.CompletionTokens),
		dossierotel.GenAIResponseFinishReason.String(string(choice.FinishReason)),
	)

	return &InvokeResult{
		Payload:      json.RawMessage(choice.Message.Content),
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		ToolCalls:    toolCalls,
	}, nil
}

// openaiPricing maps model prefixes to EUR per 1K input/output tokens.
// Longest prefix first so "gpt-4o-mini" does not fall through to "gpt-4o".
var openaiPricing = []struct {
	prefix string
	in     float64
	out    float64
}{
	{"gpt-4o-mini", 0.00014, 0.00055},
	{"gpt-4o", 0.0023, 0.0092},
}

// EstimateCost estimates the EUR cost for the given token counts.
func (p *OpenAIInvoker) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	for _, rate := range openaiPricing {
		if strings.HasPrefix(model, rate.prefix) {
			return float64(inputTokens)/1000*rate.in + float64(outputTokens)/1000*rate.out
		}
	}
	return 0
}
