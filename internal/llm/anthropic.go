package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/trace"

	dossierotel "github.com/dossier-io/dossier/internal/otel"
)

// AnthropicInvoker implements Invoker for the Anthropic Messages API.
type AnthropicInvoker struct {
	client sdk.Client
}

// NewAnthropicInvoker creates an invoker with the given API key.
func NewAnthropicInvoker(apiKey string) *AnthropicInvoker {
	return &AnthropicInvoker{client: sdk.NewClient(option.WithAPIKey(apiKey))}
}

// NewAnthropicInvokerWithBaseURL creates an invoker against a custom base URL
// (e2e tests against a mock server).
func NewAnthropicInvokerWithBaseURL(apiKey, baseURL string) *AnthropicInvoker {
	return &AnthropicInvoker{client: sdk.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	)}
}

// Name returns the backend identifier.
func (p *AnthropicInvoker) Name() string { return "anthropic" }

// Invoke sends a Messages request with the tool registry attached. The final
// text blocks are returned as the structured payload; tool_use blocks are
// recorded as tool calls. Guardrail refusals are mapped to
// GuardrailRejectionError.
func (p *AnthropicInvoker) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error) {
	ctx, span := tracer.Start(ctx, "gen_ai.invoke",
		trace.WithAttributes(
			dossierotel.GenAISystem.String("anthropic"),
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

	var messages []sdk.MessageParam
	if req.Context != "" {
		messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock("Context:\n"+req.Context)))
	}
	messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(req.Question)))

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		System:    []sdk.TextBlockParam{{Text: system}},
		Messages:  messages,
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				InputSchema: sdk.ToolInputSchemaParam{Properties: t.Parameters},
			},
		})
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		if id, ok := ParseGuardrailID(err.Error()); ok {
			return nil, &GuardrailRejectionError{GuardrailID: id, Message: err.Error()}
		}
		span.RecordError(err)
		return nil, fmt.Errorf("anthropic invoke: %w", err)
	}

	var (
		text      strings.Builder
		toolCalls []ToolCall
	)
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolCalls = append(toolCalls, ToolCall{
				ID:    block.ID,
				Tool:  block.Name,
				Input: json.RawMessage(block.Input),
			})
		}
	}
	content := text.String()
	if content == "" {
		return nil, fmt.Errorf("anthropic invoke: %w", ErrEmptyCompletion)
	}
	if id, ok := ParseGuardrailID(content); ok {
		return nil, &GuardrailRejectionError{GuardrailID: id, Message: content}
	}

	span.SetAttributes(
		dossierotel.GenAIUsageInputTokens.Int(int(msg.Usage.InputTokens)),
		dossierotel.GenAIUsageOutputTokens.Int(int(msg.Usage.OutputTokens)),
		dossierotel.GenAIResponseFinishReason.String(string(msg.StopReason)),
	)

	return &InvokeResult{
		Payload:      json.RawMessage(content),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		ToolCalls:    toolCalls,
	}, nil
}

// anthropicPricing maps model prefixes to EUR per 1K input/output tokens.
var anthropicPricing = []struct {
	prefix string
	in     float64
	out    float64
}{
	{"claude-haiku", 0.00074, 0.0037},
	{"claude-sonnet", 0.0028, 0.0138},
	{"claude-opus", 0.0138, 0.069},
}

// EstimateCost estimates the EUR cost for the given token counts.
func (p *AnthropicInvoker) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	for _, rate := range anthropicPricing {
		if strings.HasPrefix(model, rate.prefix) {
			return float64(inputTokens)/1000*rate.in + float64(outputTokens)/1000*rate.out
		}
	}
	return 0
}
