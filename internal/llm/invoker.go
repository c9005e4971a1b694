// Package llm abstracts the hosted tool-calling model service. An Invoker
// takes a tool registry, retrieved context, and a tool-budget map, and returns
// either a structured IRAC payload or a guardrail rejection carrying a stable
// guardrail identifier.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	dossierotel "github.com/dossier-io/dossier/internal/otel"
)

var tracer = dossierotel.Tracer("github.com/dossier-io/dossier/internal/llm")

// TimeoutInvoke bounds a single hosted model invocation.
const TimeoutInvoke = 90 * time.Second

// Domain errors.
var (
	ErrInvokerNotAvailable = errors.New("invoker not available")
	ErrEmptyCompletion     = errors.New("model returned no content")
)

// Known guardrail identifiers emitted by the hosted service.
const (
	GuardrailBindingLanguage = "binding_language_guardrail"
	GuardrailStructuredIRAC  = "structured_irac_guardrail"
	GuardrailSensitiveTopic  = "sensitive_topic_hitl_guardrail"
)

// GuardrailRejectionError is returned when the hosted service refuses a
// generation. Recoverable exactly once via the escalation path.
type GuardrailRejectionError struct {
	GuardrailID string
	Message     string
}

func (e *GuardrailRejectionError) Error() string {
	return fmt.Sprintf("guardrail rejection %s: %s", e.GuardrailID, e.Message)
}

// AsGuardrailRejection unwraps err into a GuardrailRejectionError.
func AsGuardrailRejection(err error) (*GuardrailRejectionError, bool) {
	var g *GuardrailRejectionError
	ok := errors.As(err, &g)
	return g, ok
}

// guardrailMsgRe matches the hosted service's rejection message format:
// "Output rejected by guardrail <id>."
var guardrailMsgRe = regexp.MustCompile(`Output rejected by guardrail ([A-Za-z0-9_\-]+)\.`)

// ParseGuardrailID extracts and normalizes the guardrail identifier from a
// hosted-service message, if present.
func ParseGuardrailID(message string) (string, bool) {
	m := guardrailMsgRe.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	return NormalizeGuardrailCode(m[1]), true
}

// NormalizeGuardrailCode lowercases an identifier and converts dashes to
// underscores so verification notes carry one canonical form.
func NormalizeGuardrailCode(id string) string {
	return strings.ReplaceAll(strings.ToLower(id), "-", "_")
}

// ToolSpec describes one tool exposed to the hosted service.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// InvokeRequest is the full configuration for one hosted invocation.
type InvokeRequest struct {
	Model       string
	System      string
	Question    string
	Context     string         // retrieval snippets formatted for the prompt
	Tools       []ToolSpec     // registry passed to the hosted service
	ToolBudgets map[string]int // per-tool invocation budgets
	Temperature float64
	MaxTokens   int
}

// ToolCall is one tool invocation performed by the hosted service while
// producing the answer.
type ToolCall struct {
	ID     string          `json:"id"`
	Tool   string          `json:"tool"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
}

// InvokeResult is the hosted service's final output.
type InvokeResult struct {
	Payload      json.RawMessage // structured IRAC JSON, validated downstream
	Model        string
	InputTokens  int
	OutputTokens int
	ToolCalls    []ToolCall
}

// Invoker is the hosted model-invocation endpoint.
type Invoker interface {
	// Name returns the backend identifier (e.g. "openai", "anthropic").
	Name() string
	// Invoke performs one generation. Guardrail refusals surface as
	// *GuardrailRejectionError; all other failures are fatal to the caller.
	Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error)
	// EstimateCost estimates the cost in EUR for the given token counts.
	EstimateCost(model string, inputTokens, outputTokens int) float64
}

// formatToolBudgets renders the budget map into the system preamble so the
// hosted service enforces per-tool caps.
func formatToolBudgets(budgets map[string]int, tools []ToolSpec) string {
	if len(budgets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Tool budgets (max invocations per tool):\n")
	for _, t := range tools {
		if budget, ok := budgets[t.Name]; ok {
			fmt.Fprintf(&b, "- %s: %d\n", t.Name, budget)
		}
	}
	return b.String()
}
