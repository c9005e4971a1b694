package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGuardrailID(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantID  string
		wantOK  bool
	}{
		{"binding language", "Output rejected by guardrail binding_language_guardrail.", "binding_language_guardrail", true},
		{"irac shape", "error: Output rejected by guardrail structured_irac_guardrail. Please retry.", "structured_irac_guardrail", true},
		{"dashes normalized", "Output rejected by guardrail Sensitive-Topic-HITL-Guardrail.", "sensitive_topic_hitl_guardrail", true},
		{"no match", "rate limit exceeded", "", false},
		{"missing trailing dot", "Output rejected by guardrail foo", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ParseGuardrailID(tt.message)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestAsGuardrailRejection(t *testing.T) {
	g := &GuardrailRejectionError{GuardrailID: GuardrailSensitiveTopic, Message: "blocked"}
	wrapped := fmt.Errorf("invoking model: %w", g)

	got, ok := AsGuardrailRejection(wrapped)
	require.True(t, ok)
	assert.Equal(t, GuardrailSensitiveTopic, got.GuardrailID)

	_, ok = AsGuardrailRejection(errors.New("plain error"))
	assert.False(t, ok)
}

func TestFormatToolBudgets(t *testing.T) {
	tools := []ToolSpec{{Name: "web_search"}, {Name: "eli_lookup"}}

	t.Run("empty budgets", func(t *testing.T) {
		assert.Empty(t, formatToolBudgets(nil, tools))
	})
	t.Run("only budgeted tools listed", func(t *testing.T) {
		got := formatToolBudgets(map[string]int{"web_search": 3}, tools)
		assert.Contains(t, got, "web_search: 3")
		assert.NotContains(t, got, "eli_lookup")
	})
}

func TestEstimateCost(t *testing.T) {
	t.Run("openai", func(t *testing.T) {
		p := &OpenAIInvoker{}
		assert.InDelta(t, 0.0023+0.0092, p.EstimateCost("gpt-4o-2024-08-06", 1000, 1000), 1e-9)
		assert.InDelta(t, 0.00014+0.00055, p.EstimateCost("gpt-4o-mini", 1000, 1000), 1e-9)
		assert.Zero(t, p.EstimateCost("unknown-model", 1000, 1000))
	})
	t.Run("anthropic", func(t *testing.T) {
		p := &AnthropicInvoker{}
		assert.InDelta(t, 0.0028+0.0138, p.EstimateCost("claude-sonnet-4-5", 1000, 1000), 1e-9)
		assert.Zero(t, p.EstimateCost("unknown", 1000, 1000))
	})
}

func TestNewInvokerWithKey(t *testing.T) {
	assert.Equal(t, "openai", NewInvokerWithKey("openai", "k").Name())
	assert.Equal(t, "anthropic", NewInvokerWithKey("anthropic", "k").Name())
	assert.Nil(t, NewInvokerWithKey("bedrock", "k"))

	assert.True(t, InvokerUsesAPIKey("openai"))
	assert.False(t, InvokerUsesAPIKey("ollama"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(120, 2)
	assert.True(t, rl.Allow("org_a"))
	assert.True(t, rl.Allow("org_a"))
	// burst exhausted for org_a, other orgs unaffected
	assert.False(t, rl.Allow("org_a"))
	assert.True(t, rl.Allow("org_b"))
}
