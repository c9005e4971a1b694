package otel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenAIAttributeKeys(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		wantName string
	}{
		{"system", string(GenAISystem), "gen_ai.system"},
		{"request model", string(GenAIRequestModel), "gen_ai.request.model"},
		{"request temperature", string(GenAIRequestTemperature), "gen_ai.request.temperature"},
		{"request max tokens", string(GenAIRequestMaxTokens), "gen_ai.request.max_tokens"},
		{"usage input tokens", string(GenAIUsageInputTokens), "gen_ai.usage.input_tokens"},
		{"usage output tokens", string(GenAIUsageOutputTokens), "gen_ai.usage.output_tokens"},
		{"response finish reason", string(GenAIResponseFinishReason), "gen_ai.response.finish_reason"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantName, tt.key)
		})
	}
}
