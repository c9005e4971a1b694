// Package testutil provides shared test helpers and mocks for dossier tests.
package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dossier-io/dossier/internal/llm"
)

// MockInvoker implements llm.Invoker for tests without live API calls.
// It returns a configurable sequence of results; call N gets Results[N],
// or the last entry when N runs past the slice. Entries with Err set
// return that error instead (scripted guardrail rejections).
type MockInvoker struct {
	mu        sync.Mutex
	Results   []MockResult
	CallCount int
	Requests  []*llm.InvokeRequest
}

// MockResult is one scripted invocation outcome.
type MockResult struct {
	Payload      string
	ToolCalls    []llm.ToolCall
	InputTokens  int
	OutputTokens int
	Err          error
}

// GuardrailRejection scripts a guardrail refusal for the given id.
func GuardrailRejection(guardrailID string) MockResult {
	return MockResult{Err: &llm.GuardrailRejectionError{
		GuardrailID: guardrailID,
		Message:     "Output rejected by guardrail " + guardrailID + ".",
	}}
}

// Name returns "mock".
func (m *MockInvoker) Name() string { return "mock" }

// Invoke returns the next scripted result and records the request.
func (m *MockInvoker) Invoke(_ context.Context, req *llm.InvokeRequest) (*llm.InvokeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.CallCount
	m.CallCount++
	m.Requests = append(m.Requests, req)

	if len(m.Results) == 0 {
		return &llm.InvokeResult{Payload: json.RawMessage(`{}`), Model: req.Model}, nil
	}
	if idx >= len(m.Results) {
		idx = len(m.Results) - 1
	}
	res := m.Results[idx]
	if res.Err != nil {
		return nil, res.Err
	}
	inTok, outTok := res.InputTokens, res.OutputTokens
	if inTok == 0 {
		inTok = 500
	}
	if outTok == 0 {
		outTok = 300
	}
	return &llm.InvokeResult{
		Payload:      json.RawMessage(res.Payload),
		Model:        req.Model,
		InputTokens:  inTok,
		OutputTokens: outTok,
		ToolCalls:    res.ToolCalls,
	}, nil
}

// EstimateCost returns a fixed cost for tests.
func (m *MockInvoker) EstimateCost(_ string, _, _ int) float64 { return 0.002 }

// Calls returns the number of Invoke calls made.
func (m *MockInvoker) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}
