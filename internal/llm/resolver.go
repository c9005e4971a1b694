package llm

// NewInvokerWithKey creates a fresh Invoker for the named backend using the
// given API key. Returns nil for unknown backends.
func NewInvokerWithKey(backend, apiKey string) Invoker {
	switch backend {
	case "openai":
		return NewOpenAIInvoker(apiKey)
	case "anthropic":
		return NewAnthropicInvoker(apiKey)
	default:
		return nil
	}
}

// InvokerUsesAPIKey reports whether the named backend requires an API key.
func InvokerUsesAPIKey(backend string) bool {
	switch backend {
	case "openai", "anthropic":
		return true
	default:
		return false
	}
}
