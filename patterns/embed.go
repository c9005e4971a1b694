// Package patterns provides embedded default reference data: the official
// source-domain registry used for citation allowlisting, and the pre-model
// guardrail pattern definitions.
package patterns

import _ "embed"

//go:embed allowlist_domains.yaml
var allowlistDomainsYAML []byte

//go:embed guardrails.yaml
var guardrailsYAML []byte

// AllowlistDomainsYAML returns the embedded default official-domain registry.
func AllowlistDomainsYAML() []byte { return allowlistDomainsYAML }

// GuardrailsYAML returns the embedded pre-model guardrail definitions.
func GuardrailsYAML() []byte { return guardrailsYAML }
