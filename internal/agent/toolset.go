package agent

import (
	"github.com/dossier-io/dossier/internal/allowlist"
	"github.com/dossier-io/dossier/internal/llm"
)

// Tool names exposed to the hosted service.
const (
	ToolELILookup            = "eli_lookup"
	ToolLimitationCheck      = "limitation_check"
	ToolHostedFullTextSearch = "hosted_full_text_search"
	ToolWebSearch            = "web_search"
)

// Default per-tool budgets.
const (
	budgetELILookup       = 5
	budgetLimitationCheck = 3
	budgetFullTextSearch  = 5
)

// buildToolset assembles the tool registry for one invocation. The web
// search tool is scoped to the built allowlist and dropped entirely when
// its budget is zero (confidential mode).
func buildToolset(registry allowlist.Registry, override []string, maxDomains, webSearchBudget int) ([]llm.ToolSpec, map[string]int, *allowlist.TruncationDiag) {
	tools := []llm.ToolSpec{
		{
			Name:        ToolELILookup,
			Description: "Résout un identifiant ELI (European Legislation Identifier) vers le texte officiel.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"eli": map[string]interface{}{"type": "string"},
				},
				"required": []string{"eli"},
			},
		},
		{
			Name:        ToolLimitationCheck,
			Description: "Vérifie les délais de prescription applicables à une action donnée.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"action_type":  map[string]interface{}{"type": "string"},
					"jurisdiction": map[string]interface{}{"type": "string"},
				},
				"required": []string{"action_type"},
			},
		},
		{
			Name:        ToolHostedFullTextSearch,
			Description: "Recherche plein texte dans le corpus juridique hébergé.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string"},
				},
				"required": []string{"query"},
			},
		},
	}
	budgets := map[string]int{
		ToolELILookup:            budgetELILookup,
		ToolLimitationCheck:      budgetLimitationCheck,
		ToolHostedFullTextSearch: budgetFullTextSearch,
	}

	var diag *allowlist.TruncationDiag
	if webSearchBudget > 0 {
		var domains []string
		domains, diag = allowlist.Build(registry, override, maxDomains)
		tools = append(tools, llm.ToolSpec{
			Name:        ToolWebSearch,
			Description: "Recherche web restreinte aux domaines officiels autorisés.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query":           map[string]interface{}{"type": "string"},
					"allowed_domains": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "default": domains},
				},
				"required": []string{"query"},
			},
		})
		budgets[ToolWebSearch] = webSearchBudget
	}
	return tools, budgets, diag
}
