package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dossier-io/dossier/internal/agent"
	"github.com/dossier-io/dossier/internal/allowlist"
	"github.com/dossier-io/dossier/internal/citation"
	"github.com/dossier-io/dossier/internal/config"
	"github.com/dossier-io/dossier/internal/llm"
	"github.com/dossier-io/dossier/internal/policy"
	"github.com/dossier-io/dossier/internal/retrieval"
	"github.com/dossier-io/dossier/internal/secrets"
	"github.com/dossier-io/dossier/internal/store"
)

// pipeline bundles the long-lived components shared by run and serve.
type pipeline struct {
	runner *agent.Runner
	store  *store.Store
	vault  *secrets.Vault
}

func (p *pipeline) Close() {
	if p.vault != nil {
		_ = p.vault.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}

// buildPipeline constructs the full run orchestrator from config.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	st, err := store.Open(cfg.RunDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}

	vault, err := secrets.Open(cfg.SecretsDBPath(), cfg.SecretsKey)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("opening secrets vault: %w", err)
	}

	gate, err := policy.NewGate(ctx, nil, cfg.WebSearchBudget)
	if err != nil {
		_ = vault.Close()
		_ = st.Close()
		return nil, fmt.Errorf("building policy gate: %w", err)
	}
	guardrails, err := policy.NewDefaultGuardrailMatcher()
	if err != nil {
		_ = vault.Close()
		_ = st.Close()
		return nil, fmt.Errorf("loading guardrails: %w", err)
	}
	registry, err := allowlist.NewDefaultRegistry()
	if err != nil {
		_ = vault.Close()
		_ = st.Close()
		return nil, fmt.Errorf("loading allowlist registry: %w", err)
	}

	// Pin the active policy bundle once per revision so audit rows can be
	// traced back to the gate that produced them.
	if recent, err := st.ListRecentPolicyVersions(ctx, 1); err == nil {
		if len(recent) == 0 || recent[0].VersionTag != gate.Version() {
			if _, err := st.RecordPolicyVersion(ctx, gate.Version(), "embedded entitlement and confidentiality bundle"); err != nil {
				log.Warn().Err(err).Msg("policy_version_record_failed")
			}
		}
	}

	fallback := llm.NewInvokerWithKey(cfg.Backend, cfg.ProviderAPIKey)
	if fallback == nil {
		_ = vault.Close()
		_ = st.Close()
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}
	if cfg.ProviderAPIKey == "" {
		log.Warn().Str("backend", cfg.Backend).
			Msg("no shared provider key configured; orgs without vault keys cannot invoke")
	}

	embedder := retrieval.NewOllamaEmbedder(cfg.OllamaBaseURL, cfg.EmbedModel)

	runner := agent.NewRunner(agent.RunnerConfig{
		Gate:              gate,
		Guardrails:        guardrails,
		Store:             st,
		Retriever:         retrieval.NewEngine(st, st, embedder, 0),
		Invoker:           llm.NewOrgKeyInvoker(cfg.Backend, vault, fallback),
		Validator:         citation.NewValidator(registry, st, nil),
		Registry:          registry,
		Limiter:           llm.NewRateLimiter(cfg.GlobalRPM, cfg.PerOrgRPM),
		Model:             cfg.Model,
		AllowlistOverride: cfg.AllowlistOverride,
		AllowlistMax:      cfg.AllowlistMax,
	})
	return &pipeline{runner: runner, store: st, vault: vault}, nil
}
