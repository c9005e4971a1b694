// Package doctor provides health checks for dossier configuration and
// runtime. Used by `dossier doctor` before enabling an installation.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dossier-io/dossier/internal/allowlist"
	"github.com/dossier-io/dossier/internal/config"
	"github.com/dossier-io/dossier/internal/policy"
	"github.com/dossier-io/dossier/internal/secrets"
	"github.com/dossier-io/dossier/internal/store"
)

// CheckResult is a single doctor check outcome.
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // pass, warn, fail
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Options controls which checks run.
type Options struct {
	SkipUpstream bool // skip Ollama connectivity (for CI/offline)
}

// Run executes all doctor checks and returns a report.
func Run(ctx context.Context, opts Options) *Report {
	report := &Report{}

	cfg, err := config.Load()
	if err != nil {
		report.Checks = append(report.Checks, CheckResult{
			Name:    "config",
			Status:  "fail",
			Message: err.Error(),
			Fix:     "Review DOSSIER_* environment variables and dossier.config.yaml",
		})
		finalize(report)
		return report
	}
	report.Checks = append(report.Checks, CheckResult{
		Name:    "config",
		Status:  "pass",
		Message: fmt.Sprintf("backend=%s model=%s", cfg.Backend, cfg.Model),
	})

	report.Checks = append(report.Checks, checkDataDir(cfg))
	report.Checks = append(report.Checks, checkRunStore(cfg))
	report.Checks = append(report.Checks, checkVault(cfg))
	report.Checks = append(report.Checks, checkPolicyAssets(ctx))
	report.Checks = append(report.Checks, checkProviderKey(cfg))
	if !opts.SkipUpstream {
		report.Checks = append(report.Checks, checkOllama(ctx, cfg))
	}

	finalize(report)
	return report
}

func finalize(report *Report) {
	report.Status = "pass"
	for _, c := range report.Checks {
		switch c.Status {
		case "pass":
			report.Summary.Pass++
		case "warn":
			report.Summary.Warn++
			if report.Status == "pass" {
				report.Status = "warn"
			}
		case "fail":
			report.Summary.Fail++
			report.Status = "fail"
		}
	}
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return CheckResult{
			Name:    "data_dir",
			Status:  "fail",
			Message: err.Error(),
			Fix:     "Set DOSSIER_DATA_DIR to a writable directory",
		}
	}
	probe := filepath.Join(cfg.DataDir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Name:    "data_dir",
			Status:  "fail",
			Message: "data directory is not writable: " + err.Error(),
			Fix:     "Fix permissions on " + cfg.DataDir,
		}
	}
	_ = os.Remove(probe)
	return CheckResult{Name: "data_dir", Status: "pass", Message: cfg.DataDir}
}

func checkRunStore(cfg *config.Config) CheckResult {
	st, err := store.Open(cfg.RunDBPath())
	if err != nil {
		return CheckResult{
			Name:    "run_store",
			Status:  "fail",
			Message: err.Error(),
			Fix:     "Check the data directory and SQLite installation",
		}
	}
	defer st.Close()
	if !st.FTS5Enabled() {
		return CheckResult{
			Name:    "run_store",
			Status:  "warn",
			Message: "FTS5 unavailable; corpus keyword search degrades to LIKE matching",
			Fix:     "Build with -tags sqlite_fts5 for bm25-ranked keyword search",
		}
	}
	return CheckResult{Name: "run_store", Status: "pass", Message: cfg.RunDBPath()}
}

func checkVault(cfg *config.Config) CheckResult {
	v, err := secrets.Open(cfg.SecretsDBPath(), cfg.SecretsKey)
	if err != nil {
		return CheckResult{
			Name:    "secrets_vault",
			Status:  "fail",
			Message: err.Error(),
			Fix:     "Set DOSSIER_SECRETS_KEY to 32 bytes or 64 hex characters",
		}
	}
	_ = v.Close()
	if cfg.UsingDefaultSecretsKey() {
		return CheckResult{
			Name:    "secrets_vault",
			Status:  "warn",
			Message: "vault key is machine-derived, not operator-set",
			Fix:     "Set DOSSIER_SECRETS_KEY explicitly for production",
		}
	}
	return CheckResult{Name: "secrets_vault", Status: "pass", Message: cfg.SecretsDBPath()}
}

// checkPolicyAssets compiles the embedded gate, guardrail patterns, and
// allowlist registry, catching broken pattern edits before they reach a run.
func checkPolicyAssets(ctx context.Context) CheckResult {
	if _, err := policy.NewGate(ctx, nil, 0); err != nil {
		return CheckResult{Name: "policy_assets", Status: "fail", Message: "gate: " + err.Error()}
	}
	if _, err := policy.NewDefaultGuardrailMatcher(); err != nil {
		return CheckResult{Name: "policy_assets", Status: "fail", Message: "guardrails: " + err.Error()}
	}
	if _, err := allowlist.NewDefaultRegistry(); err != nil {
		return CheckResult{Name: "policy_assets", Status: "fail", Message: "allowlist: " + err.Error()}
	}
	return CheckResult{Name: "policy_assets", Status: "pass", Message: "gate, guardrails and allowlist compile"}
}

func checkProviderKey(cfg *config.Config) CheckResult {
	if cfg.ProviderAPIKey == "" {
		return CheckResult{
			Name:    "provider_key",
			Status:  "warn",
			Message: "no shared provider key configured",
			Fix:     "Set DOSSIER_PROVIDER_API_KEY or store per-org keys with `dossier secrets set`",
		}
	}
	return CheckResult{Name: "provider_key", Status: "pass", Message: "shared " + cfg.Backend + " key configured"}
}

func checkOllama(ctx context.Context, cfg *config.Config) CheckResult {
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.OllamaBaseURL+"/api/tags", nil)
	if err != nil {
		return CheckResult{Name: "ollama", Status: "warn", Message: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Name:    "ollama",
			Status:  "warn",
			Message: "embedding endpoint unreachable; retrieval degrades to keyword-only",
			Fix:     "Start Ollama at " + cfg.OllamaBaseURL + " or set DOSSIER_OLLAMA_BASE_URL",
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return CheckResult{
			Name:    "ollama",
			Status:  "warn",
			Message: fmt.Sprintf("embedding endpoint returned status %d", resp.StatusCode),
		}
	}
	return CheckResult{Name: "ollama", Status: "pass", Message: cfg.OllamaBaseURL}
}
