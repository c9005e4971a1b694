package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dossier-io/dossier/internal/agent"
	"github.com/dossier-io/dossier/internal/config"
	"github.com/dossier-io/dossier/internal/policy"
	"github.com/dossier-io/dossier/internal/requestctx"
)

var (
	runAccessPath   string
	runContext      string
	runConfidential bool
)

var runCmd = &cobra.Command{
	Use:   "run [question]",
	Short: "Execute one legal-research run",
	Long: `Executes the full run pipeline for a question and prints the structured
response as JSON. The caller's entitlements come from an access-context
YAML file (--access), resolved relative to the configured access directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runAccessPath, "access", "", "access-context YAML file (required)")
	runCmd.Flags().StringVar(&runContext, "context", "", "additional matter context for the question")
	runCmd.Flags().BoolVar(&runConfidential, "confidential", false, "force confidential mode for this run")
	_ = runCmd.MarkFlagRequired("access")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "run")
	defer span.End()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	access, err := policy.LoadAccessContext(ctx, cfg.AccessDir, runAccessPath)
	if err != nil {
		return fmt.Errorf("loading access context: %w", err)
	}

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx = requestctx.SetOrgID(ctx, access.OrgID)
	ctx = requestctx.SetUserID(ctx, access.UserID)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	resp, err := p.runner.Run(ctx, &agent.RunInput{
		Question:     args[0],
		Context:      runContext,
		OrgID:        access.OrgID,
		UserID:       access.UserID,
		Confidential: runConfidential,
	}, access)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
