package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dossier-io/dossier/internal/config"
	"github.com/dossier-io/dossier/internal/store"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the append-only audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent audit events",
	RunE:  auditList,
}

var auditPoliciesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List recorded policy versions",
	RunE:  auditPolicies,
}

func init() {
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum records to show")
	auditPoliciesCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum records to show")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditPoliciesCmd)
	rootCmd.AddCommand(auditCmd)
}

func openRunStore() (*store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return store.Open(cfg.RunDBPath())
}

func auditList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	st, err := openRunStore()
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer st.Close()

	events, err := st.ListAuditEvents(ctx, auditLimit)
	if err != nil {
		return fmt.Errorf("querying audit events: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("No audit events found.")
		return nil
	}
	for _, ev := range events {
		fmt.Printf("%s  %-32s  run=%s  %s\n",
			ev.CreatedAt.Format(time.RFC3339), ev.EventType, ev.RunID, ev.ID)
	}
	return nil
}

func auditPolicies(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	st, err := openRunStore()
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer st.Close()

	versions, err := st.ListRecentPolicyVersions(ctx, auditLimit)
	if err != nil {
		return fmt.Errorf("querying policy versions: %w", err)
	}
	if len(versions) == 0 {
		fmt.Println("No policy versions recorded.")
		return nil
	}
	for _, pv := range versions {
		fmt.Printf("%s  %-16s  %s  %s\n",
			pv.CreatedAt.Format(time.RFC3339), pv.VersionTag, pv.ID, pv.Description)
	}
	return nil
}
