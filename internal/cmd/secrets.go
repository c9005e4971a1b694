package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dossier-io/dossier/internal/config"
	"github.com/dossier-io/dossier/internal/secrets"
)

var (
	secretsOrg   string
	secretsLimit int
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage per-org provider API keys",
}

var secretsSetCmd = &cobra.Command{
	Use:   "set <org_id> <backend>",
	Short: "Store a provider API key for an org",
	Long: `Stores a provider API key, encrypted at rest, scoped to one org and
backend (openai or anthropic). The key value is read from the
DOSSIER_PROVIDER_KEY_VALUE environment variable so it never appears in
shell history.`,
	Args: cobra.ExactArgs(2),
	RunE: secretsSet,
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored provider keys (values are never shown)",
	RunE:  secretsList,
}

var secretsAuditCmd = &cobra.Command{
	Use:   "audit <org_id>",
	Short: "Show vault access history for an org",
	Args:  cobra.ExactArgs(1),
	RunE:  secretsAudit,
}

func init() {
	secretsListCmd.Flags().StringVar(&secretsOrg, "org", "", "Filter by org ID")
	secretsAuditCmd.Flags().IntVar(&secretsLimit, "limit", 50, "Maximum records to show")

	secretsCmd.AddCommand(secretsSetCmd)
	secretsCmd.AddCommand(secretsListCmd)
	secretsCmd.AddCommand(secretsAuditCmd)
	rootCmd.AddCommand(secretsCmd)
}

func openVault() (*secrets.Vault, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()
	return secrets.Open(cfg.SecretsDBPath(), cfg.SecretsKey)
}

func secretsSet(cmd *cobra.Command, args []string) error {
	value := os.Getenv("DOSSIER_PROVIDER_KEY_VALUE")
	if value == "" {
		return fmt.Errorf("DOSSIER_PROVIDER_KEY_VALUE not set")
	}

	vault, err := openVault()
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer vault.Close()

	if err := vault.SetProviderKey(cmd.Context(), args[0], args[1], value); err != nil {
		return err
	}
	fmt.Printf("Stored %s key for org %s.\n", args[1], args[0])
	return nil
}

func secretsList(cmd *cobra.Command, args []string) error {
	vault, err := openVault()
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer vault.Close()

	keys, err := vault.ListProviderKeys(cmd.Context(), secretsOrg)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("No provider keys stored.")
		return nil
	}
	for _, k := range keys {
		accessed := "never"
		if k.AccessedAt != nil {
			accessed = k.AccessedAt.Format(time.RFC3339)
		}
		fmt.Printf("%-24s  %-10s  created=%s  accessed=%s  uses=%d\n",
			k.OrgID, k.Backend, k.CreatedAt.Format(time.RFC3339), accessed, k.AccessCount)
	}
	return nil
}

func secretsAudit(cmd *cobra.Command, args []string) error {
	vault, err := openVault()
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer vault.Close()

	records, err := vault.AuditLog(cmd.Context(), args[0], secretsLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No vault accesses recorded.")
		return nil
	}
	for _, rec := range records {
		status := "allowed"
		if !rec.Allowed {
			status = "denied (" + rec.Reason + ")"
		}
		fmt.Printf("%s  %-10s  %s\n", rec.Timestamp.Format(time.RFC3339), rec.Backend, status)
	}
	return nil
}
