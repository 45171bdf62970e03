package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/storage"
)

var auditCmd = &cobra.Command{
	Use:   "audit <scan-id>",
	Short: "Show the provider calls a scan made",
	Long: `Lists the audit trail of a stored scan. Requires a persistent store
(--store sqlite or postgres).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.ListAudit(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("no audit entries for scan %s", args[0])
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		renderAudit(cmd.OutOrStdout(), entries)
		return nil
	},
}

func init() {
	auditCmd.Flags().Bool("json", false, "Print entries as JSON")
	rootCmd.AddCommand(auditCmd)
}
