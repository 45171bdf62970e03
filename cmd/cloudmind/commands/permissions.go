package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Print the least-privilege read-only policy",
	Long: `Prints the policy document granting exactly the calls CloudMind makes.

aws prints an IAM policy, azure a custom role definition, gcp a custom role
and kubernetes a ClusterRole.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		doc, err := safety.Policy(provider)
		if err != nil {
			return fmt.Errorf("generate policy: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(doc))
		return nil
	},
}

func init() {
	permissionsCmd.Flags().String("provider", "aws", "Provider (aws, azure, gcp, kubernetes)")
	rootCmd.AddCommand(permissionsCmd)
}
