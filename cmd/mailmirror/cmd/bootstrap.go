package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Rebuild the local mirror from scratch",
	Long: `Clear the local cache and enumerate every configured label bucket,
storing metadata for each message and recording the mailbox's history ID
as the cursor for incremental sync.

Buckets and page size come from the [sync] section of config.toml.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openMirror(cfg, mirrorOptions{keyring: true, progress: NewCLIProgress(os.Stderr)})
		if err != nil {
			return err
		}
		defer m.Close()

		sum, err := m.bootstrap(cmd.Context())
		if err != nil {
			return remoteErr("bootstrap", err)
		}
		printSummary(cmd.OutOrStdout(), sum)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
}
