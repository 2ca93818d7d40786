package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesm/mailmirror/internal/sync"
)

var syncResync bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Apply pending mailbox changes once",
	Long: `Run one incremental sync tick: read the history feed from the stored
cursor and apply every added, deleted and relabelled message to the cache.

An expired cursor is recovered automatically by re-enumerating the label
buckets. With --resync the buckets are re-enumerated unconditionally,
merging into the cache without clearing it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openMirror(cfg, mirrorOptions{keyring: true, progress: NewCLIProgress(os.Stderr)})
		if err != nil {
			return err
		}
		defer m.Close()

		var sum *sync.Summary
		if syncResync {
			sum, err = m.engine.Resync(cmd.Context())
		} else {
			sum, err = m.engine.Tick(cmd.Context())
		}
		if err != nil {
			return remoteErr("sync", err)
		}

		printSummary(cmd.OutOrStdout(), sum)
		if sum.SkipReason == sync.SkipNoCursor || sum.SkipReason == sync.SkipCorruptCursor {
			fmt.Fprintln(cmd.OutOrStdout(), "\nRun 'mailmirror bootstrap' first.")
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncResync, "resync", false, "re-enumerate all buckets instead of reading history")
	rootCmd.AddCommand(syncCmd)
}
