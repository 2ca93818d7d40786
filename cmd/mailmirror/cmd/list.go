package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	listLabel     string
	listPageSize  int
	listPageToken string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached messages",
	Long: `List cached messages newest first, optionally filtered by label.

The filter is a comma-separated list of label IDs; a message matches when it
carries any of them. Trashed messages only appear when TRASH is requested.
Unread messages are marked with *.

Examples:
  mailmirror list --label INBOX
  mailmirror list --label STARRED,IMPORTANT --page-size 50
  mailmirror list --label INBOX --page-token 20 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openMirror(cfg, mirrorOptions{})
		if err != nil {
			return err
		}
		defer m.Close()

		page, err := m.facade.ListPage(listLabel, listPageSize, listPageToken)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		if wantJSON() {
			return writeJSON(cmd.OutOrStdout(), page)
		}
		return writePageTable(cmd.OutOrStdout(), page)
	},
}

func init() {
	listCmd.Flags().StringVar(&listLabel, "label", "", "comma-separated label IDs to filter by")
	listCmd.Flags().IntVar(&listPageSize, "page-size", 0, "messages per page (default from [query] default_page_size)")
	listCmd.Flags().StringVar(&listPageToken, "page-token", "", "page token from a previous listing")
	listCmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.AddCommand(listCmd)
}
