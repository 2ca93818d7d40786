package cmd

import (
	"github.com/spf13/cobra"

	mcpserver "github.com/wesm/mailmirror/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run MCP server for AI assistant integration",
	Long: `Start an MCP (Model Context Protocol) server over stdio.

This lets any MCP client read the mirrored mailbox using tools like
list_messages, get_message, list_threads, label_counts and today_counts.
Listings and counts come from the local cache; full messages and
attachments need a session (--token, MAILMIRROR_TOKEN or the keyring).

Add to an MCP client config:
  {
    "mcpServers": {
      "mailmirror": {
        "command": "mailmirror",
        "args": ["mcp"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openMirror(cfg, mirrorOptions{keyring: true})
		if err != nil {
			return err
		}
		defer m.Close()

		return mcpserver.Serve(cmd.Context(), m.facade, Version)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
