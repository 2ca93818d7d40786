package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wesm/mailmirror/internal/fileutil"
)

var attachmentOutput string

var attachmentCmd = &cobra.Command{
	Use:   "attachment <message-id> <attachment-id>",
	Short: "Download an attachment",
	Long: `Download an attachment's decoded bytes. Attachment IDs are listed by
'mailmirror show'. Without -o the bytes go to stdout.

Examples:
  mailmirror attachment 18f0abc123def ANGjdJ8 -o report.pdf
  mailmirror attachment 18f0abc123def ANGjdJ8 > report.pdf`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openMirror(cfg, mirrorOptions{keyring: true})
		if err != nil {
			return err
		}
		defer m.Close()

		var w io.Writer = cmd.OutOrStdout()
		var tmp *os.File
		if attachmentOutput != "" {
			// Write to a temp file in the target directory so a failed
			// download never leaves a truncated file behind.
			tmp, err = fileutil.CreatePrivateTemp(filepath.Dir(attachmentOutput), ".mailmirror-*")
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer os.Remove(tmp.Name())
			defer tmp.Close()
			w = tmp
		}

		n, err := m.facade.StreamAttachment(cmd.Context(), args[0], args[1], w)
		if err != nil {
			return remoteErr("attachment "+args[1], err)
		}
		if tmp == nil {
			return nil
		}

		if err := tmp.Close(); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		if err := os.Rename(tmp.Name(), attachmentOutput); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes to %s\n", n, attachmentOutput)
		return nil
	},
}

func init() {
	attachmentCmd.Flags().StringVarP(&attachmentOutput, "output", "o", "", "write to file instead of stdout")
	rootCmd.AddCommand(attachmentCmd)
}
