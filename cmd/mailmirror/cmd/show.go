package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wesm/mailmirror/internal/gmail"
	"github.com/wesm/mailmirror/internal/mime"
	"github.com/wesm/mailmirror/internal/query"
	"github.com/wesm/mailmirror/internal/textutil"
)

var showCmd = &cobra.Command{
	Use:   "show <message-id>",
	Short: "Fetch and display a full message",
	Long: `Fetch a message from the mailbox and display its headers, body and
attachment IDs. The cache holds metadata only, so this needs a session.

Examples:
  mailmirror show 18f0abc123def
  mailmirror show 18f0abc123def --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openMirror(cfg, mirrorOptions{keyring: true})
		if err != nil {
			return err
		}
		defer m.Close()

		email, err := m.facade.FetchFullMessageLazy(cmd.Context(), args[0])
		if err != nil {
			return remoteErr("message "+args[0], err)
		}
		if wantJSON() {
			return writeJSON(cmd.OutOrStdout(), email)
		}
		writeMessageText(cmd.OutOrStdout(), email)
		return nil
	},
}

// remoteErr adds a hint to the errors a user can act on.
func remoteErr(what string, err error) error {
	var notFound *gmail.NotFoundError
	var authErr *gmail.AuthError
	switch {
	case errors.Is(err, query.ErrNoSession):
		return fmt.Errorf("%s: %w\n\nPass --token, set MAILMIRROR_TOKEN, or configure [auth] token_endpoint", what, err)
	case errors.As(err, &notFound):
		return fmt.Errorf("%s not found", what)
	case errors.As(err, &authErr):
		return fmt.Errorf("%s: mailbox credential was rejected; supply a fresh token", what)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

func writeMessageText(w io.Writer, e *mime.Email) {
	clean := textutil.SanitizeTerminal
	rule := strings.Repeat("─", 79)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Message: %s (thread %s)\n", clean(e.ID), clean(e.ThreadID))
	fmt.Fprintf(w, "From:    %s\n", clean(e.From))
	fmt.Fprintf(w, "To:      %s\n", clean(e.To))
	if e.Cc != "" {
		fmt.Fprintf(w, "Cc:      %s\n", clean(e.Cc))
	}
	fmt.Fprintf(w, "Date:    %s\n", clean(e.Date))
	fmt.Fprintf(w, "Subject: %s\n", clean(e.Subject))
	if len(e.LabelIDs) > 0 {
		fmt.Fprintf(w, "Labels:  %s\n", clean(strings.Join(e.LabelIDs, ", ")))
	}
	fmt.Fprintln(w, rule)

	body := e.BodyText
	if body == "" {
		body = mime.HTMLToText(e.Body)
	}
	fmt.Fprintln(w, strings.TrimSpace(textutil.SanitizeBlock(body)))

	if len(e.Attachments) > 0 {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Attachments (%d):\n", len(e.Attachments))
		for _, a := range e.Attachments {
			fmt.Fprintf(w, "  %s  %s (%s, %d bytes)\n", clean(a.ID), clean(a.Filename), clean(a.MimeType), a.Size)
		}
	}
}

func init() {
	showCmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.AddCommand(showCmd)
}
