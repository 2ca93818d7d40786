package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/wesm/mailmirror/internal/query"
	"github.com/wesm/mailmirror/internal/textutil"
)

var jsonOutput bool

// wantJSON reports whether output should be JSON: when asked, or when
// stdout is not a terminal.
func wantJSON() bool {
	if jsonOutput {
		return true
	}
	fd := os.Stdout.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatInternalDate(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

func writePageTable(w io.Writer, page *query.Page) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tFROM\tSUBJECT\tLABELS")
	for _, m := range page.Messages {
		marker := " "
		if m.Unread {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\t%s\n",
			marker, m.ID,
			formatInternalDate(m.InternalDate),
			textutil.Cell(m.From, 30),
			textutil.Cell(m.Subject, 60),
			strings.Join(m.LabelIDs, ","),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d of %d messages", len(page.Messages), page.Total)
	if page.NextPageToken != "" {
		fmt.Fprintf(w, " (next page: --page-token %s)", page.NextPageToken)
	}
	fmt.Fprintln(w)
	return nil
}

func writeLabelTable(w io.Writer, counts []query.LabelCount) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "LABEL\tTOTAL\tUNREAD\t")
	for _, c := range counts {
		fmt.Fprintf(tw, "%s\t%d\t%d\t\n", textutil.Cell(c.Name, 40), c.Total, c.Unread)
	}
	return tw.Flush()
}
