package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsToday bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics and label counts",
	Long: `Show statistics about the local mirror: per-label totals with unread
counts, or with --today the number of messages received today.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openMirror(cfg, mirrorOptions{})
		if err != nil {
			return err
		}
		defer m.Close()
		out := cmd.OutOrStdout()

		if statsToday {
			counts, err := m.facade.TodayCounts()
			if err != nil {
				return fmt.Errorf("today counts: %w", err)
			}
			if wantJSON() {
				return writeJSON(out, counts)
			}
			fmt.Fprintf(out, "Today: %d messages, %d unread\n", counts.TotalToday, counts.UnreadToday)
			return nil
		}

		counts, err := m.facade.LabelCounts()
		if err != nil {
			return fmt.Errorf("label counts: %w", err)
		}
		if wantJSON() {
			return writeJSON(out, counts)
		}

		st, err := m.store.Stats()
		if err != nil {
			return fmt.Errorf("cache stats: %w", err)
		}
		fmt.Fprintf(out, "Cache: %s\n", m.store.Path())
		fmt.Fprintf(out, "  Messages:  %d\n", st.MessageCount)
		fmt.Fprintf(out, "  Threads:   %d\n", st.ThreadCount)
		fmt.Fprintf(out, "  Sync runs: %d\n", st.RunCount)
		fmt.Fprintf(out, "  Size:      %.2f MB\n", float64(st.DatabaseSize)/(1024*1024))
		if c, ok := m.engine.Cursor(); ok {
			fmt.Fprintf(out, "  Cursor:    %d (%s)\n", c, m.engine.State())
		} else {
			fmt.Fprintf(out, "  Cursor:    none (%s)\n", m.engine.State())
		}
		fmt.Fprintln(out)
		return writeLabelTable(out, counts)
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsToday, "today", false, "count messages received today")
	statsCmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.AddCommand(statsCmd)
}
