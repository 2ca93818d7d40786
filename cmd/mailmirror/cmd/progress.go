package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/wesm/mailmirror/internal/labels"
	"github.com/wesm/mailmirror/internal/sync"
)

// CLIProgress prints enumeration progress on a single rewritten line.
type CLIProgress struct {
	out       io.Writer
	startTime time.Time
	lastPrint time.Time
	bucket    string
	// Cache latest stats for combined display
	listed  int64
	written int64
	failed  int64
}

// NewCLIProgress returns a progress printer writing to out.
func NewCLIProgress(out io.Writer) *CLIProgress {
	return &CLIProgress{out: out}
}

var _ sync.Progress = (*CLIProgress)(nil)

func (p *CLIProgress) start() {
	if p.startTime.IsZero() {
		now := time.Now()
		p.startTime = now
		p.lastPrint = now
	}
}

func (p *CLIProgress) OnBucketStart(bucket labels.Label) {
	p.start()
	p.bucket = bucket.String()
}

func (p *CLIProgress) OnProgress(listed, written, failed int64) {
	p.start()
	p.listed = listed
	p.written = written
	p.failed = failed
	p.printProgress()
}

func (p *CLIProgress) printProgress() {
	// Throttle output to every 2 seconds
	if time.Since(p.lastPrint) < 2*time.Second {
		return
	}
	p.lastPrint = time.Now()

	elapsed := time.Since(p.startTime)
	rate := 0.0
	if elapsed.Seconds() >= 1 {
		rate = float64(p.written) / elapsed.Seconds()
	}

	fmt.Fprintf(p.out, "\r  Bucket: %-10s | Listed: %d | Written: %d | Failed: %d | Rate: %.1f/s | Elapsed: %s    ",
		p.bucket, p.listed, p.written, p.failed, rate, formatDuration(elapsed))
}

func (p *CLIProgress) OnComplete(summary *sync.Summary) {
	fmt.Fprintln(p.out) // Clear the progress line
	p.startTime = time.Time{}
}

// printSummary writes the outcome of one engine operation.
func printSummary(w io.Writer, sum *sync.Summary) {
	if sum.Outcome == sync.OutcomeSkipped {
		fmt.Fprintf(w, "%s skipped: %s\n", sum.Kind, sum.SkipReason)
		return
	}
	fmt.Fprintf(w, "%s %s in %s\n", sum.Kind, sum.Outcome, formatDuration(sum.Duration))
	fmt.Fprintf(w, "  Written:        %d\n", sum.Written)
	fmt.Fprintf(w, "  Deleted:        %d\n", sum.Deleted)
	if sum.FetchFailures > 0 {
		fmt.Fprintf(w, "  Fetch failures: %d\n", sum.FetchFailures)
	}
	if sum.CursorAfter != 0 {
		fmt.Fprintf(w, "  Cursor:         %s -> %s\n", sync.FormatCursor(sum.CursorBefore), sync.FormatCursor(sum.CursorAfter))
	}
}

// formatDuration formats a duration as "Xm Ys" or "Xh Ym" for readability.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
