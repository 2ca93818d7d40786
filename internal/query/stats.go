package query

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/wesm/mailmirror/internal/labels"
	"github.com/wesm/mailmirror/internal/mime"
)

// ErrNoSession is returned by remote-backed operations when no credential
// is available.
var ErrNoSession = errors.New("no remote session")

// TodayBasis selects the timestamp that places a message on a calendar day.
type TodayBasis string

const (
	// BasisInternalDate uses the remote receipt time.
	BasisInternalDate TodayBasis = "internal_date"
	// BasisDateHeader uses the sender's Date header, falling back to the
	// receipt time when the header does not parse.
	BasisDateHeader TodayBasis = "date_header"
)

// ParseTodayBasis validates a configured basis. Empty means internal_date.
func ParseTodayBasis(s string) (TodayBasis, error) {
	switch TodayBasis(strings.ToLower(strings.TrimSpace(s))) {
	case "", BasisInternalDate:
		return BasisInternalDate, nil
	case BasisDateHeader:
		return BasisDateHeader, nil
	default:
		return "", fmt.Errorf("unknown today basis %q (want %s or %s)", s, BasisInternalDate, BasisDateHeader)
	}
}

// LabelCounts tallies cached messages per label, with the number of those
// carrying UNREAD. Results are ordered by label ID.
func (f *Facade) LabelCounts() ([]LabelCount, error) {
	all, err := f.cache.LoadAllMessages()
	if err != nil {
		return nil, fmt.Errorf("label counts: %w", err)
	}

	byID := make(map[string]*LabelCount)
	for i := range all {
		m := &all[i]
		unread := m.HasLabel(labels.Unread.String())
		for _, id := range m.LabelIDs {
			lc, ok := byID[id]
			if !ok {
				lc = &LabelCount{ID: id, Name: id}
				byID[id] = lc
			}
			lc.Total++
			if unread {
				lc.Unread++
			}
		}
	}

	out := make([]LabelCount, 0, len(byID))
	for _, lc := range byID {
		out = append(out, *lc)
	}
	slices.SortFunc(out, func(a, b LabelCount) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// TodayCounts counts cached messages dated within the current local day.
func (f *Facade) TodayCounts() (*TodayCounts, error) {
	all, err := f.cache.LoadAllMessages()
	if err != nil {
		return nil, fmt.Errorf("today counts: %w", err)
	}

	now := f.now().In(f.location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, f.location)
	end := start.AddDate(0, 0, 1)

	var tc TodayCounts
	for i := range all {
		m := &all[i]
		ts := time.UnixMilli(m.InternalDate)
		if f.todayBasis == BasisDateHeader {
			if d, ok := mime.ParseDate(m.Header("Date")); ok {
				ts = d
			}
		}
		if ts.Before(start) || !ts.Before(end) {
			continue
		}
		tc.TotalToday++
		if m.HasLabel(labels.Unread.String()) {
			tc.UnreadToday++
		}
	}
	return &tc, nil
}
