package query

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/mailmirror/internal/store"
)

func TestLabelCounts(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		msg("a", 3, "INBOX", "UNREAD"),
		msg("b", 2, "INBOX"),
		msg("c", 1, "SENT", "Label_1"),
	)

	got, err := f.facade.LabelCounts()
	if err != nil {
		t.Fatalf("LabelCounts: %v", err)
	}
	want := []LabelCount{
		{ID: "INBOX", Name: "INBOX", Total: 2, Unread: 1},
		{ID: "Label_1", Name: "Label_1", Total: 1},
		{ID: "SENT", Name: "SENT", Total: 1},
		{ID: "UNREAD", Name: "UNREAD", Total: 1, Unread: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LabelCounts mismatch (-want +got):\n%s", diff)
	}
}

func TestLabelCounts_EmptyCache(t *testing.T) {
	f := newFixture(t)
	got, err := f.facade.LabelCounts()
	if err != nil {
		t.Fatalf("LabelCounts: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want none", got)
	}
}

func TestTodayCounts_InternalDate(t *testing.T) {
	loc := time.FixedZone("test", 2*60*60)
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, loc)
	f := newFixture(t, WithClock(func() time.Time { return now }, loc))

	startOfDay := time.Date(2024, 3, 10, 0, 0, 0, 0, loc)
	f.seed(t,
		msg("midnight", startOfDay.UnixMilli(), "INBOX", "UNREAD"),
		msg("afternoon", now.Add(-time.Hour).UnixMilli(), "INBOX"),
		msg("late", startOfDay.Add(24*time.Hour-time.Millisecond).UnixMilli(), "INBOX", "UNREAD"),
		msg("yesterday", startOfDay.Add(-time.Millisecond).UnixMilli(), "INBOX", "UNREAD"),
		msg("tomorrow", startOfDay.Add(24*time.Hour).UnixMilli(), "INBOX"),
	)

	got, err := f.facade.TodayCounts()
	if err != nil {
		t.Fatalf("TodayCounts: %v", err)
	}
	if diff := cmp.Diff(&TodayCounts{TotalToday: 3, UnreadToday: 2}, got); diff != "" {
		t.Errorf("TodayCounts mismatch (-want +got):\n%s", diff)
	}
}

func TestTodayCounts_DateHeader(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, loc)
	f := newFixture(t, WithClock(func() time.Time { return now }, loc), WithTodayBasis(BasisDateHeader))

	withDate := func(id string, internal time.Time, header string, labelIDs ...string) *store.CachedMessage {
		m := msg(id, internal.UnixMilli(), labelIDs...)
		m.Headers = []store.Header{{Name: "Date", Value: header}}
		return m
	}
	yesterday := now.Add(-24 * time.Hour)
	f.seed(t,
		// Received yesterday, but the header says today.
		withDate("header-today", yesterday, "Sun, 10 Mar 2024 09:30:00 +0000", "INBOX", "UNREAD"),
		// Received today, but the header says yesterday.
		withDate("header-yesterday", now, "Sat, 09 Mar 2024 23:00:00 +0000", "INBOX"),
		// Unparseable header falls back to the receipt time.
		withDate("garbled", now, "not a date", "INBOX"),
	)

	got, err := f.facade.TodayCounts()
	if err != nil {
		t.Fatalf("TodayCounts: %v", err)
	}
	if diff := cmp.Diff(&TodayCounts{TotalToday: 2, UnreadToday: 1}, got); diff != "" {
		t.Errorf("TodayCounts mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTodayBasis(t *testing.T) {
	for in, want := range map[string]TodayBasis{
		"":              BasisInternalDate,
		"internal_date": BasisInternalDate,
		"DATE_HEADER":   BasisDateHeader,
	} {
		got, err := ParseTodayBasis(in)
		if err != nil || got != want {
			t.Errorf("ParseTodayBasis(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseTodayBasis("sent_at"); err == nil {
		t.Error("ParseTodayBasis(sent_at) should fail")
	}
}
