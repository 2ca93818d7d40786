package labels

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Label
	}{
		{"INBOX", Inbox},
		{"inbox", Inbox},
		{" Sent ", Sent},
		{"category_social", CategorySocial},
		{"Label_42", Custom("Label_42")},
	}
	for _, tt := range tests {
		if got := Parse(tt.in); got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestLabelString(t *testing.T) {
	if got := CategoryPromotions.String(); got != "CATEGORY_PROMOTIONS" {
		t.Errorf("String() = %q", got)
	}
	if got := Custom("Label_7").String(); got != "Label_7" {
		t.Errorf("custom String() = %q", got)
	}
	if Custom("x").IsSystem() || !Trash.IsSystem() {
		t.Error("IsSystem mismatch")
	}
}

func TestParseFilter(t *testing.T) {
	s := ParseFilter("INBOX, starred,,Label_1 ")
	want := []string{"INBOX", "STARRED", "Label_1"}
	if diff := cmp.Diff(want, s.IDs()); diff != "" {
		t.Errorf("IDs() mismatch (-want +got):\n%s", diff)
	}
	if !ParseFilter(" , ").Empty() {
		t.Error("blank filter should be empty")
	}
	if !ParseFilter("").Empty() {
		t.Error("empty filter should be empty")
	}
}

func TestSetIntersects(t *testing.T) {
	a := NewSet(Inbox, Custom("Label_1"))
	if !a.Intersects(NewSet(Custom("Label_1"))) {
		t.Error("expected custom intersection")
	}
	if !a.Intersects(NewSet(Custom("LABEL_1"))) {
		t.Error("expected case-insensitive custom intersection")
	}
	if got := NewSet(Custom("Label_1"), Custom("label_1")).IDs(); !cmp.Equal(got, []string{"Label_1"}) {
		t.Errorf("IDs() = %v, want first spelling only", got)
	}
	if !a.Intersects(NewSet(Inbox, Sent)) {
		t.Error("expected known intersection")
	}
	if a.Intersects(NewSet(Sent, Custom("Label_2"))) {
		t.Error("unexpected intersection")
	}
	if a.Len() != 2 {
		t.Errorf("Len() = %d, want 2", a.Len())
	}
}

func TestBuckets(t *testing.T) {
	got := make([]string, 0)
	for _, b := range Buckets() {
		got = append(got, b.String())
	}
	want := []string{
		"INBOX", "SENT", "DRAFT", "STARRED", "TRASH", "SPAM",
		"CATEGORY_PERSONAL", "CATEGORY_SOCIAL", "CATEGORY_PROMOTIONS", "CATEGORY_UPDATES", "CATEGORY_FORUMS",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Buckets() mismatch (-want +got):\n%s", diff)
	}
}
