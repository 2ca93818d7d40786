package query

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/mailmirror/internal/gmail"
	"github.com/wesm/mailmirror/internal/store"
)

type fixture struct {
	store    *store.Store
	mock     *gmail.MockAPI
	provider *gmail.StaticProvider
	facade   *Facade
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.sqlite3"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mock := gmail.NewMockAPI()
	provider := gmail.NewStaticProvider(mock)
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return &fixture{store: st, mock: mock, provider: provider, facade: New(st, provider, opts...)}
}

func (f *fixture) seed(t *testing.T, msgs ...*store.CachedMessage) {
	t.Helper()
	if err := f.store.UpsertMessages(msgs); err != nil {
		t.Fatalf("UpsertMessages: %v", err)
	}
}

func msg(id string, date int64, labelIDs ...string) *store.CachedMessage {
	return &store.CachedMessage{
		MessageID:    id,
		ThreadID:     "t-" + id,
		InternalDate: date,
		LabelIDs:     labelIDs,
		Headers: []store.Header{
			{Name: "From", Value: "Alice <alice@example.com>"},
			{Name: "Subject", Value: "About " + id},
			{Name: "Date", Value: "Mon, 2 Jan 2006 15:04:05 -0700"},
		},
		Snippet: "snippet " + id,
	}
}

func ids(msgs []store.CachedMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.MessageID
	}
	return out
}

func TestListByLabel(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		msg("inbox", 9, "INBOX", "UNREAD"),
		msg("sent", 8, "SENT"),
		msg("draft", 7, "DRAFT"),
		msg("draft-sent", 6, "DRAFT", "SENT"),
		msg("draft-trash", 5, "DRAFT", "TRASH"),
		msg("draft-spam", 4, "DRAFT", "SPAM"),
		msg("inbox-trash", 3, "INBOX", "TRASH"),
		msg("starred", 2, "STARRED", "INBOX"),
		msg("custom", 1, "Label_7"),
	)

	tests := []struct {
		filter string
		want   []string
	}{
		{"", []string{"inbox", "sent", "draft", "draft-sent", "draft-trash", "draft-spam", "inbox-trash", "starred", "custom"}},
		{"INBOX", []string{"inbox", "starred"}},
		{"inbox", []string{"inbox", "starred"}},
		{"DRAFT", []string{"draft"}},
		{"SENT", []string{"sent", "draft-sent"}},
		{"TRASH", []string{"draft-trash", "inbox-trash"}},
		{"INBOX,TRASH", []string{"inbox", "draft-trash", "inbox-trash", "starred"}},
		{"label_7", []string{"custom"}},
		{"STARRED, SENT", []string{"sent", "draft-sent", "starred"}},
		{"Label_7", []string{"custom"}},
		{"NOPE", []string{}},
		{" , ", []string{"inbox", "sent", "draft", "draft-sent", "draft-trash", "draft-spam", "inbox-trash", "starred", "custom"}},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			got, err := f.facade.ListByLabel(tt.filter)
			if err != nil {
				t.Fatalf("ListByLabel: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("ListByLabel(%q) mismatch (-want +got):\n%s", tt.filter, diff)
			}
		})
	}
}

func TestListByLabel_EmptyCache(t *testing.T) {
	f := newFixture(t)
	got, err := f.facade.ListByLabel("INBOX")
	if err != nil {
		t.Fatalf("ListByLabel: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d messages from an empty cache", len(got))
	}
}

func TestListPage(t *testing.T) {
	f := newFixture(t)
	for i := range 5 {
		f.seed(t, msg(string(rune('a'+i)), int64(100-i), "INBOX"))
	}

	tests := []struct {
		name     string
		size     int
		token    string
		wantIDs  []string
		wantNext string
	}{
		{"first page", 2, "", []string{"a", "b"}, "2"},
		{"middle page", 2, "2", []string{"c", "d"}, "4"},
		{"last page", 2, "4", []string{"e"}, ""},
		{"exact end", 5, "", []string{"a", "b", "c", "d", "e"}, ""},
		{"past end", 2, "9", []string{}, ""},
		{"invalid token", 2, "abc", []string{"a", "b"}, "2"},
		{"negative token", 2, "-3", []string{"a", "b"}, "2"},
		{"default size", 0, "", []string{"a", "b", "c", "d", "e"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := f.facade.ListPage("INBOX", tt.size, tt.token)
			if err != nil {
				t.Fatalf("ListPage: %v", err)
			}
			got := make([]string, len(page.Messages))
			for i, m := range page.Messages {
				got[i] = m.ID
			}
			if diff := cmp.Diff(tt.wantIDs, got); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
			if page.NextPageToken != tt.wantNext {
				t.Errorf("NextPageToken = %q, want %q", page.NextPageToken, tt.wantNext)
			}
			if page.Total != 5 {
				t.Errorf("Total = %d, want 5", page.Total)
			}
		})
	}
}

func TestListPage_DefaultPageSize(t *testing.T) {
	f := newFixture(t, WithDefaultPageSize(3))
	for i := range 4 {
		f.seed(t, msg(string(rune('a'+i)), int64(100-i), "INBOX"))
	}
	page, err := f.facade.ListPage("", 0, "")
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if len(page.Messages) != 3 || page.NextPageToken != "3" {
		t.Errorf("page = %d messages, next %q", len(page.Messages), page.NextPageToken)
	}
}

func TestListPage_Summary(t *testing.T) {
	f := newFixture(t)
	f.seed(t, msg("m1", 42, "INBOX", "UNREAD"))

	page, err := f.facade.ListPage("INBOX", 10, "")
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	want := MessageSummary{
		ID:           "m1",
		ThreadID:     "t-m1",
		From:         "Alice <alice@example.com>",
		Subject:      "About m1",
		Date:         "Mon, 2 Jan 2006 15:04:05 -0700",
		Snippet:      "snippet m1",
		LabelIDs:     []string{"INBOX", "UNREAD"},
		InternalDate: 42,
		Unread:       true,
	}
	if diff := cmp.Diff([]MessageSummary{want}, page.Messages); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestThreads(t *testing.T) {
	f := newFixture(t)
	older := msg("old", 10, "INBOX")
	older.ThreadID = "T1"
	newer := msg("new", 30, "INBOX")
	newer.ThreadID = "T1"
	other := msg("other", 20, "INBOX")
	other.ThreadID = "T2"
	f.seed(t, older, newer, other)

	threads, err := f.facade.Threads()
	if err != nil {
		t.Fatalf("Threads: %v", err)
	}
	var got [][]string
	for _, th := range threads {
		var ms []string
		for _, m := range th.Messages {
			ms = append(ms, m.ID)
		}
		got = append(got, append([]string{th.ThreadID}, ms...))
	}
	want := [][]string{{"T1", "old", "new"}, {"T2", "other"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("threads mismatch (-want +got):\n%s", diff)
	}
	if threads[0].LastActivity != 30 {
		t.Errorf("LastActivity = %d, want 30", threads[0].LastActivity)
	}
}

func TestFetchFullMessageLazy(t *testing.T) {
	f := newFixture(t)
	f.mock.AddMessage(gmail.NewTestMessage("remote", "t-remote", 1000, "INBOX", "UNREAD"))

	email, err := f.facade.FetchFullMessageLazy(context.Background(), "remote")
	if err != nil {
		t.Fatalf("FetchFullMessageLazy: %v", err)
	}
	if email.Subject != "Subject remote" || email.Body != "body" || !email.Unread {
		t.Errorf("email = %+v", email)
	}
	if diff := cmp.Diff([]string{"remote"}, f.mock.Calls()); diff != "" {
		t.Errorf("remote calls mismatch (-want +got):\n%s", diff)
	}

	// The cache is not consulted or populated.
	n, err := f.store.CountMessages()
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if n != 0 {
		t.Errorf("cache has %d rows after lazy fetch", n)
	}
}

func TestFetchFullMessageLazy_Errors(t *testing.T) {
	f := newFixture(t)
	_, err := f.facade.FetchFullMessageLazy(context.Background(), "missing")
	var notFound *gmail.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("err = %v, want NotFoundError", err)
	}

	f.provider.Err = errors.New("no credential")
	_, err = f.facade.FetchFullMessageLazy(context.Background(), "missing")
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}

	noRemote := New(f.store, nil)
	if _, err := noRemote.FetchFullMessageLazy(context.Background(), "x"); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestStreamAttachment(t *testing.T) {
	f := newFixture(t)
	f.mock.Attachments["m1/a1"] = []byte("attachment bytes")

	var buf bytes.Buffer
	n, err := f.facade.StreamAttachment(context.Background(), "m1", "a1", &buf)
	if err != nil {
		t.Fatalf("StreamAttachment: %v", err)
	}
	if n != int64(buf.Len()) || buf.String() != "attachment bytes" {
		t.Errorf("got %d bytes %q", n, buf.String())
	}
}
