package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/wesm/mailmirror/internal/gmail"
	"github.com/wesm/mailmirror/internal/store"
)

type testEnv struct {
	Store    *store.Store
	Mock     *gmail.MockAPI
	Provider *gmail.StaticProvider
	Engine   *Engine
	Context  context.Context
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "cache.sqlite3"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mock := gmail.NewMockAPI()
	mock.HistoryID = 1000
	provider := gmail.NewStaticProvider(mock)

	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	engine, err := New(provider, st, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testEnv{
		Store:    st,
		Mock:     mock,
		Provider: provider,
		Engine:   engine,
		Context:  context.Background(),
	}
}

func (e *testEnv) setCursor(t *testing.T, v string) {
	t.Helper()
	if err := e.Store.SetMeta(CursorKey, v); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
}

func (e *testEnv) cursor(t *testing.T) (string, bool) {
	t.Helper()
	v, ok, err := e.Store.GetMeta(CursorKey)
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	return v, ok
}

func (e *testEnv) assertCursor(t *testing.T, want string) {
	t.Helper()
	got, ok := e.cursor(t)
	if !ok {
		t.Fatalf("cursor missing, want %q", want)
	}
	if got != want {
		t.Errorf("cursor = %q, want %q", got, want)
	}
}

func (e *testEnv) cachedIDs(t *testing.T) []string {
	t.Helper()
	msgs, err := e.Store.LoadAllMessages()
	if err != nil {
		t.Fatalf("LoadAllMessages: %v", err)
	}
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.MessageID
	}
	return out
}

func (e *testEnv) seed(t *testing.T, msgs ...*store.CachedMessage) {
	t.Helper()
	if err := e.Store.UpsertMessages(msgs); err != nil {
		t.Fatalf("UpsertMessages: %v", err)
	}
}

func cached(id, thread string, date int64, labelIDs ...string) *store.CachedMessage {
	return &store.CachedMessage{MessageID: id, ThreadID: thread, InternalDate: date, LabelIDs: labelIDs}
}

func added(id string) gmail.Change {
	return gmail.Change{Kind: gmail.ChangeMessageAdded, Message: gmail.MessageRef{ID: id, ThreadID: "t-" + id}}
}

func deleted(id string) gmail.Change {
	return gmail.Change{Kind: gmail.ChangeMessageDeleted, Message: gmail.MessageRef{ID: id, ThreadID: "t-" + id}}
}

func labelsAdded(id string, labelIDs ...string) gmail.Change {
	return gmail.Change{Kind: gmail.ChangeLabelsAdded, Message: gmail.MessageRef{ID: id, ThreadID: "t-" + id}, LabelIDs: labelIDs}
}

func countCalls(calls []string, id string) int {
	n := 0
	for _, c := range calls {
		if c == id {
			n++
		}
	}
	return n
}
