package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/mailmirror/internal/gmail"
	"github.com/wesm/mailmirror/internal/mime"
	"github.com/wesm/mailmirror/internal/query"
	"github.com/wesm/mailmirror/internal/scheduler"
	"github.com/wesm/mailmirror/internal/store"
	"github.com/wesm/mailmirror/internal/sync"
)

func (ts *testServer) seed(t *testing.T, msgs ...*store.CachedMessage) {
	t.Helper()
	if err := ts.store.UpsertMessages(msgs); err != nil {
		t.Fatalf("UpsertMessages: %v", err)
	}
}

func cachedMsg(id string, date int64, labelIDs ...string) *store.CachedMessage {
	return &store.CachedMessage{
		MessageID:    id,
		ThreadID:     "t-" + id,
		InternalDate: date,
		LabelIDs:     labelIDs,
		Headers:      []store.Header{{Name: "Subject", Value: "Subject " + id}},
	}
}

func TestHandleListMessages(t *testing.T) {
	ts := newTestServer(t, nil)
	for i := range 5 {
		ts.seed(t, cachedMsg(fmt.Sprintf("m%d", i), int64(100-i), "INBOX"))
	}
	ts.seed(t, cachedMsg("trashed", 200, "INBOX", "TRASH"))

	w := ts.do(t, "GET", "/api/v1/messages?label=INBOX&page_size=2&page_token=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	page := decode[query.Page](t, w)
	var ids []string
	for _, m := range page.Messages {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"m2", "m3"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if page.NextPageToken != "4" || page.Total != 5 {
		t.Errorf("next = %q, total = %d", page.NextPageToken, page.Total)
	}
	if page.Messages[0].Subject != "Subject m2" {
		t.Errorf("Subject = %q", page.Messages[0].Subject)
	}
}

func TestHandleListMessages_EmptyCache(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, "GET", "/api/v1/messages", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	page := decode[query.Page](t, w)
	if len(page.Messages) != 0 || page.Total != 0 || page.NextPageToken != "" {
		t.Errorf("page = %+v", page)
	}
}

func TestHandleGetMessage(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.mock.AddMessage(gmail.NewTestMessage("remote", "t-1", 1000, "INBOX"))

	w := ts.do(t, "GET", "/api/v1/messages/remote", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	email := decode[mime.Email](t, w)
	if email.ID != "remote" || email.Subject != "Subject remote" || email.Body != "body" {
		t.Errorf("email = %+v", email)
	}

	if w := ts.do(t, "GET", "/api/v1/messages/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing message status = %d, want 404", w.Code)
	}

	ts.mock.GetMessageError["broken"] = &gmail.StatusError{StatusCode: 403, Path: "/messages/broken"}
	if w := ts.do(t, "GET", "/api/v1/messages/broken", ""); w.Code != http.StatusBadGateway {
		t.Errorf("upstream failure status = %d, want 502", w.Code)
	}

	ts.mock.GetMessageError["expired"] = &gmail.AuthError{Path: "/messages/expired"}
	if w := ts.do(t, "GET", "/api/v1/messages/expired", ""); w.Code != http.StatusBadGateway {
		t.Errorf("auth failure status = %d, want 502", w.Code)
	}
	if ts.provider.InvalidateCalls != 1 {
		t.Errorf("InvalidateCalls = %d, want 1", ts.provider.InvalidateCalls)
	}

	ts.provider.Err = errors.New("no credential")
	if w := ts.do(t, "GET", "/api/v1/messages/remote", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("no session status = %d, want 503", w.Code)
	}
}

func TestHandleGetAttachment(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.mock.Attachments["m1/a1"] = []byte("%PDF-1.4 bytes")

	w := ts.do(t, "GET", "/api/v1/messages/m1/attachments/a1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "%PDF-1.4 bytes" {
		t.Errorf("body = %q", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	if w := ts.do(t, "GET", "/api/v1/messages/m1/attachments/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing attachment status = %d, want 404", w.Code)
	}
}

func TestHandleListThreads(t *testing.T) {
	ts := newTestServer(t, nil)
	a := cachedMsg("a", 10, "INBOX")
	b := cachedMsg("b", 20, "INBOX")
	b.ThreadID = a.ThreadID
	ts.seed(t, a, b, cachedMsg("c", 15, "INBOX"))

	w := ts.do(t, "GET", "/api/v1/threads", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[struct {
		Threads []query.ThreadSummary `json:"threads"`
	}](t, w)
	var got []string
	for _, th := range resp.Threads {
		got = append(got, th.ThreadID)
	}
	if diff := cmp.Diff([]string{"t-a", "t-c"}, got); diff != "" {
		t.Errorf("threads mismatch (-want +got):\n%s", diff)
	}
}

func TestHandlePrefetch(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, "POST", "/api/v1/prefetch", `{"ids":["a","b","c","d","e","f"]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	resp := decode[map[string]int](t, w)
	// The test prefetcher is not started and holds four ids.
	if resp["requested"] != 6 || resp["accepted"] != 4 {
		t.Errorf("resp = %v", resp)
	}

	if w := ts.do(t, "POST", "/api/v1/prefetch", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seed(t, cachedMsg("a", 1, "INBOX", "UNREAD"), cachedMsg("b", 2, "INBOX"))

	w := ts.do(t, "GET", "/api/v1/stats/labels", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[struct {
		Labels []query.LabelCount `json:"labels"`
	}](t, w)
	want := []query.LabelCount{
		{ID: "INBOX", Name: "INBOX", Total: 2, Unread: 1},
		{ID: "UNREAD", Name: "UNREAD", Total: 1, Unread: 1},
	}
	if diff := cmp.Diff(want, resp.Labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}

	w = ts.do(t, "GET", "/api/v1/stats/today", "")
	if w.Code != http.StatusOK {
		t.Fatalf("today status = %d, want 200", w.Code)
	}
	// Seeded dates are in 1970.
	if got := decode[query.TodayCounts](t, w); got != (query.TodayCounts{}) {
		t.Errorf("today = %+v, want zero", got)
	}
}

func TestHandleSession(t *testing.T) {
	t.Run("bootstraps uninitialized engine", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.engine.state = sync.StateUninitialized

		w := ts.do(t, "POST", "/api/v1/session", `{"accessToken":"ya29.token"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
		}
		resp := decode[SessionResponse](t, w)
		if !resp.Bootstrapping || resp.State != "uninitialized" {
			t.Errorf("resp = %+v", resp)
		}
		if diff := cmp.Diff([]string{"ya29.token"}, ts.creds.tokens); diff != "" {
			t.Errorf("tokens mismatch (-want +got):\n%s", diff)
		}
		if ts.provider.RefreshCalls != 1 {
			t.Errorf("RefreshCalls = %d, want 1", ts.provider.RefreshCalls)
		}
		if diff := cmp.Diff([]string{JobBootstrap}, ts.jobs.triggered); diff != "" {
			t.Errorf("triggered mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("tracking engine is left alone", func(t *testing.T) {
		ts := newTestServer(t, nil)
		w := ts.do(t, "POST", "/api/v1/session", `{"accessToken":"tok"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if resp := decode[SessionResponse](t, w); resp.Bootstrapping || resp.State != "tracking" {
			t.Errorf("resp = %+v", resp)
		}
		if len(ts.jobs.triggered) != 0 {
			t.Errorf("triggered = %v, want none", ts.jobs.triggered)
		}
	})

	t.Run("bootstrap already running", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.engine.state = sync.StateUninitialized
		ts.jobs.triggerFn = func(string) error { return scheduler.ErrAlreadyRunning }
		w := ts.do(t, "POST", "/api/v1/session", `{"accessToken":"tok"}`)
		if resp := decode[SessionResponse](t, w); !resp.Bootstrapping {
			t.Errorf("resp = %+v, want bootstrapping", resp)
		}
	})

	t.Run("rejects missing token", func(t *testing.T) {
		ts := newTestServer(t, nil)
		for _, body := range []string{`{}`, `{"accessToken":"  "}`, `nope`} {
			if w := ts.do(t, "POST", "/api/v1/session", body); w.Code != http.StatusBadRequest {
				t.Errorf("body %s status = %d, want 400", body, w.Code)
			}
		}
		if len(ts.creds.tokens) != 0 {
			t.Errorf("tokens = %v, want none", ts.creds.tokens)
		}
	})

	t.Run("session build failure", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.provider.Err = errors.New("endpoint down")
		if w := ts.do(t, "POST", "/api/v1/session", `{"accessToken":"tok"}`); w.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", w.Code)
		}
	})
}

func TestHandleSyncStatus(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.jobs.statuses = []scheduler.JobStatus{{Name: "tick", Schedule: "@every 20s", Runs: 3}}
	ts.seed(t, cachedMsg("a", 1, "INBOX"))

	id, err := ts.store.StartRun(store.RunBootstrap, "")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := ts.store.FinishRun(id, store.RunStats{MessagesWritten: 1, CursorAfter: "500"}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	w := ts.do(t, "GET", "/api/v1/sync/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[SyncStatusResponse](t, w)
	if resp.State != "tracking" || resp.Cursor != "500" || !resp.SchedulerRunning {
		t.Errorf("resp = %+v", resp)
	}
	if resp.CachedMessages != 1 || resp.CachedThreads != 1 {
		t.Errorf("cached = %d messages, %d threads", resp.CachedMessages, resp.CachedThreads)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].Runs != 3 {
		t.Errorf("jobs = %+v", resp.Jobs)
	}
	if len(resp.RecentRuns) != 1 {
		t.Fatalf("runs = %+v", resp.RecentRuns)
	}
	run := resp.RecentRuns[0]
	if run.Kind != "bootstrap" || run.Status != "completed" || run.CursorAfter != "500" || run.FinishedAt == "" {
		t.Errorf("run = %+v", run)
	}
}

func TestHandleTrigger(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, "POST", "/api/v1/sync/tick", "")
	if w.Code != http.StatusAccepted {
		t.Errorf("tick status = %d, want 202", w.Code)
	}
	w = ts.do(t, "POST", "/api/v1/sync/bootstrap", "")
	if w.Code != http.StatusAccepted {
		t.Errorf("bootstrap status = %d, want 202", w.Code)
	}
	if diff := cmp.Diff([]string{JobTick, JobBootstrap}, ts.jobs.triggered); diff != "" {
		t.Errorf("triggered mismatch (-want +got):\n%s", diff)
	}

	ts.jobs.triggerFn = func(name string) error { return fmt.Errorf("%w: %s", scheduler.ErrAlreadyRunning, name) }
	if w := ts.do(t, "POST", "/api/v1/sync/tick", ""); w.Code != http.StatusConflict {
		t.Errorf("running status = %d, want 409", w.Code)
	}

	ts.jobs.triggerFn = func(string) error { return scheduler.ErrStopped }
	if w := ts.do(t, "POST", "/api/v1/sync/tick", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("stopped status = %d, want 503", w.Code)
	}
}
