package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wesm/mailmirror/internal/gmail"
	"github.com/wesm/mailmirror/internal/query"
	"github.com/wesm/mailmirror/internal/scheduler"
	"github.com/wesm/mailmirror/internal/store"
	"github.com/wesm/mailmirror/internal/sync"
)

const maxPageSize = 500

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SessionRequest carries a pushed mailbox credential.
type SessionRequest struct {
	AccessToken string `json:"accessToken"`
}

// SessionResponse reports what initializing the session started.
type SessionResponse struct {
	State         string `json:"state"`
	Bootstrapping bool   `json:"bootstrapping"`
}

// PrefetchRequest lists messages to warm in the background.
type PrefetchRequest struct {
	IDs []string `json:"ids"`
}

// RunInfo is a sync run in status responses.
type RunInfo struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	Status          string `json:"status"`
	StartedAt       string `json:"started_at"`
	FinishedAt      string `json:"finished_at,omitempty"`
	MessagesWritten int64  `json:"messages_written"`
	MessagesDeleted int64  `json:"messages_deleted"`
	FetchFailures   int64  `json:"fetch_failures"`
	CursorBefore    string `json:"cursor_before,omitempty"`
	CursorAfter     string `json:"cursor_after,omitempty"`
	Error           string `json:"error,omitempty"`
}

// SyncStatusResponse represents the engine and scheduler status.
type SyncStatusResponse struct {
	State            string                `json:"state"`
	Cursor           string                `json:"cursor,omitempty"`
	SchedulerRunning bool                  `json:"scheduler_running"`
	Jobs             []scheduler.JobStatus `json:"jobs"`
	CachedMessages   int64                 `json:"cached_messages"`
	CachedThreads    int64                 `json:"cached_threads"`
	DatabaseSize     int64                 `json:"database_size_bytes"`
	RecentRuns       []RunInfo             `json:"recent_runs"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeRemoteError maps an error from a remote-backed operation to a status.
func (s *Server) writeRemoteError(w http.ResponseWriter, what string, err error) {
	var notFound *gmail.NotFoundError
	var authErr *gmail.AuthError
	switch {
	case errors.Is(err, query.ErrNoSession):
		writeError(w, http.StatusServiceUnavailable, "no_session", "No mailbox credential available; POST /api/v1/session first")
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "not_found", what+" not found")
	case errors.As(err, &authErr):
		if s.deps.Provider != nil {
			s.deps.Provider.Invalidate()
		}
		writeError(w, http.StatusBadGateway, "upstream_auth", "Mailbox credential was rejected")
	default:
		s.logger.Error("remote request failed", "what", what, "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "Failed to retrieve "+strings.ToLower(what))
	}
}

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+"_unavailable", what+" not available")
}

// handleSession installs a pushed credential, rebuilds the remote session
// and, when nothing has been synced yet, starts a bootstrap in the
// background.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Credentials == nil || s.deps.Provider == nil {
		unavailable(w, "session")
		return
	}

	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Body must be JSON with an accessToken field")
		return
	}
	req.AccessToken = strings.TrimSpace(req.AccessToken)
	if req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "missing_token", "accessToken is required")
		return
	}

	s.deps.Credentials.SetCredential(req.AccessToken)
	if _, err := s.deps.Provider.Refresh(r.Context()); err != nil {
		s.logger.Error("failed to build session", "error", err)
		writeError(w, http.StatusBadGateway, "session_error", "Failed to initialize mailbox session")
		return
	}

	resp := SessionResponse{State: sync.StateUninitialized.String()}
	if s.deps.Engine != nil {
		resp.State = s.deps.Engine.State().String()
	}
	if resp.State == sync.StateUninitialized.String() && s.deps.Jobs != nil {
		err := s.deps.Jobs.Trigger(JobBootstrap)
		switch {
		case err == nil:
			resp.Bootstrapping = true
			s.logger.Info("bootstrap started after session init")
		case errors.Is(err, scheduler.ErrAlreadyRunning):
			resp.Bootstrapping = true
		default:
			s.logger.Warn("could not start bootstrap", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListMessages returns one page of the filtered listing.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reader == nil {
		unavailable(w, "cache")
		return
	}

	q := r.URL.Query()
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	page, err := s.deps.Reader.ListPage(q.Get("label"), pageSize, q.Get("page_token"))
	if err != nil {
		s.logger.Error("failed to list messages", "label", q.Get("label"), "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve messages")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleGetMessage returns a full message fetched from the remote.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reader == nil {
		unavailable(w, "cache")
		return
	}

	id := chi.URLParam(r, "id")
	email, err := s.deps.Reader.FetchFullMessageLazy(r.Context(), id)
	if err != nil {
		s.writeRemoteError(w, "Message", err)
		return
	}
	writeJSON(w, http.StatusOK, email)
}

// countingWriter tracks whether any bytes reached the client.
type countingWriter struct {
	w http.ResponseWriter
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.n == 0 && len(p) > 0 {
		c.w.Header().Set("Content-Type", "application/octet-stream")
		c.w.WriteHeader(http.StatusOK)
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// handleGetAttachment streams attachment bytes to the client.
func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reader == nil {
		unavailable(w, "cache")
		return
	}

	id := chi.URLParam(r, "id")
	attID := chi.URLParam(r, "attachmentID")
	cw := &countingWriter{w: w}
	if _, err := s.deps.Reader.StreamAttachment(r.Context(), id, attID, cw); err != nil {
		if cw.n == 0 {
			s.writeRemoteError(w, "Attachment", err)
			return
		}
		// Headers are gone; the client sees a truncated body.
		s.logger.Error("attachment stream interrupted", "id", id, "attachment_id", attID, "bytes", cw.n, "error", err)
		return
	}
	if cw.n == 0 {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
	}
}

// handleListThreads returns the thread view.
func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reader == nil {
		unavailable(w, "cache")
		return
	}
	threads, err := s.deps.Reader.Threads()
	if err != nil {
		s.logger.Error("failed to list threads", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve threads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

// handlePrefetch queues message bodies for background warm-up.
func (s *Server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reader == nil {
		unavailable(w, "cache")
		return
	}
	var req PrefetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Body must be JSON with an ids array")
		return
	}
	accepted := s.deps.Reader.PrefetchBodies(req.IDs)
	writeJSON(w, http.StatusAccepted, map[string]int{
		"requested": len(req.IDs),
		"accepted":  accepted,
	})
}

// handleLabelCounts returns per-label totals.
func (s *Server) handleLabelCounts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reader == nil {
		unavailable(w, "cache")
		return
	}
	counts, err := s.deps.Reader.LabelCounts()
	if err != nil {
		s.logger.Error("failed to count labels", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve statistics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"labels": counts})
}

// handleTodayCounts returns today's totals.
func (s *Server) handleTodayCounts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reader == nil {
		unavailable(w, "cache")
		return
	}
	counts, err := s.deps.Reader.TodayCounts()
	if err != nil {
		s.logger.Error("failed to count today", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve statistics")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// handleSyncStatus reports engine state, jobs and recent runs.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := SyncStatusResponse{
		State:      sync.StateUninitialized.String(),
		Jobs:       []scheduler.JobStatus{},
		RecentRuns: []RunInfo{},
	}
	if s.deps.Engine != nil {
		resp.State = s.deps.Engine.State().String()
		if c, ok := s.deps.Engine.Cursor(); ok {
			resp.Cursor = sync.FormatCursor(c)
		}
	}
	if s.deps.Jobs != nil {
		resp.SchedulerRunning = s.deps.Jobs.IsRunning()
		resp.Jobs = s.deps.Jobs.Status()
	}
	if s.deps.Runs != nil {
		if st, err := s.deps.Runs.Stats(); err != nil {
			s.logger.Warn("failed to read cache stats", "error", err)
		} else {
			resp.CachedMessages = st.MessageCount
			resp.CachedThreads = st.ThreadCount
			resp.DatabaseSize = st.DatabaseSize
		}
		runs, err := s.deps.Runs.RecentRuns(10)
		if err != nil {
			s.logger.Error("failed to read runs", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve sync runs")
			return
		}
		for i := range runs {
			resp.RecentRuns = append(resp.RecentRuns, toRunInfo(&runs[i]))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func toRunInfo(r *store.Run) RunInfo {
	info := RunInfo{
		ID:              r.ID,
		Kind:            r.Kind,
		Status:          r.Status,
		StartedAt:       r.StartedAt().UTC().Format(time.RFC3339),
		MessagesWritten: r.MessagesWritten,
		MessagesDeleted: r.MessagesDeleted,
		FetchFailures:   r.FetchFailures,
		CursorBefore:    r.CursorBefore.String,
		CursorAfter:     r.CursorAfter.String,
		Error:           r.ErrorMessage.String,
	}
	if t := r.FinishedAt(); !t.IsZero() {
		info.FinishedAt = t.UTC().Format(time.RFC3339)
	}
	return info
}

// handleTrigger starts a scheduler job outside its schedule.
func (s *Server) handleTrigger(job string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Jobs == nil {
			unavailable(w, "scheduler")
			return
		}
		err := s.deps.Jobs.Trigger(job)
		switch {
		case err == nil:
		case errors.Is(err, scheduler.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, "already_running", err.Error())
			return
		default:
			s.logger.Error("failed to trigger job", "job", job, "error", err)
			writeError(w, http.StatusServiceUnavailable, "trigger_failed", err.Error())
			return
		}

		s.logger.Info("job triggered via API", "job", job)
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "accepted",
			"message": job + " started",
		})
	}
}
