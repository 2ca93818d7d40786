// Package sync keeps the local cache in step with the remote mailbox: a
// bucket-by-bucket bootstrap, incremental history ticks, and a merge
// resync when the history cursor is rejected.
package sync

import (
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/wesm/mailmirror/internal/gmail"
	"github.com/wesm/mailmirror/internal/labels"
	"github.com/wesm/mailmirror/internal/store"
)

const (
	DefaultPageSize         = 100
	DefaultFetchConcurrency = gmail.DefaultExpensiveConcurrency
)

// State is the engine's position in its lifecycle.
type State int32

const (
	// StateUninitialized means no cursor is stored.
	StateUninitialized State = iota
	// StateBootstrapped means a cursor is stored and the cache was populated.
	StateBootstrapped
	// StateTracking means at least one tick has applied history.
	StateTracking
	// StateRecovering means a rejected cursor is being replaced.
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBootstrapped:
		return "bootstrapped"
	case StateTracking:
		return "tracking"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// Cache is the storage the engine writes to. *store.Store implements it.
type Cache interface {
	UpsertMessage(msg *store.CachedMessage) error
	UpsertMessages(msgs []*store.CachedMessage) error
	DeleteMessage(id string) error
	ClearAllMessages() error
	GetMeta(key string) (string, bool, error)
	SetMeta(key, value string) error
	DeleteMeta(key string) error
	StartRun(kind, cursorBefore string) (string, error)
	FinishRun(id string, stats store.RunStats) error
	FailRun(id string, stats store.RunStats, errMsg string) error
}

var _ Cache = (*store.Store)(nil)

// Outcome classifies a completed engine operation.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeSkipped
	OutcomeRecovered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// Skip reasons reported in Summary.SkipReason.
const (
	SkipNoSession     = "no_session"
	SkipNoCursor      = "no_cursor"
	SkipCorruptCursor = "corrupt_cursor"
	SkipAuth          = "auth_rejected"
)

// Summary describes one engine operation.
type Summary struct {
	Kind          string
	Outcome       Outcome
	SkipReason    string
	Written       int64
	Deleted       int64
	FetchFailures int64
	CursorBefore  uint64
	CursorAfter   uint64
	StartTime     time.Time
	Duration      time.Duration
}

func (s *Summary) runStats() store.RunStats {
	rs := store.RunStats{
		MessagesWritten: s.Written,
		MessagesDeleted: s.Deleted,
		FetchFailures:   s.FetchFailures,
	}
	if s.CursorAfter != 0 {
		rs.CursorAfter = FormatCursor(s.CursorAfter)
	}
	return rs
}

// Engine runs bootstrap, tick and resync against one cache. Operations on
// an engine are serialized; reads of the cache do not go through it.
type Engine struct {
	provider gmail.Provider
	cache    Cache
	logger   *slog.Logger
	progress Progress

	pageSize         int64
	buckets          []labels.Label
	fetchConcurrency int

	mu    gosync.Mutex
	state atomic.Int32
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithProgress sets the progress reporter.
func WithProgress(p Progress) Option {
	return func(e *Engine) { e.progress = p }
}

// WithPageSize sets the listing page size used by recovery and resync.
func WithPageSize(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithBuckets sets the labels enumerated by recovery and resync.
func WithBuckets(b []labels.Label) Option {
	return func(e *Engine) {
		if len(b) > 0 {
			e.buckets = b
		}
	}
}

// WithFetchConcurrency bounds the full-message fan-out during enumeration.
func WithFetchConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.fetchConcurrency = n
		}
	}
}

// New creates an engine. The initial state is Bootstrapped when a valid
// cursor is already stored, Uninitialized otherwise.
func New(provider gmail.Provider, cache Cache, opts ...Option) (*Engine, error) {
	e := &Engine{
		provider:         provider,
		cache:            cache,
		logger:           slog.Default(),
		progress:         NullProgress{},
		pageSize:         DefaultPageSize,
		buckets:          labels.Buckets(),
		fetchConcurrency: DefaultFetchConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}

	_, err := e.readCursor()
	switch {
	case err == nil:
		e.setState(StateBootstrapped)
	case errors.Is(err, ErrNoCursor), errors.Is(err, ErrInvalidCursor):
		e.setState(StateUninitialized)
	default:
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	return e, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	old := State(e.state.Swap(int32(s)))
	if old != s {
		e.logger.Debug("sync state changed", "from", old, "to", s)
	}
}

// handleAuth invalidates the session when err is an auth rejection.
func (e *Engine) handleAuth(err error) bool {
	var authErr *gmail.AuthError
	if !errors.As(err, &authErr) {
		return false
	}
	e.logger.Warn("session credential rejected, invalidating", "path", authErr.Path)
	e.provider.Invalidate()
	return true
}

func (e *Engine) startRun(kind string, cursorBefore uint64) string {
	before := ""
	if cursorBefore != 0 {
		before = FormatCursor(cursorBefore)
	}
	id, err := e.cache.StartRun(kind, before)
	if err != nil {
		e.logger.Warn("failed to record run start", "kind", kind, "error", err)
		return ""
	}
	return id
}

func (e *Engine) finishRun(id string, sum *Summary, runErr error) {
	sum.Duration = time.Since(sum.StartTime)
	if id == "" {
		return
	}
	var err error
	if runErr != nil {
		err = e.cache.FailRun(id, sum.runStats(), runErr.Error())
	} else {
		err = e.cache.FinishRun(id, sum.runStats())
	}
	if err != nil {
		e.logger.Warn("failed to record run end", "kind", sum.Kind, "error", err)
	}
}
