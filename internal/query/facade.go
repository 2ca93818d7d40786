package query

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/wesm/mailmirror/internal/gmail"
	"github.com/wesm/mailmirror/internal/labels"
	"github.com/wesm/mailmirror/internal/mime"
	"github.com/wesm/mailmirror/internal/store"
)

// Cache is the read side of the store used by the facade.
type Cache interface {
	LoadAllMessages() ([]store.CachedMessage, error)
	LoadThreadsSorted() ([]store.Thread, error)
}

var _ Cache = (*store.Store)(nil)

// Facade answers presentation queries. Listings and counts read the cache
// only; full messages and attachments always go to the remote.
type Facade struct {
	cache    Cache
	provider gmail.Provider
	logger   *slog.Logger

	pageSize   int
	todayBasis TodayBasis
	now        func() time.Time
	location   *time.Location

	prefetcher *Prefetcher
}

// Option configures a Facade.
type Option func(*Facade)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Facade) { f.logger = logger }
}

// WithDefaultPageSize sets the page size used when callers pass <= 0.
func WithDefaultPageSize(n int) Option {
	return func(f *Facade) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

// WithTodayBasis selects the timestamp TodayCounts uses.
func WithTodayBasis(b TodayBasis) Option {
	return func(f *Facade) { f.todayBasis = b }
}

// WithClock overrides the current time and the location that defines the
// calendar day. Used by tests.
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(f *Facade) {
		f.now = now
		if loc != nil {
			f.location = loc
		}
	}
}

// WithPrefetcher attaches the background body prefetcher.
func WithPrefetcher(p *Prefetcher) Option {
	return func(f *Facade) { f.prefetcher = p }
}

// New creates a facade over cache. provider may be nil, in which case the
// remote-backed operations fail.
func New(cache Cache, provider gmail.Provider, opts ...Option) *Facade {
	f := &Facade{
		cache:      cache,
		provider:   provider,
		logger:     slog.Default(),
		pageSize:   DefaultPageSize,
		todayBasis: BasisInternalDate,
		now:        time.Now,
		location:   time.Local,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ListByLabel returns the cached messages matching a comma-separated label
// filter, newest first. An empty filter returns everything. A cache that was
// never bootstrapped yields an empty slice, not an error.
func (f *Facade) ListByLabel(filter string) ([]store.CachedMessage, error) {
	all, err := f.cache.LoadAllMessages()
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", filter, err)
	}
	requested := labels.ParseFilter(filter)
	if requested.Empty() {
		return all, nil
	}

	out := make([]store.CachedMessage, 0, len(all))
	for i := range all {
		if labels.Matches(requested, labels.SetOf(all[i].LabelIDs)) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// ListPage returns one page of ListByLabel. The page token is the decimal
// offset into the filtered result set; an empty, invalid or negative token
// starts from the beginning.
func (f *Facade) ListPage(filter string, pageSize int, pageToken string) (*Page, error) {
	msgs, err := f.ListByLabel(filter)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = f.pageSize
	}

	total := len(msgs)
	start := ParsePageToken(pageToken)
	if start > total {
		start = total
	}
	end := min(start+pageSize, total)

	page := &Page{Messages: make([]MessageSummary, 0, end-start), Total: total}
	for i := start; i < end; i++ {
		page.Messages = append(page.Messages, Summarize(&msgs[i]))
	}
	if end < total {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

// ParsePageToken decodes an offset token. Anything that is not a
// non-negative integer is treated as zero.
func ParsePageToken(token string) int {
	n, err := strconv.Atoi(token)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Threads returns the thread view, most recent activity first.
func (f *Facade) Threads() ([]ThreadSummary, error) {
	threads, err := f.cache.LoadThreadsSorted()
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	out := make([]ThreadSummary, len(threads))
	for i := range threads {
		t := &threads[i]
		ts := ThreadSummary{
			ThreadID:     t.ThreadID,
			LastActivity: t.LastActivity,
			Messages:     make([]MessageSummary, len(t.Messages)),
		}
		for j := range t.Messages {
			ts.Messages[j] = Summarize(&t.Messages[j])
		}
		out[i] = ts
	}
	return out, nil
}

// FetchFullMessageLazy fetches a message from the remote and flattens it.
// The cache is never consulted: it only holds metadata.
func (f *Facade) FetchFullMessageLazy(ctx context.Context, id string) (*mime.Email, error) {
	api, err := f.session(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := api.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", id, err)
	}
	email, err := mime.Parse(msg)
	if err != nil {
		return nil, fmt.Errorf("parse message %s: %w", id, err)
	}
	return email, nil
}

// StreamAttachment copies an attachment's decoded bytes to w.
func (f *Facade) StreamAttachment(ctx context.Context, messageID, attachmentID string, w io.Writer) (int64, error) {
	api, err := f.session(ctx)
	if err != nil {
		return 0, err
	}
	n, err := api.StreamAttachment(ctx, messageID, attachmentID, w)
	if err != nil {
		return n, fmt.Errorf("stream attachment %s/%s: %w", messageID, attachmentID, err)
	}
	return n, nil
}

func (f *Facade) session(ctx context.Context) (gmail.API, error) {
	if f.provider == nil {
		return nil, ErrNoSession
	}
	api, err := f.provider.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSession, err)
	}
	return api, nil
}
