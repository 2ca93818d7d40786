package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wesm/mailmirror/internal/gmail"
	"github.com/wesm/mailmirror/internal/labels"
	"github.com/wesm/mailmirror/internal/store"
)

// Bootstrap rebuilds the cache from scratch: it reads the baseline cursor
// from the profile, clears the cache, enumerates every bucket and then
// stores the baseline. A zero pageSize or empty buckets use the engine
// defaults.
//
// A missing session or profile failure is fatal to the call. Individual
// message fetch failures are logged and counted.
func (e *Engine) Bootstrap(ctx context.Context, pageSize int64, buckets []labels.Label) (*Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pageSize <= 0 {
		pageSize = e.pageSize
	}
	if len(buckets) == 0 {
		buckets = e.buckets
	}

	sum := &Summary{Kind: store.RunBootstrap, StartTime: time.Now()}
	sum.CursorBefore, _ = e.Cursor()

	api, err := e.provider.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	baseline, err := e.baseline(ctx, api)
	if err != nil {
		e.handleAuth(err)
		return nil, err
	}

	runID := e.startRun(store.RunBootstrap, sum.CursorBefore)
	fail := func(err error) (*Summary, error) {
		e.finishRun(runID, sum, err)
		return nil, err
	}

	e.logger.Info("bootstrap starting", "baseline", baseline, "buckets", len(buckets))

	// Drop the cursor first so an interrupted bootstrap leaves the engine
	// uninitialized rather than tracking an empty cache.
	if err := e.cache.DeleteMeta(CursorKey); err != nil {
		return fail(fmt.Errorf("delete cursor: %w", err))
	}
	e.setState(StateUninitialized)
	if err := e.cache.ClearAllMessages(); err != nil {
		return fail(fmt.Errorf("clear cache: %w", err))
	}

	if err := e.enumerate(ctx, api, pageSize, buckets, baseline, sum); err != nil {
		e.handleAuth(err)
		return fail(err)
	}
	if err := e.writeCursor(baseline); err != nil {
		return fail(fmt.Errorf("store baseline cursor: %w", err))
	}
	sum.CursorAfter = baseline
	e.setState(StateBootstrapped)
	e.finishRun(runID, sum, nil)

	e.logger.Info("bootstrap complete",
		"written", sum.Written,
		"fetch_failures", sum.FetchFailures,
		"cursor", baseline,
		"duration", sum.Duration.Round(time.Millisecond))
	e.progress.OnComplete(sum)
	return sum, nil
}

// Resync merges every bucket into the cache without clearing it, then
// stores a fresh baseline.
func (e *Engine) Resync(ctx context.Context) (*Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	api, err := e.provider.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("resync: %w", err)
	}
	return e.mergeResync(ctx, api, store.RunResync)
}

// mergeResync is the shared body of Resync and cursor recovery. The
// baseline is read before enumerating, so changes made while the pass runs
// are replayed by the next tick instead of being skipped.
func (e *Engine) mergeResync(ctx context.Context, api gmail.API, kind string) (*Summary, error) {
	sum := &Summary{Kind: kind, StartTime: time.Now()}
	sum.CursorBefore, _ = e.Cursor()

	baseline, err := e.baseline(ctx, api)
	if err != nil {
		e.handleAuth(err)
		return nil, err
	}

	runID := e.startRun(kind, sum.CursorBefore)
	if err := e.enumerate(ctx, api, e.pageSize, e.buckets, baseline, sum); err != nil {
		e.handleAuth(err)
		e.finishRun(runID, sum, err)
		return nil, err
	}
	if err := e.writeCursor(baseline); err != nil {
		err = fmt.Errorf("store baseline cursor: %w", err)
		e.finishRun(runID, sum, err)
		return nil, err
	}
	sum.CursorAfter = baseline
	e.setState(StateBootstrapped)
	e.finishRun(runID, sum, nil)

	e.logger.Info(kind+" complete",
		"written", sum.Written,
		"fetch_failures", sum.FetchFailures,
		"cursor_before", sum.CursorBefore,
		"cursor_after", baseline)
	e.progress.OnComplete(sum)
	return sum, nil
}

func (e *Engine) baseline(ctx context.Context, api gmail.API) (uint64, error) {
	profile, err := api.GetProfile(ctx)
	if err != nil {
		return 0, fmt.Errorf("get profile: %w", err)
	}
	if profile.HistoryID == 0 {
		return 0, errors.New("profile reported no history id")
	}
	return profile.HistoryID, nil
}

// enumerate lists each bucket page by page, fetches every message not yet
// seen in this pass, and upserts each page's results in one batch. A
// message carrying several bucket labels is fetched and written once.
func (e *Engine) enumerate(ctx context.Context, api gmail.API, pageSize int64, buckets []labels.Label, historyID uint64, sum *Summary) error {
	seen := make(map[string]struct{})
	var listed int64

	for _, bucket := range buckets {
		e.progress.OnBucketStart(bucket)
		pageToken := ""
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			resp, err := api.ListMessages(ctx, bucket.String(), pageSize, pageToken)
			if err != nil {
				return fmt.Errorf("list %s: %w", bucket, err)
			}

			var refs []gmail.MessageRef
			for _, ref := range resp.Messages {
				if _, dup := seen[ref.ID]; dup {
					continue
				}
				seen[ref.ID] = struct{}{}
				refs = append(refs, ref)
			}
			listed += int64(len(resp.Messages))

			msgs, failed, err := e.fetchAll(ctx, api, refs, historyID)
			if err != nil {
				return err
			}
			sum.FetchFailures += failed
			if len(msgs) > 0 {
				if err := e.cache.UpsertMessages(msgs); err != nil {
					return fmt.Errorf("store %s page: %w", bucket, err)
				}
				sum.Written += int64(len(msgs))
			}
			e.progress.OnProgress(listed, sum.Written, sum.FetchFailures)

			if resp.NextPageToken == "" {
				break
			}
			pageToken = resp.NextPageToken
		}
		e.logger.Debug("bucket enumerated", "bucket", bucket, "listed_total", listed)
	}
	return nil
}

// fetchAll fetches refs with bounded fan-out and returns the results in
// listing order. Per-message failures are logged and counted; an auth
// rejection or cancellation aborts the whole batch.
func (e *Engine) fetchAll(ctx context.Context, api gmail.API, refs []gmail.MessageRef, historyID uint64) ([]*store.CachedMessage, int64, error) {
	if len(refs) == 0 {
		return nil, 0, nil
	}

	results := make([]*store.CachedMessage, len(refs))
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.fetchConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			msg, err := api.GetMessage(gctx, ref.ID)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				var authErr *gmail.AuthError
				if errors.As(err, &authErr) {
					return err
				}
				e.logger.Warn("failed to fetch message", "id", ref.ID, "error", err)
				failed.Add(1)
				return nil
			}
			hid := historyID
			results[i] = toCached(msg, ref, &hid)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	out := results[:0]
	for _, m := range results {
		if m != nil {
			out = append(out, m)
		}
	}
	return out, failed.Load(), nil
}
