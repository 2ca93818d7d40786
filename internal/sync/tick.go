package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wesm/mailmirror/internal/gmail"
	"github.com/wesm/mailmirror/internal/store"
)

// Tick applies the remote change log since the stored cursor. It is one
// iteration of the background loop.
//
// Missing sessions, missing or corrupt cursors and auth rejections skip the
// tick. A rejected cursor triggers recovery. Per-message failures while
// applying changes are logged and counted, and the cursor still advances to
// the response's history ID. Any other error is returned with the cursor
// untouched.
func (e *Engine) Tick(ctx context.Context) (*Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sum := &Summary{Kind: store.RunTick, StartTime: time.Now()}
	skip := func(reason string) (*Summary, error) {
		sum.Outcome = OutcomeSkipped
		sum.SkipReason = reason
		sum.Duration = time.Since(sum.StartTime)
		return sum, nil
	}

	api, err := e.provider.Current(ctx)
	if err != nil {
		e.logger.Debug("tick skipped: no session", "error", err)
		return skip(SkipNoSession)
	}

	cursor, err := e.readCursor()
	switch {
	case errors.Is(err, ErrNoCursor):
		e.logger.Debug("tick skipped: no cursor")
		return skip(SkipNoCursor)
	case errors.Is(err, ErrInvalidCursor):
		e.logger.Warn("deleting corrupt history cursor", "error", err)
		if delErr := e.cache.DeleteMeta(CursorKey); delErr != nil {
			return nil, fmt.Errorf("delete corrupt cursor: %w", delErr)
		}
		e.setState(StateUninitialized)
		return skip(SkipCorruptCursor)
	case err != nil:
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	sum.CursorBefore = cursor

	runID := ""
	next := cursor
	pageToken := ""
	for {
		resp, err := api.ListHistory(ctx, cursor, pageToken)
		if err != nil {
			var cursorErr *gmail.CursorInvalidError
			if errors.As(err, &cursorErr) {
				e.finishRun(runID, sum, err)
				return e.recoverCursor(ctx, api, cursor)
			}
			if e.handleAuth(err) {
				e.finishRun(runID, sum, err)
				return skip(SkipAuth)
			}
			e.finishRun(runID, sum, err)
			return nil, fmt.Errorf("list history: %w", err)
		}

		if runID == "" && len(resp.History) > 0 {
			runID = e.startRun(store.RunTick, cursor)
		}
		for _, rec := range resp.History {
			for _, change := range rec.Changes {
				if err := e.apply(ctx, api, change, resp.HistoryID, sum); err != nil {
					if e.handleAuth(err) {
						e.finishRun(runID, sum, err)
						return skip(SkipAuth)
					}
					e.finishRun(runID, sum, err)
					return nil, err
				}
			}
		}
		if resp.HistoryID > next {
			next = resp.HistoryID
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	if err := e.advanceCursor(cursor, next); err != nil {
		e.finishRun(runID, sum, err)
		return nil, fmt.Errorf("advance cursor: %w", err)
	}
	sum.CursorAfter = next
	sum.Outcome = OutcomeApplied
	e.setState(StateTracking)
	e.finishRun(runID, sum, nil)

	if sum.Written+sum.Deleted+sum.FetchFailures > 0 {
		e.logger.Info("tick applied",
			"written", sum.Written,
			"deleted", sum.Deleted,
			"fetch_failures", sum.FetchFailures,
			"cursor", next)
	}
	return sum, nil
}

// recoverCursor replaces a rejected cursor: it deletes it, merges every
// bucket into the cache and stores a fresh baseline.
func (e *Engine) recoverCursor(ctx context.Context, api gmail.API, rejected uint64) (*Summary, error) {
	e.logger.Warn("history cursor rejected, resyncing", "cursor", rejected)
	e.setState(StateRecovering)

	if err := e.cache.DeleteMeta(CursorKey); err != nil {
		return nil, fmt.Errorf("delete rejected cursor: %w", err)
	}
	sum, err := e.mergeResync(ctx, api, store.RunRecovery)
	if err != nil {
		e.setState(StateUninitialized)
		return nil, fmt.Errorf("recover cursor: %w", err)
	}
	sum.CursorBefore = rejected
	sum.Outcome = OutcomeRecovered
	return sum, nil
}

// apply applies one change. Only auth rejections and cancellation are
// returned; everything else is logged and counted.
func (e *Engine) apply(ctx context.Context, api gmail.API, change gmail.Change, historyID uint64, sum *Summary) error {
	id := change.Message.ID
	switch change.Kind {
	case gmail.ChangeMessageDeleted:
		if err := e.cache.DeleteMessage(id); err != nil {
			e.logger.Warn("failed to delete message", "id", id, "error", err)
			sum.FetchFailures++
			return nil
		}
		sum.Deleted++
		return nil

	case gmail.ChangeMessageAdded, gmail.ChangeLabelsAdded, gmail.ChangeLabelsRemoved:
		// Label events do not carry the full label set, so re-read the message.
		msg, err := api.GetMessage(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var notFound *gmail.NotFoundError
			if errors.As(err, &notFound) {
				e.logger.Debug("message gone remotely, deleting", "id", id, "change", change.Kind)
				if delErr := e.cache.DeleteMessage(id); delErr != nil {
					e.logger.Warn("failed to delete message", "id", id, "error", delErr)
					sum.FetchFailures++
					return nil
				}
				sum.Deleted++
				return nil
			}
			var authErr *gmail.AuthError
			if errors.As(err, &authErr) {
				return err
			}
			e.logger.Warn("failed to fetch changed message", "id", id, "change", change.Kind, "error", err)
			sum.FetchFailures++
			return nil
		}
		hid := historyID
		if err := e.cache.UpsertMessage(toCached(msg, change.Message, &hid)); err != nil {
			e.logger.Warn("failed to store message", "id", id, "error", err)
			sum.FetchFailures++
			return nil
		}
		sum.Written++
		return nil

	default:
		e.logger.Debug("ignoring unknown change", "id", id, "kind", change.Kind)
		return nil
	}
}
