package query

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesm/mailmirror/internal/gmail"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestPrefetcher_BoundsConcurrency(t *testing.T) {
	mock := gmail.NewMockAPI()
	mock.FetchDelay = 20 * time.Millisecond
	var wantIDs []string
	for i := range 20 {
		id := string(rune('a' + i))
		mock.AddMessage(gmail.NewTestMessage(id, "t", int64(i), "INBOX"))
		wantIDs = append(wantIDs, id)
	}

	p := NewPrefetcher(SessionFetch(gmail.NewStaticProvider(mock)), 4, 64, discardLogger())
	p.Start(context.Background())
	defer p.Stop()

	if got := p.Enqueue(wantIDs...); got != 20 {
		t.Fatalf("Enqueue accepted %d, want 20", got)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(mock.Calls()) < 20 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d fetches completed", len(mock.Calls()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	if mock.MaxInFlight > 4 {
		t.Errorf("MaxInFlight = %d, want <= 4", mock.MaxInFlight)
	}
}

func TestPrefetcher_DropsWhenFull(t *testing.T) {
	p := NewPrefetcher(func(context.Context, string) error { return nil }, 1, 3, discardLogger())
	// Not started: nothing drains the queue.
	if got := p.Enqueue("a", "b", "c", "d", "e"); got != 3 {
		t.Errorf("Enqueue accepted %d, want 3", got)
	}
	if p.Depth() != 3 {
		t.Errorf("Depth = %d, want 3", p.Depth())
	}
	if got := p.Enqueue("", ""); got != 0 {
		t.Errorf("blank ids accepted: %d", got)
	}
}

func TestPrefetcher_DiscardsErrors(t *testing.T) {
	var calls atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)
	fetch := func(ctx context.Context, id string) error {
		defer wg.Done()
		calls.Add(1)
		return errors.New("boom " + id)
	}
	p := NewPrefetcher(fetch, 2, 8, discardLogger())
	p.Start(context.Background())
	defer p.Stop()

	p.Enqueue("x", "y", "z")
	wg.Wait()
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestPrefetcher_StopIsIdempotent(t *testing.T) {
	p := NewPrefetcher(func(context.Context, string) error { return nil }, 2, 4, discardLogger())
	p.Stop()
	p.Start(context.Background())
	p.Start(context.Background())
	p.Stop()
	p.Stop()
}

func TestFacade_PrefetchBodies(t *testing.T) {
	f := newFixture(t)
	if got := f.facade.PrefetchBodies([]string{"a"}); got != 0 {
		t.Errorf("without a prefetcher accepted %d, want 0", got)
	}

	p := NewPrefetcher(func(context.Context, string) error { return nil }, 1, 2, discardLogger())
	withPrefetch := New(f.store, f.provider, WithPrefetcher(p))
	if got := withPrefetch.PrefetchBodies([]string{"a", "b", "c"}); got != 2 {
		t.Errorf("accepted %d, want 2", got)
	}
}
