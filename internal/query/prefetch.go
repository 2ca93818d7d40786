package query

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wesm/mailmirror/internal/gmail"
)

const (
	DefaultPrefetchWorkers = 4
	DefaultPrefetchQueue   = 256
)

// FetchFunc fetches one message body. Results are discarded.
type FetchFunc func(ctx context.Context, id string) error

// Prefetcher warms message bodies in the background. Ids go into a bounded
// queue drained by a fixed pool of workers, so at most `workers` fetches are
// in flight no matter how many ids are enqueued. A full queue drops ids.
type Prefetcher struct {
	fetch   FetchFunc
	workers int
	queue   chan string
	logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPrefetcher creates a stopped prefetcher. Non-positive workers or depth
// use the defaults.
func NewPrefetcher(fetch FetchFunc, workers, depth int, logger *slog.Logger) *Prefetcher {
	if workers <= 0 {
		workers = DefaultPrefetchWorkers
	}
	if depth <= 0 {
		depth = DefaultPrefetchQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prefetcher{
		fetch:   fetch,
		workers: workers,
		queue:   make(chan string, depth),
		logger:  logger,
	}
}

// SessionFetch returns a FetchFunc that fetches full messages through the
// provider's current session.
func SessionFetch(provider gmail.Provider) FetchFunc {
	return func(ctx context.Context, id string) error {
		api, err := provider.Current(ctx)
		if err != nil {
			return err
		}
		_, err = api.GetMessage(ctx, id)
		return err
	}
}

// Start launches the workers. They exit when ctx is cancelled or Stop is
// called. Starting a running prefetcher is a no-op.
func (p *Prefetcher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(p.workers)
	for range p.workers {
		go func() {
			defer p.wg.Done()
			p.work(ctx)
		}()
	}
}

func (p *Prefetcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			if err := p.fetch(ctx, id); err != nil {
				p.logger.Debug("prefetch failed", "id", id, "error", err)
			}
		}
	}
}

// Enqueue queues ids without blocking and returns how many were accepted.
// Ids that do not fit are dropped.
func (p *Prefetcher) Enqueue(ids ...string) int {
	accepted := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		select {
		case p.queue <- id:
			accepted++
		default:
			p.logger.Debug("prefetch queue full, dropping", "dropped", len(ids)-accepted)
			return accepted
		}
	}
	return accepted
}

// Depth returns the number of queued ids.
func (p *Prefetcher) Depth() int {
	return len(p.queue)
}

// Stop cancels the workers and waits for in-flight fetches to return.
// Queued ids are left behind.
func (p *Prefetcher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()
	p.wg.Wait()
}

// PrefetchBodies queues ids for background warm-up. It never blocks and
// returns how many ids were accepted; without a prefetcher it accepts none.
func (f *Facade) PrefetchBodies(ids []string) int {
	if f.prefetcher == nil {
		return 0
	}
	return f.prefetcher.Enqueue(ids...)
}
