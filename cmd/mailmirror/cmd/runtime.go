package cmd

import (
	"context"
	"fmt"

	"github.com/wesm/mailmirror/internal/config"
	"github.com/wesm/mailmirror/internal/credential"
	"github.com/wesm/mailmirror/internal/fileutil"
	"github.com/wesm/mailmirror/internal/gmail"
	"github.com/wesm/mailmirror/internal/query"
	"github.com/wesm/mailmirror/internal/store"
	"github.com/wesm/mailmirror/internal/sync"
)

// mirror bundles the components every command builds from config.
type mirror struct {
	store    *store.Store
	creds    *credential.Source
	provider *gmail.SessionProvider
	engine   *sync.Engine
	prefetch *query.Prefetcher
	facade   *query.Facade
}

type mirrorOptions struct {
	progress sync.Progress
	// keyring disables the OS keyring when false.
	keyring bool
}

// openMirror opens the cache and wires the credential source, the remote
// session, the sync engine and the query facade. A token from --token or
// MAILMIRROR_TOKEN is installed before anything talks to the remote.
func openMirror(c *config.Config, opts mirrorOptions) (*mirror, error) {
	st, err := store.Open(c.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	credOpts := []credential.Option{credential.WithLogger(logger)}
	if opts.keyring {
		ks, err := openKeyring(c)
		if err != nil {
			logger.Warn("keyring unavailable, credentials will not persist", "error", err)
		} else {
			credOpts = append(credOpts, credential.WithStore(ks))
		}
	}
	creds := credential.New(c.Auth.TokenEndpoint, credOpts...)
	if token != "" {
		creds.SetCredential(token)
	}

	clientOpts := []gmail.ClientOption{gmail.WithLogger(logger)}
	if c.Sync.QuotaUnitsPerSecond > 0 {
		clientOpts = append(clientOpts, gmail.WithQuota(gmail.NewQuotaLimiter(c.Sync.QuotaUnitsPerSecond)))
	}
	provider := gmail.NewSessionProvider(creds, clientOpts...)

	progress := opts.progress
	if progress == nil {
		progress = sync.NullProgress{}
	}
	engine, err := sync.New(provider, st,
		sync.WithLogger(logger),
		sync.WithProgress(progress),
		sync.WithPageSize(c.Sync.PageSize),
		sync.WithBuckets(c.Buckets()),
		sync.WithFetchConcurrency(c.Sync.FetchConcurrency),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create sync engine: %w", err)
	}

	prefetch := query.NewPrefetcher(query.SessionFetch(provider), c.Sync.PrefetchConcurrency, c.Sync.PrefetchQueue, logger)
	facade := query.New(st, provider,
		query.WithLogger(logger),
		query.WithDefaultPageSize(c.Query.DefaultPageSize),
		query.WithTodayBasis(c.TodayBasis()),
		query.WithPrefetcher(prefetch),
	)

	return &mirror{
		store:    st,
		creds:    creds,
		provider: provider,
		engine:   engine,
		prefetch: prefetch,
		facade:   facade,
	}, nil
}

func openKeyring(c *config.Config) (*credential.KeyringStore, error) {
	if err := fileutil.PrivateDir(c.KeyringDir()); err != nil {
		return nil, fmt.Errorf("create keyring directory: %w", err)
	}
	return credential.OpenKeyring(c.KeyringDir(), c.Auth.KeyringBackend)
}

func (m *mirror) Close() error {
	m.prefetch.Stop()
	return m.store.Close()
}

// bootstrap runs a full bootstrap with the configured page size and buckets.
func (m *mirror) bootstrap(ctx context.Context) (*sync.Summary, error) {
	return m.engine.Bootstrap(ctx, cfg.Sync.PageSize, cfg.Buckets())
}
