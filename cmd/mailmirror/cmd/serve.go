package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/mailmirror/internal/api"
	"github.com/wesm/mailmirror/internal/config"
	"github.com/wesm/mailmirror/internal/scheduler"
	"github.com/wesm/mailmirror/internal/sync"
)

// JobResync is the optional scheduled full re-enumeration.
const JobResync = "resync"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mirror as a daemon with background sync",
	Long: `Run mailmirror as a long-running daemon that keeps the cache current.

The daemon runs in the foreground and performs:
  - HTTP API server on the configured port (default: 8710)
  - An incremental sync tick every [sync] poll_interval (default: 20s)
  - A bootstrap when a client pushes a credential to an empty cache
  - Optional scheduled resyncs ([sync] resync_schedule, cron format)

Clients push credentials with POST /api/v1/session. A token passed with
--token or MAILMIRROR_TOKEN is installed at startup.

Use Ctrl+C to stop the daemon gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// registerJobs wires the engine operations into the scheduler.
func registerJobs(sched *scheduler.Scheduler, m *mirror, c *config.Config) error {
	tick := func(ctx context.Context) error {
		sum, err := m.engine.Tick(ctx)
		if err != nil {
			return err
		}
		if sum.Outcome == sync.OutcomeSkipped {
			logger.Debug("tick skipped", "reason", sum.SkipReason)
		}
		return nil
	}
	if err := sched.AddJob(api.JobTick, scheduler.Every(c.PollInterval()), tick); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}

	sched.Register(api.JobBootstrap, func(ctx context.Context) error {
		_, err := m.bootstrap(ctx)
		return err
	})

	if c.Sync.ResyncSchedule != "" {
		resync := func(ctx context.Context) error {
			_, err := m.engine.Resync(ctx)
			return err
		}
		if err := sched.AddJob(JobResync, c.Sync.ResyncSchedule, resync); err != nil {
			return fmt.Errorf("schedule resync: %w", err)
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	m, err := openMirror(cfg, mirrorOptions{keyring: true})
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sched := scheduler.New().WithLogger(logger)
	if err := registerJobs(sched, m, cfg); err != nil {
		return err
	}

	m.prefetch.Start(ctx)
	sched.Start()

	// Catch up immediately rather than waiting a full interval.
	if m.engine.State() == sync.StateUninitialized {
		logger.Info("cache not bootstrapped, waiting for a session")
		if token != "" || cfg.Auth.TokenEndpoint != "" {
			if err := sched.Trigger(api.JobBootstrap); err != nil {
				logger.Warn("could not start bootstrap", "error", err)
			}
		}
	} else if err := sched.Trigger(api.JobTick); err != nil {
		logger.Warn("could not start tick", "error", err)
	}

	apiServer := api.NewServer(cfg, api.Deps{
		Reader:      m.facade,
		Engine:      m.engine,
		Jobs:        sched,
		Runs:        m.store,
		Credentials: m.creds,
		Provider:    m.provider,
	}, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "mailmirror daemon started\n")
	fmt.Fprintf(out, "  API server:    http://%s\n", cfg.ListenAddr())
	fmt.Fprintf(out, "  Cache:         %s\n", m.store.Path())
	fmt.Fprintf(out, "  State:         %s\n", m.engine.State())
	fmt.Fprintf(out, "  Poll interval: %s\n", cfg.PollInterval())
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Press Ctrl+C to stop.")
	fmt.Fprintln(out)

	var runErr error
	select {
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
		runErr = fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown requested")
		fmt.Fprintln(out, "\nShutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	fmt.Fprintln(out, "Waiting for running sync to complete...")
	schedCtx := sched.Stop()
	select {
	case <-schedCtx.Done():
		fmt.Fprintln(out, "Shutdown complete.")
	case <-time.After(30 * time.Second):
		fmt.Fprintln(out, "Shutdown timed out after 30 seconds.")
	}

	return runErr
}
