package cmd

import (
	"testing"

	"github.com/wesm/mailmirror/internal/api"
	"github.com/wesm/mailmirror/internal/config"
	"github.com/wesm/mailmirror/internal/scheduler"
)

func TestRegisterJobs(t *testing.T) {
	c := config.NewDefaultConfig()
	c.Data.DataDir = t.TempDir()
	c.Auth.TokenEndpoint = ""
	c.Sync.PollInterval = "30s"
	c.Sync.ResyncSchedule = "0 3 * * *"

	m, err := openMirror(c, mirrorOptions{})
	if err != nil {
		t.Fatalf("openMirror: %v", err)
	}
	defer m.Close()

	sched := scheduler.New().WithLogger(logger)
	if err := registerJobs(sched, m, c); err != nil {
		t.Fatalf("registerJobs: %v", err)
	}

	got := map[string]string{}
	for _, s := range sched.Status() {
		got[s.Name] = s.Schedule
	}
	want := map[string]string{
		api.JobBootstrap: "",
		api.JobTick:      "@every 30s",
		JobResync:        "0 3 * * *",
	}
	for name, schedule := range want {
		s, ok := got[name]
		if !ok {
			t.Errorf("job %q not registered", name)
			continue
		}
		if s != schedule {
			t.Errorf("job %q schedule = %q, want %q", name, s, schedule)
		}
	}
}

func TestRegisterJobsWithoutResync(t *testing.T) {
	c := config.NewDefaultConfig()
	c.Data.DataDir = t.TempDir()

	m, err := openMirror(c, mirrorOptions{})
	if err != nil {
		t.Fatalf("openMirror: %v", err)
	}
	defer m.Close()

	sched := scheduler.New().WithLogger(logger)
	if err := registerJobs(sched, m, c); err != nil {
		t.Fatalf("registerJobs: %v", err)
	}
	if sched.IsScheduled(JobResync) {
		t.Error("resync scheduled without resync_schedule")
	}
}
