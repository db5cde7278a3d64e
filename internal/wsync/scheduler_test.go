package wsync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"wsync-go/internal/wsync"
)

func TestScheduler_NextRun(t *testing.T) {
	s := wsync.NewScheduler(wsync.ScheduleSettings{TimeOfDay: 6 * time.Hour}, nil, nil, nil, nil, nil)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before the time", time.Date(2024, 1, 15, 5, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)},
		{"exactly at the time", time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC), time.Date(2024, 1, 16, 6, 0, 0, 0, time.UTC)},
		{"after the time", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), time.Date(2024, 1, 16, 6, 0, 0, 0, time.UTC)},
		{"end of month", time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.NextRun(tt.now); !got.Equal(tt.want) {
				t.Errorf("NextRun(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

type schedulerFixture struct {
	*workspaceFixture
	scheduler *wsync.Scheduler
	contexts  []wsync.WorkspaceUpdateOptions
}

func newSchedulerFixture(t *testing.T, settings wsync.ScheduleSettings) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{workspaceFixture: newWorkspaceFixture(t)}
	f.catalog.addChange(100, codeFile)
	f.catalog.addChange(101, contentFile)
	f.catalog.addChange(102, codeFile)
	f.catalog.verdicts.Set(100, wsync.VerdictGood)

	newContext := func(change int, opts wsync.WorkspaceUpdateOptions) (*wsync.WorkspaceUpdateContext, error) {
		f.contexts = append(f.contexts, opts)
		return wsync.NewWorkspaceUpdateContext(f.params(change, opts))
	}
	f.scheduler = wsync.NewScheduler(settings, f.catalog.catalog, f.ws, newContext, f.clock, nil)
	return f
}

func TestScheduler_Trigger(t *testing.T) {
	t.Run("syncs to the newest good change", func(t *testing.T) {
		f := newSchedulerFixture(t, wsync.ScheduleSettings{Change: wsync.LatestChangeGood})

		done, err := f.scheduler.Trigger(context.Background())
		if err != nil {
			t.Fatalf("Trigger() error = %v", err)
		}
		if done == nil {
			t.Fatal("Trigger() skipped, want a run")
		}
		c := waitCompletion(t, done)
		if c.Result != wsync.ResultSuccess {
			t.Fatalf("Result = %v (%s), want Success", c.Result, c.Message)
		}
		if c.Context.ChangeNumber != 101 {
			t.Errorf("ChangeNumber = %d, want 101", c.Context.ChangeNumber)
		}
		if len(f.contexts) != 1 || f.contexts[0] != wsync.ScheduledOptions {
			t.Errorf("context options = %v, want %v", f.contexts, wsync.ScheduledOptions)
		}

		runs, err := f.db.ListUpdateRuns(testWorkspaceID.String(), 1)
		if err != nil {
			t.Fatalf("ListUpdateRuns() error = %v", err)
		}
		if len(runs) != 1 || !runs[0].Scheduled {
			t.Errorf("history = %+v, want one scheduled run", runs)
		}

		// a second trigger finds nothing newer
		done, err = f.scheduler.Trigger(context.Background())
		if err != nil {
			t.Fatalf("Trigger() error = %v", err)
		}
		if done != nil {
			t.Error("Trigger() started a run while up to date")
		}
	})

	t.Run("extra options are added", func(t *testing.T) {
		f := newSchedulerFixture(t, wsync.ScheduleSettings{
			Change:       wsync.LatestChangeAny,
			ExtraOptions: wsync.OptionUseIncrementalBuilds,
		})

		done, err := f.scheduler.Trigger(context.Background())
		if err != nil {
			t.Fatalf("Trigger() error = %v", err)
		}
		c := waitCompletion(t, done)
		if c.Context.ChangeNumber != 102 {
			t.Errorf("ChangeNumber = %d, want 102", c.Context.ChangeNumber)
		}
		if !c.Context.Options.Has(wsync.OptionUseIncrementalBuilds) {
			t.Errorf("Options = %v, want incremental builds", c.Context.Options)
		}
	})

	t.Run("no eligible change", func(t *testing.T) {
		f := newSchedulerFixture(t, wsync.ScheduleSettings{Change: wsync.LatestChangeAny, RequiredArchives: []string{wsync.EditorArchiveType}})

		done, err := f.scheduler.Trigger(context.Background())
		if err != nil {
			t.Fatalf("Trigger() error = %v", err)
		}
		if done != nil {
			t.Error("Trigger() started a run without an archive")
		}
	})

	t.Run("busy workspace is skipped", func(t *testing.T) {
		f := newSchedulerFixture(t, wsync.ScheduleSettings{Change: wsync.LatestChangeAny})
		f.runner.Block = make(chan struct{})
		f.runner.Entered = make(chan struct{}, 1)

		_, running := f.start(t, f.params(0, wsync.OptionBuild))
		waitSignal(t, f.runner.Entered)

		done, err := f.scheduler.Trigger(context.Background())
		if err != nil {
			t.Fatalf("Trigger() error = %v", err)
		}
		if done != nil {
			t.Error("Trigger() started a run while busy")
		}
		close(f.runner.Block)
		waitCompletion(t, running)
	})

	t.Run("context factory failure", func(t *testing.T) {
		f := newSchedulerFixture(t, wsync.ScheduleSettings{Change: wsync.LatestChangeAny})
		failing := func(int, wsync.WorkspaceUpdateOptions) (*wsync.WorkspaceUpdateContext, error) {
			return nil, errors.New("project file missing")
		}
		s := wsync.NewScheduler(wsync.ScheduleSettings{Change: wsync.LatestChangeAny}, f.catalog.catalog, f.ws, failing, f.clock, nil)

		if _, err := s.Trigger(context.Background()); err == nil {
			t.Error("Trigger() expected error from the context factory")
		}
	})
}

func waitForWaiters(t *testing.T, f *schedulerFixture, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for f.clock.Waiters() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d clock waiters", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScheduler_Run(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newSchedulerFixture(t, wsync.ScheduleSettings{})
		if err := f.scheduler.Run(context.Background()); err == nil {
			t.Error("Run() expected error when disabled")
		}
	})

	t.Run("runs at the scheduled time", func(t *testing.T) {
		f := newSchedulerFixture(t, wsync.ScheduleSettings{
			Enabled:   true,
			TimeOfDay: 6 * time.Hour,
			Change:    wsync.LatestChangeAny,
		})

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- f.scheduler.Run(ctx) }()

		waitForWaiters(t, f, 1)
		if len(f.vcs.Requests()) != 0 {
			t.Fatal("sync ran before the scheduled time")
		}

		// 10:30 to 06:00 the next day
		f.clock.Advance(19*time.Hour + 30*time.Minute)
		waitForWaiters(t, f, 1)

		if got := f.ws.CurrentChangeNumber(); got != 102 {
			t.Errorf("CurrentChangeNumber() = %d, want 102", got)
		}
		if reqs := f.vcs.Requests(); len(reqs) != 1 || reqs[0].ChangeNumber != 102 {
			t.Errorf("sync requests = %+v, want one sync to 102", reqs)
		}

		cancel()
		select {
		case err := <-errc:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Run() error = %v, want context.Canceled", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Run() did not return after cancel")
		}
	})
}
