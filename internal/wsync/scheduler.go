package wsync

import (
	"context"
	"fmt"
	"time"
)

// ScheduledOptions is what a scheduled run always does.
const ScheduledOptions = OptionSync | OptionSyncArchives | OptionGenerateProjectFiles | OptionBuild | OptionScheduledBuild

// ScheduleSettings configures the daily sync.
type ScheduleSettings struct {
	Enabled          bool
	TimeOfDay        time.Duration // offset from local midnight
	Change           LatestChangeType
	RequiredArchives []string // archive types the change must have
	ExtraOptions     WorkspaceUpdateOptions
}

// ContextFactory builds the update context for a change, filling in the
// project's steps, variables and archive requests.
type ContextFactory func(change int, opts WorkspaceUpdateOptions) (*WorkspaceUpdateContext, error)

// Scheduler starts an update once a day at a fixed time.
type Scheduler struct {
	settings   ScheduleSettings
	catalog    *ChangeCatalog
	workspace  *Workspace
	newContext ContextFactory
	clock      Clock
	logger     Logger
}

func NewScheduler(settings ScheduleSettings, catalog *ChangeCatalog, workspace *Workspace, newContext ContextFactory, clock Clock, logger Logger) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Scheduler{
		settings:   settings,
		catalog:    catalog,
		workspace:  workspace,
		newContext: newContext,
		clock:      clock,
		logger:     logger,
	}
}

// NextRun returns the first scheduled time strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	next := midnight.Add(s.settings.TimeOfDay)
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location()).Add(s.settings.TimeOfDay)
	}
	return next
}

// Trigger starts a scheduled update if there is a newer change to sync.
// It returns a nil channel when the run was skipped.
func (s *Scheduler) Trigger(ctx context.Context) (<-chan UpdateCompletion, error) {
	if s.workspace.IsBusy() {
		s.logger.Info("scheduled sync skipped", "reason", "busy")
		return nil, nil
	}
	if err := s.catalog.Refresh(ctx); err != nil {
		s.logger.Warn("scheduled sync using cached changes", "error", err)
	}
	change, ok := s.catalog.FindChangeToSync(s.settings.Change, s.settings.RequiredArchives)
	if !ok {
		s.logger.Info("scheduled sync skipped", "reason", "no eligible change")
		return nil, nil
	}
	if current := s.workspace.CurrentChangeNumber(); current >= change {
		s.logger.Info("scheduled sync skipped", "reason", "up to date", "current", current, "change", change)
		return nil, nil
	}

	opts := ScheduledOptions | s.settings.ExtraOptions
	uctx, err := s.newContext(change, opts)
	if err != nil {
		return nil, fmt.Errorf("creating scheduled update context: %w", err)
	}
	done, err := s.workspace.StartUpdate(ctx, uctx)
	if err != nil {
		return nil, fmt.Errorf("starting scheduled update: %w", err)
	}
	s.logger.Info("scheduled sync started", "change", change)
	return done, nil
}

// Run waits for each scheduled time and triggers an update, until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.settings.Enabled {
		return fmt.Errorf("scheduled sync is disabled")
	}
	for {
		now := s.clock.Now()
		wait := s.NextRun(now).Sub(now)
		s.logger.Debug("waiting for scheduled sync", "in", wait.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(wait):
		}
		done, err := s.Trigger(ctx)
		if err != nil {
			s.logger.Error("scheduled sync failed to start", "error", err)
			continue
		}
		if done == nil {
			continue
		}
		select {
		case <-ctx.Done():
			s.workspace.CancelUpdate()
			<-done
			return ctx.Err()
		case c := <-done:
			s.logger.Info("scheduled sync finished", "result", c.Result.String(), "message", c.Message)
		}
	}
}
