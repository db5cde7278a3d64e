package app

import (
	"context"
	"errors"
	"fmt"

	"wsync-go/internal/wsync"
)

// RunSchedule polls for changes and runs the daily scheduled sync until ctx
// is done.
func (a *WsyncApp) RunSchedule(ctx context.Context) error {
	settings, err := a.cfg.ScheduleSettings()
	if err != nil {
		return err
	}
	if !settings.Enabled {
		return fmt.Errorf("scheduled sync is disabled, set schedule.enabled = true")
	}
	interval, err := a.cfg.PollInterval()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	polled := make(chan error, 1)
	go func() { polled <- a.catalog.Run(ctx, interval) }()

	scheduler := wsync.NewScheduler(settings, a.catalog, a.workspace, a.scheduledContext, a.clock, a.log)
	a.logger.Info("scheduler started", "next_run", scheduler.NextRun(a.clock.Now()).Format("2006-01-02 15:04"))
	err = scheduler.Run(ctx)
	cancel()
	<-polled
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// scheduledContext is the scheduler's context factory. It also starts a
// fresh sync log for the run. The scheduler has just refreshed the catalog.
func (a *WsyncApp) scheduledContext(change int, opts wsync.WorkspaceUpdateOptions) (*wsync.WorkspaceUpdateContext, error) {
	if err := a.syncLog.Reset(); err != nil {
		a.logger.Warn("sync log not reset", "error", err)
	}
	return a.buildUpdateContext(UpdateRequest{Change: change, Options: opts})
}
