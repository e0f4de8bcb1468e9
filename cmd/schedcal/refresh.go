package main

import (
	"context"

	"github.com/robfig/cron/v3"

	"schedcal/internal/capture"
	appLog "schedcal/internal/log"
)

// runRefresh refreshes every configured user's week, then captures the
// snapshot when enabled.
func (a *app) runRefresh(ctx context.Context) {
	for _, id := range a.conf.UserIDs() {
		if _, err := a.agenda.Refresh(ctx, id); err != nil {
			appLog.Error("refresh failed", err, "user", id)
		}
	}

	if !a.conf.Snapshot.Enabled {
		return
	}
	token, err := a.snapshotToken()
	if err != nil {
		appLog.Error("snapshot skipped", err)
		return
	}
	err = capture.CaptureWeekPNG(ctx, capture.Options{
		BaseURL:    a.localBaseURL(),
		Token:      token,
		OutputPath: a.conf.Snapshot.OutputPath,
		Width:      a.conf.Snapshot.Width,
		Height:     a.conf.Snapshot.Height,
	})
	if err != nil {
		appLog.Error("snapshot failed", err)
	}
}

// cronLogger routes cron's own messages through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}

// startScheduler runs runRefresh on the configured cron spec. A run that
// is still going when the next one is due makes the next one skip.
func (a *app) startScheduler(ctx context.Context) (*cron.Cron, error) {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(a.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(a.conf.RefreshCron, func() { a.runRefresh(ctx) }); err != nil {
		return nil, err
	}
	c.Start()
	appLog.Info("scheduler started", "refresh", a.conf.RefreshCron, "timezone", a.loc.String())
	return c, nil
}
