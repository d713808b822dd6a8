package main

import (
	"context"
	"net/http"
	"time"

	"ttcal/internal/config"
	"ttcal/internal/feed"
	"ttcal/internal/ics"
	appLog "ttcal/internal/log"
	"ttcal/internal/reconcile"
	"ttcal/internal/state"
)

// buildFeeds wires one feed.Service per configured feed. All feeds share a
// fetcher and its disk cache.
func buildFeeds(conf *config.Config, client *http.Client) []*feed.Service {
	fetcher := ics.NewFetcher(conf.CacheDir, client)
	engine := reconcile.NewEngine(reconcile.Options{
		Window:   conf.MatchWindow(),
		Location: conf.Location(),
	})

	out := make([]*feed.Service, 0, len(conf.Feeds))
	for _, fc := range conf.Feeds {
		src := ics.NewTimetableSource(fetcher, ics.TimetableOptions{
			Source:       ics.Source{ID: fc.ID, URL: fc.URL},
			User:         fc.User,
			Location:     conf.Location(),
			HorizonDays:  conf.HorizonDays,
			BackfillDays: conf.BackfillDays,
		})
		svc := feed.New(feed.Options{
			ID:        fc.ID,
			Name:      fc.Name,
			Source:    src,
			Store:     state.NewFileStore(conf.StatePath(fc.ID)),
			Engine:    engine,
			Retention: time.Duration(conf.RetentionDays) * 24 * time.Hour,
		})
		appLog.Info("feed ready", "feed", fc.ID, "records", svc.RecordCount())
		out = append(out, svc)
	}
	return out
}

// refreshAll runs one pass per feed and returns how many failed.
func refreshAll(ctx context.Context, services []*feed.Service) int {
	failed := 0
	for _, s := range services {
		if ctx.Err() != nil {
			return failed
		}
		if _, err := s.Refresh(ctx); err != nil {
			failed++
		}
	}
	return failed
}

// cronLogger routes robfig/cron's logging through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
