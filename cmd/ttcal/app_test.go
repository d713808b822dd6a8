package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ttcal/internal/config"
)

func lessonICS(start time.Time, room string) string {
	const layout = "20060102T150405Z"
	return "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//school//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:opaque\r\nDTSTAMP:" + start.Format(layout) + "\r\n" +
		"DTSTART:" + start.Format(layout) + "\r\nDTEND:" + start.Add(time.Hour).Format(layout) + "\r\n" +
		"SUMMARY:Physique\r\nLOCATION:" + room + "\r\nCATEGORIES:3B\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
}

func TestBuildFeedsEndToEnd(t *testing.T) {
	start := time.Now().UTC().Truncate(time.Hour).Add(48 * time.Hour)
	room := "101"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(lessonICS(start, room)))
	}))
	defer srv.Close()

	dir := t.TempDir()
	conf := config.DefaultConfig()
	conf.StateDir = dir
	conf.CacheDir = ""
	conf.Feeds = []config.FeedConfig{{ID: "alice", URL: srv.URL, User: "Alice"}}
	conf.Normalize()

	services := buildFeeds(conf, srv.Client())
	if len(services) != 1 {
		t.Fatalf("services = %d", len(services))
	}
	if failed := refreshAll(context.Background(), services); failed != 0 {
		t.Fatalf("failed = %d", failed)
	}
	first := services[0].Current()
	if first == nil || len(first.Events) != 1 {
		t.Fatalf("first pass: %+v", first)
	}
	if _, err := os.Stat(filepath.Join(dir, "event-state-alice.json")); err != nil {
		t.Fatalf("state file: %v", err)
	}

	// Moving the lesson within the window keeps its identifier; a restart
	// reloads the persisted records.
	start = start.Add(30 * time.Minute)
	room = "204"
	restarted := buildFeeds(conf, srv.Client())
	if failed := refreshAll(context.Background(), restarted); failed != 0 {
		t.Fatalf("failed = %d", failed)
	}
	second := restarted[0].Current()
	if second.Events[0].ID != first.Events[0].ID || second.Events[0].Sequence != 1 {
		t.Fatalf("second pass: %+v vs %+v", second.Events[0], first.Events[0])
	}
}

func TestRefreshAllCountsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	conf := config.DefaultConfig()
	conf.StateDir = t.TempDir()
	conf.CacheDir = ""
	for i := 0; i < 2; i++ {
		conf.Feeds = append(conf.Feeds, config.FeedConfig{ID: fmt.Sprintf("f%d", i), URL: srv.URL})
	}
	conf.Normalize()

	if failed := refreshAll(context.Background(), buildFeeds(conf, srv.Client())); failed != 2 {
		t.Fatalf("failed = %d, want 2", failed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if failed := refreshAll(ctx, buildFeeds(conf, srv.Client())); failed != 0 {
		t.Fatalf("cancelled context should skip passes, failed = %d", failed)
	}
}

func TestCronLogger(t *testing.T) {
	var l cronLogger
	l.Info("schedule", "next", time.Now())
	l.Error(errors.New("boom"), "job failed", "entry", 1)
}
