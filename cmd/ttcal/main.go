package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"ttcal/internal/config"
	appLog "ttcal/internal/log"
	"ttcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(os.Getenv)
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	conf.Normalize()
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Init(appLog.Options{Level: conf.LogLevel, Format: conf.LogFormat})
	appLog.Info("ttcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"match_window_minutes", conf.MatchWindowMinutes,
		"horizon_days", conf.HorizonDays,
		"retention_days", conf.RetentionDays,
		"state_dir", conf.StateDir,
		"feeds", len(conf.Feeds),
		"once", flags.once,
	)

	if err := os.MkdirAll(conf.StateDir, 0o700); err != nil {
		appLog.Error("failed to create state dir", err, "state_dir", conf.StateDir)
		os.Exit(1)
	}

	services := buildFeeds(conf, &http.Client{Timeout: 30 * time.Second})

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	failed := refreshAll(ctx, services)
	if flags.once {
		if failed > 0 {
			appLog.Warn("single pass finished with failures", "failed", failed)
			os.Exit(1)
		}
		appLog.Info("single pass finished")
		return
	}

	sched := cron.New(cron.WithLocation(conf.Location()), cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
	if _, err := sched.AddFunc(conf.RefreshCron, func() { refreshAll(ctx, services) }); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()

	feeds := make([]web.Feed, 0, len(services))
	for _, s := range services {
		feeds = append(feeds, s)
	}
	srv := web.NewServer(conf, feeds)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("HTTP server stopped", err)
		cancel()
	}

	stopCtx := sched.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		appLog.Warn("scheduled pass still running at exit")
	}
	appLog.Info("ttcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/ttcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one reconciliation pass per feed and exit")

	flag.Parse()

	return cfg
}
