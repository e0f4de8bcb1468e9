package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"schedcal/internal/config"
	appLog "schedcal/internal/log"
)

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	migrate    bool
}

func main() {
	flags := parseFlags()

	if err := config.LoadEnvFile(flags.envFile); err != nil {
		appLog.Error("failed to load env file", err, "path", flags.envFile)
		os.Exit(1)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(); err != nil {
		appLog.Error("invalid environment override", err)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Configure(os.Stderr, conf.Log.Format)
	appLog.SetLevel(appLog.ParseLevel(conf.Log.Level))
	appLog.Info("schedcal starting", "version", "0.1.0")

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"cache_ttl", conf.CacheTTL.String(),
		"ics_count", len(conf.ICS),
		"snapshot", conf.Snapshot.Enabled,
		"once", flags.once,
		"migrate", flags.migrate,
	)

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

	a, err := newApp(ctx, conf)
	if err != nil {
		appLog.Error("startup failed", err)
		os.Exit(1)
	}
	defer a.Close()

	if flags.migrate {
		if err := a.migrate(ctx); err != nil {
			appLog.Error("migration failed", err)
			a.Close()
			os.Exit(1)
		}
		appLog.Info("schema applied")
		return
	}
	if a.postgres != nil {
		if err := a.migrate(ctx); err != nil {
			appLog.Error("migration failed", err)
			a.Close()
			os.Exit(1)
		}
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- a.server.Start() }()

	if flags.once {
		if conf.Snapshot.Enabled {
			if err := a.waitForServer(ctx, 5*time.Second); err != nil {
				appLog.Error("snapshot will likely fail", err)
			}
		}
		a.runRefresh(ctx)
		shutdown(a)
		appLog.Info("single run complete")
		return
	}

	scheduler, err := a.startScheduler(ctx)
	if err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		shutdown(a)
		a.Close()
		os.Exit(1)
	}
	// Warm the cache and the snapshot right away instead of waiting for
	// the first tick.
	go a.runRefresh(ctx)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			appLog.Error("HTTP server stopped", err)
		}
		cancel()
	}

	<-scheduler.Stop().Done()
	shutdown(a)
	appLog.Info("schedcal exiting")
}

func shutdown(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		appLog.Error("HTTP server shutdown failed", err)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/schedcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env-file", ".env", "Optional KEY=VALUE file loaded before the config")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh (and snapshot) and exit")
	flag.BoolVar(&cfg.migrate, "migrate", false, "Apply the database schema and exit")

	flag.Parse()

	return cfg
}
