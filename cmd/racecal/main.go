package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"racecal/internal/capture"
	"racecal/internal/config"
	"racecal/internal/console"
	appLog "racecal/internal/log"
	"racecal/internal/provider"
	"racecal/internal/service"
	"racecal/internal/store"
	"racecal/internal/web"
)

const version = "0.3.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	season     int
	asOf       string
	once       bool
	migrate    bool
	capture    bool
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags()
	defer appLog.Sync()

	appLog.Info("racecal starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		if conf == nil {
			appLog.Error("failed to load config", err, "config_path", flags.configPath)
			return 1
		}
		appLog.Warn("failed to write default config; using defaults", "config_path", flags.configPath, "err", err)
	}
	if err := conf.ApplyEnv(flags.envFile); err != nil {
		appLog.Error("failed to load env file", err, "env_file", flags.envFile)
		return 1
	}

	// CLI flags override config values.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.season > 0 {
		conf.Season = flags.season
	}
	appLog.SetLevel(appLog.Level(conf.LogLevel))

	var asOf time.Time
	if flags.asOf != "" {
		asOf, err = time.Parse(time.RFC3339, flags.asOf)
		if err != nil {
			appLog.Error("invalid -as-of; expected RFC3339", err, "as_of", flags.asOf)
			return 2
		}
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"season", conf.Season,
		"refresh", conf.RefreshCron,
		"provider", conf.Provider.BaseURL,
		"cache_dir", conf.Cache.Dir,
		"store_enabled", conf.Store.DSN != "",
		"capture_enabled", conf.Capture.Enabled,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := openStore(ctx, conf, flags.migrate)
	if err != nil {
		appLog.Error("store setup failed", err)
		return 1
	}
	if pg != nil {
		defer pg.Close()
	}
	if flags.migrate {
		appLog.Info("store migrated")
		return 0
	}

	adapter := provider.NewAdapter(
		provider.NewJolpicaSource(conf.Provider.BaseURL, conf.ProviderTimeout()),
		provider.Options{
			CacheDir:  conf.Cache.Dir,
			Freshness: conf.CacheFreshness(),
			MinSeason: conf.Provider.MinSeason,
			MaxSeason: conf.Provider.MaxSeason,
		},
	)

	// A nil *store.Postgres must not become a non-nil service.Store.
	var st service.Store
	if pg != nil {
		st = pg
	}
	svc := service.New(adapter, st)

	switch {
	case flags.capture:
		if err := runCapture(ctx, conf); err != nil {
			appLog.Error("capture failed", err, "url", conf.Capture.URL)
			return 1
		}
		return 0
	case flags.once:
		return runOnce(ctx, conf, svc, asOf)
	default:
		return serve(ctx, conf, svc)
	}
}

// openStore returns nil when no DSN is configured. An unreachable database
// is only a warning; the pipeline runs without persistence.
func openStore(ctx context.Context, conf *config.Config, migrate bool) (*store.Postgres, error) {
	if conf.Store.DSN == "" {
		if migrate {
			return nil, errors.New("-migrate requires store.dsn or RACECAL_STORE_DSN")
		}
		appLog.Info("store disabled; running provider-only")
		return nil, nil
	}

	pg, err := store.Open(conf.Store.DSN)
	if err != nil {
		if migrate {
			return nil, err
		}
		appLog.Warn("store open failed; running provider-only", "err", err)
		return nil, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pg.Ping(pingCtx); err != nil {
		if migrate {
			pg.Close()
			return nil, err
		}
		appLog.Warn("store unreachable; writes will be retried on each refresh", "err", err)
	}

	if migrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
	}
	return pg, nil
}

func resolveSeason(conf *config.Config, asOf time.Time) int {
	if conf.Season > 0 {
		return conf.Season
	}
	return asOf.Year()
}

func runOnce(ctx context.Context, conf *config.Config, svc *service.Service, asOf time.Time) int {
	if asOf.IsZero() {
		asOf = time.Now()
	}
	season := resolveSeason(conf, asOf)

	res, err := svc.GetSeasonCalendar(ctx, season, asOf)
	if err != nil {
		appLog.Error("calendar build failed", err, "season", season)
		return 1
	}
	if err := console.Render(os.Stdout, res, conf.Location()); err != nil {
		appLog.Error("console render failed", err)
		return 1
	}
	return 0
}

func runCapture(ctx context.Context, conf *config.Config) error {
	return capture.CalendarPNG(ctx, capture.Options{
		URL:        conf.Capture.URL,
		OutputPath: conf.Capture.OutputPath,
		Width:      conf.Capture.Width,
		Height:     conf.Capture.Height,
		Timeout:    time.Duration(conf.Capture.TimeoutSeconds) * time.Second,
	})
}

// serve runs the HTTP server and the cron refresh job until ctx is canceled.
func serve(ctx context.Context, conf *config.Config, svc *service.Service) int {
	srv := web.NewServer(conf, svc).NewHTTPServer()

	refresh := func() {
		now := time.Now()
		season := resolveSeason(conf, now)
		res, err := svc.Refresh(ctx, season, now)
		if err != nil {
			appLog.Error("scheduled refresh failed", err, "season", season)
			return
		}
		appLog.Info("scheduled refresh completed",
			"season", season,
			"races", res.Calendar.Len(),
			"source", res.Source,
			"stale", res.Stale,
		)
		if conf.Capture.Enabled {
			if err := runCapture(ctx, conf); err != nil {
				appLog.Error("scheduled capture failed", err, "url", conf.Capture.URL)
			}
		}
	}

	sched := cron.New(cron.WithLocation(conf.Location()))
	if _, err := sched.AddFunc(conf.RefreshCron, refresh); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		return 1
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sched.Start()
	// Warm the cache and store right away instead of waiting for the first tick.
	go refresh()

	code := 0
	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			appLog.Error("HTTP server failed", err, "listen", conf.Listen)
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP server shutdown failed", err)
	}
	<-sched.Stop().Done()

	appLog.Info("racecal exiting")
	return code
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./racecal.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Optional .env file with store credentials")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.IntVar(&cfg.season, "season", 0, "Season to build (default: config season, then current year)")
	flag.StringVar(&cfg.asOf, "as-of", "", "Reference instant in RFC3339 (default: now)")
	flag.BoolVar(&cfg.once, "once", false, "Build the calendar once, print it and exit")
	flag.BoolVar(&cfg.migrate, "migrate", false, "Create the race_events table and exit")
	flag.BoolVar(&cfg.capture, "capture", false, "Capture the dashboard PNG from capture.url and exit")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: racecal [flags]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	return cfg
}
