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

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"lmscal/internal/api"
	"lmscal/internal/config"
	appLog "lmscal/internal/log"
	"lmscal/internal/service"
	"lmscal/internal/store"
)

type flagConfig struct {
	configPath string
	listen     string
	migrate    bool
}

func main() {
	appLog.Info("lmscal starting", "version", "0.1.0")

	flags := parseFlags()

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		appLog.Info("loaded environment from .env")
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	dsn := conf.Database.DSN
	if env := os.Getenv("LMSCAL_DB_DSN"); env != "" {
		dsn = env
	}
	if dsn == "" {
		appLog.Error("no database DSN configured", errors.New("set database.dsn or LMSCAL_DB_DSN"))
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"slot_granularity_minutes", conf.SlotGranularityMinutes,
	)

	db, err := store.Open(dsn)
	if err != nil {
		appLog.Error("failed to open database", err)
		os.Exit(1)
	}
	if flags.migrate {
		if err := store.Migrate(db); err != nil {
			appLog.Error("migration failed", err)
			os.Exit(1)
		}
		appLog.Info("schema migrated")
	}

	cal := service.NewCalendar(
		store.NewEventRepository(db),
		store.NewScheduleRepository(db, time.Duration(conf.DefaultLessonMinutes)*time.Minute),
		store.NewGroupRepository(db),
		service.Config{
			SlotGranularity:           time.Duration(conf.SlotGranularityMinutes) * time.Minute,
			MaxOccurrencesPerTemplate: conf.MaxOccurrencesPerTemplate,
		},
	)

	server := api.NewServer(conf, cal)

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

	// Periodic feed refresh keeps the ICS snapshot warm so subscriber
	// polls never pay for a full expand/dedup pass.
	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		if err := server.RefreshFeed(); err != nil {
			appLog.Error("scheduled feed refresh failed", err)
		}
	}); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	if err := server.RefreshFeed(); err != nil {
		appLog.Error("initial feed refresh failed", err)
	}

	httpSrv := &http.Server{
		Addr:    conf.Listen,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("HTTP shutdown failed", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			os.Exit(1)
		}
	}

	appLog.Info("lmscal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/lmscal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.migrate, "migrate", false, "Run schema auto-migration before serving")

	flag.Parse()

	return cfg
}
