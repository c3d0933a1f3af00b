package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg_station_report_bot/internal/config"
	"tg_station_report_bot/internal/drova"
	"tg_station_report_bot/internal/geo"
	"tg_station_report_bot/internal/health"
	"tg_station_report_bot/internal/logging"
	"tg_station_report_bot/internal/prefs"
	"tg_station_report_bot/internal/report"
	"tg_station_report_bot/internal/store"
	"tg_station_report_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	healthShutdownTimeout   = 5 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":         "startup",
		"prefs_backend": cfg.PrefsBackend,
	}).Info("configuration loaded")

	var (
		prefStore    prefs.Store
		checker      health.Checker
		mongoManager *store.Manager
	)

	switch cfg.PrefsBackend {
	case config.BackendMongo:
		connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
		mongoManager, err = store.NewManager(connectCtx, cfg)
		cancel()
		if err != nil {
			logger.WithError(err).Error("mongo connection error")
			fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
			os.Exit(1)
		}

		logger.WithField("event", "mongo_connect").Info("connected to mongo")

		indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
		err = mongoManager.EnsureBaseIndexes(indexCtx)
		cancelIndexes()
		if err != nil {
			logger.WithError(err).Error("mongo index setup error")
			fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
			os.Exit(1)
		}

		prefStore = prefs.NewMongoStore(mongoManager.Preferences(), logger)
		checker = mongoManager
	default:
		fileStore := prefs.NewFileStore(cfg.PrefsFile, logger)
		prefStore = fileStore
		checker = fileStore
	}

	titles := prefs.LoadTitleCache(cfg.ProductsFile, logger)
	resolver := geo.NewResolver(cfg.GeoCityDB, cfg.GeoASNDB, logger)
	gateway := drova.NewClient(cfg.VendorBaseURL, logger)
	builder := report.NewBuilder(gateway, resolver, logger)

	tgClient, err := telegram.NewClient(cfg, telegram.Dependencies{
		Prefs:   prefStore,
		Titles:  titles,
		Gateway: gateway,
		Reports: builder,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	healthServer := health.NewServer(cfg.HTTPPort, checker, logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("health server error")
		}
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	if mongoManager != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		if err := mongoManager.Close(shutdownCtx); err != nil {
			logger.WithError(err).Error("mongo disconnect error")
		} else {
			logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
		}
		cancelShutdown()
	}

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
