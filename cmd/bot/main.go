package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"wa_group_ledger_bot/internal/alert"
	"wa_group_ledger_bot/internal/authz"
	"wa_group_ledger_bot/internal/config"
	"wa_group_ledger_bot/internal/feature/activity"
	"wa_group_ledger_bot/internal/feature/fines"
	"wa_group_ledger_bot/internal/gateway"
	"wa_group_ledger_bot/internal/health"
	"wa_group_ledger_bot/internal/logging"
	"wa_group_ledger_bot/internal/roster"
	"wa_group_ledger_bot/internal/schedule"
	"wa_group_ledger_bot/internal/store"
	"wa_group_ledger_bot/internal/webhook"
)

const (
	mongoConnectTimeout    = 10 * time.Second
	mongoIndexTimeout      = 5 * time.Second
	mongoDisconnectTimeout = 5 * time.Second
	redisPingTimeout       = 3 * time.Second
	runnerShutdownTimeout  = 30 * time.Second
	httpShutdownTimeout    = 5 * time.Second
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
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
		"timezone": cfg.Timezone,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
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

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	ledger := store.NewLedger(mongoManager, cfg.Location(), logger)
	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayToken, logger)

	var provider roster.Provider = gatewayClient
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

		pingCtx, cancelPing := context.WithTimeout(context.Background(), redisPingTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancelPing()

		if err != nil {
			logger.WithError(err).Warn("redis unavailable, roster cache disabled")
		} else {
			provider = roster.NewCache(gatewayClient, rdb, cfg.RosterCacheTTL, logger)
			logger.WithFields(logging.Fields{
				"event": "roster_cache_enabled",
				"ttl":   cfg.RosterCacheTTL.String(),
			}).Info("roster snapshot cache enabled")
		}
	}

	gate := authz.NewGate(provider, ledger, cfg.BotID, cfg.DefaultCountryCode, logger)
	engine := fines.NewEngine(ledger, logger)
	recorder := activity.NewRecorder(ledger, logger)

	var alerter schedule.Alerter
	if cfg.AlertsEnabled() {
		notifier, err := alert.NewNotifier(cfg, logger)
		if err != nil {
			logger.WithError(err).Error("alert notifier setup error")
			fmt.Fprintf(os.Stderr, "alert notifier setup error: %v\n", err)
			os.Exit(1)
		}
		alerter = notifier
		logger.WithField("event", "alerts_enabled").Info("operator alert channel configured")
	}

	runnerCfg, err := runnerConfig(cfg)
	if err != nil {
		logger.WithError(err).Error("job schedule error")
		fmt.Fprintf(os.Stderr, "job schedule error: %v\n", err)
		os.Exit(1)
	}

	runner := schedule.NewRunner(runnerCfg, ledger, gate, engine, gatewayClient, alerter, logger)

	healthServer := health.NewServer(cfg.HTTPPort, mongoManager, gatewayClient, logger)
	healthServer.Register("/events", webhook.NewHandler(recorder, ledger, logger))

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runnerCtx, cancelRunner := context.WithCancel(context.Background())
	if err := runner.Start(runnerCtx); err != nil {
		cancelRunner()
		logger.WithError(err).Error("job runner setup error")
		fmt.Fprintf(os.Stderr, "job runner setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "runner_started").Info("scheduled jobs armed")

	httpDone := make(chan error, 1)
	go func() {
		httpDone <- healthServer.ListenAndServe()
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping")
	case err := <-httpDone:
		if err != nil {
			logger.WithError(err).Error("http server stopped early")
		} else {
			logger.WithField("event", "http_stopped_early").Warn("http server stopped before shutdown signal")
		}
	}

	// Let an in-flight batch finish its current group before exiting.
	cancelRunner()
	runnerDone := make(chan struct{})
	go func() {
		runner.Wait()
		close(runnerDone)
	}()

	select {
	case <-runnerDone:
		logger.WithField("event", "runner_stopped").Info("scheduled jobs stopped")
	case <-time.After(runnerShutdownTimeout):
		logger.WithField("event", "runner_shutdown_timeout").Warn("timed out waiting for job runner to stop")
	}

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := healthServer.Shutdown(httpCtx); err != nil {
		logger.WithError(err).Error("http shutdown error")
	}
	cancelHTTP()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

func runnerConfig(cfg config.Config) (schedule.Config, error) {
	warning, err := schedule.ParseTimeOfDay(cfg.DailyWarningTime)
	if err != nil {
		return schedule.Config{}, err
	}
	summary, err := schedule.ParseTimeOfDay(cfg.FineSummaryTime)
	if err != nil {
		return schedule.Config{}, err
	}
	reminder, err := schedule.ParseTimeOfDay(cfg.CallReminderTime)
	if err != nil {
		return schedule.Config{}, err
	}
	notice, err := schedule.ParseTimeOfDay(cfg.CallNoticeTime)
	if err != nil {
		return schedule.Config{}, err
	}

	return schedule.Config{
		DailyWarningTime: warning,
		FineSummaryTime:  summary,
		CallReminderTime: reminder,
		CallNoticeTime:   notice,
		DeadlineDay:      cfg.FineDeadlineDay,
		Location:         cfg.Location(),
		ThresholdDays:    cfg.InactivityThresholdDays,
		FineAmount:       cfg.DailyFineAmount,
		Currency:         cfg.CurrencySymbol,
	}, nil
}
