package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oarkflow/log"

	"github.com/oarkflow/botguard"
)

func main() {
	var (
		interval  = flag.Duration("interval", 10*time.Second, "poll interval for the scoring loop")
		mode      = flag.String("mode", "aggressive", "engine mode: aggressive or defensive")
		dbPath    = flag.String("db", "botguard.db", "sqlite database path, or 'memory' for no durability")
		rulesDir  = flag.String("rules", "", "directory of signature overlay JSON files")
		evidence  = flag.String("evidence", "evidence.json", "path for the shutdown evidence package")
		listen    = flag.String("listen", ":8080", "http listen address")
		auditDir  = flag.String("audit-dir", "warnings", "directory for per-actor warning files")
		broadcast = flag.String("broadcast", "", "shared broadcast file for peer deployments")
		webhook   = flag.String("webhook", "", "operator webhook url for warnings")
		blockCmd  = flag.String("block-cmd", "", "external command invoked to block an address")
		contact   = flag.String("contact", "", "abuse contact shown in warning notices")
	)
	flag.Parse()

	logger := log.Logger{Level: log.InfoLevel}

	engineMode := botguard.EngineMode(*mode)
	switch engineMode {
	case botguard.ModeAggressive, botguard.ModeDefensive:
	default:
		logger.Error().Str("mode", *mode).Msg("invalid mode, expected aggressive or defensive")
		os.Exit(2)
	}

	var store botguard.ActorStore
	if *dbPath == "memory" {
		store = botguard.NewMemoryActorStore()
	} else {
		s, err := botguard.NewSQLiteActorStore(*dbPath)
		if err != nil {
			logger.Error().Err(err).Str("path", *dbPath).Msg("failed to open actor store")
			os.Exit(1)
		}
		store = s
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := botguard.NewActorRegistry(ctx, store)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load actor registry")
		os.Exit(1)
	}

	catalog, err := botguard.LoadSignatureCatalog(*rulesDir)
	if err != nil {
		logger.Error().Err(err).Str("dir", *rulesDir).Msg("failed to load signature catalog")
		os.Exit(1)
	}

	metrics := botguard.NewInMemoryMetricsCollector()
	history := botguard.NewRecentHistory(10*time.Second, 10)
	detector := botguard.NewDetector(catalog, history.Window())
	throttle := botguard.NewResponseThrottle(10 * time.Second)
	notices := botguard.NewNoticeBuilder("botguard", *contact)

	dispatcher := botguard.NewResponseDispatcher(registry, notices, &logger, metrics)
	dispatcher.AddWarnChannel(botguard.NewAuditFileWarnChannel(*auditDir))
	dispatcher.AddWarnChannel(botguard.NewBannerWarnChannel())
	if *broadcast != "" {
		dispatcher.AddWarnChannel(botguard.NewBroadcastFileWarnChannel(*broadcast))
	}
	if *webhook != "" {
		dispatcher.AddWarnChannel(botguard.NewWebhookWarnChannel(*webhook))
	}
	dispatcher.SetActionChannel(botguard.TierHigh, botguard.NewThrottleActionChannel(throttle, 15*time.Minute))
	if *blockCmd != "" {
		dispatcher.SetActionChannel(botguard.TierCritical, botguard.NewCommandActionChannel(*blockCmd))
	}

	policy := botguard.DefaultEscalationPolicy()
	exporter := botguard.NewEvidenceExporter(registry)

	engine := botguard.NewEngine(botguard.EngineConfig{
		PollInterval: *interval,
		EvidencePath: *evidence,
		Mode:         engineMode,
	}, detector, registry, policy, dispatcher, history, exporter, &logger, metrics)

	if *rulesDir != "" {
		go func() {
			if err := catalog.Watch(ctx, *rulesDir, &logger); err != nil {
				logger.Warn().Err(err).Msg("signature watcher exited")
			}
		}()
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(botguard.Middleware(engine, catalog, throttle))
	botguard.RegisterOpsRoutes(app, engine, registry, exporter, store, metrics)

	go func() {
		logger.Info().Str("addr", *listen).Msg("http listener started")
		if err := app.Listen(*listen); err != nil {
			logger.Error().Err(err).Msg("http listener failed")
			stop()
		}
	}()

	err = engine.Run(ctx)
	if err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("engine exited with error")
	}
	if err := app.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("http shutdown failed")
	}
}
