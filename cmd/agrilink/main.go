package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"agrilink/internal/config"
	"agrilink/internal/database"
	"agrilink/internal/domain"
	"agrilink/internal/engine"
	"agrilink/internal/events"
	"agrilink/internal/export"
	"agrilink/internal/logging"
	"agrilink/internal/metrics"
	"agrilink/internal/models"
	"agrilink/internal/notify"
	"agrilink/internal/pricing"
	"agrilink/internal/rating"
	"agrilink/internal/repository"
	"agrilink/internal/scheduler"
	"agrilink/internal/sheets"
	"agrilink/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, items, logger, closer, loadErr := loadConfigAndLogger()
	if loadErr != nil {
		return loadErr
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := initDatabase(cfg, items, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	redisClient, counters := initCounters(ctx, cfg, &logger)
	defer repository.Close(redisClient)

	notifier := notify.NewNotifier(db, cfg.Notify.PerUserPerSecond, cfg.Notify.Burst, &logger)
	pricer := pricing.NewEngine(cfg.Pricing.PerKmCharge, cfg.Pricing.CommissionPercent)
	eventBus := events.NewEventBus()

	ledgerWorker := initLedgerWorker(ctx, cfg, db, redisClient, &logger)
	var syncWorker domain.SyncWorker
	if ledgerWorker != nil {
		syncWorker = ledgerWorker
	}

	clock := domain.RealClock{}
	eng := engine.NewEngine(
		db, db, db, db,
		counters, notifier, pricer, eventBus, syncWorker,
		clock, engineConfig(cfg), &logger,
	)

	scorer := rating.NewScorer(db, db, db, clock, &logger)
	subscribeBookingEvents(ctx, eventBus, scorer, &logger)
	go scorer.Run(ctx, cfg.Scheduler.RatingSweepHour)

	sched := scheduler.NewScheduler(eng, db, notifier, clock, schedulerConfig(cfg), &logger)
	go sched.Run(ctx)

	exporter := export.NewExporter(db, db, cfg.Exports.Path, &logger)
	go runDailyExports(ctx, exporter, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		go servePrometheus(cfg.Monitoring.PrometheusPort, &logger)
	}

	logger.Info().Msg("agrilink started")
	<-ctx.Done()
	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, []models.Item, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "main").Logger()

	itemsPath := cfg.ItemsFile
	if itemsPath == "" {
		itemsPath = "configs/items.yaml"
	}
	itemsData, err := os.ReadFile(itemsPath)
	if err != nil {
		logger.Error().Err(err).Str("path", itemsPath).Msg("items catalog read failed")
		return nil, nil, zerolog.Logger{}, closer, err
	}

	var itemsConfig struct {
		Items []models.Item `yaml:"items"`
	}
	if err := yaml.Unmarshal(itemsData, &itemsConfig); err != nil {
		logger.Error().Err(err).Msg("items catalog parse failed")
		return nil, nil, zerolog.Logger{}, closer, err
	}

	if err := validateItems(itemsConfig.Items); err != nil {
		logger.Error().Err(err).Msg("items catalog validation failed")
		return nil, nil, zerolog.Logger{}, closer, err
	}

	return cfg, itemsConfig.Items, logger, closer, nil
}

func validateItems(items []models.Item) error {
	seen := make(map[string]bool)
	for _, item := range items {
		if item.ID == "" {
			return fmt.Errorf("item '%s' has empty ID", item.Name)
		}
		if seen[item.ID] {
			return fmt.Errorf("duplicate item ID found: %s", item.ID)
		}
		seen[item.ID] = true
	}
	return nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("database directory create failed")
		return err
	}
	if cfg.Exports.Path != "" {
		if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
			logger.Error().Err(err).Msg("exports directory create failed")
			return err
		}
	}
	return nil
}

func initDatabase(cfg *config.Config, items []models.Item, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("database init failed")
		return nil, err
	}

	if err := db.SyncItems(context.Background(), items); err != nil {
		logger.Error().Err(err).Msg("items catalog sync failed")
	}
	if active, err := db.GetActiveItems(context.Background()); err != nil {
		logger.Error().Err(err).Msg("items catalog readback failed")
	} else {
		logger.Info().Int("active_items", len(active)).Msg("items catalog synced")
	}
	return db, nil
}

// initCounters wires the windowed counters: Redis primary with in-memory
// failover, or memory-only when Redis is not configured.
func initCounters(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, *repository.FailoverCounterRepository) {
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if err := repository.Ping(ctx, redisClient); err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable")
		}
	}

	primary := repository.NewRedisCounterRepository(redisClient)
	fallback := repository.NewMemoryCounterRepository()
	return redisClient, repository.NewFailoverCounterRepository(primary, fallback, logger)
}

func initLedgerWorker(ctx context.Context, cfg *config.Config, db *database.DB, redisClient *redis.Client, logger *zerolog.Logger) *worker.LedgerWorker {
	if cfg.Google.BookingsSpreadsheetID == "" {
		logger.Info().Msg("ledger mirror disabled: no spreadsheet configured")
		return nil
	}

	ledger, err := sheets.NewLedgerService(ctx, cfg.Google.CredentialsFile, cfg.Google.BookingsSpreadsheetID)
	if err != nil {
		logger.Warn().Err(err).Msg("ledger service init failed, mirror disabled")
		return nil
	}
	if err := ledger.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("ledger connection test failed, mirror disabled")
		return nil
	}

	retryPolicy := worker.RetryPolicy{MaxRetries: 5, InitialDelay: 2 * time.Second, MaxDelay: time.Minute, BackoffFactor: 2}
	w := worker.NewLedgerWorker(db, ledger, redisClient, retryPolicy, logger)
	go w.Start(ctx)
	return w
}

// subscribeBookingEvents refreshes a supplier's reliability score whenever
// one of their bookings settles or cancels.
func subscribeBookingEvents(ctx context.Context, bus *events.EventBus, scorer *rating.Scorer, logger *zerolog.Logger) {
	recompute := func(ev *events.Event) error {
		var payload events.BookingEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode payload")
			return nil
		}
		if payload.SupplierID == "" {
			return nil
		}
		if _, err := scorer.Recompute(ctx, payload.SupplierID); err != nil {
			logger.Error().Err(err).Str("supplier_id", payload.SupplierID).Msg("event bus: score recompute")
		}
		return nil
	}

	bus.Subscribe(events.EventPaymentRecorded, recompute)
	bus.Subscribe(events.EventBookingCancelled, recompute)
	bus.Subscribe(events.EventBookingAutoCompleted, recompute)
}

func runDailyExports(ctx context.Context, exporter *export.Exporter, logger *zerolog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			end := time.Now()
			start := end.AddDate(0, 0, -1)
			if _, err := exporter.ExportBookings(ctx, start, end); err != nil {
				logger.Error().Err(err).Msg("daily bookings export failed")
			}
			if _, err := exporter.ExportSupplierRatings(ctx); err != nil {
				logger.Error().Err(err).Msg("daily ratings export failed")
			}
		}
	}
}

func servePrometheus(port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.Info().Str("addr", addr).Msg("prometheus listener started")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("prometheus listener error")
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		OTPMaxAttempts:          cfg.Engine.OTPMaxAttempts,
		RejectionAlertThreshold: cfg.Engine.RejectionAlertThreshold,
		RejectionWindow:         time.Duration(cfg.Engine.RejectionWindowHours) * time.Hour,
		PaymentSpikeThreshold:   cfg.Engine.PaymentSpikeThreshold,
		PaymentSpikeWindow:      time.Duration(cfg.Engine.PaymentSpikeWindowMin) * time.Minute,
	}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		FastInterval:      time.Duration(cfg.Scheduler.FastIntervalSeconds) * time.Second,
		SlowInterval:      time.Duration(cfg.Scheduler.SlowIntervalMinutes) * time.Minute,
		SearchTimeout:     time.Duration(cfg.Scheduler.SearchTimeoutHours) * time.Hour,
		AutoCancelAfter:   time.Duration(cfg.Scheduler.AutoCancelMinutes) * time.Minute,
		AutoCompleteAfter: time.Duration(cfg.Scheduler.AutoCompleteHours) * time.Hour,
	}
}
