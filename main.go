package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	alertapp "enp-settlement/internal/alerts/application"
	alertrepo "enp-settlement/internal/alerts/infrastructure/postgres"
	alerthttp "enp-settlement/internal/alerts/interfaces/http"
	alertnotify "enp-settlement/internal/alerts/notify"
	apihttp "enp-settlement/internal/api/http"
	"enp-settlement/internal/audit"
	"enp-settlement/internal/auth"
	"enp-settlement/internal/eventing"
	eventingrepo "enp-settlement/internal/eventing/infrastructure/postgres"
	gwapp "enp-settlement/internal/gateway/application"
	gwrepo "enp-settlement/internal/gateway/infrastructure/postgres"
	gwhttp "enp-settlement/internal/gateway/interfaces/http"
	ledgerrepo "enp-settlement/internal/ledger/infrastructure/postgres"
	"enp-settlement/internal/money"
	"enp-settlement/internal/observability/metrics"
	"enp-settlement/internal/rates"
	reconapp "enp-settlement/internal/reconcile/application"
	"enp-settlement/internal/reconcile/application/events"
	registryapp "enp-settlement/internal/registry/application"
	registryrepo "enp-settlement/internal/registry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	vehicleRepo := registryrepo.NewVehicleRepository(db)
	ledgerRepo := ledgerrepo.NewLedgerRepository(db)
	dedupStore := gwrepo.NewDedupStore(db)
	alertRepo := alertrepo.NewAlertRepository(db)

	baseBus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(events.TransactionSettled{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, baseBus)

	rateProvider, err := buildRateProvider(cfg)
	if err != nil {
		logger.Fatalf("rate provider error: %v", err)
	}

	engine, err := reconapp.NewEngine(vehicleRepo, ledgerRepo, publisher, logger,
		reconapp.WithMaxAttempts(cfg.SettleMaxAttempts),
		reconapp.WithBaseBackoff(cfg.SettleBaseBackoff),
	)
	if err != nil {
		logger.Fatalf("settlement engine error: %v", err)
	}

	registryService, err := registryapp.NewService(vehicleRepo, auditRepo, logger)
	if err != nil {
		logger.Fatalf("registry service error: %v", err)
	}

	gatewayService, err := gwapp.NewService(dedupStore, vehicleRepo, rateProvider, engine, logger,
		gwapp.WithDedupTTL(cfg.DedupTTL))
	if err != nil {
		logger.Fatalf("gateway service error: %v", err)
	}

	alertBroker := alerthttp.NewSSEBroker()
	alertNotifiers := []alertapp.AlertNotifier{alertBroker}
	if cfg.AlertWebhookURL != "" {
		webhook, err := alertnotify.NewWebhookNotifier(cfg.AlertWebhookURL, logger)
		if err != nil {
			logger.Fatalf("alert webhook error: %v", err)
		}
		alertNotifiers = append(alertNotifiers, webhook)
	}
	alertDispatcher, err := alertapp.NewDispatcher(alertRepo, ledgerRepo, logger,
		alertapp.WithNotifier(alertnotify.NewMultiNotifier(alertNotifiers...)),
		alertapp.WithAudit(auditRepo),
		alertapp.WithDeclineWindow(cfg.DeclineWindow),
		alertapp.WithDeclineThreshold(cfg.DeclineThreshold),
	)
	if err != nil {
		logger.Fatalf("alert dispatcher error: %v", err)
	}
	eventing.Subscribe(baseBus, eventing.EventTypeOf[events.TransactionSettled](), "alerts.settled", func(ctx context.Context, event any) error {
		evt, ok := event.(events.TransactionSettled)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return alertDispatcher.HandleTransactionSettled(ctx, evt)
	}, processedStore)

	replayer, err := reconapp.NewReplayer(vehicleRepo, ledgerRepo, logger)
	if err != nil {
		logger.Fatalf("replayer error: %v", err)
	}
	go func() {
		ticker := time.NewTicker(cfg.ReconcileInterval)
		defer ticker.Stop()
		for range ticker.C {
			replayed, err := replayer.Run(context.Background())
			if err != nil {
				logger.Printf("reconciliation run error: %v", err)
				continue
			}
			if replayed > 0 {
				logger.Printf("reconciliation replayed %d transactions", replayed)
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(cfg.DedupPurgeInterval)
		defer ticker.Stop()
		for range ticker.C {
			purged, err := dedupStore.PurgeExpired(context.Background())
			if err != nil {
				logger.Printf("dedup purge error: %v", err)
				continue
			}
			if purged > 0 {
				logger.Printf("dedup purged %d expired keys", purged)
			}
		}
	}()

	scanHandler, err := gwhttp.NewHandler(gatewayService)
	if err != nil {
		logger.Fatalf("scan handler error: %v", err)
	}
	vehiclesHandler, err := apihttp.NewVehiclesHandler(registryService, ledgerRepo)
	if err != nil {
		logger.Fatalf("vehicles handler error: %v", err)
	}
	rechargesHandler, err := apihttp.NewRechargesHandler(engine)
	if err != nil {
		logger.Fatalf("recharges handler error: %v", err)
	}
	alertsHandler, err := alerthttp.NewHandler(alertDispatcher)
	if err != nil {
		logger.Fatalf("alerts handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ingest/scan-event", ingestAuth.Wrap(scanHandler))
	mux.Handle("/api/v1/vehicles", vehiclesHandler)
	mux.Handle("/api/v1/vehicles/", vehiclesHandler)
	mux.Handle("/api/v1/recharges", rechargesHandler)
	mux.Handle("/api/v1/alerts", alertsHandler)
	mux.Handle("/api/v1/alerts/", alertsHandler)
	mux.Handle("/api/v1/alerts/stream", alerthttp.NewStreamHandler(alertBroker))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL        string
	HTTPAddr           string
	RateTablePath      string
	DefaultRate        string
	DedupTTL           time.Duration
	DedupPurgeInterval time.Duration
	SettleMaxAttempts  int
	SettleBaseBackoff  time.Duration
	ReconcileInterval  time.Duration
	DeclineWindow      time.Duration
	DeclineThreshold   int
	AlertWebhookURL    string
	JWTSecret          string
	IngestSecret       string
	IngestSkewSeconds  int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:        getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:           getenvDefault("HTTP_ADDR", ":8080"),
		RateTablePath:      getenvDefault("RATE_TABLE_PATH", ""),
		DefaultRate:        getenvDefault("DEFAULT_RATE", "10.00"),
		DedupTTL:           getenvDuration("DEDUP_TTL", 24*time.Hour),
		DedupPurgeInterval: getenvDuration("DEDUP_PURGE_INTERVAL", time.Hour),
		SettleMaxAttempts:  getenvIntDefault("SETTLE_MAX_ATTEMPTS", 5),
		SettleBaseBackoff:  getenvDuration("SETTLE_BASE_BACKOFF", 5*time.Millisecond),
		ReconcileInterval:  getenvDuration("RECONCILE_INTERVAL", time.Minute),
		DeclineWindow:      getenvDuration("DECLINE_ALERT_WINDOW", 24*time.Hour),
		DeclineThreshold:   getenvIntDefault("DECLINE_ALERT_THRESHOLD", 3),
		AlertWebhookURL:    getenvDefault("ALERT_WEBHOOK_URL", ""),
		JWTSecret:          getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:       getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds:  getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	if cfg.IngestSecret == "" {
		log.Fatal("INGEST_HMAC_SECRET is required")
	}
	return cfg
}

func buildRateProvider(cfg config) (rates.Provider, error) {
	if cfg.RateTablePath != "" {
		return rates.LoadTable(cfg.RateTablePath)
	}
	rate, err := money.Parse(cfg.DefaultRate)
	if err != nil {
		return nil, err
	}
	return rates.NewFixedProvider(rate)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
