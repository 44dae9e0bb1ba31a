package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"certgen-cloud/internal/audit"
	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
	"certgen-cloud/internal/certificates/infrastructure/dochost"
	"certgen-cloud/internal/certificates/infrastructure/extract"
	"certgen-cloud/internal/certificates/infrastructure/memory"
	"certgen-cloud/internal/certificates/infrastructure/objectstore"
	certpostgres "certgen-cloud/internal/certificates/infrastructure/postgres"
	"certgen-cloud/internal/certificates/infrastructure/queue"
	certhttp "certgen-cloud/internal/certificates/interfaces/http"
	"certgen-cloud/internal/config"
	"certgen-cloud/internal/eventing"
	eventingrepo "certgen-cloud/internal/eventing/infrastructure/postgres"
	"certgen-cloud/internal/logging"
	"certgen-cloud/internal/observability/metrics"
)

const purgeInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			fatal(logger, "db open error", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			fatal(logger, "db ping error", err)
		}
	} else {
		logger.Warn("DATABASE_URL not set, keeping certificates in memory")
	}
	metrics.Init(db, logger)

	bus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	for _, sample := range certificates.AllEvents() {
		registry.Register(sample)
	}

	var (
		stores     application.Stores
		uow        application.UnitOfWork
		processed  eventing.ProcessedStore
		dispatcher *eventing.Dispatcher
	)
	if db != nil {
		outbox := eventingrepo.NewOutboxStore(db)
		consumers := eventingrepo.NewConsumerStore(db)
		dispatcher = eventing.NewDispatcher(bus, outbox, registry, consumers, logger)
		stores = certpostgres.Stores(db, nil)
		uow = certpostgres.NewUnitOfWork(db, dispatcher, logger)
		processed = consumers
		go purgeDelivered(ctx, outbox, consumers, cfg.Outbox.ProcessedRetention, logger)
	} else {
		store := memory.NewStore()
		outbox := eventing.NewMemoryOutbox()
		dispatcher = eventing.NewDispatcher(bus, outbox, registry, &eventing.MemoryDLQ{}, logger)
		stores = store.Stores(nil)
		uow = memory.NewUnitOfWork(store, eventing.NewPublisher(outbox, dispatcher))
		processed = eventing.NewMemoryProcessedStore()
	}
	go dispatcher.Run(ctx, cfg.Outbox.DispatchInterval, cfg.Outbox.BatchSize)

	objects, err := buildObjectStore(ctx, cfg.Storage, logger)
	if err != nil {
		fatal(logger, "object store error", err)
	}
	tasks, err := buildQueue(ctx, cfg.Redis, logger)
	if err != nil {
		fatal(logger, "task queue error", err)
	}
	host, err := buildDocumentHost(ctx, cfg.DocHost)
	if err != nil {
		fatal(logger, "document host error", err)
	}

	application.WireStorageCleanup(bus, application.NewStorageCleaner(objects, stores.Certificates, logger), processed)

	service, err := application.NewService(application.Deps{
		Stores:     stores,
		UnitOfWork: uow,
		Objects:    objects,
		Host:       host,
		Extractor:  extract.New(extract.WithMaxRows(cfg.Service.MaxRows)),
		Queue:      tasks,
		Logger:     logger,
		Config: application.Config{
			PageSize:            cfg.Service.PageSize,
			DispatchConcurrency: cfg.Service.DispatchConcurrency,
			SignedURLTTL:        cfg.Service.SignedURLTTL,
			EmailSender:         cfg.Service.EmailSender,
		},
	})
	if err != nil {
		fatal(logger, "certificate service error", err)
	}

	var auditLogger audit.Logger
	if db != nil {
		auditLogger = audit.NewRepository(db)
	}
	handler, err := certhttp.NewHandler(service, auditLogger, logger, certhttp.Options{
		JWTSecret:       []byte(cfg.JWTSecret),
		CallbackSecret:  []byte(cfg.CallbackSecret),
		CallbackMaxSkew: cfg.CallbackMaxSkew,
		CORSOrigins:     cfg.CORSOrigins,
		MaxUploadBytes:  cfg.Service.MaxUploadBytes,
		RequestTimeout:  60 * time.Second,
	})
	if err != nil {
		fatal(logger, "http handler error", err)
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(handler.Routes(), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", "error", err)
		}
	}()

	logger.Info("http listening", "addr", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(logger, "http server error", err)
	}
}

func buildObjectStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (application.ObjectStore, error) {
	if cfg.Bucket == "" {
		logger.Warn("S3_BUCKET not set, keeping files in memory")
		return memory.NewObjectStore(), nil
	}
	return objectstore.New(ctx, objectstore.Config{
		Bucket: cfg.Bucket,
		Region: cfg.Region,
		Prefix: cfg.Prefix,
	})
}

func buildQueue(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (application.TaskQueue, error) {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not set, tasks are recorded in memory only")
		return &memory.Queue{}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	q, err := queue.NewRedisQueue(client, queue.Names{
		Generation:     cfg.GenerationQueue,
		Email:          cfg.EmailQueue,
		EmailScheduled: cfg.ScheduledQueue,
	}, logger)
	if err != nil {
		return nil, err
	}
	go q.RunScheduler(ctx, cfg.SchedulerInterval, application.SystemClock{})
	return q, nil
}

func buildDocumentHost(ctx context.Context, cfg config.DocHostConfig) (application.DocumentHost, error) {
	if cfg.BaseURL == "" {
		return nil, nil
	}
	return dochost.New(ctx, dochost.Config{
		BaseURL:      cfg.BaseURL,
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
	})
}

// purgeDelivered drops sent outbox rows and processed markers once they are
// older than the retention window.
func purgeDelivered(ctx context.Context, outbox *eventingrepo.OutboxStore, consumers *eventingrepo.ConsumerStore, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cutoff := now.Add(-retention)
			if n, err := outbox.PurgeSent(ctx, cutoff); err != nil {
				logger.Warn("outbox purge failed", "error", err)
			} else if n > 0 {
				logger.Info("outbox records purged", "count", n)
			}
			if n, err := consumers.PurgeProcessed(ctx, cutoff); err != nil {
				logger.Warn("processed events purge failed", "error", err)
			} else if n > 0 {
				logger.Info("processed events purged", "count", n)
			}
		}
	}
}

func loggingMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", resp.status,
			"duration", time.Since(start),
		)
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

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
