package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/qivo-mining/platform/pkg/common/config"
	"github.com/qivo-mining/platform/pkg/common/database"
	"github.com/qivo-mining/platform/pkg/common/kafka"
	"github.com/qivo-mining/platform/pkg/common/logger"
	"github.com/qivo-mining/platform/pkg/common/retry"
	"github.com/qivo-mining/platform/pkg/events"
	"github.com/qivo-mining/platform/pkg/gateway/middleware"
	"github.com/qivo-mining/platform/pkg/notification"
	"github.com/qivo-mining/platform/pkg/observability/metrics"
	"github.com/qivo-mining/platform/pkg/parsing"
	"github.com/qivo-mining/platform/pkg/relay"
	"github.com/qivo-mining/platform/pkg/reports"
	"github.com/qivo-mining/platform/pkg/storage"
	"gorm.io/gorm"
)

// maxEventBodyBytes caps JSON bodies posted to the broadcast and send routes.
const maxEventBodyBytes = 64 << 10

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	logger.Init()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var db *gorm.DB
	err := retry.Do(ctx, 5, 500*time.Millisecond, 5*time.Second, func() error {
		var openErr error
		db, openErr = database.OpenPostgres(cfg)
		return openErr
	})
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres(db)

	reportRepo := reports.NewRepository(db)
	if err := reportRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate report tables")
	}

	redisClient := database.OpenRedis(cfg)
	defer database.CloseRedis(redisClient)
	normalized := storage.NewNormalizedStore(redisClient, cfg.NormalizedTTL)

	standards, err := parsing.LoadStandards(cfg.StandardsFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load standards catalog")
	}

	bridge := events.NewBridge()

	notifier := notification.NewService(notification.Config{
		HeartbeatInterval: cfg.SSEHeartbeatInterval,
		ConnectionTimeout: cfg.SSEConnectionTimeout,
		MaxConnections:    cfg.SSEMaxConnections,
		RetryInterval:     cfg.SSERetryInterval,
		BufferSize:        cfg.SSEBufferSize,
		RelayBuffer:       cfg.SSERelayBuffer,
	})
	notifier.Start()
	stopRelay := notifier.RelayLifecycle(bridge)

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaLifecycleTopic)
	defer producer.Close()
	sink := relay.NewKafkaSink(producer, 1024)
	sink.Attach(bridge)

	if cfg.KafkaInboundTopic != "" {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaInboundTopic, cfg.KafkaGroupID)
		defer consumer.Close()
		inbound := relay.NewInboundRelay(bridge)
		go func() {
			if err := inbound.Run(ctx, consumer); err != nil && !errors.Is(err, context.Canceled) {
				logger.Log.WithError(err).Error("inbound lifecycle relay stopped")
			}
		}()
	}

	queue := parsing.NewQueue(parsing.Config{
		MaxConcurrent:  cfg.QueueMaxConcurrent,
		MaxAttempts:    cfg.QueueMaxAttempts,
		BaseBackoff:    cfg.QueueBaseBackoff,
		ParseTimeout:   cfg.QueueParseTimeout,
		StorageTimeout: cfg.QueueStorageTimeout,
		DBTimeout:      cfg.QueueDBTimeout,
		ShutdownGrace:  cfg.QueueShutdownGrace,
		Standards:      standards,
	}, parsing.NewHTTPParser(cfg.ParserBaseURL, cfg.ParserTimeout), normalized, reportRepo, bridge)

	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging, middleware.CORS)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, pingCancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer pingCancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			http.Error(w, `{"status":"redis unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(pingCtx) != nil {
			http.Error(w, `{"status":"database unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", metrics.Handler(func() {
		qs := queue.GetStatus()
		metrics.ObserveQueue(qs.QueueLength, qs.Processing, qs.MaxConcurrent)
		st := notifier.Stats()
		metrics.ObserveNotifications(st.ActiveConnections, st.TotalConnections, st.TotalEventsSent, st.DroppedConnections, st.AvgLatencyMs)
		metrics.ObserveSink(sink.Published(), sink.Dropped())
	})).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.MutationsOnly(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)))

	uploads := parsing.NewHTTPHandler(queue, reportRepo,
		parsing.NewUploadValidator(parsing.DefaultUploadExtensions()), cfg.MaxUploadBytes)
	uploads.Register(api)
	reports.NewHTTPHandler(reportRepo).Register(api)
	eventsAPI := api.PathPrefix("/events").Subrouter()
	eventsAPI.Use(middleware.BodyLimit(maxEventBodyBytes))
	notification.NewHTTPHandler(notifier, cfg.SSEWriteTimeout).Register(eventsAPI)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Report pipeline started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down report pipeline...")
	notifier.SystemStatus("shutting_down", "Server is restarting, reconnecting shortly")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Open event streams would hold Shutdown until the deadline.
	server.RegisterOnShutdown(notifier.Shutdown)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	queue.Stop()
	stopRelay()
	notifier.Shutdown()
	cancel()

	if err := sink.Close(shutdownCtx); err != nil {
		logger.Log.WithError(err).Warn("lifecycle sink did not drain")
	}

	logger.Log.Info("Report pipeline stopped")
}
