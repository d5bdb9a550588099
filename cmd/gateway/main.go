package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lmonteiro/warden/internal/api"
	"github.com/lmonteiro/warden/internal/circuitbreaker"
	"github.com/lmonteiro/warden/internal/config"
	"github.com/lmonteiro/warden/internal/db"
	"github.com/lmonteiro/warden/internal/dispatch"
	"github.com/lmonteiro/warden/internal/metrics"
	"github.com/lmonteiro/warden/internal/observ"
	"github.com/lmonteiro/warden/internal/redis"
	"github.com/lmonteiro/warden/internal/safety"
	"github.com/lmonteiro/warden/internal/sqs"
	"github.com/lmonteiro/warden/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting warden gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repository
	repo := db.NewRepository(database, logger)

	// Initialize Redis for request dedupe and API rate limiting
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, dedupe and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var dedupeService *redis.DedupeService
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		dedupeService = redis.NewDedupeService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.APIRateLimit,
			Window: 1 * time.Minute, // per minute per sender
		})
		defer redisClient.Close()
	}

	// Initialize SQS producer for outcome events
	var producer *sqs.Producer
	if cfg.SQSQueueURL != "" {
		producer, err = sqs.NewProducer(ctx, sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs producer unavailable, outcome events will not be published",
				zap.Error(err),
			)
			producer = nil
		}
	}

	// WhatsApp is the primary survey channel
	waTransport := transport.NewWhatsAppTransport(transport.WhatsAppConfig{
		BaseURL:  cfg.WhatsAppBaseURL,
		Instance: cfg.WhatsAppInstance,
		Token:    cfg.WhatsAppToken,
	}, logger)

	transports := []transport.Transport{
		circuitbreaker.NewProtectedTransport(waTransport,
			circuitbreaker.New(circuitbreaker.DefaultConfig("whatsapp"), logger), logger),
	}

	// SNS SMS fallback
	snsTransport, err := transport.NewSNSTransport(ctx, transport.SNSConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		logger.Warn("SNS transport unavailable, SMS channel disabled",
			zap.Error(err),
		)
	} else {
		transports = append(transports,
			circuitbreaker.NewProtectedTransport(snsTransport,
				circuitbreaker.New(circuitbreaker.DefaultConfig("sns"), logger), logger))
	}

	// SES email fallback
	sesTransport, err := transport.NewSESTransport(ctx, transport.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
		Subject:   cfg.SESSubject,
	}, logger)
	if err != nil {
		logger.Warn("SES transport unavailable, email channel disabled",
			zap.Error(err),
		)
	} else {
		transports = append(transports,
			circuitbreaker.NewProtectedTransport(sesTransport,
				circuitbreaker.New(circuitbreaker.DefaultConfig("ses"), logger), logger))
	}

	router := transport.NewRouter(logger, transports...)

	logger.Info("initialized delivery channels",
		zap.Bool("whatsapp_enabled", true),
		zap.Bool("sms_enabled", snsTransport != nil),
		zap.Bool("email_enabled", sesTransport != nil),
	)

	// Safety controller evaluates per-sender send eligibility
	ctrl := safety.NewController(repo, logger)

	worker := dispatch.New(repo, ctrl, router, dispatchPublisher(producer), dispatch.Config{
		PollInterval: time.Duration(cfg.DispatchPollSeconds) * time.Second,
		BatchSize:    cfg.DispatchBatchSize,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go worker.Start(workerCtx)

	logger.Info("dispatch worker started",
		zap.Int("poll_seconds", cfg.DispatchPollSeconds),
		zap.Int("batch_size", cfg.DispatchBatchSize),
	)

	// Background monitor keeps per-sender eligibility gauges fresh
	monitor := safety.NewMonitor(ctrl, repo, 30*time.Second, logger)
	go monitor.Start(workerCtx)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, repo, ctrl, dedupeService, api.Options{
		SurveyURL:          cfg.SurveyURL,
		DefaultCountryCode: cfg.DefaultCountryCode,
	})

	r.Route("/v1", func(r chi.Router) {
		// Apply rate limiting to API routes
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.SenderKeyFunc))

		r.Post("/messages", handler.ScheduleMessage)
		r.Get("/messages", handler.ListMessages)
		r.Get("/messages/{id}", handler.GetMessage)
		r.Delete("/messages/{id}", handler.CancelMessage)

		r.Get("/safety/status", handler.GetSafetyStatus)
		r.Get("/safety/config", handler.GetSafetyConfig)
		r.Put("/safety/config", handler.UpdateSafetyConfig)

		r.Get("/templates", handler.ListTemplates)
		r.Post("/templates", handler.CreateTemplate)
		r.Patch("/templates/{id}", handler.UpdateTemplate)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// dispatchPublisher keeps the worker's publisher nil when SQS is not
// configured; a typed nil *sqs.Producer would dodge the worker's nil check.
func dispatchPublisher(p *sqs.Producer) dispatch.OutcomePublisher {
	if p == nil {
		return nil
	}
	return p
}
