package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"booking-service/config"
	"booking-service/internal/api"
	"booking-service/internal/broker"
	"booking-service/internal/gateway"
	"booking-service/internal/redisclient"
	"booking-service/internal/service"
	"booking-service/internal/store"
	"booking-service/internal/util"
	"booking-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting booking service", zap.String("env", cfg.Server.Env))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Booking service stopped with error", zap.Error(err))
	}
	logger.Info("Server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL, store.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	notifier, source, closeBroker, err := notificationTransport(cfg)
	if err != nil {
		return err
	}
	defer closeBroker()
	logger.Info("Notification transport ready", zap.String("transport", cfg.Business.NotifyTransport))

	gw := gateway.NewHTTPClient(gateway.Config{
		BaseURL:        cfg.Gateway.BaseURL,
		KeyID:          cfg.Gateway.KeyID,
		KeySecret:      cfg.Gateway.KeySecret,
		AttemptTimeout: cfg.Gateway.AttemptTimeout,
		MaxAttempts:    cfg.Gateway.MaxAttempts,
		RetryBackoff:   cfg.Gateway.RetryBackoff,
	})

	bookingService := service.NewBookingService(db, notifier, service.BookingPolicy{
		ApprovalWindow: cfg.Business.ApprovalWindow,
		PaymentWindow:  cfg.Business.PaymentWindow,
		CheckoutGrace:  cfg.Business.CheckoutGrace,
	})
	payments := service.NewPaymentOrchestrator(db, gw, cfg.Gateway.Currency, notifier)
	reconciler := service.NewReconciliationService(db, gw, cfg.Gateway.KeySecret, cfg.Gateway.WebhookSecret, notifier)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Bookings:       bookingService,
		Payments:       payments,
		Reconciler:     reconciler,
		Calendar:       service.NewCalendarService(db),
		Products:       service.NewProductService(db),
		ProfileEdits:   service.NewProfileEditService(db),
		Idempotency:    redisClient,
		IdempotencyTTL: cfg.Business.IdempotencyTTL,
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Readiness: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	sweeper := worker.NewExpirySweeper(cfg.Business.SweepSchedule, bookingService, redisClient)
	g.Go(func() error {
		return sweeper.Start(gctx)
	})

	if source != nil {
		notificationWorker := worker.NewNotificationWorker(source, db, worker.NewLogDeliverer())
		g.Go(func() error {
			err := notificationWorker.Start(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

// notificationTransport picks the publisher and, for brokers, the matching
// subscription the delivery worker reads from.
func notificationTransport(cfg *config.Config) (service.Notifier, worker.Source, func(), error) {
	logger := util.GetLogger()

	switch cfg.Business.NotifyTransport {
	case "kafka":
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
		closeAll := func() {
			if err := consumer.Close(); err != nil {
				logger.Warn("Error closing kafka consumer", zap.Error(err))
			}
			if err := producer.Close(); err != nil {
				logger.Warn("Error closing kafka producer", zap.Error(err))
			}
		}
		return broker.NewEventNotifier(producer), consumer, closeAll, nil

	case "amqp":
		publisher, err := broker.NewAMQPPublisher(cfg.Rabbit.URL, cfg.Rabbit.Exchange)
		if err != nil {
			return nil, nil, nil, err
		}
		consumer, err := broker.NewAMQPConsumer(cfg.Rabbit.URL, cfg.Rabbit.Exchange, cfg.Rabbit.Queue,
			[]string{broker.RoutingKey("#")})
		if err != nil {
			_ = publisher.Close()
			return nil, nil, nil, err
		}
		closeAll := func() {
			if err := consumer.Close(); err != nil {
				logger.Warn("Error closing amqp consumer", zap.Error(err))
			}
			if err := publisher.Close(); err != nil {
				logger.Warn("Error closing amqp publisher", zap.Error(err))
			}
		}
		return broker.NewEventNotifier(publisher), consumer, closeAll, nil
	}

	return broker.NewLogNotifier(), nil, func() {}, nil
}
