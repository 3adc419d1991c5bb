package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stall-reservation/config"
	"stall-reservation/internal/api"
	"stall-reservation/internal/broker"
	"stall-reservation/internal/notify"
	"stall-reservation/internal/qrcode"
	"stall-reservation/internal/redisclient"
	"stall-reservation/internal/service"
	"stall-reservation/internal/store"
	"stall-reservation/internal/util"
	"stall-reservation/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting stall reservation service")

	rules := service.RulesFromConfig(cfg)
	if err := rules.Validate(); err != nil {
		logger.Fatal("Invalid booking rules", zap.Error(err))
	}

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		logger.Fatal("Failed to apply schema", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReservation)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicReservation))

	eventPublisher := broker.NewEventPublisher(producer)
	mailer := notify.NewMailer(cfg.Mail.APIKey, cfg.Mail.FromEmail, cfg.Mail.FromName)
	qr := qrcode.NewRenderer()

	announcer := service.NewAnnouncer(mailer, eventPublisher)
	engine := service.NewAllocationEngine(db, qr, announcer, rules)
	lifecycle := service.NewLifecycle(db, qr, announcer)
	broadcaster := service.NewAvailabilityBroadcaster(db, redisClient)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	availabilityConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReservation, cfg.Kafka.AvailabilityGroup)
	availabilityWorker := worker.NewAvailabilityWorker(availabilityConsumer, broadcaster)
	go func() {
		if err := availabilityWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Availability worker error", zap.Error(err))
		}
	}()

	var reminderWorker *worker.ReminderWorker
	if cfg.Scheduler.Enabled {
		interval := time.Duration(cfg.Scheduler.IntervalMins) * time.Minute
		reminderWorker = worker.NewReminderWorker(lifecycle, mailer, redisClient, interval)
		go reminderWorker.Start(workerCtx)
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(engine, lifecycle, map[string]api.ReadinessCheck{
		"database": func(ctx context.Context) error { return db.GetDB().PingContext(ctx) },
		"redis":    func(ctx context.Context) error { return redisClient.GetClient().Ping(ctx).Err() },
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if reminderWorker != nil {
		reminderWorker.Stop()
	}
	workerCancel()
	availabilityWorker.Stop()

	// Let in-flight notifications and events drain before closing the producer
	announcer.Wait()

	logger.Info("Server exited")
}
