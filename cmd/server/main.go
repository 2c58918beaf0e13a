package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"github.com/example/paygate/internal/config"
	"github.com/example/paygate/internal/database"
	"github.com/example/paygate/internal/handlers"
	kafka_infra "github.com/example/paygate/internal/infrastructure/kafka"
	"github.com/example/paygate/internal/routes"
	"github.com/example/paygate/internal/services"
	"github.com/example/paygate/internal/store"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(cfg.AppEnv, "development") {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.Debug {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.GatewayStore, *gorm.DB, error) {
	if cfg.GatewayStore == "file" {
		logger.Info("using file gateway store", zap.String("path", cfg.GatewayConfigFile))
		return store.NewFileStore(cfg.GatewayConfigFile), nil, nil
	}

	db, err := database.Open(database.Options{
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.GatewayDBPath,
		Debug:       cfg.Debug,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	gateways := store.NewGormStore(db)

	// Carry over configuration saved by the file store.
	imported, err := store.ImportFile(ctx, gateways, cfg.GatewayConfigFile)
	if err != nil {
		logger.Warn("legacy gateway file import failed", zap.String("path", cfg.GatewayConfigFile), zap.Error(err))
	} else if imported > 0 {
		logger.Info("imported legacy gateway configuration", zap.Int("records", imported))
	}
	return gateways, db, nil
}

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateways, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("gateway store unavailable", zap.Error(err))
	}

	var sinks []services.PaymentNotifier
	var publisher kafka_infra.Publisher
	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		publisher, err = kafka_infra.NewPublisher(kafka_infra.Config{
			Brokers: brokers,
			Topic:   cfg.KafkaPaymentEventsTopic,
		}, logger.With(zap.String("component", "kafka")))
		if err != nil {
			logger.Fatal("kafka publisher", zap.Error(err))
		}
		sinks = append(sinks, services.NewKafkaNotifier(publisher))
		logger.Info("kafka payment events enabled", zap.Strings("brokers", brokers), zap.String("topic", cfg.KafkaPaymentEventsTopic))
	}
	if telegram := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat, logger); telegram.Enabled() {
		sinks = append(sinks, telegram)
		logger.Info("telegram payment notifications enabled")
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ErrorHandler: handlers.ErrorHandler(logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins(),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Stripe-Signature",
		AllowCredentials: cfg.AllowedOrigins() != "*",
	}))

	routes.Register(app, routes.Deps{
		Config:    cfg,
		Store:     gateways,
		Logger:    logger,
		Notifiers: services.NewNotifiers(logger, sinks...),
	})

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("port", cfg.AppPort),
		zap.String("env", cfg.AppEnv),
		zap.String("backend_url", cfg.BackendURL),
	)
	if err := app.Listen(":" + cfg.AppPort); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("fiber.Listen error", zap.Error(err))
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close failed", zap.Error(err))
		}
	}
	if db != nil {
		if err := database.Close(db); err != nil {
			logger.Error("database close failed", zap.Error(err))
		}
	}
}
