package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sales-service/config"
	"sales-service/internal/api"
	"sales-service/internal/broker"
	"sales-service/internal/redisclient"
	"sales-service/internal/service"
	"sales-service/internal/store"
	"sales-service/internal/store/memory"
	"sales-service/internal/store/postgres"
	"sales-service/internal/util"
	"sales-service/internal/worker"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		panic(err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer(cfg.Observ.ServiceName, cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
	}

	var st store.Store
	if cfg.Database.URL != "" {
		pg, err := postgres.New(cfg.Database.URL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		st = pg
		logger.Info("using postgres store")
	} else {
		st = memory.New()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}
	defer st.Close()

	var cache *redisclient.Client
	if cfg.Redis.Addr != "" {
		c, err := redisclient.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		cache = c
		defer cache.Close()
		logger.Info("redis cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	var events *broker.EventPublisher
	var notifications *worker.NotificationWorker
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		events = broker.NewEventPublisher(producer)

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
		notifications = worker.NewNotificationWorker(consumer)
		logger.Info("kafka enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	sales := service.NewSaleService(st, cache, events, cfg.Business.VoucherMinLength)
	orders := service.NewOrderService(st, cache, events, cfg.Business.VoucherMinLength)

	handler := api.NewHandler(sales, orders, nil)
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: handler.Router(cfg.Server.Env),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if notifications != nil {
		go func() {
			if err := notifications.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("notification worker stopped", zap.Error(err))
			}
		}()
		defer notifications.Close()
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}
