package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "github.com/caminotours/booking/internal/adapters/mongo"
	"github.com/caminotours/booking/internal/adapters/postgres"
	redisadapter "github.com/caminotours/booking/internal/adapters/redis"
	"github.com/caminotours/booking/internal/config"
	"github.com/caminotours/booking/internal/gateway"
	httphandler "github.com/caminotours/booking/internal/http"
	"github.com/caminotours/booking/internal/idempotency"
	"github.com/caminotours/booking/internal/observability"
	"github.com/caminotours/booking/internal/rateLimit"
	"github.com/caminotours/booking/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()
	observability.InitMetrics()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("tours"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, time.Hour)
	rl := rateLimit.NewRateLimiter(redisCache)

	pay := gateway.NewSimulated(gateway.Config{
		Delay:             cfg.GatewayDelay,
		ChargeSuccessRate: cfg.ChargeSuccessRate,
		RefundSuccessRate: cfg.RefundSuccessRate,
	})

	avail := service.NewAvailability(repo, service.CountMode(cfg.AvailabilityMode))
	catalog := service.NewCatalogService(repo, logger)
	bookings := service.NewBookingService(repo, avail, audit, logger)
	cart := service.NewCartService(repo, avail, audit, logger)
	payments := service.NewPaymentService(repo, pay, audit, logger)

	handlers := httphandler.NewHandlers(catalog, bookings, cart, payments, avail, idemp)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
