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
	"github.com/stayspot/booking-engine/internal/adapters/crdb"
	mongoadapter "github.com/stayspot/booking-engine/internal/adapters/mongo"
	redisadapter "github.com/stayspot/booking-engine/internal/adapters/redis"
	"github.com/stayspot/booking-engine/internal/booking"
	"github.com/stayspot/booking-engine/internal/config"
	"github.com/stayspot/booking-engine/internal/escrow"
	httphandler "github.com/stayspot/booking-engine/internal/http"
	"github.com/stayspot/booking-engine/internal/idempotency"
	"github.com/stayspot/booking-engine/internal/observability"
	"github.com/stayspot/booking-engine/internal/pricing"
	"github.com/stayspot/booking-engine/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
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

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	ledger := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("stayspot")
	catalog := mongoadapter.NewListingCatalog(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache)
	listings := redisadapter.NewCachedListings(catalog, redisCache, cfg.ListingCacheTTL, logger)

	escrowSvc := escrow.NewService(ledger, listings, audit, logger)
	validator := pricing.Validator{ServiceFeeRate: cfg.ServiceFeeRate}
	factory := booking.NewFactory(ledger, escrowSvc, listings, validator, logger)

	handlers := httphandler.NewHandlers(ledger, factory, escrowSvc, idemp, logger)
	r := httphandler.SetupRouter(handlers, logger, rl, idemp)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
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
