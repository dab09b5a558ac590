package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/stayspot/booking-engine/internal/adapters/crdb"
	mongoadapter "github.com/stayspot/booking-engine/internal/adapters/mongo"
	"github.com/stayspot/booking-engine/internal/adapters/rabbit"
	redisadapter "github.com/stayspot/booking-engine/internal/adapters/redis"
	"github.com/stayspot/booking-engine/internal/config"
	"github.com/stayspot/booking-engine/internal/escrow"
	"github.com/stayspot/booking-engine/internal/observability"
	"github.com/stayspot/booking-engine/internal/scheduler"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// The lifecycle worker owns the two recurring sweeps: expiry refunds for
// unanswered requests and auto-release payouts once a booking's release
// date passes. Exactly one instance runs per deployment.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

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
	listings := redisadapter.NewCachedListings(catalog, redisCache, cfg.ListingCacheTTL, logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	notifier := rabbit.NewNotifier(rabbitPub)

	escrowSvc := escrow.NewService(ledger, listings, audit, logger)
	sched := scheduler.New(ledger, escrowSvc, notifier, logger, scheduler.SystemClock, scheduler.Config{
		ExpiryWindow:    cfg.ExpiryWindow,
		ExpiryInterval:  cfg.ExpirySweepInterval,
		ReleaseInterval: cfg.ReleaseSweepInterval,
	})

	sched.Start(func(bookingID string, amount float64) {
		logger.WithField("booking_id", bookingID).
			WithField("amount", amount).
			Info("escrow released to host")
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown lifecycle worker")
	sched.Stop()
}
