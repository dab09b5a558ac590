package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/stayspot/booking-engine/internal/adapters/crdb"
	mongoadapter "github.com/stayspot/booking-engine/internal/adapters/mongo"
	"github.com/stayspot/booking-engine/internal/adapters/rabbit"
	redisadapter "github.com/stayspot/booking-engine/internal/adapters/redis"
	"github.com/stayspot/booking-engine/internal/booking"
	"github.com/stayspot/booking-engine/internal/config"
	"github.com/stayspot/booking-engine/internal/escrow"
	httphandler "github.com/stayspot/booking-engine/internal/http"
	"github.com/stayspot/booking-engine/internal/idempotency"
	"github.com/stayspot/booking-engine/internal/observability"
	"github.com/stayspot/booking-engine/internal/outbox"
	"github.com/stayspot/booking-engine/internal/pricing"
	"github.com/stayspot/booking-engine/internal/rateLimit"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const schema = `
	CREATE DATABASE IF NOT EXISTS stayspot;
	CREATE TABLE IF NOT EXISTS stayspot.bookings (
		id TEXT PRIMARY KEY,
		listing_id UUID,
		user_id UUID,
		group_id UUID,
		date TIMESTAMPTZ,
		duration INT,
		hours INT[],
		booking_type TEXT,
		total_price FLOAT8,
		service_fee FLOAT8,
		caution_fee FLOAT8,
		guest_count INT,
		selected_add_ons TEXT[],
		status TEXT CHECK (status IN ('PENDING', 'CONFIRMED', 'CANCELLED', 'COMPLETED')),
		payment_status TEXT,
		escrow_release_date TIMESTAMPTZ,
		transaction_ids TEXT[],
		created_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		cancelled_by TEXT,
		cancellation_reason TEXT
	);
	CREATE TABLE IF NOT EXISTS stayspot.escrow_transactions (
		id UUID PRIMARY KEY,
		booking_id TEXT,
		kind TEXT CHECK (kind IN ('HOLD', 'RELEASE', 'REFUND')),
		amount FLOAT8,
		created_at TIMESTAMPTZ,
		note TEXT
	);
	CREATE TABLE IF NOT EXISTS stayspot.wallets (
		user_id UUID PRIMARY KEY,
		balance FLOAT8 NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS stayspot.outbox (
		id UUID PRIMARY KEY,
		aggregate_id TEXT,
		event_type TEXT,
		payload_json JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ,
		status TEXT,
		dedupe_key TEXT
	);
`

func TestIntegration_BookCancelRefund(t *testing.T) {
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer crdbContainer.Terminate(ctx)

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	rabbitContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-management",
			ExposedPorts: []string{"5672/tcp", "15672/tcp"},
			WaitingFor:   wait.ForHTTP("/api/health").WithPort("15672"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitContainer.Terminate(ctx)

	crdbHost, err := crdbContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	crdbPort, err := crdbContainer.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}
	mongoHost, err := mongoContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mongoPort, err := mongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		t.Fatal(err)
	}
	redisHost, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}
	rabbitHost, err := rabbitContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rabbitPort, err := rabbitContainer.MappedPort(ctx, "5672")
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		CRDBDSN:         "postgresql://root@" + crdbHost + ":" + crdbPort.Port() + "/stayspot?sslmode=disable",
		MongoURI:        "mongodb://" + mongoHost + ":" + mongoPort.Port(),
		RedisAddr:       redisHost + ":" + redisPort.Port(),
		RabbitURL:       "amqp://guest:guest@" + rabbitHost + ":" + rabbitPort.Port() + "/",
		ServiceFeeRate:  0.10,
		IdempotencyTTL:  time.Hour,
		ListingCacheTTL: 5 * time.Minute,
	}

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, schema); err != nil {
		t.Fatal(err)
	}
	ledger := crdb.NewRepository(pool)

	logger := observability.NewLogger()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	mongoDB := mongoClient.Database("stayspot")
	catalog := mongoadapter.NewListingCatalog(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache)
	listings := redisadapter.NewCachedListings(catalog, redisCache, cfg.ListingCacheTTL, logger)

	esc := escrow.NewService(ledger, listings, audit, logger)
	factory := booking.NewFactory(ledger, esc, listings, pricing.Validator{ServiceFeeRate: cfg.ServiceFeeRate}, logger)
	handlers := httphandler.NewHandlers(ledger, factory, esc, idemp, logger)
	srv := httptest.NewServer(httphandler.SetupRouter(handlers, logger, rl, idemp))
	defer srv.Close()

	// Drain the outbox to the broker in the background and subscribe to the
	// booking events so the transactional-outbox path is covered end to end.
	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		t.Fatal(err)
	}
	consumer, err := rabbit.NewConsumer(rabbitConn, "engine-test", "booking.#")
	if err != nil {
		t.Fatal(err)
	}
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	outboxCtx, stopOutbox := context.WithCancel(ctx)
	defer stopOutbox()
	go outbox.NewPublisher(ledger, rabbitPub, logger).Run(outboxCtx)

	// Seed an instant-book listing at 120 per night.
	listingID := uuid.New()
	hostID := uuid.New()
	guestID := uuid.New()
	err = catalog.CreateListing(ctx, mongoadapter.ListingDoc{
		ID:        listingID,
		HostID:    hostID,
		Title:     "Garden studio",
		Price:     120,
		PriceUnit: "NIGHTLY",
		Settings:  mongoadapter.ListingSettingsDoc{InstantBook: true},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Create a booking: 120 subtotal + 10% fee = 132.
	createReq := map[string]interface{}{
		"listing_id":  listingID.String(),
		"user_id":     guestID.String(),
		"dates":       []string{"2026-06-12"},
		"duration":    1,
		"guest_count": 1,
		"total_price": 132.0,
		"service_fee": 12.0,
	}
	createBody, _ := json.Marshal(createReq)
	idempKey := uuid.New().String()
	req, _ := http.NewRequest("POST", srv.URL+"/v1/bookings", bytes.NewReader(createBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("create booking failed: %v, status: %d", err, resp.StatusCode)
	}
	var createResp struct {
		Bookings []struct {
			ID            string `json:"id"`
			Status        string `json:"status"`
			PaymentStatus string `json:"payment_status"`
		} `json:"bookings"`
	}
	json.NewDecoder(resp.Body).Decode(&createResp)
	resp.Body.Close()
	if len(createResp.Bookings) != 1 {
		t.Fatalf("expected 1 booking, got %d", len(createResp.Bookings))
	}
	created := createResp.Bookings[0]
	if created.Status != "CONFIRMED" {
		t.Errorf("instant-book listing must confirm immediately, got %s", created.Status)
	}
	if created.PaymentStatus != "Paid - Escrow" {
		t.Errorf("payment status %q", created.PaymentStatus)
	}

	// Replaying the same request with the same key must not create a second
	// booking.
	req, _ = http.NewRequest("POST", srv.URL+"/v1/bookings", bytes.NewReader(createBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempKey)
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("replay failed: %v, status: %d", err, resp.StatusCode)
	}
	var replayResp struct {
		Bookings []struct {
			ID string `json:"id"`
		} `json:"bookings"`
	}
	json.NewDecoder(resp.Body).Decode(&replayResp)
	resp.Body.Close()
	if len(replayResp.Bookings) != 1 || replayResp.Bookings[0].ID != created.ID {
		t.Errorf("idempotent replay must return the original booking")
	}

	// The booking detail lists the escrow hold.
	resp, err = http.Get(srv.URL + "/v1/bookings/" + created.ID)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("get booking failed: %v, status: %d", err, resp.StatusCode)
	}
	var detailResp struct {
		Transactions []struct {
			Kind   string  `json:"kind"`
			Amount float64 `json:"amount"`
		} `json:"transactions"`
	}
	json.NewDecoder(resp.Body).Decode(&detailResp)
	resp.Body.Close()
	if len(detailResp.Transactions) != 1 || detailResp.Transactions[0].Kind != "HOLD" {
		t.Fatalf("expected a single hold transaction, got %+v", detailResp.Transactions)
	}
	if detailResp.Transactions[0].Amount != 132 {
		t.Errorf("hold amount %v, expected 132", detailResp.Transactions[0].Amount)
	}

	// A tampered price must be rejected without creating anything.
	tampered := map[string]interface{}{
		"listing_id":  listingID.String(),
		"user_id":     guestID.String(),
		"dates":       []string{"2026-06-19"},
		"duration":    1,
		"guest_count": 1,
		"total_price": 50.0,
		"service_fee": 12.0,
	}
	tamperedBody, _ := json.Marshal(tampered)
	req, _ = http.NewRequest("POST", srv.URL+"/v1/bookings", bytes.NewReader(tamperedBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("tampered price must return 400, got: %v, status: %d", err, resp.StatusCode)
	}
	resp.Body.Close()

	// Cancel refunds the guest in full.
	cancelBody, _ := json.Marshal(map[string]string{
		"cancelled_by": guestID.String(),
		"reason":       "change of plans",
	})
	req, _ = http.NewRequest("POST", srv.URL+"/v1/bookings/"+created.ID+"/cancel", bytes.NewReader(cancelBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel failed: %v, status: %d", err, resp.StatusCode)
	}
	var cancelResp struct {
		PaymentStatus string `json:"payment_status"`
	}
	json.NewDecoder(resp.Body).Decode(&cancelResp)
	resp.Body.Close()
	if cancelResp.PaymentStatus != "Refunded" {
		t.Errorf("payment status after cancel %q", cancelResp.PaymentStatus)
	}

	resp, err = http.Get(srv.URL + "/v1/wallets/" + guestID.String())
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("get wallet failed: %v, status: %d", err, resp.StatusCode)
	}
	var walletResp struct {
		Balance float64 `json:"balance"`
	}
	json.NewDecoder(resp.Body).Decode(&walletResp)
	resp.Body.Close()
	if walletResp.Balance != 132 {
		t.Errorf("guest balance %v, expected full refund of 132", walletResp.Balance)
	}

	// The outbox publisher must broadcast the lifecycle events.
	seen := map[string]bool{}
	deadline := time.After(30 * time.Second)
	for !(seen["booking.created"] && seen["booking.refunded"]) {
		select {
		case d := <-deliveries:
			seen[d.RoutingKey] = true
		case <-deadline:
			t.Fatalf("timed out waiting for outbox events, saw %v", seen)
		}
	}
}
