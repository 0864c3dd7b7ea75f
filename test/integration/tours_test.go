package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
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

func TestIntegration_BookPayRefund(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16",
			Env:          map[string]string{"POSTGRES_USER": "tours", "POSTGRES_PASSWORD": "tours", "POSTGRES_DB": "tours"},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer pgContainer.Terminate(ctx)

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForExec([]string{"mongosh", "--eval", "db.runCommand('ping').ok"}),
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

	pgHost, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
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

	cfg := &config.Config{
		PostgresDSN: "postgresql://tours:tours@" + pgHost + ":" + pgPort.Port() + "/tours?sslmode=disable",
		MongoURI:    "mongodb://" + mongoHost + ":" + mongoPort.Port(),
		RedisAddr:   redisHost + ":" + redisPort.Port(),
		ListenAddr:  ":8080",
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	schema, err := os.ReadFile("../../migrations/0001_init.sql")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatal(err)
	}
	repo := postgres.NewRepository(pool)

	logger := observability.NewLogger()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("tours"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, time.Hour)
	rl := rateLimit.NewRateLimiter(redisCache)

	// Deterministic gateway so the payment leg cannot flake.
	pay := gateway.NewSimulated(gateway.Config{
		Delay:             10 * time.Millisecond,
		ChargeSuccessRate: 1,
		RefundSuccessRate: 1,
	})

	avail := service.NewAvailability(repo, service.CountPerBooking)
	catalog := service.NewCatalogService(repo, logger)
	bookings := service.NewBookingService(repo, avail, audit, logger)
	cart := service.NewCartService(repo, avail, audit, logger)
	payments := service.NewPaymentService(repo, pay, audit, logger)

	handlers := httphandler.NewHandlers(catalog, bookings, cart, payments, avail, idemp)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Error(err)
		}
	}()
	defer srv.Shutdown(ctx)
	time.Sleep(100 * time.Millisecond)

	adminID := uuid.New()
	userA := uuid.New()
	userB := uuid.New()

	do := func(method, path string, asUser uuid.UUID, admin bool, body interface{}) *http.Response {
		t.Helper()
		var reader *bytes.Reader
		if body != nil {
			data, _ := json.Marshal(body)
			reader = bytes.NewReader(data)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, _ := http.NewRequest(method, "http://localhost:8080"+path, reader)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", asUser.String())
		if admin {
			req.Header.Set("X-User-Role", "ADMIN")
		}
		if method == "POST" {
			req.Header.Set("Idempotency-Key", uuid.New().String())
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	// Admin publishes a single-slot package.
	resp := do("POST", "/v1/packages", adminID, true, map[string]interface{}{
		"title":         "Camino Frances",
		"description":   "Seven days on the French Way",
		"location":      "Galicia",
		"price":         "850.00",
		"duration_days": 7,
		"max_people":    1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create package: status %d", resp.StatusCode)
	}
	var pkg struct {
		ID uuid.UUID `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&pkg)

	start := time.Now().UTC().AddDate(0, 1, 0).Format("2006-01-02")

	// User A takes the slot.
	resp = do("POST", "/v1/bookings", userA, false, map[string]interface{}{
		"package_id": pkg.ID.String(),
		"start_date": start,
		"party_size": 1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("booking A: status %d", resp.StatusCode)
	}
	var bookingA struct {
		ID         uuid.UUID `json:"id"`
		TotalPrice string    `json:"total_price"`
		Status     string    `json:"status"`
	}
	json.NewDecoder(resp.Body).Decode(&bookingA)
	if bookingA.Status != "PENDING" {
		t.Fatalf("booking A: expected PENDING, got %s", bookingA.Status)
	}

	// User A pays; the booking confirms.
	resp = do("POST", "/v1/payments", userA, false, map[string]interface{}{
		"booking_id":    bookingA.ID.String(),
		"amount":        "850.00",
		"method":        "CREDIT_CARD",
		"payment_token": "tok_test",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("payment A: status %d", resp.StatusCode)
	}
	var paymentA struct {
		Payment struct {
			ID     uuid.UUID `json:"id"`
			Status string    `json:"status"`
		} `json:"payment"`
		TransactionID string `json:"transaction_id"`
	}
	json.NewDecoder(resp.Body).Decode(&paymentA)
	if paymentA.Payment.Status != "COMPLETED" {
		t.Fatalf("payment A: expected COMPLETED, got %s", paymentA.Payment.Status)
	}
	if paymentA.TransactionID == "" {
		t.Fatal("payment A: missing transaction id")
	}

	resp = do("GET", "/v1/bookings/"+bookingA.ID.String(), userA, false, nil)
	var confirmed struct {
		Status string `json:"status"`
	}
	json.NewDecoder(resp.Body).Decode(&confirmed)
	if confirmed.Status != "CONFIRMED" {
		t.Fatalf("booking A after payment: expected CONFIRMED, got %s", confirmed.Status)
	}

	// User B collides with A's dates and is turned away.
	resp = do("POST", "/v1/bookings", userB, false, map[string]interface{}{
		"package_id": pkg.ID.String(),
		"start_date": start,
		"party_size": 1,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("overlapping booking B: expected 409, got %d", resp.StatusCode)
	}

	// A non-overlapping window is still open.
	later := time.Now().UTC().AddDate(0, 2, 0).Format("2006-01-02")
	resp = do("POST", "/v1/bookings", userB, false, map[string]interface{}{
		"package_id": pkg.ID.String(),
		"start_date": later,
		"party_size": 1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("non-overlapping booking B: status %d", resp.StatusCode)
	}

	// Admin refunds A; the slot reopens.
	resp = do("POST", "/v1/payments/"+paymentA.Payment.ID.String()+"/refund", adminID, true, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refund A: status %d", resp.StatusCode)
	}
	var refund struct {
		Payment struct {
			Status string `json:"status"`
		} `json:"payment"`
		RefundID string `json:"refund_id"`
	}
	json.NewDecoder(resp.Body).Decode(&refund)
	if refund.Payment.Status != "REFUNDED" {
		t.Fatalf("refund A: expected REFUNDED, got %s", refund.Payment.Status)
	}

	resp = do("GET", "/v1/bookings/"+bookingA.ID.String(), userA, false, nil)
	json.NewDecoder(resp.Body).Decode(&confirmed)
	if confirmed.Status != "CANCELLED" {
		t.Fatalf("booking A after refund: expected CANCELLED, got %s", confirmed.Status)
	}

	resp = do("POST", "/v1/bookings", userB, false, map[string]interface{}{
		"package_id": pkg.ID.String(),
		"start_date": start,
		"party_size": 1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("rebooking after refund: status %d", resp.StatusCode)
	}
}
