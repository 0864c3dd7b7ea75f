package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caminotours/booking/internal/adapters/postgres"
	"github.com/caminotours/booking/internal/config"
	"github.com/caminotours/booking/internal/domain"
	"github.com/caminotours/booking/internal/observability"
	"github.com/caminotours/booking/internal/service/ports"
)

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
	observability.InitMetrics()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)

	worker := NewCompletionWorker(repo, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, time.Hour)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown completion worker")
}

// CompletionWorker moves CONFIRMED bookings whose end date has passed to
// COMPLETED, so finished trips stop counting against package capacity.
type CompletionWorker struct {
	repo   *postgres.Repository
	logger observability.Logger
}

func NewCompletionWorker(repo *postgres.Repository, logger observability.Logger) *CompletionWorker {
	return &CompletionWorker{repo: repo, logger: logger}
}

func (w *CompletionWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			bookings, err := w.repo.GetElapsedConfirmed(ctx, now)
			if err != nil {
				w.logger.Error("failed to list elapsed bookings", err)
				continue
			}
			for _, b := range bookings {
				if err := w.completeWithRetry(ctx, b); err != nil {
					w.logger.Error("failed to complete booking after retries", err)
				}
			}
		}
	}
}

func (w *CompletionWorker) completeWithRetry(ctx context.Context, b *domain.Booking) error {
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		err := w.complete(ctx, b)
		if err == nil {
			return nil
		}
		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("failed after %d retries", maxRetries)
}

func (w *CompletionWorker) complete(ctx context.Context, b *domain.Booking) error {
	return w.repo.WithTx(ctx, func(store ports.Store) error {
		current, err := store.GetBooking(ctx, b.ID, domain.AdminScope())
		if err != nil {
			return err
		}
		if current.Status != domain.BookingConfirmed {
			return nil
		}
		current.Status = domain.BookingCompleted
		current.UpdatedAt = time.Now().UTC()
		if err := store.UpdateBooking(ctx, current); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"booking_id": current.ID,
			"user_id":    current.UserID,
			"status":     current.Status,
		})
		return store.InsertOutbox(ctx, ports.OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "booking",
			AggregateID:   current.ID,
			EventType:     "booking.completed",
			Payload:       payload,
			DedupeKey:     "booking.completed:" + current.ID.String(),
		})
	})
}
