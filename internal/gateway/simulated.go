package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caminotours/booking/internal/domain"
	"github.com/caminotours/booking/internal/service/ports"
)

// Simulated stands in for the external payment processor. Charges succeed
// with probability ChargeSuccessRate, refunds with RefundSuccessRate, after a
// fixed Delay that honors context cancellation. Real deployments replace this
// with an SDK-backed implementation of ports.PaymentGateway.
type Simulated struct {
	delay      time.Duration
	chargeRate float64
	refundRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

type Config struct {
	Delay             time.Duration
	ChargeSuccessRate float64
	RefundSuccessRate float64
	Seed              int64
}

func NewSimulated(cfg Config) *Simulated {
	if cfg.ChargeSuccessRate == 0 {
		cfg.ChargeSuccessRate = 0.95
	}
	if cfg.RefundSuccessRate == 0 {
		cfg.RefundSuccessRate = 0.98
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Simulated{
		delay:      cfg.Delay,
		chargeRate: cfg.ChargeSuccessRate,
		refundRate: cfg.RefundSuccessRate,
		rnd:        rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (g *Simulated) ProcessCharge(ctx context.Context, token string, amount decimal.Decimal, method domain.PaymentMethod) (ports.ChargeResult, error) {
	if err := g.wait(ctx); err != nil {
		return ports.ChargeResult{}, err
	}
	return ports.ChargeResult{
		Success:       g.roll(g.chargeRate),
		TransactionID: fmt.Sprintf("txn_%d_%s", time.Now().UnixMilli(), shortID()),
	}, nil
}

func (g *Simulated) ProcessRefund(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal) (ports.RefundResult, error) {
	if err := g.wait(ctx); err != nil {
		return ports.RefundResult{}, err
	}
	return ports.RefundResult{
		Success:  g.roll(g.refundRate),
		RefundID: fmt.Sprintf("ref_%d_%s", time.Now().UnixMilli(), shortID()),
	}, nil
}

func (g *Simulated) wait(ctx context.Context) error {
	if g.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(g.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (g *Simulated) roll(rate float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Float64() < rate
}

func shortID() string {
	return uuid.New().String()[:9]
}
