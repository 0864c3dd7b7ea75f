package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caminotours/booking/internal/domain"
)

type ChargeResult struct {
	Success       bool
	TransactionID string
}

type RefundResult struct {
	Success  bool
	RefundID string
}

// PaymentGateway is the external charge/refund processor. A returned error
// means the gateway could not be reached and nothing was charged; a result
// with Success=false means the gateway responded with a decline.
type PaymentGateway interface {
	ProcessCharge(ctx context.Context, token string, amount decimal.Decimal, method domain.PaymentMethod) (ChargeResult, error)
	ProcessRefund(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal) (RefundResult, error)
}
