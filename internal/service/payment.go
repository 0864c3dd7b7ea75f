package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caminotours/booking/internal/domain"
	"github.com/caminotours/booking/internal/observability"
	"github.com/caminotours/booking/internal/service/ports"
)

type PaymentService struct {
	repo    ports.Repository
	gateway ports.PaymentGateway
	audit   ports.AuditSink
	logger  observability.Logger
}

func NewPaymentService(repo ports.Repository, gateway ports.PaymentGateway, audit ports.AuditSink, logger observability.Logger) *PaymentService {
	return &PaymentService{repo: repo, gateway: gateway, audit: audit, logger: logger}
}

type CreatePaymentInput struct {
	BookingID uuid.UUID
	Token     string
	Amount    decimal.Decimal
	Method    domain.PaymentMethod
}

type PaymentResult struct {
	Payment       *domain.Payment
	TransactionID string
}

type RefundOutcome struct {
	Payment  *domain.Payment
	RefundID string
}

// Create charges the gateway for a booking and records the outcome. A decline
// still persists a FAILED payment, which consumes the booking's single payment
// slot; a gateway transport error persists nothing. The persisted write, and
// the booking confirmation on success, happen in one transaction only after
// the gateway has resolved.
func (s *PaymentService) Create(ctx context.Context, callerID uuid.UUID, in CreatePaymentInput) (*PaymentResult, error) {
	booking, err := s.repo.GetBooking(ctx, in.BookingID, domain.AdminScope())
	if err != nil {
		return nil, err
	}
	if booking.UserID != callerID {
		return nil, errors.Wrap(domain.ErrForbidden, "you cannot pay for another user's booking")
	}
	if booking.Status != domain.BookingPending && booking.Status != domain.BookingConfirmed {
		return nil, errors.Wrap(domain.ErrConflict, "only pending or confirmed bookings can be paid")
	}
	if _, err := s.repo.GetPaymentByBooking(ctx, in.BookingID); err == nil {
		return nil, errors.Wrap(domain.ErrConflict, "booking already has a payment")
	} else if !isNotFound(err) {
		return nil, err
	}
	if !in.Amount.Equal(booking.TotalPrice) {
		return nil, errors.Wrap(domain.ErrInvalidInput, "payment amount does not match the booking total")
	}

	charge, err := s.gateway.ProcessCharge(ctx, in.Token, in.Amount, in.Method)
	if err != nil {
		observability.GatewayCallsTotal.WithLabelValues("charge", "error").Inc()
		return nil, errors.Wrap(domain.ErrExternalFailure, err.Error())
	}

	status := domain.PaymentFailed
	event := "payment.failed"
	if charge.Success {
		status = domain.PaymentCompleted
		event = "payment.completed"
	}
	observability.GatewayCallsTotal.WithLabelValues("charge", string(status)).Inc()

	payment := &domain.Payment{
		ID:        uuid.New(),
		BookingID: in.BookingID,
		Amount:    in.Amount,
		Method:    in.Method,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}

	err = s.repo.WithTx(ctx, func(store ports.Store) error {
		// Revalidate inside the transaction: the gateway call leaves a window
		// in which the booking may have been cancelled or another payment
		// attempt may have landed. Either surfaces as a conflict.
		b, err := store.GetBooking(ctx, in.BookingID, domain.AdminScope())
		if err != nil {
			return err
		}
		if b.Status != domain.BookingPending && b.Status != domain.BookingConfirmed {
			return errors.Wrap(domain.ErrConflict, "booking is no longer payable")
		}
		if _, err := store.GetPaymentByBooking(ctx, in.BookingID); err == nil {
			return errors.Wrap(domain.ErrConflict, "booking already has a payment")
		} else if !isNotFound(err) {
			return err
		}
		if err := store.CreatePayment(ctx, payment); err != nil {
			return err
		}
		if charge.Success {
			b.Status = domain.BookingConfirmed
			b.UpdatedAt = time.Now().UTC()
			if err := store.UpdateBooking(ctx, b); err != nil {
				return err
			}
		}
		return store.InsertOutbox(ctx, paymentOutbox(event, payment))
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("payment_id", payment.ID.String()).WithField("status", string(status)).Info("payment processed")
	s.recordAudit(ctx, event, callerID, map[string]interface{}{
		"payment_id": payment.ID.String(),
		"booking_id": in.BookingID.String(),
		"amount":     in.Amount.String(),
	})
	return &PaymentResult{Payment: payment, TransactionID: charge.TransactionID}, nil
}

// Refund reverses a COMPLETED payment and cancels its booking in the same
// transaction. A declined or unreachable refund gateway leaves both untouched.
func (s *PaymentService) Refund(ctx context.Context, paymentID uuid.UUID, scope domain.Scope) (*RefundOutcome, error) {
	if !scope.Role.IsAdmin() {
		return nil, errors.Wrap(domain.ErrForbidden, "only admins may process refunds")
	}

	payment, err := s.repo.GetPayment(ctx, paymentID, domain.AdminScope())
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentCompleted {
		return nil, errors.Wrap(domain.ErrConflict, "only completed payments can be refunded")
	}

	refund, err := s.gateway.ProcessRefund(ctx, paymentID, payment.Amount)
	if err != nil {
		observability.GatewayCallsTotal.WithLabelValues("refund", "error").Inc()
		return nil, errors.Wrap(domain.ErrExternalFailure, err.Error())
	}
	if !refund.Success {
		observability.GatewayCallsTotal.WithLabelValues("refund", "declined").Inc()
		return nil, errors.Wrap(domain.ErrExternalFailure, "refund was declined")
	}
	observability.GatewayCallsTotal.WithLabelValues("refund", "completed").Inc()

	err = s.repo.WithTx(ctx, func(store ports.Store) error {
		// Re-read both rows inside the transaction: a concurrent refund or a
		// booking completed during the gateway call must not be clobbered.
		p, err := store.GetPayment(ctx, paymentID, domain.AdminScope())
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentCompleted {
			return errors.Wrap(domain.ErrConflict, "payment is no longer refundable")
		}
		if err := store.UpdatePaymentStatus(ctx, paymentID, domain.PaymentRefunded); err != nil {
			return err
		}
		b, err := store.GetBooking(ctx, payment.BookingID, domain.AdminScope())
		if err != nil {
			return err
		}
		if b.Status == domain.BookingCompleted {
			return errors.Wrap(domain.ErrConflict, "completed bookings cannot be reopened by a refund")
		}
		b.Status = domain.BookingCancelled
		b.UpdatedAt = time.Now().UTC()
		if err := store.UpdateBooking(ctx, b); err != nil {
			return err
		}
		if err := store.InsertOutbox(ctx, paymentOutbox("payment.refunded", payment)); err != nil {
			return err
		}
		return store.InsertOutbox(ctx, bookingOutbox("booking.cancelled", b))
	})
	if err != nil {
		return nil, err
	}

	payment.Status = domain.PaymentRefunded
	s.logger.WithField("payment_id", paymentID.String()).Info("payment refunded")
	s.recordAudit(ctx, "payment.refunded", scope.UserID, map[string]interface{}{
		"payment_id": paymentID.String(),
		"booking_id": payment.BookingID.String(),
	})
	return &RefundOutcome{Payment: payment, RefundID: refund.RefundID}, nil
}

// Stats aggregates payment counts and COMPLETED revenue. Admin-only.
func (s *PaymentService) Stats(ctx context.Context, scope domain.Scope) (*ports.PaymentStats, error) {
	if !scope.Role.IsAdmin() {
		return nil, errors.Wrap(domain.ErrForbidden, "only admins may view payment stats")
	}
	return s.repo.PaymentStats(ctx)
}

func (s *PaymentService) FindOne(ctx context.Context, id uuid.UUID, scope domain.Scope) (*domain.Payment, error) {
	return s.repo.GetPayment(ctx, id, scope)
}

func (s *PaymentService) FindAll(ctx context.Context, scope domain.Scope) ([]*domain.Payment, error) {
	return s.repo.ListPayments(ctx, scope)
}

func (s *PaymentService) recordAudit(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, action, userID, data); err != nil {
		s.logger.Error("failed to record audit entry", err)
	}
}

func paymentOutbox(event string, p *domain.Payment) ports.OutboxRecord {
	payload, _ := json.Marshal(map[string]interface{}{
		"payment_id": p.ID,
		"booking_id": p.BookingID,
		"amount":     p.Amount.String(),
		"status":     p.Status,
	})
	return ports.OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "payment",
		AggregateID:   p.ID,
		EventType:     event,
		Payload:       payload,
		DedupeKey:     uuid.New().String(),
	}
}
