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

type BookingService struct {
	repo   ports.Repository
	avail  *Availability
	audit  ports.AuditSink
	logger observability.Logger
}

func NewBookingService(repo ports.Repository, avail *Availability, audit ports.AuditSink, logger observability.Logger) *BookingService {
	return &BookingService{repo: repo, avail: avail, audit: audit, logger: logger}
}

// BookingPatch carries the mutable fields of a booking update. Only admins may
// set Status.
type BookingPatch struct {
	StartDate *time.Time
	PartySize *int
	Status    *domain.BookingStatus
}

// Create admits and persists a PENDING booking. The availability count and
// the insert run in one serializable transaction so two concurrent requests
// cannot jointly oversubscribe the package.
func (s *BookingService) Create(ctx context.Context, userID, packageID uuid.UUID, startDate time.Time, partySize int) (*domain.Booking, error) {
	if partySize < 1 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "party size must be at least 1")
	}
	if !strictlyFuture(startDate) {
		return nil, errors.Wrap(domain.ErrInvalidInput, "start date must be in the future")
	}

	var booking *domain.Booking
	err := s.repo.WithTx(ctx, func(store ports.Store) error {
		pkg, err := store.GetPackage(ctx, packageID)
		if err != nil {
			return err
		}
		if !pkg.IsActive {
			return errors.Wrap(domain.ErrInvalidInput, "tour package is not available")
		}
		if partySize > pkg.MaxPeople {
			return errors.Wrapf(domain.ErrInvalidInput, "party size exceeds the package maximum of %d", pkg.MaxPeople)
		}

		ok, err := s.avail.admits(ctx, store, pkg, startDate, partySize)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrap(domain.ErrConflict, "no availability for the requested dates")
		}

		booking = domain.NewBooking(userID, pkg, midnightUTC(startDate), partySize)
		if err := store.CreateBooking(ctx, booking); err != nil {
			return err
		}
		return store.InsertOutbox(ctx, bookingOutbox("booking.created", booking))
	})
	if err != nil {
		return nil, err
	}

	observability.BookingsTotal.WithLabelValues("created").Inc()
	s.logger.WithField("booking_id", booking.ID.String()).Info("booking created")
	s.recordAudit(ctx, "booking.created", userID, map[string]interface{}{
		"booking_id": booking.ID.String(),
		"package_id": packageID.String(),
		"party_size": partySize,
	})
	return booking, nil
}

// Update applies a patch to a non-terminal booking. Date or party-size changes
// recompute the end date and total against the package's current price.
func (s *BookingService) Update(ctx context.Context, id uuid.UUID, scope domain.Scope, patch BookingPatch) (*domain.Booking, error) {
	if patch.Status != nil && !scope.Role.IsAdmin() {
		return nil, errors.Wrap(domain.ErrForbidden, "only admins may change booking status")
	}

	var booking *domain.Booking
	err := s.repo.WithTx(ctx, func(store ports.Store) error {
		b, err := store.GetBooking(ctx, id, scope)
		if err != nil {
			return err
		}
		if b.Status.Terminal() {
			return errors.Wrap(domain.ErrConflict, "completed or cancelled bookings cannot be modified")
		}

		if patch.StartDate != nil || patch.PartySize != nil {
			pkg, err := store.GetPackage(ctx, b.TourPackageID)
			if err != nil {
				return err
			}
			partySize := b.PartySize
			if patch.PartySize != nil {
				partySize = *patch.PartySize
			}
			start := b.StartDate
			if patch.StartDate != nil {
				start = midnightUTC(*patch.StartDate)
			}
			if partySize < 1 {
				return errors.Wrap(domain.ErrInvalidInput, "party size must be at least 1")
			}
			if partySize > pkg.MaxPeople {
				return errors.Wrapf(domain.ErrInvalidInput, "party size exceeds the package maximum of %d", pkg.MaxPeople)
			}
			if !strictlyFuture(start) {
				return errors.Wrap(domain.ErrInvalidInput, "start date must be in the future")
			}
			b.StartDate = start
			b.EndDate = start.AddDate(0, 0, pkg.DurationDays)
			b.PartySize = partySize
			b.TotalPrice = pkg.Price.Mul(decimal.NewFromInt(int64(partySize)))
		}

		if patch.Status != nil {
			b.Status = *patch.Status
		}
		b.UpdatedAt = time.Now().UTC()
		if err := store.UpdateBooking(ctx, b); err != nil {
			return err
		}
		if patch.Status != nil && b.Status.Terminal() {
			event := "booking.cancelled"
			if b.Status == domain.BookingCompleted {
				event = "booking.completed"
			}
			if err := store.InsertOutbox(ctx, bookingOutbox(event, b)); err != nil {
				return err
			}
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("booking_id", booking.ID.String()).Info("booking updated")
	return booking, nil
}

// Cancel moves a PENDING or CONFIRMED booking to CANCELLED.
func (s *BookingService) Cancel(ctx context.Context, id uuid.UUID, scope domain.Scope) (*domain.Booking, error) {
	booking, err := s.transition(ctx, id, scope, domain.BookingCancelled, "booking.cancelled")
	if err != nil {
		return nil, err
	}
	observability.BookingsTotal.WithLabelValues("cancelled").Inc()
	s.recordAudit(ctx, "booking.cancelled", scope.UserID, map[string]interface{}{
		"booking_id": booking.ID.String(),
	})
	return booking, nil
}

// Complete is the admin operation marking a booking as fulfilled.
func (s *BookingService) Complete(ctx context.Context, id uuid.UUID, scope domain.Scope) (*domain.Booking, error) {
	if !scope.Role.IsAdmin() {
		return nil, errors.Wrap(domain.ErrForbidden, "only admins may complete bookings")
	}
	booking, err := s.transition(ctx, id, scope, domain.BookingCompleted, "booking.completed")
	if err != nil {
		return nil, err
	}
	observability.BookingsTotal.WithLabelValues("completed").Inc()
	return booking, nil
}

func (s *BookingService) transition(ctx context.Context, id uuid.UUID, scope domain.Scope, to domain.BookingStatus, event string) (*domain.Booking, error) {
	var booking *domain.Booking
	err := s.repo.WithTx(ctx, func(store ports.Store) error {
		b, err := store.GetBooking(ctx, id, scope)
		if err != nil {
			return err
		}
		if b.Status == domain.BookingCancelled {
			return errors.Wrap(domain.ErrConflict, "booking is already cancelled")
		}
		if b.Status == domain.BookingCompleted {
			return errors.Wrap(domain.ErrConflict, "completed bookings cannot be changed")
		}
		b.Status = to
		b.UpdatedAt = time.Now().UTC()
		if err := store.UpdateBooking(ctx, b); err != nil {
			return err
		}
		if err := store.InsertOutbox(ctx, bookingOutbox(event, b)); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithField("booking_id", booking.ID.String()).WithField("status", string(to)).Info("booking transitioned")
	return booking, nil
}

func (s *BookingService) FindOne(ctx context.Context, id uuid.UUID, scope domain.Scope) (*domain.Booking, error) {
	return s.repo.GetBooking(ctx, id, scope)
}

func (s *BookingService) FindAll(ctx context.Context, scope domain.Scope) ([]*domain.Booking, error) {
	return s.repo.ListBookings(ctx, scope)
}

func (s *BookingService) recordAudit(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, action, userID, data); err != nil {
		s.logger.Error("failed to record audit entry", err)
	}
}

func bookingOutbox(event string, b *domain.Booking) ports.OutboxRecord {
	payload, _ := json.Marshal(map[string]interface{}{
		"booking_id": b.ID,
		"package_id": b.TourPackageID,
		"user_id":    b.UserID,
		"status":     b.Status,
		"start_date": b.StartDate.Format("2006-01-02"),
	})
	return ports.OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     event,
		Payload:       payload,
		DedupeKey:     uuid.New().String(),
	}
}
