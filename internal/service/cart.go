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

type CartService struct {
	repo   ports.Repository
	avail  *Availability
	audit  ports.AuditSink
	logger observability.Logger
}

func NewCartService(repo ports.Repository, avail *Availability, audit ports.AuditSink, logger observability.Logger) *CartService {
	return &CartService{repo: repo, avail: avail, audit: audit, logger: logger}
}

type CartLine struct {
	Item       *domain.CartItem
	Package    *domain.TourPackage
	TotalPrice decimal.Decimal
}

type Cart struct {
	Items       []CartLine
	TotalItems  int
	TotalAmount decimal.Decimal
}

type CheckoutResult struct {
	Bookings    []*domain.Booking
	TotalAmount decimal.Decimal
}

// AddItem puts a package selection in the user's cart. Adding a package that
// is already in the cart merges into the existing line: the quantities are
// combined and availability is re-checked against the combined total before
// the merge is committed. A failed re-check leaves the existing line intact.
func (s *CartService) AddItem(ctx context.Context, userID, packageID uuid.UUID, startDate time.Time, partySize int) (*domain.CartItem, error) {
	if partySize < 1 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "quantity must be at least 1")
	}
	if !strictlyFuture(startDate) {
		return nil, errors.Wrap(domain.ErrInvalidInput, "start date must be in the future")
	}

	var item *domain.CartItem
	err := s.repo.WithTx(ctx, func(store ports.Store) error {
		if _, err := store.GetPackage(ctx, packageID); err != nil {
			return err
		}

		existing, err := store.FindCartItemByPackage(ctx, userID, packageID)
		if err != nil && !isNotFound(err) {
			return err
		}

		if existing != nil {
			combined := existing.Quantity + partySize
			ok, err := s.avail.check(ctx, store, packageID, existing.StartDate, combined)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Wrap(domain.ErrConflict, "not enough availability to add more people")
			}
			existing.Quantity = combined
			existing.UpdatedAt = time.Now().UTC()
			if err := store.UpdateCartItem(ctx, existing); err != nil {
				return err
			}
			item = existing
			return nil
		}

		ok, err := s.avail.check(ctx, store, packageID, startDate, partySize)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrap(domain.ErrConflict, "no availability for the requested dates and party size")
		}

		now := time.Now().UTC()
		item = &domain.CartItem{
			ID:            uuid.New(),
			UserID:        userID,
			TourPackageID: packageID,
			Quantity:      partySize,
			StartDate:     midnightUTC(startDate),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return store.CreateCartItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateItem replaces a cart line's quantity, re-validating availability for
// the new quantity against the line's stored start date.
func (s *CartService) UpdateItem(ctx context.Context, itemID, userID uuid.UUID, quantity int) (*domain.CartItem, error) {
	if quantity <= 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "quantity must be greater than 0")
	}

	var item *domain.CartItem
	err := s.repo.WithTx(ctx, func(store ports.Store) error {
		it, err := store.GetCartItem(ctx, itemID, userID)
		if err != nil {
			return err
		}
		ok, err := s.avail.check(ctx, store, it.TourPackageID, it.StartDate, quantity)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrap(domain.ErrConflict, "no availability for the requested quantity")
		}
		it.Quantity = quantity
		it.UpdatedAt = time.Now().UTC()
		if err := store.UpdateCartItem(ctx, it); err != nil {
			return err
		}
		item = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// RemoveItem deletes a cart line. Removing an absent line is a no-op.
func (s *CartService) RemoveItem(ctx context.Context, itemID, userID uuid.UUID) error {
	return s.repo.DeleteCartItem(ctx, itemID, userID)
}

// Clear empties the user's cart.
func (s *CartService) Clear(ctx context.Context, userID uuid.UUID) error {
	return s.repo.ClearCartItems(ctx, userID)
}

// GetCart projects the cart with per-line and overall totals. No mutation.
func (s *CartService) GetCart(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	items, err := s.repo.ListCartItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	cart := &Cart{TotalItems: len(items), TotalAmount: decimal.Zero}
	for _, it := range items {
		pkg, err := s.repo.GetPackage(ctx, it.TourPackageID)
		if err != nil {
			return nil, err
		}
		line := pkg.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		cart.Items = append(cart.Items, CartLine{Item: it, Package: pkg, TotalPrice: line})
		cart.TotalAmount = cart.TotalAmount.Add(line)
	}
	return cart, nil
}

// Checkout converts every cart line into a PENDING booking inside a single
// transaction. Each line is re-checked immediately before its insert, so an
// earlier line's booking counts against a later line on the same package. Any
// failing line aborts the transaction and rolls back the bookings already
// created in this call.
func (s *CartService) Checkout(ctx context.Context, userID uuid.UUID) (*CheckoutResult, error) {
	var result *CheckoutResult
	err := s.repo.WithTx(ctx, func(store ports.Store) error {
		items, err := store.ListCartItems(ctx, userID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return errors.Wrap(domain.ErrInvalidInput, "cart is empty")
		}

		res := &CheckoutResult{TotalAmount: decimal.Zero}
		for _, it := range items {
			pkg, err := store.GetPackage(ctx, it.TourPackageID)
			if err != nil {
				if isNotFound(err) {
					return errors.Wrap(domain.ErrConflict, "a package in the cart no longer exists")
				}
				return err
			}
			if !strictlyFuture(it.StartDate) {
				return errors.Wrapf(domain.ErrInvalidInput, "start date for %s is no longer in the future", pkg.Title)
			}
			if it.Quantity > pkg.MaxPeople {
				return errors.Wrapf(domain.ErrConflict, "no availability for %s", pkg.Title)
			}
			ok, err := s.avail.admits(ctx, store, pkg, it.StartDate, it.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Wrapf(domain.ErrConflict, "no availability for %s", pkg.Title)
			}

			booking := domain.NewBooking(userID, pkg, it.StartDate, it.Quantity)
			if err := store.CreateBooking(ctx, booking); err != nil {
				return err
			}
			if err := store.InsertOutbox(ctx, bookingOutbox("booking.created", booking)); err != nil {
				return err
			}
			res.Bookings = append(res.Bookings, booking)
			res.TotalAmount = res.TotalAmount.Add(booking.TotalPrice)
		}

		if err := store.ClearCartItems(ctx, userID); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"user_id":      userID,
			"bookings":     len(res.Bookings),
			"total_amount": res.TotalAmount.String(),
		})
		if err := store.InsertOutbox(ctx, ports.OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "cart",
			AggregateID:   userID,
			EventType:     "cart.checkout",
			Payload:       payload,
			DedupeKey:     uuid.New().String(),
		}); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.CheckoutsTotal.Inc()
	s.logger.WithField("user_id", userID.String()).WithField("bookings", len(result.Bookings)).Info("checkout completed")
	if s.audit != nil {
		if err := s.audit.Record(ctx, "cart.checkout", userID, map[string]interface{}{
			"bookings":     len(result.Bookings),
			"total_amount": result.TotalAmount.String(),
		}); err != nil {
			s.logger.Error("failed to record audit entry", err)
		}
	}
	return result, nil
}
