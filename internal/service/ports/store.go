package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caminotours/booking/internal/domain"
)

type ListPackagesQuery struct {
	Search   string
	Location string
	Offset   int
	Limit    int
}

type PaymentStats struct {
	Total        int
	Completed    int
	Failed       int
	Refunded     int
	TotalRevenue decimal.Decimal
}

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	DedupeKey     string
}

// Store is the persistence surface the lifecycle services run against. A
// Store handed to a WithTx callback is scoped to that transaction.
type Store interface {
	CreatePackage(ctx context.Context, pkg *domain.TourPackage) error
	UpdatePackage(ctx context.Context, pkg *domain.TourPackage) error
	GetPackage(ctx context.Context, id uuid.UUID) (*domain.TourPackage, error)
	ListPackages(ctx context.Context, q ListPackagesQuery) ([]*domain.TourPackage, int, error)
	DeletePackage(ctx context.Context, id uuid.UUID) error
	CountPackageBookings(ctx context.Context, packageID uuid.UUID) (int, error)

	CreateBooking(ctx context.Context, b *domain.Booking) error
	UpdateBooking(ctx context.Context, b *domain.Booking) error
	GetBooking(ctx context.Context, id uuid.UUID, scope domain.Scope) (*domain.Booking, error)
	ListBookings(ctx context.Context, scope domain.Scope) ([]*domain.Booking, error)
	CountOverlappingBookings(ctx context.Context, packageID uuid.UUID, start, end time.Time, statuses []domain.BookingStatus) (int, error)
	SumOverlappingPartySizes(ctx context.Context, packageID uuid.UUID, start, end time.Time, statuses []domain.BookingStatus) (int, error)

	CreateCartItem(ctx context.Context, item *domain.CartItem) error
	UpdateCartItem(ctx context.Context, item *domain.CartItem) error
	GetCartItem(ctx context.Context, id, userID uuid.UUID) (*domain.CartItem, error)
	FindCartItemByPackage(ctx context.Context, userID, packageID uuid.UUID) (*domain.CartItem, error)
	ListCartItems(ctx context.Context, userID uuid.UUID) ([]*domain.CartItem, error)
	DeleteCartItem(ctx context.Context, id, userID uuid.UUID) error
	ClearCartItems(ctx context.Context, userID uuid.UUID) error

	CreatePayment(ctx context.Context, p *domain.Payment) error
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus) error
	GetPayment(ctx context.Context, id uuid.UUID, scope domain.Scope) (*domain.Payment, error)
	GetPaymentByBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error)
	ListPayments(ctx context.Context, scope domain.Scope) ([]*domain.Payment, error)
	PaymentStats(ctx context.Context) (*PaymentStats, error)

	InsertOutbox(ctx context.Context, rec OutboxRecord) error
}

// Repository adds the unit-of-work boundary. Implementations run fn inside a
// serializable transaction and roll everything back when fn errors.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
