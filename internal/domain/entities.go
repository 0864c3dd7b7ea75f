package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TourPackage struct {
	ID           uuid.UUID
	Title        string
	Description  string
	Location     string
	Price        decimal.Decimal
	DurationDays int
	MaxPeople    int
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingCompleted BookingStatus = "COMPLETED"
)

// ActiveBookingStatuses are the statuses that consume package capacity.
var ActiveBookingStatuses = []BookingStatus{BookingPending, BookingConfirmed}

func (s BookingStatus) Terminal() bool {
	return s == BookingCancelled || s == BookingCompleted
}

type Booking struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	TourPackageID uuid.UUID
	StartDate     time.Time
	EndDate       time.Time
	PartySize     int
	TotalPrice    decimal.Decimal
	Status        BookingStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type CartItem struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	TourPackageID uuid.UUID
	Quantity      int
	StartDate     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type PaymentMethod string

const (
	MethodCreditCard   PaymentMethod = "CREDIT_CARD"
	MethodPayPal       PaymentMethod = "PAYPAL"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

type Payment struct {
	ID        uuid.UUID
	BookingID uuid.UUID
	Amount    decimal.Decimal
	Method    PaymentMethod
	Status    PaymentStatus
	CreatedAt time.Time
}
