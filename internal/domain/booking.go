package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewBooking builds a PENDING booking against pkg. EndDate and TotalPrice are
// derived from the package as it exists now; later package edits do not
// retroactively change them.
func NewBooking(userID uuid.UUID, pkg *TourPackage, startDate time.Time, partySize int) *Booking {
	now := time.Now().UTC()
	return &Booking{
		ID:            uuid.New(),
		UserID:        userID,
		TourPackageID: pkg.ID,
		StartDate:     startDate,
		EndDate:       startDate.AddDate(0, 0, pkg.DurationDays),
		PartySize:     partySize,
		TotalPrice:    pkg.Price.Mul(decimal.NewFromInt(int64(partySize))),
		Status:        BookingPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Overlaps reports whether the booking's date range shares at least one day
// with [start, end], endpoints inclusive.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return !b.StartDate.After(end) && !b.EndDate.Before(start)
}
