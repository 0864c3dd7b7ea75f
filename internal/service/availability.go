package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/caminotours/booking/internal/domain"
	"github.com/caminotours/booking/internal/service/ports"
)

// CountMode selects how overlapping bookings are weighed against a package's
// capacity. Per-booking mode treats every overlapping booking as one occupied
// slot regardless of its party size, which matches the historical behavior
// deployments depend on. Party-size mode sums the stored party sizes instead.
type CountMode string

const (
	CountPerBooking CountMode = "per-booking"
	CountPartySize  CountMode = "party-size"
)

type AvailabilityReport struct {
	Available       bool
	MaxCapacity     int
	RequestedPeople int
}

// Availability decides whether a party fits a package over a date range. It is
// a pure read; admission and insert are combined into one transaction by the
// callers that need the check to hold.
type Availability struct {
	repo ports.Repository
	mode CountMode
}

func NewAvailability(repo ports.Repository, mode CountMode) *Availability {
	if mode == "" {
		mode = CountPerBooking
	}
	return &Availability{repo: repo, mode: mode}
}

// IsAvailable reports whether partySize people can be admitted to the package
// starting at startDate. A missing package yields false, never an error.
func (a *Availability) IsAvailable(ctx context.Context, packageID uuid.UUID, startDate time.Time, partySize int) (bool, error) {
	return a.check(ctx, a.repo, packageID, startDate, partySize)
}

// Report is the explicit availability lookup. Unlike IsAvailable it surfaces a
// missing package as ErrNotFound.
func (a *Availability) Report(ctx context.Context, packageID uuid.UUID, startDate time.Time, partySize int) (*AvailabilityReport, error) {
	pkg, err := a.repo.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	ok, err := a.check(ctx, a.repo, packageID, startDate, partySize)
	if err != nil {
		return nil, err
	}
	return &AvailabilityReport{
		Available:       ok,
		MaxCapacity:     pkg.MaxPeople,
		RequestedPeople: partySize,
	}, nil
}

// check runs the full admission rule against the given store, so transactional
// callers can pass their tx-scoped store and keep check-then-insert atomic.
// An inactive package still counts as bookable capacity here; only direct
// booking creation rejects inactive packages.
func (a *Availability) check(ctx context.Context, store ports.Store, packageID uuid.UUID, startDate time.Time, partySize int) (bool, error) {
	pkg, err := store.GetPackage(ctx, packageID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if partySize < 1 || partySize > pkg.MaxPeople {
		return false, nil
	}
	return a.admits(ctx, store, pkg, startDate, partySize)
}

// admits applies the overlap-count rule for an already validated party size.
func (a *Availability) admits(ctx context.Context, store ports.Store, pkg *domain.TourPackage, startDate time.Time, partySize int) (bool, error) {
	start := midnightUTC(startDate)
	end := start.AddDate(0, 0, pkg.DurationDays)

	switch a.mode {
	case CountPartySize:
		seats, err := store.SumOverlappingPartySizes(ctx, pkg.ID, start, end, domain.ActiveBookingStatuses)
		if err != nil {
			return false, err
		}
		return seats+partySize <= pkg.MaxPeople, nil
	default:
		n, err := store.CountOverlappingBookings(ctx, pkg.ID, start, end, domain.ActiveBookingStatuses)
		if err != nil {
			return false, err
		}
		return n+1 <= pkg.MaxPeople, nil
	}
}
