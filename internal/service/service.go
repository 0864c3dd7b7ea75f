package service

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/caminotours/booking/internal/domain"
)

// midnightUTC truncates t to its UTC calendar day. All date comparisons in the
// lifecycle run at this granularity.
func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// strictlyFuture rejects today and anything earlier; bookings start tomorrow
// at the soonest.
func strictlyFuture(t time.Time) bool {
	return midnightUTC(t).After(midnightUTC(time.Now()))
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
