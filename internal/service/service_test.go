package service_test

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caminotours/booking/internal/domain"
	"github.com/caminotours/booking/internal/observability"
	"github.com/caminotours/booking/internal/service"
	"github.com/caminotours/booking/internal/service/ports"
)

// fakeStore is an in-memory ports.Repository. WithTx snapshots the maps and
// restores them when the callback errors, matching the rollback semantics the
// services rely on.
type fakeStore struct {
	packages  map[uuid.UUID]domain.TourPackage
	bookings  map[uuid.UUID]domain.Booking
	cartItems map[uuid.UUID]domain.CartItem
	payments  map[uuid.UUID]domain.Payment
	outbox    []ports.OutboxRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		packages:  make(map[uuid.UUID]domain.TourPackage),
		bookings:  make(map[uuid.UUID]domain.Booking),
		cartItems: make(map[uuid.UUID]domain.CartItem),
		payments:  make(map[uuid.UUID]domain.Payment),
	}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ports.Store) error) error {
	snapshot := &fakeStore{
		packages:  copyMap(f.packages),
		bookings:  copyMap(f.bookings),
		cartItems: copyMap(f.cartItems),
		payments:  copyMap(f.payments),
		outbox:    append([]ports.OutboxRecord(nil), f.outbox...),
	}
	if err := fn(f); err != nil {
		*f = *snapshot
		return err
	}
	return nil
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (f *fakeStore) CreatePackage(ctx context.Context, pkg *domain.TourPackage) error {
	f.packages[pkg.ID] = *pkg
	return nil
}

func (f *fakeStore) UpdatePackage(ctx context.Context, pkg *domain.TourPackage) error {
	if _, ok := f.packages[pkg.ID]; !ok {
		return domain.ErrNotFound
	}
	f.packages[pkg.ID] = *pkg
	return nil
}

func (f *fakeStore) GetPackage(ctx context.Context, id uuid.UUID) (*domain.TourPackage, error) {
	pkg, ok := f.packages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &pkg, nil
}

func (f *fakeStore) ListPackages(ctx context.Context, q ports.ListPackagesQuery) ([]*domain.TourPackage, int, error) {
	var out []*domain.TourPackage
	for _, pkg := range f.packages {
		if !pkg.IsActive {
			continue
		}
		p := pkg
		out = append(out, &p)
	}
	return out, len(out), nil
}

func (f *fakeStore) DeletePackage(ctx context.Context, id uuid.UUID) error {
	if _, ok := f.packages[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.packages, id)
	return nil
}

func (f *fakeStore) CountPackageBookings(ctx context.Context, packageID uuid.UUID) (int, error) {
	n := 0
	for _, b := range f.bookings {
		if b.TourPackageID == packageID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreateBooking(ctx context.Context, b *domain.Booking) error {
	f.bookings[b.ID] = *b
	return nil
}

func (f *fakeStore) UpdateBooking(ctx context.Context, b *domain.Booking) error {
	if _, ok := f.bookings[b.ID]; !ok {
		return domain.ErrNotFound
	}
	f.bookings[b.ID] = *b
	return nil
}

func (f *fakeStore) GetBooking(ctx context.Context, id uuid.UUID, scope domain.Scope) (*domain.Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !scope.Role.IsAdmin() && b.UserID != scope.UserID {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (f *fakeStore) ListBookings(ctx context.Context, scope domain.Scope) ([]*domain.Booking, error) {
	var out []*domain.Booking
	for _, b := range f.bookings {
		if !scope.Role.IsAdmin() && b.UserID != scope.UserID {
			continue
		}
		cp := b
		out = append(out, &cp)
	}
	return out, nil
}

func statusIn(st domain.BookingStatus, statuses []domain.BookingStatus) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (f *fakeStore) overlapping(packageID uuid.UUID, start, end time.Time, statuses []domain.BookingStatus) []domain.Booking {
	var out []domain.Booking
	for _, b := range f.bookings {
		if b.TourPackageID != packageID || !statusIn(b.Status, statuses) {
			continue
		}
		if !b.StartDate.After(end) && !b.EndDate.Before(start) {
			out = append(out, b)
		}
	}
	return out
}

func (f *fakeStore) CountOverlappingBookings(ctx context.Context, packageID uuid.UUID, start, end time.Time, statuses []domain.BookingStatus) (int, error) {
	return len(f.overlapping(packageID, start, end, statuses)), nil
}

func (f *fakeStore) SumOverlappingPartySizes(ctx context.Context, packageID uuid.UUID, start, end time.Time, statuses []domain.BookingStatus) (int, error) {
	sum := 0
	for _, b := range f.overlapping(packageID, start, end, statuses) {
		sum += b.PartySize
	}
	return sum, nil
}

func (f *fakeStore) CreateCartItem(ctx context.Context, item *domain.CartItem) error {
	for _, it := range f.cartItems {
		if it.UserID == item.UserID && it.TourPackageID == item.TourPackageID {
			return domain.ErrConflict
		}
	}
	f.cartItems[item.ID] = *item
	return nil
}

func (f *fakeStore) UpdateCartItem(ctx context.Context, item *domain.CartItem) error {
	if _, ok := f.cartItems[item.ID]; !ok {
		return domain.ErrNotFound
	}
	f.cartItems[item.ID] = *item
	return nil
}

func (f *fakeStore) GetCartItem(ctx context.Context, id, userID uuid.UUID) (*domain.CartItem, error) {
	it, ok := f.cartItems[id]
	if !ok || it.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return &it, nil
}

func (f *fakeStore) FindCartItemByPackage(ctx context.Context, userID, packageID uuid.UUID) (*domain.CartItem, error) {
	for _, it := range f.cartItems {
		if it.UserID == userID && it.TourPackageID == packageID {
			cp := it
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) ListCartItems(ctx context.Context, userID uuid.UUID) ([]*domain.CartItem, error) {
	var out []*domain.CartItem
	for _, it := range f.cartItems {
		if it.UserID == userID {
			cp := it
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteCartItem(ctx context.Context, id, userID uuid.UUID) error {
	it, ok := f.cartItems[id]
	if ok && it.UserID == userID {
		delete(f.cartItems, id)
	}
	return nil
}

func (f *fakeStore) ClearCartItems(ctx context.Context, userID uuid.UUID) error {
	for id, it := range f.cartItems {
		if it.UserID == userID {
			delete(f.cartItems, id)
		}
	}
	return nil
}

func (f *fakeStore) CreatePayment(ctx context.Context, p *domain.Payment) error {
	for _, existing := range f.payments {
		if existing.BookingID == p.BookingID {
			return domain.ErrConflict
		}
	}
	f.payments[p.ID] = *p
	return nil
}

func (f *fakeStore) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus) error {
	p, ok := f.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	f.payments[id] = p
	return nil
}

func (f *fakeStore) GetPayment(ctx context.Context, id uuid.UUID, scope domain.Scope) (*domain.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !scope.Role.IsAdmin() {
		b, ok := f.bookings[p.BookingID]
		if !ok || b.UserID != scope.UserID {
			return nil, domain.ErrNotFound
		}
	}
	return &p, nil
}

func (f *fakeStore) GetPaymentByBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error) {
	for _, p := range f.payments {
		if p.BookingID == bookingID {
			cp := p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) ListPayments(ctx context.Context, scope domain.Scope) ([]*domain.Payment, error) {
	var out []*domain.Payment
	for _, p := range f.payments {
		if !scope.Role.IsAdmin() {
			b, ok := f.bookings[p.BookingID]
			if !ok || b.UserID != scope.UserID {
				continue
			}
		}
		cp := p
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) PaymentStats(ctx context.Context) (*ports.PaymentStats, error) {
	stats := &ports.PaymentStats{TotalRevenue: decimal.Zero}
	for _, p := range f.payments {
		stats.Total++
		switch p.Status {
		case domain.PaymentCompleted:
			stats.Completed++
			stats.TotalRevenue = stats.TotalRevenue.Add(p.Amount)
		case domain.PaymentFailed:
			stats.Failed++
		case domain.PaymentRefunded:
			stats.Refunded++
		}
	}
	return stats, nil
}

func (f *fakeStore) InsertOutbox(ctx context.Context, rec ports.OutboxRecord) error {
	f.outbox = append(f.outbox, rec)
	return nil
}

func (f *fakeStore) outboxEvents() []string {
	out := make([]string, len(f.outbox))
	for i, rec := range f.outbox {
		out[i] = rec.EventType
	}
	return out
}

// fakeGateway scripts charge and refund outcomes. The onCharge and onRefund
// hooks run while the call is "in flight", letting tests race state changes
// against the gateway round trip.
type fakeGateway struct {
	chargeOK   bool
	chargeErr  error
	refundOK   bool
	refundErr  error
	chargeCnt  int
	refundCnt  int
	lastAmount decimal.Decimal
	onCharge   func()
	onRefund   func()
}

func (g *fakeGateway) ProcessCharge(ctx context.Context, token string, amount decimal.Decimal, method domain.PaymentMethod) (ports.ChargeResult, error) {
	g.chargeCnt++
	g.lastAmount = amount
	if g.onCharge != nil {
		g.onCharge()
	}
	if g.chargeErr != nil {
		return ports.ChargeResult{}, g.chargeErr
	}
	return ports.ChargeResult{Success: g.chargeOK, TransactionID: "txn_test"}, nil
}

func (g *fakeGateway) ProcessRefund(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal) (ports.RefundResult, error) {
	g.refundCnt++
	if g.onRefund != nil {
		g.onRefund()
	}
	if g.refundErr != nil {
		return ports.RefundResult{}, g.refundErr
	}
	return ports.RefundResult{Success: g.refundOK, RefundID: "ref_test"}, nil
}

type recordedAudit struct {
	action string
	userID uuid.UUID
}

type fakeAudit struct {
	records []recordedAudit
}

func (a *fakeAudit) Record(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error {
	a.records = append(a.records, recordedAudit{action: action, userID: userID})
	return nil
}

type fixture struct {
	store    *fakeStore
	gateway  *fakeGateway
	audit    *fakeAudit
	avail    *service.Availability
	catalog  *service.CatalogService
	bookings *service.BookingService
	cart     *service.CartService
	payments *service.PaymentService
}

func newFixture(mode service.CountMode) *fixture {
	store := newFakeStore()
	gw := &fakeGateway{chargeOK: true, refundOK: true}
	audit := &fakeAudit{}
	logger := observability.NewLogger()
	avail := service.NewAvailability(store, mode)
	return &fixture{
		store:    store,
		gateway:  gw,
		audit:    audit,
		avail:    avail,
		catalog:  service.NewCatalogService(store, logger),
		bookings: service.NewBookingService(store, avail, audit, logger),
		cart:     service.NewCartService(store, avail, audit, logger),
		payments: service.NewPaymentService(store, gw, audit, logger),
	}
}

func (f *fixture) addPackage(price string, durationDays, maxPeople int) *domain.TourPackage {
	now := time.Now().UTC()
	pkg := domain.TourPackage{
		ID:           uuid.New(),
		Title:        "Camino Frances",
		Description:  "Seven days on the French Way",
		Location:     "Galicia",
		Price:        decimal.RequireFromString(price),
		DurationDays: durationDays,
		MaxPeople:    maxPeople,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.store.packages[pkg.ID] = pkg
	return &pkg
}

func futureDate(daysAhead int) time.Time {
	return time.Now().UTC().AddDate(0, 0, daysAhead).Truncate(24 * time.Hour)
}

func newUser() uuid.UUID {
	return uuid.New()
}

var errGatewayDown = errors.New("gateway unreachable")
