package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/caminotours/booking/internal/domain"
	"github.com/caminotours/booking/internal/observability"
	"github.com/caminotours/booking/internal/service/ports"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements ports.Repository on a pgx pool. WithTx hands out a
// transaction-scoped store running at SERIALIZABLE isolation, which is what
// keeps the availability count and the booking insert from racing.
type Repository struct {
	store
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{store: store{q: pool}, pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(ports.Store) error) error {
	started := time.Now()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE"); err != nil {
		return err
	}

	if err := fn(store{q: tx}); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}
	observability.DBTxDuration.Observe(time.Since(started).Seconds())
	return nil
}

type store struct {
	q querier
}

func (s store) CreatePackage(ctx context.Context, pkg *domain.TourPackage) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO tour_packages (id, title, description, location, price, duration_days, max_people, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, pkg.ID, pkg.Title, pkg.Description, pkg.Location, pkg.Price, pkg.DurationDays, pkg.MaxPeople, pkg.IsActive, pkg.CreatedAt, pkg.UpdatedAt)
	return err
}

func (s store) UpdatePackage(ctx context.Context, pkg *domain.TourPackage) error {
	result, err := s.q.Exec(ctx, `
		UPDATE tour_packages
		SET title = $2, description = $3, location = $4, price = $5, duration_days = $6, max_people = $7, is_active = $8, updated_at = $9
		WHERE id = $1
	`, pkg.ID, pkg.Title, pkg.Description, pkg.Location, pkg.Price, pkg.DurationDays, pkg.MaxPeople, pkg.IsActive, pkg.UpdatedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s store) GetPackage(ctx context.Context, id uuid.UUID) (*domain.TourPackage, error) {
	var pkg domain.TourPackage
	err := s.q.QueryRow(ctx, `
		SELECT id, title, description, location, price, duration_days, max_people, is_active, created_at, updated_at
		FROM tour_packages WHERE id = $1
	`, id).Scan(&pkg.ID, &pkg.Title, &pkg.Description, &pkg.Location, &pkg.Price, &pkg.DurationDays, &pkg.MaxPeople, &pkg.IsActive, &pkg.CreatedAt, &pkg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (s store) ListPackages(ctx context.Context, q ports.ListPackagesQuery) ([]*domain.TourPackage, int, error) {
	const filter = `
		is_active = TRUE
		AND ($1 = '' OR title ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%')
		AND ($2 = '' OR location ILIKE '%' || $2 || '%')
	`

	var total int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM tour_packages WHERE `+filter, q.Search, q.Location).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.q.Query(ctx, `
		SELECT id, title, description, location, price, duration_days, max_people, is_active, created_at, updated_at
		FROM tour_packages WHERE `+filter+`
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, q.Search, q.Location, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var pkgs []*domain.TourPackage
	for rows.Next() {
		var pkg domain.TourPackage
		if err := rows.Scan(&pkg.ID, &pkg.Title, &pkg.Description, &pkg.Location, &pkg.Price, &pkg.DurationDays, &pkg.MaxPeople, &pkg.IsActive, &pkg.CreatedAt, &pkg.UpdatedAt); err != nil {
			return nil, 0, err
		}
		pkgs = append(pkgs, &pkg)
	}
	return pkgs, total, rows.Err()
}

func (s store) DeletePackage(ctx context.Context, id uuid.UUID) error {
	result, err := s.q.Exec(ctx, `DELETE FROM tour_packages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s store) CountPackageBookings(ctx context.Context, packageID uuid.UUID) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE tour_package_id = $1`, packageID).Scan(&n)
	return n, err
}

const bookingColumns = `id, user_id, tour_package_id, start_date, end_date, party_size, total_price, status, created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(&b.ID, &b.UserID, &b.TourPackageID, &b.StartDate, &b.EndDate, &b.PartySize, &b.TotalPrice, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s store) CreateBooking(ctx context.Context, b *domain.Booking) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, b.ID, b.UserID, b.TourPackageID, b.StartDate, b.EndDate, b.PartySize, b.TotalPrice, b.Status, b.CreatedAt, b.UpdatedAt)
	return err
}

func (s store) UpdateBooking(ctx context.Context, b *domain.Booking) error {
	result, err := s.q.Exec(ctx, `
		UPDATE bookings
		SET start_date = $2, end_date = $3, party_size = $4, total_price = $5, status = $6, updated_at = $7
		WHERE id = $1
	`, b.ID, b.StartDate, b.EndDate, b.PartySize, b.TotalPrice, b.Status, b.UpdatedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s store) GetBooking(ctx context.Context, id uuid.UUID, scope domain.Scope) (*domain.Booking, error) {
	if scope.Role.IsAdmin() {
		return scanBooking(s.q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	}
	return scanBooking(s.q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND user_id = $2`, id, scope.UserID))
}

func (s store) ListBookings(ctx context.Context, scope domain.Scope) ([]*domain.Booking, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if scope.Role.IsAdmin() {
		rows, err = s.q.Query(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY created_at DESC`)
	} else {
		rows, err = s.q.Query(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE user_id = $1 ORDER BY created_at DESC`, scope.UserID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func statusStrings(statuses []domain.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func (s store) CountOverlappingBookings(ctx context.Context, packageID uuid.UUID, start, end time.Time, statuses []domain.BookingStatus) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE tour_package_id = $1 AND status = ANY($2)
		AND start_date <= $4 AND end_date >= $3
	`, packageID, statusStrings(statuses), start, end).Scan(&n)
	return n, err
}

func (s store) SumOverlappingPartySizes(ctx context.Context, packageID uuid.UUID, start, end time.Time, statuses []domain.BookingStatus) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(party_size), 0) FROM bookings
		WHERE tour_package_id = $1 AND status = ANY($2)
		AND start_date <= $4 AND end_date >= $3
	`, packageID, statusStrings(statuses), start, end).Scan(&n)
	return n, err
}

// GetElapsedConfirmed lists CONFIRMED bookings whose end date has passed; the
// completion worker sweeps them to COMPLETED.
func (r *Repository) GetElapsedConfirmed(ctx context.Context, now time.Time) ([]*domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = 'CONFIRMED' AND end_date < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

const cartColumns = `id, user_id, tour_package_id, quantity, start_date, created_at, updated_at`

func scanCartItem(row pgx.Row) (*domain.CartItem, error) {
	var it domain.CartItem
	err := row.Scan(&it.ID, &it.UserID, &it.TourPackageID, &it.Quantity, &it.StartDate, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s store) CreateCartItem(ctx context.Context, item *domain.CartItem) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO cart_items (`+cartColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.UserID, item.TourPackageID, item.Quantity, item.StartDate, item.CreatedAt, item.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode {
		return domain.ErrConflict
	}
	return err
}

func (s store) UpdateCartItem(ctx context.Context, item *domain.CartItem) error {
	result, err := s.q.Exec(ctx, `
		UPDATE cart_items SET quantity = $2, start_date = $3, updated_at = $4 WHERE id = $1
	`, item.ID, item.Quantity, item.StartDate, item.UpdatedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s store) GetCartItem(ctx context.Context, id, userID uuid.UUID) (*domain.CartItem, error) {
	return scanCartItem(s.q.QueryRow(ctx, `SELECT `+cartColumns+` FROM cart_items WHERE id = $1 AND user_id = $2`, id, userID))
}

func (s store) FindCartItemByPackage(ctx context.Context, userID, packageID uuid.UUID) (*domain.CartItem, error) {
	return scanCartItem(s.q.QueryRow(ctx, `SELECT `+cartColumns+` FROM cart_items WHERE user_id = $1 AND tour_package_id = $2`, userID, packageID))
}

func (s store) ListCartItems(ctx context.Context, userID uuid.UUID) ([]*domain.CartItem, error) {
	rows, err := s.q.Query(ctx, `SELECT `+cartColumns+` FROM cart_items WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.CartItem
	for rows.Next() {
		it, err := scanCartItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s store) DeleteCartItem(ctx context.Context, id, userID uuid.UUID) error {
	_, err := s.q.Exec(ctx, `DELETE FROM cart_items WHERE id = $1 AND user_id = $2`, id, userID)
	return err
}

func (s store) ClearCartItems(ctx context.Context, userID uuid.UUID) error {
	_, err := s.q.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	return err
}

const paymentColumns = `id, booking_id, amount, method, status, created_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.BookingID, &p.Amount, &p.Method, &p.Status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s store) CreatePayment(ctx context.Context, p *domain.Payment) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.BookingID, p.Amount, p.Method, p.Status, p.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode {
		return domain.ErrConflict
	}
	return err
}

func (s store) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus) error {
	result, err := s.q.Exec(ctx, `UPDATE payments SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s store) GetPayment(ctx context.Context, id uuid.UUID, scope domain.Scope) (*domain.Payment, error) {
	if scope.Role.IsAdmin() {
		return scanPayment(s.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	}
	return scanPayment(s.q.QueryRow(ctx, `
		SELECT p.id, p.booking_id, p.amount, p.method, p.status, p.created_at
		FROM payments p JOIN bookings b ON b.id = p.booking_id
		WHERE p.id = $1 AND b.user_id = $2
	`, id, scope.UserID))
}

func (s store) GetPaymentByBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error) {
	return scanPayment(s.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1`, bookingID))
}

func (s store) ListPayments(ctx context.Context, scope domain.Scope) ([]*domain.Payment, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if scope.Role.IsAdmin() {
		rows, err = s.q.Query(ctx, `SELECT `+paymentColumns+` FROM payments ORDER BY created_at DESC`)
	} else {
		rows, err = s.q.Query(ctx, `
			SELECT p.id, p.booking_id, p.amount, p.method, p.status, p.created_at
			FROM payments p JOIN bookings b ON b.id = p.booking_id
			WHERE b.user_id = $1 ORDER BY p.created_at DESC
		`, scope.UserID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// PaymentStats on a tx-scoped store runs its aggregates sequentially; a pgx
// transaction carries a single connection and is not safe for concurrent use.
func (s store) PaymentStats(ctx context.Context) (*ports.PaymentStats, error) {
	stats := &ports.PaymentStats{}
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM payments`).Scan(&stats.Total); err != nil {
		return nil, err
	}
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE status = 'COMPLETED'`).Scan(&stats.Completed); err != nil {
		return nil, err
	}
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE status = 'FAILED'`).Scan(&stats.Failed); err != nil {
		return nil, err
	}
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE status = 'REFUNDED'`).Scan(&stats.Refunded); err != nil {
		return nil, err
	}
	if err := s.q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE status = 'COMPLETED'`).Scan(&stats.TotalRevenue); err != nil {
		return nil, err
	}
	return stats, nil
}

// PaymentStats on the Repository fans the aggregate queries out over the pool.
func (r *Repository) PaymentStats(ctx context.Context) (*ports.PaymentStats, error) {
	stats := &ports.PaymentStats{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.pool.QueryRow(gctx, `SELECT COUNT(*) FROM payments`).Scan(&stats.Total)
	})
	g.Go(func() error {
		return r.pool.QueryRow(gctx, `SELECT COUNT(*) FROM payments WHERE status = 'COMPLETED'`).Scan(&stats.Completed)
	})
	g.Go(func() error {
		return r.pool.QueryRow(gctx, `SELECT COUNT(*) FROM payments WHERE status = 'FAILED'`).Scan(&stats.Failed)
	})
	g.Go(func() error {
		return r.pool.QueryRow(gctx, `SELECT COUNT(*) FROM payments WHERE status = 'REFUNDED'`).Scan(&stats.Refunded)
	})
	g.Go(func() error {
		return r.pool.QueryRow(gctx, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE status = 'COMPLETED'`).Scan(&stats.TotalRevenue)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}
