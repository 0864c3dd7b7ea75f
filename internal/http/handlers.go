package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caminotours/booking/internal/domain"
	"github.com/caminotours/booking/internal/idempotency"
	"github.com/caminotours/booking/internal/service"
	"github.com/caminotours/booking/internal/service/ports"
)

const dateLayout = "2006-01-02"

type Handlers struct {
	catalog  *service.CatalogService
	bookings *service.BookingService
	cart     *service.CartService
	payments *service.PaymentService
	avail    *service.Availability
	idemp    *idempotency.Idempotency
}

func NewHandlers(
	catalog *service.CatalogService,
	bookings *service.BookingService,
	cart *service.CartService,
	payments *service.PaymentService,
	avail *service.Availability,
	idemp *idempotency.Idempotency,
) *Handlers {
	return &Handlers{
		catalog:  catalog,
		bookings: bookings,
		cart:     cart,
		payments: payments,
		avail:    avail,
		idemp:    idemp,
	}
}

func writeError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrSerializationFailure):
		code = http.StatusConflict
	case errors.Is(err, domain.ErrExternalFailure):
		code = http.StatusBadGateway
	default:
		code = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) []byte {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrap(domain.ErrInvalidInput, "invalid date, expected YYYY-MM-DD")
	}
	return t, nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, errors.Wrap(domain.ErrInvalidInput, "invalid id")
	}
	return id, nil
}

func bookingResponse(b *domain.Booking) map[string]interface{} {
	return map[string]interface{}{
		"id":          b.ID,
		"user_id":     b.UserID,
		"package_id":  b.TourPackageID,
		"start_date":  b.StartDate.Format(dateLayout),
		"end_date":    b.EndDate.Format(dateLayout),
		"party_size":  b.PartySize,
		"total_price": b.TotalPrice,
		"status":      b.Status,
		"created_at":  b.CreatedAt.Format(time.RFC3339),
	}
}

func packageResponse(p *domain.TourPackage) map[string]interface{} {
	return map[string]interface{}{
		"id":            p.ID,
		"title":         p.Title,
		"description":   p.Description,
		"location":      p.Location,
		"price":         p.Price,
		"duration_days": p.DurationDays,
		"max_people":    p.MaxPeople,
		"is_active":     p.IsActive,
	}
}

func paymentResponse(p *domain.Payment) map[string]interface{} {
	return map[string]interface{}{
		"id":         p.ID,
		"booking_id": p.BookingID,
		"amount":     p.Amount,
		"method":     p.Method,
		"status":     p.Status,
		"created_at": p.CreatedAt.Format(time.RFC3339),
	}
}

// --- packages ---

func (h *Handlers) ListPackages(w http.ResponseWriter, r *http.Request) {
	q := ports.ListPackagesQuery{
		Search:   r.URL.Query().Get("search"),
		Location: r.URL.Query().Get("location"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		q.Offset, _ = strconv.Atoi(v)
	}
	pkgs, total, err := h.catalog.List(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]map[string]interface{}, 0, len(pkgs))
	for _, p := range pkgs {
		items = append(items, packageResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"packages": items, "total": total})
}

func (h *Handlers) GetPackage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pkg, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, packageResponse(pkg))
}

type packageRequest struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Location     string          `json:"location"`
	Price        decimal.Decimal `json:"price"`
	DurationDays int             `json:"duration_days"`
	MaxPeople    int             `json:"max_people"`
	IsActive     *bool           `json:"is_active"`
}

func (h *Handlers) CreatePackage(w http.ResponseWriter, r *http.Request) {
	var req packageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pkg, err := h.catalog.Create(r.Context(), scopeFrom(r), service.PackageInput{
		Title:        req.Title,
		Description:  req.Description,
		Location:     req.Location,
		Price:        req.Price,
		DurationDays: req.DurationDays,
		MaxPeople:    req.MaxPeople,
		IsActive:     req.IsActive,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, packageResponse(pkg))
}

func (h *Handlers) UpdatePackage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req packageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pkg, err := h.catalog.Update(r.Context(), scopeFrom(r), id, service.PackageInput{
		Title:        req.Title,
		Description:  req.Description,
		Location:     req.Location,
		Price:        req.Price,
		DurationDays: req.DurationDays,
		MaxPeople:    req.MaxPeople,
		IsActive:     req.IsActive,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, packageResponse(pkg))
}

func (h *Handlers) DeletePackage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.catalog.Delete(r.Context(), scopeFrom(r), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	start, err := parseDate(r.URL.Query().Get("start_date"))
	if err != nil {
		writeError(w, err)
		return
	}
	people := 1
	if v := r.URL.Query().Get("people"); v != "" {
		people, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, errors.Wrap(domain.ErrInvalidInput, "invalid people"))
			return
		}
	}
	report, err := h.avail.Report(r.Context(), id, start, people)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available":        report.Available,
		"max_capacity":     report.MaxCapacity,
		"requested_people": report.RequestedPeople,
	})
}

// --- bookings ---

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if done := h.replay(w, r, key); done {
		return
	}

	var req struct {
		PackageID uuid.UUID `json:"package_id"`
		StartDate string    `json:"start_date"`
		PartySize int       `json:"party_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(w, err)
		return
	}

	scope := scopeFrom(r)
	booking, err := h.bookings.Create(r.Context(), scope.UserID, req.PackageID, start, req.PartySize)
	if err != nil {
		writeError(w, err)
		return
	}
	data := writeJSON(w, http.StatusCreated, bookingResponse(booking))
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.bookings.FindAll(r.Context(), scopeFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]map[string]interface{}, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, bookingResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": items})
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	booking, err := h.bookings.FindOne(r.Context(), id, scopeFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(booking))
}

func (h *Handlers) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		StartDate *string               `json:"start_date"`
		PartySize *int                  `json:"party_size"`
		Status    *domain.BookingStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	patch := service.BookingPatch{PartySize: req.PartySize, Status: req.Status}
	if req.StartDate != nil {
		start, err := parseDate(*req.StartDate)
		if err != nil {
			writeError(w, err)
			return
		}
		patch.StartDate = &start
	}
	booking, err := h.bookings.Update(r.Context(), id, scopeFrom(r), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(booking))
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	booking, err := h.bookings.Cancel(r.Context(), id, scopeFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(booking))
}

func (h *Handlers) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	booking, err := h.bookings.Complete(r.Context(), id, scopeFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(booking))
}

// --- cart ---

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.cart.GetCart(r.Context(), scopeFrom(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]map[string]interface{}, 0, len(cart.Items))
	for _, line := range cart.Items {
		items = append(items, map[string]interface{}{
			"id":          line.Item.ID,
			"package":     packageResponse(line.Package),
			"quantity":    line.Item.Quantity,
			"start_date":  line.Item.StartDate.Format(dateLayout),
			"total_price": line.TotalPrice,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":        items,
		"total_items":  cart.TotalItems,
		"total_amount": cart.TotalAmount,
	})
}

func (h *Handlers) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PackageID uuid.UUID `json:"package_id"`
		StartDate string    `json:"start_date"`
		PartySize int       `json:"party_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(w, err)
		return
	}
	item, err := h.cart.AddItem(r.Context(), scopeFrom(r).UserID, req.PackageID, start, req.PartySize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         item.ID,
		"package_id": item.TourPackageID,
		"quantity":   item.Quantity,
		"start_date": item.StartDate.Format(dateLayout),
	})
}

func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	item, err := h.cart.UpdateItem(r.Context(), id, scopeFrom(r).UserID, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":         item.ID,
		"package_id": item.TourPackageID,
		"quantity":   item.Quantity,
		"start_date": item.StartDate.Format(dateLayout),
	})
}

func (h *Handlers) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.cart.RemoveItem(r.Context(), id, scopeFrom(r).UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.Clear(r.Context(), scopeFrom(r).UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if done := h.replay(w, r, key); done {
		return
	}

	result, err := h.cart.Checkout(r.Context(), scopeFrom(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	bookings := make([]map[string]interface{}, 0, len(result.Bookings))
	for _, b := range result.Bookings {
		bookings = append(bookings, bookingResponse(b))
	}
	data := writeJSON(w, http.StatusCreated, map[string]interface{}{
		"bookings":     bookings,
		"total_amount": result.TotalAmount,
	})
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

// --- payments ---

func (h *Handlers) CreatePayment(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if done := h.replay(w, r, key); done {
		return
	}

	var req struct {
		BookingID    uuid.UUID            `json:"booking_id"`
		Amount       decimal.Decimal      `json:"amount"`
		Method       domain.PaymentMethod `json:"method"`
		PaymentToken string               `json:"payment_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.payments.Create(r.Context(), scopeFrom(r).UserID, service.CreatePaymentInput{
		BookingID: req.BookingID,
		Token:     req.PaymentToken,
		Amount:    req.Amount,
		Method:    req.Method,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	data := writeJSON(w, http.StatusCreated, map[string]interface{}{
		"payment":        paymentResponse(result.Payment),
		"transaction_id": result.TransactionID,
	})
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.payments.FindAll(r.Context(), scopeFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]map[string]interface{}, 0, len(payments))
	for _, p := range payments {
		items = append(items, paymentResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payments": items})
}

func (h *Handlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	payment, err := h.payments.FindOne(r.Context(), id, scopeFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse(payment))
}

func (h *Handlers) RefundPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	outcome, err := h.payments.Refund(r.Context(), id, scopeFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payment":   paymentResponse(outcome.Payment),
		"refund_id": outcome.RefundID,
	})
}

func (h *Handlers) PaymentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.payments.Stats(r.Context(), scopeFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	successRate := 0.0
	if stats.Total > 0 {
		successRate = float64(stats.Completed) / float64(stats.Total) * 100
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_payments":   stats.Total,
		"completed":        stats.Completed,
		"failed":           stats.Failed,
		"refunded":         stats.Refunded,
		"pending":          stats.Total - stats.Completed - stats.Failed - stats.Refunded,
		"total_revenue":    stats.TotalRevenue,
		"success_rate_pct": successRate,
	})
}

// replay serves a cached idempotent response; returns true when the request
// was already handled.
func (h *Handlers) replay(w http.ResponseWriter, r *http.Request, key string) bool {
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return true
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return true
	}
	return false
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
