package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stayspot/booking-engine/internal/booking"
	"github.com/stayspot/booking-engine/internal/domain"
	"github.com/stayspot/booking-engine/internal/escrow"
	"github.com/stayspot/booking-engine/internal/idempotency"
	"github.com/stayspot/booking-engine/internal/observability"
	"golang.org/x/sync/errgroup"
)

type Handlers struct {
	ledger   domain.Ledger
	factory  *booking.Factory
	escrow   *escrow.Service
	idemp    *idempotency.Idempotency
	validate *validator.Validate
	logger   observability.Logger
}

func NewHandlers(ledger domain.Ledger, factory *booking.Factory, esc *escrow.Service, idemp *idempotency.Idempotency, logger observability.Logger) *Handlers {
	return &Handlers{
		ledger:   ledger,
		factory:  factory,
		escrow:   esc,
		idemp:    idemp,
		validate: validator.New(),
		logger:   logger,
	}
}

type createBookingRequest struct {
	ListingID      string   `json:"listing_id" validate:"required,uuid"`
	UserID         string   `json:"user_id" validate:"required,uuid"`
	Dates          []string `json:"dates" validate:"required,min=1,dive,datetime=2006-01-02"`
	Hours          []int    `json:"hours" validate:"omitempty,dive,min=0,max=23"`
	Duration       int      `json:"duration" validate:"omitempty,min=1"`
	GuestCount     int      `json:"guest_count" validate:"omitempty,min=1"`
	SelectedAddOns []string `json:"selected_add_ons"`
	TotalPrice     float64  `json:"total_price" validate:"gte=0"`
	ServiceFee     float64  `json:"service_fee" validate:"gte=0"`
	CautionFee     float64  `json:"caution_fee" validate:"gte=0"`
}

type bookingView struct {
	ID                string     `json:"id"`
	ListingID         uuid.UUID  `json:"listing_id"`
	UserID            uuid.UUID  `json:"user_id"`
	GroupID           *uuid.UUID `json:"group_id,omitempty"`
	Date              string     `json:"date"`
	Status            string     `json:"status"`
	PaymentStatus     string     `json:"payment_status"`
	TotalPrice        float64    `json:"total_price"`
	ServiceFee        float64    `json:"service_fee"`
	CautionFee        float64    `json:"caution_fee"`
	EscrowReleaseDate string     `json:"escrow_release_date"`
}

func toView(b *domain.Booking) bookingView {
	return bookingView{
		ID:                b.ID,
		ListingID:         b.ListingID,
		UserID:            b.UserID,
		GroupID:           b.GroupID,
		Date:              b.Date.Format("2006-01-02"),
		Status:            string(b.Status),
		PaymentStatus:     b.PaymentStatus,
		TotalPrice:        b.TotalPrice,
		ServiceFee:        b.ServiceFee,
		CautionFee:        b.CautionFee,
		EscrowReleaseDate: b.EscrowReleaseDate.Format(time.RFC3339),
	}
}

// CreateBookings handles a reservation request: one listing, one or more
// dates. Partial success is part of the contract: the response always
// lists the bookings that were created, and on failure names the reason for
// the remainder.
func (h *Handlers) CreateBookings(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	listingID, _ := uuid.Parse(req.ListingID)
	userID, _ := uuid.Parse(req.UserID)
	dates := make([]time.Time, 0, len(req.Dates))
	for _, d := range req.Dates {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			http.Error(w, "invalid date "+d, http.StatusBadRequest)
			return
		}
		dates = append(dates, t)
	}

	created, createErr := h.factory.CreateBookings(r.Context(), booking.ReservationRequest{
		ListingID:      listingID,
		UserID:         userID,
		Dates:          dates,
		Hours:          req.Hours,
		Duration:       req.Duration,
		GuestCount:     req.GuestCount,
		SelectedAddOns: req.SelectedAddOns,
		TotalPrice:     req.TotalPrice,
		ServiceFee:     req.ServiceFee,
		CautionFee:     req.CautionFee,
	})

	views := make([]bookingView, 0, len(created))
	for i := range created {
		views = append(views, toView(&created[i]))
	}
	resp := map[string]interface{}{"bookings": views}
	status := http.StatusCreated

	if createErr != nil {
		resp["error"] = createErr.Error()
		switch {
		case errors.Is(createErr, domain.ErrPriceValidation):
			resp["error_kind"] = "security_validation"
			status = http.StatusBadRequest
		case errors.Is(createErr, domain.ErrPayment):
			resp["error_kind"] = "payment"
			status = http.StatusPaymentRequired
		case errors.Is(createErr, domain.ErrNotFound):
			http.Error(w, "listing not found", http.StatusNotFound)
			return
		case errors.Is(createErr, domain.ErrInvalidInput):
			status = http.StatusBadRequest
		default:
			status = http.StatusInternalServerError
		}
	}

	data, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)

	h.idemp.Set(r.Context(), key, idempotency.Response{Status: status, Result: data})
}

// GetBooking returns the booking and its escrow transactions, fetched
// concurrently.
func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var b *domain.Booking
	var txs []domain.EscrowTransaction
	g, gctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		b, err = h.ledger.GetBooking(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		txs, err = h.ledger.TransactionsForBooking(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	txViews := make([]map[string]interface{}, 0, len(txs))
	for _, tx := range txs {
		txViews = append(txViews, map[string]interface{}{
			"id":         tx.ID,
			"kind":       string(tx.Kind),
			"amount":     tx.Amount,
			"created_at": tx.CreatedAt.Format(time.RFC3339),
			"note":       tx.Note,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"booking":      toView(b),
		"transactions": txViews,
	})
}

type cancelBookingRequest struct {
	CancelledBy string `json:"cancelled_by" validate:"required"`
	Reason      string `json:"reason" validate:"required"`
}

// CancelBooking refunds a booking that has not settled yet. Refund is
// idempotent, so a repeated cancel returns the same transaction.
func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.ledger.GetBooking(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if b.Status == domain.StatusCompleted {
		http.Error(w, "booking already settled", http.StatusConflict)
		return
	}

	txID, err := h.escrow.Refund(r.Context(), b, req.CancelledBy, req.Reason)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transaction_id": txID,
		"status":         b.Status,
		"payment_status": b.PaymentStatus,
	})
}

func (h *Handlers) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	wallet, err := h.ledger.GetWallet(r.Context(), userID)
	if errors.Is(err, domain.ErrNotFound) {
		// A user with no settlements yet has an empty wallet, not a 404.
		wallet = &domain.Wallet{UserID: userID}
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user_id": wallet.UserID,
		"balance": wallet.Balance,
	})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
