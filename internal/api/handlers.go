package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/marketplace/internal/api/middleware"
	"github.com/example/marketplace/internal/domain/booking"
	"github.com/example/marketplace/internal/domain/order"
	"github.com/example/marketplace/internal/domain/slot"
	"github.com/example/marketplace/internal/fulfillment"
	"github.com/example/marketplace/internal/occ"
	"github.com/example/marketplace/internal/payment"
	"github.com/example/marketplace/internal/reservation"
)

type Handlers struct {
	bookings *reservation.Service
	orders   *fulfillment.Service
	validate *validator.Validate
}

func NewHandlers(bookings *reservation.Service, orders *fulfillment.Service) *Handlers {
	return &Handlers{
		bookings: bookings,
		orders:   orders,
		validate: validator.New(),
	}
}

// Booking Handlers

type createBookingRequest struct {
	SlotID string `json:"slot_id" validate:"required,uuid4"`
	Guests int    `json:"guests" validate:"required,gt=0"`
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.bookings.Create(r.Context(), reservation.CreateInput{
		SlotID:     req.SlotID,
		BuyerID:    claims.UserID,
		BuyerEmail: claims.Email,
		Guests:     req.Guests,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, b)
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/bookings/")
	b, err := h.bookings.Get(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/bookings/"), "/cancel")

	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	res, err := h.bookings.CancelByBuyer(r.Context(), id, middleware.GetUserID(r.Context()), req.Reason)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Order Handlers

type createOrderRequest struct {
	Items []orderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type orderItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	items := make([]fulfillment.CartItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, fulfillment.CartItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	o, err := h.orders.Create(r.Context(), fulfillment.CreateInput{
		BuyerID:    claims.UserID,
		BuyerEmail: claims.Email,
		Items:      items,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, o)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/orders/")
	o, err := h.orders.Get(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

type updateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=processing shipped delivered"`
}

// UpdateOrderStatus applies seller fulfillment transitions.
func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/orders/"), "/status")

	var req updateOrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.orders.UpdateFulfillment(r.Context(), id, middleware.GetUserID(r.Context()), order.Status(req.Status))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

// Helpers

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps workflow errors to HTTP statuses. Capacity
// rejections come back specific so the caller can offer alternatives, and
// conflicts come back retriable.
func respondDomainError(w http.ResponseWriter, err error) {
	var insufficientStock *order.InsufficientStockError
	var conflict *occ.ConflictError

	switch {
	case errors.Is(err, slot.ErrSlotUnavailable):
		respondError(w, "slot unavailable", http.StatusConflict)
	case errors.As(err, &insufficientStock):
		respondJSON(w, http.StatusConflict, map[string]any{
			"error":     "insufficient stock",
			"shortages": insufficientStock.Shortages,
		})
	case errors.As(err, &conflict):
		respondError(w, "temporary conflict, please retry", http.StatusServiceUnavailable)
	case errors.Is(err, booking.ErrBookingNotFound),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, slot.ErrSlotNotFound):
		respondError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, booking.ErrForbidden), errors.Is(err, order.ErrForbidden):
		respondError(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, booking.ErrInvalidStatus), errors.Is(err, order.ErrInvalidStatus):
		respondError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, order.ErrEmptyOrder), errors.Is(err, order.ErrMixedSellers),
		errors.Is(err, slot.ErrInvalidGuests):
		respondError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, payment.ErrPaymentMismatch):
		respondError(w, err.Error(), http.StatusConflict)
	default:
		respondError(w, "internal error", http.StatusInternalServerError)
	}
}

// extractPathParam extracts a path parameter from a URL path
func extractPathParam(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}
