package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sproutmeals/fulfillment/internal/cache"
	"github.com/sproutmeals/fulfillment/internal/orders"
	"github.com/sproutmeals/fulfillment/internal/redisx"
	"github.com/sproutmeals/fulfillment/internal/reservation"
)

type OrdersHandler struct {
	Repo          *orders.PGRepository
	Reservations  *reservation.Manager
	StatusCache   cache.Cache
	PaymentWindow time.Duration
	Log           zerolog.Logger
}

type CreateOrderReq struct {
	ExternalID   string             `json:"external_id"`
	CustomerID   string             `json:"customer_id"`
	AddressID    string             `json:"address_id"`
	DeliveryDate time.Time          `json:"delivery_date"`
	Items        []orders.ItemInput `json:"items"`
}

type CreateOrderResp struct {
	OrderID      string    `json:"order_id"`
	Status       string    `json:"status"`
	TotalCents   int       `json:"total_cents"`
	PaymentDueAt time.Time `json:"payment_due_at"`
	Idempotent   bool      `json:"idempotent"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/products", h.listProducts)
}

// createOrder creates a PENDING order and places its stock holds. When any
// line is short the order is finalized CANCELLED and the client gets a 409
// naming the failing line, so no half-held orders survive the request.
func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ExternalID == "" || req.CustomerID == "" || req.AddressID == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	o, existed, err := h.Repo.CreateOrderTx(ctx, orders.CreateOrderInput{
		ExternalID:   req.ExternalID,
		CustomerID:   req.CustomerID,
		AddressID:    req.AddressID,
		PaymentDueAt: now.Add(h.PaymentWindow),
		DeliveryDate: req.DeliveryDate,
		Items:        req.Items,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if existed {
		writeJSON(w, http.StatusOK, CreateOrderResp{
			OrderID: o.ID, Status: string(o.Status), TotalCents: o.TotalCents,
			PaymentDueAt: o.PaymentDueAt, Idempotent: true,
		})
		return
	}

	if err := h.Reservations.ReserveForOrder(ctx, o.ID, orders.Lines(o.Items)); err != nil {
		// no stock hold survived; the order is dead on arrival
		if _, ferr := h.Repo.UpdateStatusIf(ctx, o.ID, orders.StatusPending, orders.StatusCancelled, orders.ReasonInsufficientStock); ferr != nil {
			h.Log.Error().Err(ferr).Str("order_id", o.ID).Msg("cancel after failed reservation")
		}
		writeError(w, err)
		return
	}

	h.cacheStatus(ctx, o.ID, orders.StatusPending)

	writeJSON(w, http.StatusCreated, CreateOrderResp{
		OrderID: o.ID, Status: string(orders.StatusPending), TotalCents: o.TotalCents,
		PaymentDueAt: o.PaymentDueAt, Idempotent: false,
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// status cache first
	if h.StatusCache != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		if s, ok, err := h.StatusCache.Get(ctx, key); err == nil && ok {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	o, err := h.Repo.Get(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(ctx, o.ID, o.Status)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, orderID string, s orders.Status) {
	if h.StatusCache == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	body, _ := json.Marshal(map[string]any{"id": orderID, "status": s})
	_ = h.StatusCache.Set(ctx, key, string(body), redisx.TTLStatusCache)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Repo.ListProducts(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
