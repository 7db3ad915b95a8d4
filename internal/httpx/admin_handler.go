package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sproutmeals/fulfillment/internal/cache"
	"github.com/sproutmeals/fulfillment/internal/orders"
	"github.com/sproutmeals/fulfillment/internal/redisx"
	"github.com/sproutmeals/fulfillment/internal/stock"
	"github.com/sproutmeals/fulfillment/internal/sweeper"
)

// AdminHandler is the back-office surface: restocking, dashboard statistics,
// manual sweep trigger, and order status changes. AuthZ sits in front of it,
// outside this service.
type AdminHandler struct {
	Ledger     *stock.Ledger
	Sweeper    *sweeper.Sweeper
	Machine    *orders.Machine
	StatsCache cache.Cache
	Log        zerolog.Logger
}

func (h *AdminHandler) Register(r *chi.Mux) {
	r.Route("/admin", func(r chi.Router) {
		r.Post("/bulk-restock", h.bulkRestock)
		r.Get("/inventory-statistics", h.inventoryStatistics)
		r.Post("/process-expired-payments", h.processExpiredPayments)
		r.Put("/orders/{id}/status", h.updateOrderStatus)
	})
}

type bulkRestockReq struct {
	Items []stock.RestockItem `json:"items"`
}

func (h *AdminHandler) bulkRestock(w http.ResponseWriter, r *http.Request) {
	var req bulkRestockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no items"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Ledger.BulkRestock(ctx, req.Items)
	if err != nil {
		writeError(w, err)
		return
	}
	// restock changes the numbers the dashboard reads
	if h.StatsCache != nil {
		_ = h.StatsCache.Delete(ctx, redisx.KeyInventoryStats)
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) inventoryStatistics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.StatsCache != nil {
		if s, ok, err := h.StatsCache.Get(ctx, redisx.KeyInventoryStats); err == nil && ok {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	stats, err := h.Ledger.Statistics(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.StatsCache != nil {
		b, _ := json.Marshal(stats)
		_ = h.StatsCache.Set(ctx, redisx.KeyInventoryStats, string(b), redisx.TTLStatsCache)
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) processExpiredPayments(w http.ResponseWriter, r *http.Request) {
	// a full sweep can outlive the default request timeout
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	res, err := h.Sweeper.Sweep(ctx, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type updateStatusReq struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *AdminHandler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	to := orders.Status(req.Status)
	if !orders.Valid(to) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Machine.Transition(ctx, orderID, to, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
