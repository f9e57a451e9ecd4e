package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-finalizer/internal/orders"
)

// OrderStore is the slice of orders.Repo the API needs.
type OrderStore interface {
	CreateOrder(ctx context.Context, customer, product string, amount decimal.Decimal) (orders.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (orders.Order, error)
	GetOrderStatus(ctx context.Context, orderID uuid.UUID) (orders.Status, error)
	ListOrders(ctx context.Context) ([]orders.Order, error)
	Metrics(ctx context.Context) (orders.Metrics, error)
}

type Publisher interface {
	PublishOrderCreated(ctx context.Context, topic string, orderID uuid.UUID) (string, error)
}

type StatusCache interface {
	Status(ctx context.Context, orderID uuid.UUID) ([]byte, bool, error)
	FillStatus(ctx context.Context, orderID uuid.UUID, s orders.Status) error
}

type OrdersHandler struct {
	Repo     OrderStore
	Producer Publisher
	Cache    StatusCache // optional
	Topic    string
	Logger   *zap.Logger
}

type CreateOrderReq struct {
	Customer string          `json:"customer"`
	Product  string          `json:"product"`
	Amount   decimal.Decimal `json:"amount"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/metrics", h.metrics)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/status", h.getOrderStatus)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (h *OrdersHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.Customer = strings.TrimSpace(req.Customer)
	req.Product = strings.TrimSpace(req.Product)
	if req.Customer == "" || req.Product == "" {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Repo.CreateOrder(ctx, req.Customer, req.Product, req.Amount)
	if err != nil {
		h.logger().Error("create order failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create order")
		return
	}

	// The order is committed; a lost notification leaves it Processing until the stale
	// sweeper reports it.
	messageID, err := h.Producer.PublishOrderCreated(ctx, h.Topic, o.ID)
	if err != nil {
		h.logger().Error("publish order created failed", zap.String("order_id", o.ID.String()), zap.Error(err))
	} else {
		h.logger().Info("order created",
			zap.String("order_id", o.ID.String()),
			zap.String("message_id", messageID),
		)
	}
	h.cacheStatus(ctx, o.ID, o.Status)

	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Repo.ListOrders(ctx)
	if err != nil {
		h.logger().Error("list orders failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list orders")
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func parseOrderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Repo.GetOrder(ctx, orderID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		h.logger().Error("get order failed", zap.String("order_id", orderID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load order")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Cache != nil {
		b, hit, err := h.Cache.Status(ctx, orderID)
		if err != nil {
			h.logger().Warn("status cache read failed", zap.String("order_id", orderID.String()), zap.Error(err))
		}
		if hit {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(b)
			return
		}
	}

	// 2) database
	s, err := h.Repo.GetOrderStatus(ctx, orderID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		h.logger().Error("get order status failed", zap.String("order_id", orderID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load order")
		return
	}
	h.cacheStatus(ctx, orderID, s)
	writeJSON(w, http.StatusOK, map[string]orders.Status{"status": s})
}

func (h *OrdersHandler) metrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	m, err := h.Repo.Metrics(ctx)
	if err != nil {
		h.logger().Error("order metrics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not compute metrics")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// cacheStatus never overwrites: the worker's Finalized snapshot may already be there.
func (h *OrdersHandler) cacheStatus(ctx context.Context, orderID uuid.UUID, s orders.Status) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.FillStatus(ctx, orderID, s); err != nil {
		h.logger().Warn("status cache write failed", zap.String("order_id", orderID.String()), zap.Error(err))
	}
}
