package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Nazim777/SwiftMart/internal/checkout/application"
	order "github.com/Nazim777/SwiftMart/internal/order/domain"
)

// CheckoutService is the slice of the orchestrator the transport needs.
type CheckoutService interface {
	BeginCheckout(ctx context.Context, userID string, items []application.CheckoutItem) (application.CheckoutResult, error)
	CompleteCheckout(ctx context.Context, sessionID string) error
	FailCheckout(ctx context.Context, ev application.CheckoutEvent) error
	OrdersByUser(ctx context.Context, userID string) ([]order.Order, error)
}

// WebhookParser verifies and decodes one inbound delivery.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (application.InboundEvent, error)
}

// Deduper short-circuits redelivered webhook events. Seen only checks; Mark
// records, and is called after the event has been handled so a transient
// handler failure never hides the redelivery.
type Deduper interface {
	Key(source, deliveryID string) string
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type Handler struct {
	log    *slog.Logger
	svc    CheckoutService
	events WebhookParser
	dedup  Deduper
	tracer trace.Tracer
}

func NewHandler(log *slog.Logger, svc CheckoutService, events WebhookParser, dedup Deduper) *Handler {
	return &Handler{
		log:    log,
		svc:    svc,
		events: events,
		dedup:  dedup,
		tracer: otel.Tracer("checkout-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/checkout", h.beginCheckout)
	r.Get("/api/users/{userID}/orders", h.listOrders)
	r.Post("/api/webhooks/stripe", h.stripeWebhook)
	return r
}

type checkoutReq struct {
	UserID string `json:"userId"`
	Items  []struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
}

type checkoutResp struct {
	Order       orderResp   `json:"order"`
	Payment     paymentResp `json:"payment"`
	CheckoutURL string      `json:"checkoutUrl"`
}

type orderResp struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Status    string          `json:"status"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Shipping  decimal.Decimal `json:"shipping"`
	Tax       decimal.Decimal `json:"tax"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"totalPrice"`
	CreatedAt time.Time       `json:"createdAt"`
	Lines     []lineResp      `json:"items"`
}

type lineResp struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

type paymentResp struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
}

func (h *Handler) beginCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "BeginCheckout")
	defer span.End()

	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	items := make([]application.CheckoutItem, 0, len(req.Items))
	for _, it := range req.Items {
		id, err := uuid.Parse(it.ProductID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid productId")
			return
		}
		items = append(items, application.CheckoutItem{ProductID: id, Quantity: it.Quantity})
	}

	res, err := h.svc.BeginCheckout(ctx, req.UserID, items)
	if err != nil {
		h.writeCheckoutError(w, req.UserID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(checkoutResp{
		Order:       toOrderResp(res.Order),
		Payment:     paymentResp{ID: res.Payment.ID.String(), SessionID: res.Payment.SessionID, Amount: res.Payment.Amount, Status: string(res.Payment.Status)},
		CheckoutURL: res.CheckoutURL,
	})
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, userID string, err error) {
	var gw *application.GatewayError
	switch {
	case errors.Is(err, application.ErrInsufficientStock):
		writeError(w, http.StatusConflict, "one or more items are out of stock")
	case errors.Is(err, application.ErrInvalidQuantity),
		errors.Is(err, application.ErrEmptyCheckout):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, application.ErrOrderNotPending):
		writeError(w, http.StatusConflict, "checkout expired, start over")
	case errors.As(err, &gw):
		// The order is orphaned PENDING; the sweep will cancel it. The
		// shopper just sees a retryable failure.
		writeError(w, http.StatusBadGateway, "checkout failed, try again")
	default:
		h.log.Error("checkout failed", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "checkout failed, try again")
	}
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOrders")
	defer span.End()

	userID := chi.URLParam(r, "userID")
	orders, err := h.svc.OrdersByUser(ctx, userID)
	if err != nil {
		h.log.Error("list orders failed", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not load orders")
		return
	}

	resp := make([]orderResp, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResp(o))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// stripeWebhook is the inbound delivery adapter: verify the signature, drop
// duplicates, route the event. Delivery is at-least-once, so any 5xx here
// just means Stripe tries again later against idempotent handlers.
func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "StripeWebhook")
	defer span.End()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		writeError(w, http.StatusBadRequest, "missing signature")
		return
	}

	ev, err := h.events.ParseWebhook(body, signature)
	if err != nil {
		if errors.Is(err, application.ErrBadSignature) {
			h.log.Warn("webhook signature rejected", "err", err)
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		h.log.Error("webhook decode failed", "err", err)
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if ev.Kind == application.EventIgnored {
		h.ack(w)
		return
	}

	key := h.dedup.Key("stripe", ev.ID)
	seen, err := h.dedup.Seen(ctx, key)
	if err != nil {
		// Dedup is an optimization; the handlers tolerate duplicates.
		h.log.Warn("webhook dedup unavailable", "event_id", ev.ID, "err", err)
	} else if seen {
		h.ack(w)
		return
	}

	switch ev.Kind {
	case application.EventCompleted:
		err = h.svc.CompleteCheckout(ctx, ev.Session.SessionID)
	case application.EventExpired:
		err = h.svc.FailCheckout(ctx, ev.Session)
	}

	switch {
	case err == nil:
		h.markHandled(ctx, key, ev.ID)
		h.ack(w)
	case errors.Is(err, application.ErrSessionNotFound):
		// Unrecoverable; retrying would never find the session. Log and
		// acknowledge so the gateway stops redelivering.
		h.log.Warn("event for unknown session dropped",
			"event_id", ev.ID, "session_id", ev.Session.SessionID)
		h.markHandled(ctx, key, ev.ID)
		h.ack(w)
	case errors.Is(err, application.ErrInvalidEvent):
		h.log.Error("event violates metadata contract",
			"event_id", ev.ID, "session_id", ev.Session.SessionID)
		writeError(w, http.StatusBadRequest, "invalid event metadata")
	default:
		h.log.Error("reconciliation failed",
			"event_id", ev.ID, "session_id", ev.Session.SessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
	}
}

// markHandled records the delivery id once the event is resolved. Failure
// only costs a redundant pass through the idempotent handlers later.
func (h *Handler) markHandled(ctx context.Context, key, eventID string) {
	if err := h.dedup.Mark(ctx, key); err != nil {
		h.log.Warn("webhook dedup mark failed", "event_id", eventID, "err", err)
	}
}

func (h *Handler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}

func toOrderResp(o order.Order) orderResp {
	lines := make([]lineResp, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, lineResp{
			ProductID: l.ProductID.String(),
			Name:      l.Name,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
		})
	}
	return orderResp{
		ID:        o.ID.String(),
		UserID:    o.UserID,
		Status:    string(o.Status),
		Subtotal:  o.Subtotal,
		Shipping:  o.Shipping,
		Tax:       o.Tax,
		Discount:  o.Discount,
		Total:     o.Total,
		CreatedAt: o.CreatedAt,
		Lines:     lines,
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
