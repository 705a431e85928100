package application

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	cart "github.com/Nazim777/SwiftMart/internal/cart/domain"
	order "github.com/Nazim777/SwiftMart/internal/order/domain"
)

// Service is the order workflow orchestrator. It moves an order from intake
// to settlement or rollback; all coordination between the checkout request
// and the later webhook goes through the persisted payment row and the
// external session id.
type Service struct {
	log     *slog.Logger
	store   WorkflowStore
	gateway SessionGateway
}

func NewService(log *slog.Logger, store WorkflowStore, gateway SessionGateway) *Service {
	return &Service{log: log, store: store, gateway: gateway}
}

// BeginCheckout runs the synchronous half of the workflow: stock-checked
// order creation, hosted session creation, then payment record, stock
// decrement and cart cleanup. The two store calls are separate transactions;
// the gateway call sits between them and is not covered by either.
func (s *Service) BeginCheckout(ctx context.Context, userID string, items []CheckoutItem) (CheckoutResult, error) {
	if len(items) == 0 {
		return CheckoutResult{}, ErrEmptyCheckout
	}
	// Repeated product ids collapse into one line; order lines are keyed
	// by product.
	merged := make([]CheckoutItem, 0, len(items))
	index := make(map[uuid.UUID]int, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return CheckoutResult{}, ErrInvalidQuantity
		}
		if i, ok := index[it.ProductID]; ok {
			merged[i].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(merged)
		merged = append(merged, it)
	}

	ord, err := s.store.CreatePendingOrder(ctx, userID, merged)
	if err != nil {
		return CheckoutResult{}, err
	}

	sess, err := s.gateway.CreateSession(ctx, ord)
	if err != nil {
		// The order stays PENDING with no payment row; the orphan
		// sweep reclaims it.
		s.log.Error("checkout session creation failed",
			"order_id", ord.ID, "user_id", userID, "err", err)
		return CheckoutResult{}, &GatewayError{Err: err}
	}

	pay, err := s.store.BindCheckoutSession(ctx, ord, sess.ID)
	if err != nil {
		return CheckoutResult{}, err
	}

	s.log.Info("checkout started",
		"order_id", ord.ID, "session_id", sess.ID, "total", ord.Total)
	return CheckoutResult{Order: ord, Payment: pay, CheckoutURL: sess.URL}, nil
}

// CompleteCheckout finalizes a paid order. Safe under duplicate delivery: the
// second invocation observes the terminal state and writes nothing.
func (s *Service) CompleteCheckout(ctx context.Context, sessionID string) error {
	if err := s.store.SettlePayment(ctx, sessionID); err != nil {
		return err
	}
	s.log.Info("checkout completed", "session_id", sessionID)
	return nil
}

// FailCheckout undoes intake for an expired or failed session: payment
// FAILED, stock released, order CANCELED, cart lines reinstated. The store
// guards on the order still being PENDING, so duplicates are no-ops.
func (s *Service) FailCheckout(ctx context.Context, ev CheckoutEvent) error {
	if ev.UserID == "" {
		return ErrInvalidEvent
	}
	if err := s.store.RollbackCheckout(ctx, ev.SessionID); err != nil {
		return err
	}
	s.log.Info("checkout rolled back", "session_id", ev.SessionID, "order_id", ev.OrderID)
	return nil
}

func (s *Service) OrdersByUser(ctx context.Context, userID string) ([]order.Order, error) {
	return s.store.OrdersByUser(ctx, userID)
}

func (s *Service) CartLines(ctx context.Context, userID string) ([]cart.Line, error) {
	return s.store.CartLines(ctx, userID)
}
