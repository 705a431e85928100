package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	cart "github.com/Nazim777/SwiftMart/internal/cart/domain"
	order "github.com/Nazim777/SwiftMart/internal/order/domain"
	payment "github.com/Nazim777/SwiftMart/internal/payment/domain"
)

var (
	// ErrInsufficientStock rejects the whole checkout when any requested
	// line exceeds availability. No partial acceptance.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidQuantity rejects non-positive line quantities at the door.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrEmptyCheckout   = errors.New("checkout has no items")
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotPending rejects binding a session to an order that left
	// PENDING while the gateway call was in flight, e.g. one the orphan
	// sweep already canceled.
	ErrOrderNotPending = errors.New("order is no longer pending")
	// ErrSessionNotFound marks an event referencing an unknown checkout
	// session. Callers log and drop it; retrying cannot recover it.
	ErrSessionNotFound = errors.New("checkout session not found")
	// ErrInvalidEvent marks an event whose metadata violates the gateway
	// contract. Surfaced, not dropped.
	ErrInvalidEvent = errors.New("invalid checkout event")
	// ErrBadSignature rejects inbound deliveries that fail signature
	// verification before the workflow is ever invoked.
	ErrBadSignature = errors.New("invalid webhook signature")
)

// GatewayError wraps a failed call to the payment processor. When it is
// returned from BeginCheckout the order row already exists and stays PENDING
// with undecremented stock until the orphan sweep cancels it.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("checkout gateway: %v", e.Err) }
func (e *GatewayError) Unwrap() error { return e.Err }

// CheckoutItem is one requested line at intake.
type CheckoutItem struct {
	ProductID uuid.UUID
	Quantity  int
}

// CheckoutResult is what the storefront needs to redirect the customer to
// the hosted checkout page.
type CheckoutResult struct {
	Order       order.Order
	Payment     payment.Payment
	CheckoutURL string
}

// Session is the processor's handle on a hosted checkout flow.
type Session struct {
	ID  string
	URL string
}

// CheckoutEvent is the transport-agnostic form of one asynchronous gateway
// event. OrderID and UserID come from the session metadata bound at intake.
type CheckoutEvent struct {
	SessionID string
	OrderID   string
	UserID    string
}

// InboundEvent is a verified, decoded delivery from the inbound adapter.
type InboundEvent struct {
	ID      string
	Kind    EventKind
	Session CheckoutEvent
}

type EventKind int

const (
	// EventIgnored covers event types the workflow does not react to; the
	// adapter acknowledges and discards them.
	EventIgnored EventKind = iota
	EventCompleted
	EventExpired
)

// WorkflowStore persists the workflow's state. Each method owns exactly one
// database transaction; the two intake methods are deliberately separate
// transactions with the gateway call between them.
type WorkflowStore interface {
	// CreatePendingOrder verifies stock for every requested line and
	// creates the PENDING order with product-snapshot lines, all inside
	// one transaction. Fails whole with ErrInsufficientStock or
	// ErrProductNotFound.
	CreatePendingOrder(ctx context.Context, userID string, items []CheckoutItem) (order.Order, error)

	// BindCheckoutSession creates the PENDING payment for the session,
	// decrements stock per line and deletes the user's matching cart
	// lines, in one transaction. ErrOrderNotPending when the order left
	// PENDING since intake; no stock or cart mutation happens then.
	BindCheckoutSession(ctx context.Context, o order.Order, sessionID string) (payment.Payment, error)

	// SettlePayment moves payment to SUCCESS and the linked order to
	// COMPLETED in one transaction. Idempotent; ErrSessionNotFound on an
	// unknown session.
	SettlePayment(ctx context.Context, sessionID string) error

	// RollbackCheckout moves payment to FAILED, restores stock, cancels
	// the order and reinstates cart lines, in one transaction. A no-op
	// when the order already left PENDING, so duplicate deliveries never
	// double-increment stock.
	RollbackCheckout(ctx context.Context, sessionID string) error

	// SweepOrphans cancels PENDING orders older than olderThan that have
	// no payment record. Those orders never reached the stock decrement,
	// so cancellation alone restores nothing and loses nothing.
	SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error)

	// OrdersByUser lists a user's orders, newest first.
	OrdersByUser(ctx context.Context, userID string) ([]order.Order, error)

	// CartLines reads the user's current cart lines.
	CartLines(ctx context.Context, userID string) ([]cart.Line, error)
}

// SessionGateway creates hosted checkout sessions with the external payment
// processor. The call is a blocking network round-trip and runs outside any
// database transaction.
type SessionGateway interface {
	CreateSession(ctx context.Context, o order.Order) (Session, error)
}
