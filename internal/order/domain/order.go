package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCanceled  Status = "CANCELED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// CanTransitionTo encodes the only legal moves: PENDING to COMPLETED and
// PENDING to CANCELED. Terminal states are never left.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusPending && next.Terminal()
}

// ShippingFee is the flat shipping charge applied to every order.
var ShippingFee = decimal.NewFromInt(10)

// Line is an immutable snapshot of the product at the time the order was
// created. Price changes after intake do not affect an existing order.
type Line struct {
	ProductID   uuid.UUID
	Name        string
	Description string
	ImageURL    string
	UnitPrice   decimal.Decimal
	Quantity    int
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// UnitAmount is the line's unit price in minor currency units.
func (l Line) UnitAmount() int64 {
	return l.UnitPrice.Mul(decimal.NewFromInt(100)).IntPart()
}

type Order struct {
	ID        uuid.UUID
	UserID    string
	Lines     []Line
	Status    Status
	Subtotal  decimal.Decimal
	Shipping  decimal.Decimal
	Tax       decimal.Decimal
	Discount  decimal.Decimal
	Total     decimal.Decimal
	CreatedAt time.Time
}

// NewOrder builds a PENDING order and computes its totals. Tax and discount
// are pass-through fields reserved for future pricing rules and are always
// zero today.
func NewOrder(userID string, lines []Line) Order {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Subtotal())
	}
	return Order{
		ID:        uuid.New(),
		UserID:    userID,
		Lines:     lines,
		Status:    StatusPending,
		Subtotal:  subtotal,
		Shipping:  ShippingFee,
		Tax:       decimal.Zero,
		Discount:  decimal.Zero,
		Total:     subtotal.Add(ShippingFee),
		CreatedAt: time.Now().UTC(),
	}
}
