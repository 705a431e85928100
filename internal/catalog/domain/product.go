package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the stock-bearing catalog row. Stock is shared mutable state;
// every decrement happens through a guarded UPDATE inside a checkout
// transaction, never through this struct.
type Product struct {
	ID          uuid.UUID
	Name        string
	Description string
	ImageURL    string
	Price       decimal.Decimal
	Stock       int
	CreatedAt   time.Time
}

// UnitAmount returns the price in minor currency units, as the payment
// processor expects it.
func (p Product) UnitAmount() int64 {
	return p.Price.Mul(decimal.NewFromInt(100)).IntPart()
}
