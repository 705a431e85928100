package domain

import "github.com/shopspring/decimal"

// Lifecycle events appended to the outbox when an order reaches a terminal
// state. Downstream consumers (fulfilment, notifications) read them from the
// order.events topic.

type OrderCompleted struct {
	OrderID   string          `json:"order_id"`
	UserID    string          `json:"user_id"`
	SessionID string          `json:"session_id"`
	Total     decimal.Decimal `json:"total"`
}

type OrderCanceled struct {
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason"`
}
