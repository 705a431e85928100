package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Payment records one hosted checkout session for one order. SessionID is the
// processor's opaque session identifier and is unique across payments; it is
// the only correlation between the intake request and the webhook that
// settles it. Exactly one terminal mutation is ever applied: PENDING to
// SUCCESS or PENDING to FAILED.
type Payment struct {
	ID        uuid.UUID
	SessionID string
	UserID    string
	OrderID   uuid.UUID
	Amount    decimal.Decimal
	Status    Status
	CreatedAt time.Time
}

func NewPayment(sessionID, userID string, orderID uuid.UUID, amount decimal.Decimal) Payment {
	return Payment{
		ID:        uuid.New(),
		SessionID: sessionID,
		UserID:    userID,
		OrderID:   orderID,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}
