package domain

import "github.com/google/uuid"

// Cart is the per-user pending line set. The checkout workflow deletes
// matching lines at intake and reinstates them when a checkout session
// expires; everything else that touches carts lives outside this service.
type Cart struct {
	ID     uuid.UUID
	UserID string
}

type Line struct {
	CartID    uuid.UUID
	ProductID uuid.UUID
	Quantity  int
}
